package backend

import (
	"strconv"
	"strings"
)

// PersonaInstruction separates items in a request and keeps the model rating
// in character.
const PersonaInstruction = " make sure to rate each post based on the persona you are imagining when rating.\n"

// ResponseInstruction describes the JSON shape backends without native
// structured output must reply with.
const ResponseInstruction = `Respond with JSON only, in the form {"index": [<item numbers>], "ratings": [<0 or 1 for each item>]}. Use 1 when the persona would like the item and 0 otherwise.`

// BuildPrompt numbers each text with its identifier and joins the items with
// PersonaInstruction.
func BuildPrompt(texts []string, ids []int) string {
	items := make([]string, len(texts))
	for i, text := range texts {
		items[i] = strconv.Itoa(ids[i]) + ". " + text
	}
	return strings.Join(items, PersonaInstruction)
}
