package core

import (
	"errors"
	"os"
	"strings"
)

const DefaultSystemPromptTemplate = "You are role-playing the following persona: {persona_characteristics}\n\nYou will receive a numbered list of posts. For every post decide whether this persona would like it (1) or not (0). Stay in character for every post and judge each one on its own.\n\nReturn the post numbers exactly as given in \"index\" and the matching ratings in \"ratings\", in the same order."

// RenderSystemPrompt substitutes the persona into a system prompt template.
func RenderSystemPrompt(template, persona string) string {
	return strings.ReplaceAll(template, "{persona_characteristics}", strings.TrimSpace(persona))
}

// ResolveSystemPrompt returns the literal prompt when set, otherwise renders
// the persona into the first available template: the configured one, the file
// named by PREFSIM_PROMPT_TEMPLATE_FILE, or DefaultSystemPromptTemplate.
func ResolveSystemPrompt(literal, persona, template string) (string, error) {
	if strings.TrimSpace(literal) != "" {
		return literal, nil
	}
	if strings.TrimSpace(persona) == "" {
		return "", errors.New("either system_prompt or persona_characteristics is required")
	}
	return RenderSystemPrompt(resolvePromptTemplate(template), persona), nil
}

func resolvePromptTemplate(override string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}

	if path := os.Getenv("PREFSIM_PROMPT_TEMPLATE_FILE"); strings.TrimSpace(path) != "" {
		if data, err := os.ReadFile(path); err == nil {
			return string(data)
		}
	}

	return DefaultSystemPromptTemplate
}
