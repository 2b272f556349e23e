package main

import "github.com/goosewin/prefsim/cmd"

func main() {
	cmd.Execute()
}
