package main

import (
	"os"

	"mdocholder/cmd/reader/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
