package main

import (
	"os"

	"mdocholder/cmd/mdocholder/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
