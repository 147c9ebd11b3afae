package main

import (
	"os"

	"limepq/cmd/limectl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
