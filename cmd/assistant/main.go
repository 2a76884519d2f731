package main

import (
	"os"

	"github.com/MKTCOACH-eng/IASCHOOL-sub001/cmd/assistant/commands"
)

var version = "dev"

func main() {
	if err := commands.Execute(version); err != nil {
		os.Exit(1)
	}
}
