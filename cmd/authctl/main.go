package main

import (
	"os"

	"github.com/MrEthical07/authclient/cmd/authctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
