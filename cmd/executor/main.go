package main

import (
	"os"

	"github.com/rustyeddy/executor/cmd/executor/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
