package main

import (
	"os"

	"github.com/autograph/gnnsearch/cmd/gnnsearch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
