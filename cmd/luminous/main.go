package main

import (
	"os"

	"github.com/kskip310/luminous/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
