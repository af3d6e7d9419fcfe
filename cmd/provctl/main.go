package main

import (
	"os"

	"github.com/psantana5/unit-provisioner/cmd/provctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
