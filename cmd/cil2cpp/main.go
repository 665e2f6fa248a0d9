package main

import (
	"os"

	"github.com/axiomates/cil2cpp/cmd/cil2cpp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
