package main

import (
	"os"

	"github.com/gopm-io/gopm/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
