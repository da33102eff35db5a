package main

import (
	"os"

	"github.com/apexsec/apex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
