package main

import (
	"os"

	"github.com/bapelauto/coord/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
