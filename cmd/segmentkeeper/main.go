package main

import (
	"os"

	"github.com/solatis/segmentkeeper/cmd/segmentkeeper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
