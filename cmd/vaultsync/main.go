package main

import (
	"os"

	"github.com/Ning0612/vaultsync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
