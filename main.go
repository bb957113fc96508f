package main

import (
	"fmt"
	"os"

	"alarm-sync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "alarm-sync:", err)
		os.Exit(1)
	}
}
