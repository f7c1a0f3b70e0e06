// Package main is the entry point for the lakerun binary.
package main

import (
	"os"

	cli "lakerun/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
