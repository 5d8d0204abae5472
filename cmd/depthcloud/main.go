// Package main is the depthcloud command.
package main

import (
	"fmt"
	"os"

	"github.com/guidedgrasp/depthcloud/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		//nolint:errcheck
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
