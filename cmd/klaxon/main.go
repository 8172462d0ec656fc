package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/klaxonhq/klaxon/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Commands render their own errors; only surface ones that
		// escaped the formatter (flag parsing, unknown subcommands).
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
