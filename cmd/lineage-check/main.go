package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/platinummonkey/lineage/pkg/cli"
)

func main() {
	rootCmd := cli.NewRootCommand(os.Stdout)

	if err := rootCmd.Execute(os.Args[1:]); err != nil {
		switch {
		case errors.Is(err, flag.ErrHelp):
			return
		case errors.Is(err, cli.ErrCheckFailed):
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
}
