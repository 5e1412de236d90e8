package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
)

// ErrCheckFailed is returned when a schema fails validation or a
// compatibility check. The findings have already been printed.
var ErrCheckFailed = errors.New("check failed")

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command. Output goes to out.
func NewRootCommand(out io.Writer) *Command {
	root := &Command{
		Name:        "lineage-check",
		Description: "Lineage - offline schema validation and compatibility checks",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("lineage-check", flag.ContinueOnError),
	}

	root.Subcommands["validate"] = newValidateCommand(out)
	root.Subcommands["check"] = newCheckCommand(out)
	root.Subcommands["normalize"] = newNormalizeCommand(out)

	root.Flags.SetOutput(out)
	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	// Check for help flag
	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	out := c.Flags.Output()
	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}
