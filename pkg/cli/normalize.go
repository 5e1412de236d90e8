package cli

import (
	"flag"
	"fmt"
	"io"

	"github.com/platinummonkey/lineage/pkg/schema"
)

func newNormalizeCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "normalize",
		Description: "Print the canonical form and fingerprint of a schema file",
		Flags:       flag.NewFlagSet("normalize", flag.ContinueOnError),
	}
	cmd.Flags.SetOutput(out)
	format := cmd.Flags.String("format", "", "Schema format: JSON, AVRO, PROTOBUF (default: detect)")
	fingerprintOnly := cmd.Flags.Bool("fingerprint", false, "Print only the fingerprint")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if cmd.Flags.NArg() != 1 {
			return fmt.Errorf("exactly one schema file is required")
		}
		ns, err := normalizeFile(schema.NewNormalizer(nil), cmd.Flags.Arg(0), *format)
		if err != nil {
			return err
		}
		if *fingerprintOnly {
			fmt.Fprintln(out, ns.Fingerprint)
			return nil
		}
		fmt.Fprintf(out, "format:      %s\n", ns.Format)
		fmt.Fprintf(out, "fingerprint: %s\n", ns.Fingerprint)
		if len(ns.References) > 0 {
			fmt.Fprintf(out, "references:  %v\n", ns.References)
		}
		fmt.Fprintf(out, "\n%s\n", ns.Canonical)
		return nil
	}
	return cmd
}
