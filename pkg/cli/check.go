package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/platinummonkey/lineage/pkg/compatibility"
	"github.com/platinummonkey/lineage/pkg/schema"
)

func newCheckCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "check",
		Description: "Check a new schema against previous versions",
		Flags:       flag.NewFlagSet("check", flag.ContinueOnError),
	}
	cmd.Flags.SetOutput(out)
	format := cmd.Flags.String("format", "", "Schema format: JSON, AVRO, PROTOBUF (default: detect)")
	previous := cmd.Flags.String("previous", "", "Comma-separated previous versions, oldest first (required)")
	modeName := cmd.Flags.String("mode", compatibility.DefaultMode.String(), "Compatibility mode: NONE, BACKWARD, FORWARD, FULL, BACKWARD_TRANSITIVE, FORWARD_TRANSITIVE, FULL_TRANSITIVE")
	verbose := cmd.Flags.Bool("verbose", false, "Show warnings and info level violations")
	output := cmd.Flags.String("output", "text", "Output format: text, json")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if cmd.Flags.NArg() != 1 {
			return fmt.Errorf("exactly one new schema file is required")
		}
		if *previous == "" {
			return fmt.Errorf("--previous is required")
		}
		mode, err := compatibility.ParseMode(*modeName)
		if err != nil {
			return err
		}
		outputMode, err := parseOutput(*output)
		if err != nil {
			return err
		}

		normalizer := schema.NewNormalizer(nil)
		newSchema, err := normalizeFile(normalizer, cmd.Flags.Arg(0), *format)
		if err != nil {
			return err
		}

		// Previous files are labelled 1.0.0, 2.0.0, ... in the order given
		var candidates []compatibility.Candidate
		for i, path := range strings.Split(*previous, ",") {
			path = strings.TrimSpace(path)
			if path == "" {
				continue
			}
			old, err := normalizeFile(normalizer, path, *format)
			if err != nil {
				return err
			}
			if old.Format != newSchema.Format {
				return fmt.Errorf("%s is %s but the new schema is %s", path, old.Format, newSchema.Format)
			}
			candidates = append(candidates, compatibility.Candidate{
				Version: schema.NewVersion(uint64(i+1), 0, 0),
				Schema:  old,
			})
		}

		result, err := compatibility.NewChecker().Check(context.Background(), newSchema, candidates, mode)
		if err != nil {
			return err
		}

		if outputMode == "json" {
			if err := writeJSON(out, result); err != nil {
				return err
			}
		} else {
			printResult(out, result, *verbose)
		}
		if !result.Compatible {
			return ErrCheckFailed
		}
		return nil
	}
	return cmd
}

func normalizeFile(normalizer *schema.Normalizer, path, formatName string) (*schema.NormalizedSchema, error) {
	raw, format, err := readSchema(path, formatName)
	if err != nil {
		return nil, err
	}
	ns, err := normalizer.Normalize(raw, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ns, nil
}

func printResult(out io.Writer, result *compatibility.Result, verbose bool) {
	status := "COMPATIBLE"
	if !result.Compatible {
		status = "INCOMPATIBLE"
	}
	checked := make([]string, 0, len(result.CheckedVersions))
	for _, v := range result.CheckedVersions {
		checked = append(checked, v.String())
	}
	fmt.Fprintf(out, "Mode:    %s\n", result.Mode)
	fmt.Fprintf(out, "Result:  %s\n", status)
	fmt.Fprintf(out, "Checked: %s\n", strings.Join(checked, ", "))
	fmt.Fprintf(out, "Summary: %d breaking, %d warnings, %d info\n",
		result.Summary.Breaking, result.Summary.Warnings, result.Summary.Infos)

	for _, v := range result.Violations {
		if !verbose && !v.IsBreaking() {
			continue
		}
		against := ""
		if v.AgainstVersion != nil {
			against = " vs " + v.AgainstVersion.String()
		}
		fmt.Fprintf(out, "\n[%s] %s at %s%s\n", v.Severity, v.Kind, v.Path, against)
		fmt.Fprintf(out, "  %s\n", v.Message)
		if v.OldValue != "" || v.NewValue != "" {
			fmt.Fprintf(out, "  change: %s -> %s\n", v.OldValue, v.NewValue)
		}
	}
}
