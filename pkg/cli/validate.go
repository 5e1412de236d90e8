package cli

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/platinummonkey/lineage/pkg/validation"
	"github.com/platinummonkey/lineage/pkg/validation/rules"
)

func newValidateCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "validate",
		Description: "Validate schema files against the structural and naming rules",
		Flags:       flag.NewFlagSet("validate", flag.ContinueOnError),
	}
	cmd.Flags.SetOutput(out)
	format := cmd.Flags.String("format", "", "Schema format: JSON, AVRO, PROTOBUF (default: detect)")
	rulesFile := cmd.Flags.String("rules", "", "YAML rule configuration")
	failFast := cmd.Flags.Bool("fail-fast", false, "Stop at the first rule that reports an error")
	output := cmd.Flags.String("output", "text", "Output format: text, json")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if cmd.Flags.NArg() == 0 {
			return fmt.Errorf("at least one schema file is required")
		}
		mode, err := parseOutput(*output)
		if err != nil {
			return err
		}
		validator, err := newValidator(*rulesFile)
		if err != nil {
			return err
		}

		failed := false
		reports := make(map[string]*validation.Report, cmd.Flags.NArg())
		for _, path := range cmd.Flags.Args() {
			raw, f, err := readSchema(path, *format)
			if err != nil {
				return err
			}
			report, _ := validator.ValidateRaw(context.Background(), raw, f, validation.Options{FailFast: *failFast})
			reports[path] = report
			if !report.Valid {
				failed = true
			}
			if mode == "text" {
				printReport(out, path, report)
			}
		}

		if mode == "json" {
			if err := writeJSON(out, reports); err != nil {
				return err
			}
		}
		if failed {
			return ErrCheckFailed
		}
		return nil
	}
	return cmd
}

func newValidator(rulesFile string) (*validation.Validator, error) {
	var opts []validation.ValidatorOption
	if rulesFile != "" {
		config, err := validation.LoadConfig(rulesFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, validation.WithConfig(config))
	}
	return validation.NewValidator(rules.NewDefaultRegistry(), opts...), nil
}

func printReport(out io.Writer, path string, report *validation.Report) {
	status := "VALID"
	if !report.Valid {
		status = "INVALID"
	}
	fmt.Fprintf(out, "%s: %s (%d errors, %d warnings)\n", path, status, len(report.Errors), len(report.Warnings))
	for _, group := range [][]validation.Finding{report.Errors, report.Warnings, report.Infos} {
		for _, f := range group {
			fmt.Fprintf(out, "  %s\n", f)
			if f.Suggestion != "" {
				fmt.Fprintf(out, "      hint: %s\n", f.Suggestion)
			}
		}
	}
}
