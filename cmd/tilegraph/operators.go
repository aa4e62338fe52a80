package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/mohammed-shakir/tilegraph/internal/core/router"
	"github.com/mohammed-shakir/tilegraph/internal/operator"
)

func cmdOperators(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("operators", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	asJSON := fs.Bool("json", false, "print descriptors as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ops := router.DescribeOperators(operator.Default)
	if *asJSON {
		enc := json.NewEncoder(e.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ops)
	}

	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	for _, op := range ops {
		fmt.Fprintf(tw, "%s\t%s\n", op.Type, op.Description)
		for _, p := range op.Params {
			var notes []string
			if p.Alias != "" {
				notes = append(notes, "alias "+p.Alias)
			}
			if p.Default != "" {
				notes = append(notes, "default "+p.Default)
			}
			if p.Interval != "" {
				notes = append(notes, "in "+p.Interval)
			}
			if len(p.ValueSet) > 0 {
				notes = append(notes, "one of "+strings.Join(p.ValueSet, "|"))
			}
			if p.NotNull {
				notes = append(notes, "required")
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", p.Name, p.Type, strings.Join(notes, ", "))
		}
	}
	return tw.Flush()
}
