package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/h3xium/nx/internal/harness"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

func (c *command) printReports(asJSON bool, reports []harness.Report) {
	if asJSON {
		if len(reports) == 1 {
			printJSON(c.out, reports[0])
		} else {
			printJSON(c.out, reports)
		}
		return
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, r := range reports {
		result := "PASS"
		if r.Error != "" {
			result = "FAIL"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\tpid=%d\tsessions=%d\t%s\n",
			result, r.Scenario, r.State, r.PID, len(r.Sessions), r.Duration().Round(time.Millisecond))
		if r.Error != "" {
			_, _ = fmt.Fprintf(tw, "\t%s\n", r.Error)
		}
	}
	_ = tw.Flush()
}
