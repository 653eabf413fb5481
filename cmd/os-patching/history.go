package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/os-patching/internal/history"
)

var (
	historyLimit  int
	historyOutput string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent patch runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		records, err := history.NewFile(cfg.HistoryFile).Read()
		if err != nil {
			return err
		}
		return printHistory(cmd.OutOrStdout(), history.Last(records, historyLimit), historyOutput)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of runs to show (0 for all)")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", "table", "output format (table, json, yaml)")
}

func printHistory(w io.Writer, records []history.Record, format string) error {
	if records == nil {
		records = []history.Record{}
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "START\tCODE\tREBOOT\tSECURITY\tJOB\tMESSAGE")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.StartTime, r.Code, r.Reboot, r.SecurityOnly, r.JobID, r.Message)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q (use table, json or yaml)", format)
	}
}
