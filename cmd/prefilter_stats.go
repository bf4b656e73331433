package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-triage/filter"
	"github.com/dhcgn/mail-triage/mailbox"
	"github.com/dhcgn/mail-triage/mbox"
	"github.com/dhcgn/mail-triage/stats"
)

// trackedFields are the counters printed and written to CSV reports.
var trackedFields = []string{"Candidate From", "Candidate Subject", "Rejected From"}

type prefilterReport struct {
	total       int
	candidates  int
	unparseable int
	counter     map[string]map[string]int
}

// NewPrefilterStatsCommand analyses an mbox archive with the header pre-filter.
func NewPrefilterStatsCommand() *cobra.Command {
	var (
		reportDir     string
		topN          int
		excludeSender []string
	)

	cmd := &cobra.Command{
		Use:   "prefilter-stats [mbox file]",
		Short: "Run the header pre-filter over an mbox file and show statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			mboxPath := args[0]

			fmt.Fprintln(out, "Analyzing mbox file:", mboxPath)

			f, err := filter.New(filter.Options{ExcludeSender: excludeSender})
			if err != nil {
				return fmt.Errorf("create filter: %w", err)
			}

			report, err := analyse(mboxPath, f)
			if err != nil {
				return fmt.Errorf("error reading mbox file: %w", err)
			}

			printReport(out, report, f.GetStats(), topN)

			if err := saveCSVReports(report.counter, trackedFields, reportDir, 1000); err != nil {
				return fmt.Errorf("error saving CSV reports: %w", err)
			}
			fmt.Fprintf(out, "\nReports saved to directory: %s\n", reportDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	cmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	cmd.Flags().StringArrayVar(&excludeSender, "exclude-sender", nil, "Regex block-list applied to sender addresses, in addition to the built-in rules")
	return cmd
}

func analyse(path string, f *filter.Filter) (prefilterReport, error) {
	report := prefilterReport{counter: make(map[string]map[string]int)}
	for _, field := range trackedFields {
		report.counter[field] = make(map[string]int)
	}

	err := mbox.Read(path, func(m *mbox.MboxMessage) error {
		report.total++
		msg, err := mailbox.ParseMessage(strconv.Itoa(m.Index), m.Raw)
		if err != nil {
			report.unparseable++
			return nil
		}

		if ok, _ := f.Check(msg); !ok {
			report.counter["Rejected From"][strings.ToLower(msg.From)]++
			return nil
		}

		report.candidates++
		report.counter["Candidate From"][strings.ToLower(msg.From)]++
		report.counter["Candidate Subject"][msg.Subject]++
		return nil
	})
	return report, err
}

func printReport(out io.Writer, report prefilterReport, fs filter.Stats, topN int) {
	var rejectPercent float64
	if fs.Checked > 0 {
		rejectPercent = float64(fs.Rejected()) / float64(fs.Checked) * 100
	}
	fmt.Fprintf(out, "Processed %d messages: %d candidates, %d rejected (%.2f%%), %d unparseable\n\n",
		report.total, report.candidates, fs.Rejected(), rejectPercent, report.unparseable)

	fmt.Fprintln(out, "Pre-filter rules:")
	for _, rule := range filter.Rules {
		fmt.Fprintf(out, "  %s: %d hits\n", rule, fs.RuleHits[rule])
	}
	fmt.Fprintln(out)

	if len(fs.Patterns) > 0 {
		fmt.Fprintln(out, "Exclude Sender Filters:")
		printFilterHits(out, fs.Patterns, fs.PatternHits)
		fmt.Fprintln(out)
	}

	for _, field := range trackedFields {
		fmt.Fprintf(out, "Top %d %s:\n", topN, field)
		stats.PrettyPrintTop(out, report.counter[field], topN)
		fmt.Fprintln(out)
	}
}

func saveCSVReports(counter map[string]map[string]int, fields []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, field := range fields {
		filename := fmt.Sprintf("report_%s.csv", normalizeFieldName(field))
		file, err := os.Create(filepath.Join(dir, filename))
		if err != nil {
			return err
		}

		writer := csv.NewWriter(file)
		if err := writer.Write([]string{"Value", "Count"}); err != nil {
			file.Close()
			return err
		}

		for _, p := range stats.Top(counter[field], limit) {
			if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
				file.Close()
				return err
			}
		}

		writer.Flush()
		file.Close()

		if err := writer.Error(); err != nil {
			return err
		}
	}

	return nil
}

func normalizeFieldName(field string) string {
	name := strings.ToLower(field)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

func printFilterHits(out io.Writer, patterns []string, hits map[string]int) {
	sorted := append([]string(nil), patterns...)
	sort.Slice(sorted, func(i, j int) bool {
		if hits[sorted[i]] != hits[sorted[j]] {
			return hits[sorted[i]] > hits[sorted[j]]
		}
		return sorted[i] < sorted[j]
	})

	for _, pattern := range sorted {
		if hits[pattern] > 0 {
			fmt.Fprintf(out, "  ✓ %s: %d hits\n", pattern, hits[pattern])
		} else {
			fmt.Fprintf(out, "  ✗ %s: 0 hits\n", pattern)
		}
	}
}
