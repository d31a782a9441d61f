package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"piimask/internal/audit"
	"piimask/internal/stats"
)

func newStatsCmd(a *app) *cobra.Command {
	var (
		url    string
		recent bool
		export string
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize masking activity from a running server or the audit log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.getStats(url)
			if err != nil {
				return err
			}
			return renderStats(cmd.OutOrStdout(), st, recent, export)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "stats endpoint of a running server, e.g. http://127.0.0.1:8000/api/stats")
	cmd.Flags().BoolVar(&recent, "recent", false, "show recent requests")
	cmd.Flags().StringVar(&export, "export", "", "export format: json|csv")
	return cmd
}

// getStats prefers a running server and falls back to the audit log.
func (a *app) getStats(url string) (stats.Stats, error) {
	if url != "" {
		if st, err := fetchServerStats(url); err == nil {
			return st, nil
		}
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return stats.Stats{}, err
	}
	entries, err := audit.ParseFile(cfg.Audit.LogFile)
	if err != nil {
		return stats.Stats{}, err
	}
	return stats.CollectFromEntries(entries, stats.Options{Now: time.Now().UTC(), Status: "stopped"}), nil
}

func fetchServerStats(url string) (stats.Stats, error) {
	client := &http.Client{Timeout: 700 * time.Millisecond}
	resp, err := client.Get(url)
	if err != nil {
		return stats.Stats{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return stats.Stats{}, errors.Newf("stats API status %d", resp.StatusCode)
	}
	var st stats.Stats
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return stats.Stats{}, err
	}
	return st, nil
}

func renderStats(w io.Writer, st stats.Stats, recent bool, export string) error {
	switch strings.ToLower(export) {
	case "":
		if recent {
			printRecent(w, st)
			return nil
		}
		printSummary(w, st)
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	case "csv":
		if !recent {
			return errors.New("csv export requires --recent")
		}
		return exportRecentCSV(w, st.Recent)
	default:
		return errors.Newf("unsupported export format %q", export)
	}
}

func printSummary(w io.Writer, st stats.Stats) {
	fmt.Fprintln(w, "piimask Statistics")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintf(w, "Status:      %s\n", st.Status)
	fmt.Fprintf(w, "Uptime:      %s\n", time.Duration(st.UptimeSeconds)*time.Second)
	fmt.Fprintf(w, "Requests:    %d (%d failed, %.1f/min last 5m)\n", st.Requests.Total, st.Requests.Failed, st.Requests.PerMinute)
	fmt.Fprintf(w, "Latency avg: detect %.1fms | mask %.1fms | total %.1fms\n", st.Latency.DetectMs, st.Latency.MaskMs, st.Latency.TotalMs)
	fmt.Fprintf(w, "Dropped:     %d overlap, %d invalid\n", st.Dropped.Overlap, st.Dropped.Invalid)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Masked Items")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	for _, t := range sortedKeys(st.MaskedItems.ByType) {
		v := st.MaskedItems.ByType[t]
		fmt.Fprintf(w, "%-16s %5d %s\n", t+":", v, progress(v, st.MaskedItems.Total))
	}
	fmt.Fprintf(w, "Total:           %d\n", st.MaskedItems.Total)

	if len(st.Categories) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Categories")
		fmt.Fprintln(w, strings.Repeat("-", 40))
		for _, c := range sortedKeys(st.Categories) {
			fmt.Fprintf(w, "%-16s %5d\n", c+":", st.Categories[c])
		}
	}
}

func printRecent(w io.Writer, st stats.Stats) {
	fmt.Fprintln(w, "Recent Requests")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	fmt.Fprintf(w, "%-10s %-12s %-6s %-30s %-10s %-8s\n", "TIME", "ENDPOINT", "STATUS", "MASKED", "CATEGORY", "LATENCY")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, r := range st.Recent {
		tm := r.Timestamp
		if ts, err := time.Parse(time.RFC3339Nano, r.Timestamp); err == nil {
			tm = ts.Format("15:04:05")
		}
		category := r.Category
		if category == "" {
			category = "-"
		}
		fmt.Fprintf(w, "%-10s %-12s %-6d %-30s %-10s %-8.1fms\n", tm, r.Endpoint, r.StatusCode, maskedLabel(r.MaskedBy), category, r.TotalMs)
	}
	fmt.Fprintln(w, strings.Repeat("-", 90))
	fmt.Fprintf(w, "Showing %d of %d total requests\n", len(st.Recent), st.Requests.Total)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func progress(v, total int) string {
	if total <= 0 {
		return ""
	}
	p := int(float64(v) / float64(total) * 20)
	if p > 20 {
		p = 20
	}
	return strings.Repeat("█", p) + strings.Repeat("░", 20-p)
}

func maskedLabel(masked map[string]int) string {
	if len(masked) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(masked))
	for t, c := range masked {
		parts = append(parts, fmt.Sprintf("%d %s", c, t))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func exportRecentCSV(w io.Writer, rows []stats.RecentRequest) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()
	if err := cw.Write([]string{"timestamp", "request_id", "endpoint", "status", "masked_types", "masked_count", "category", "latency_ms"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			r.Timestamp,
			r.RequestID,
			r.Endpoint,
			fmt.Sprintf("%d", r.StatusCode),
			strings.Join(sortedKeys(r.MaskedBy), "|"),
			fmt.Sprintf("%d", r.Masked),
			r.Category,
			fmt.Sprintf("%.3f", r.TotalMs),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
