package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"piimask/internal/config"
	"piimask/internal/detect"
)

func newDetectCmd(a *app) *cobra.Command {
	var (
		asJSON bool
		noNER  bool
	)
	cmd := &cobra.Command{
		Use:   "detect [text...]",
		Short: "Print raw candidate spans per detector, before reconciliation",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if noNER {
				a.v.Set(config.KeyNEREnabled, false)
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			collector, err := buildCollector(cfg)
			if err != nil {
				return err
			}

			start := time.Now()
			candidates, err := collector.Collect(log.Logger.WithContext(cmd.Context()), text)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"pattern":     nonNil(candidates.Pattern),
					"ner":         nonNil(candidates.NER),
					"ner_outcome": candidates.NEROutcome,
				})
			}
			printCandidates(w, text, candidates, time.Since(start))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print candidates as JSON")
	cmd.Flags().BoolVar(&noNER, "no-ner", false, "run pattern detection only")
	return cmd
}

func nonNil(e []detect.Entity) []detect.Entity {
	if e == nil {
		return []detect.Entity{}
	}
	return e
}

func printCandidates(w io.Writer, text string, c detect.Candidates, took time.Duration) {
	fmt.Fprintf(w, "Text: %q\n", text)
	fmt.Fprintf(w, "Detection completed in %v (ner: %s)\n\n", took.Round(time.Microsecond), c.NEROutcome)
	fmt.Fprintf(w, "%-4s %-8s %-16s %-30s %-6s %-6s %-6s\n", "#", "SOURCE", "CLASSIFICATION", "TEXT", "START", "END", "SCORE")
	fmt.Fprintln(w, strings.Repeat("-", 84))
	i := 0
	for _, src := range c.Sources() {
		for _, e := range src {
			i++
			snippet := e.Text
			if len(snippet) > 28 {
				snippet = snippet[:25] + "..."
			}
			fmt.Fprintf(w, "%-4d %-8s %-16s %-30s %-6d %-6d %.2f\n", i, e.Source, e.Classification, snippet, e.Start, e.End, e.Score)
		}
	}
	if i == 0 {
		fmt.Fprintln(w, "no candidates")
	}
}
