package main

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"piimask/internal/classifier"
	"piimask/internal/config"
)

func newMaskCmd(a *app) *cobra.Command {
	var (
		output   string
		classify bool
		noNER    bool
	)
	cmd := &cobra.Command{
		Use:   "mask [text...]",
		Short: "Mask personal data in text given as arguments or on stdin",
		Example: `  piimask mask "Contact me at jane@example.com"
  cat email.txt | piimask mask --output text`,
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
			p, err := buildPipeline(cfg)
			if err != nil {
				return err
			}
			ctx := log.Logger.WithContext(cmd.Context())
			res, err := p.sanitizer.Sanitize(ctx, text)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			var category classifier.Category
			if classify {
				category, err = classifier.NewKeywordClassifier().Classify(ctx, res.MaskedText)
				if err != nil {
					return err
				}
			}
			switch output {
			case "text":
				fmt.Fprintln(w, res.MaskedText)
				if classify {
					fmt.Fprintf(w, "category: %s\n", category)
				}
				return nil
			case "json":
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if !classify {
					return enc.Encode(res)
				}
				return enc.Encode(struct {
					InputText  string      `json:"input_text"`
					Spans      interface{} `json:"reconciled_spans"`
					MaskedText string      `json:"masked_text"`
					Category   string      `json:"category"`
				}{res.InputText, res.Spans, res.MaskedText, string(category)})
			default:
				return errors.Newf("unsupported output format %q", output)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json|text")
	cmd.Flags().BoolVar(&classify, "classify", false, "also classify the masked text")
	cmd.Flags().BoolVar(&noNER, "no-ner", false, "use pattern detection only")
	return cmd
}
