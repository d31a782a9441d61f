package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"piimask/internal/detect"
	"piimask/internal/models"
)

func newModelCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Install and verify the NER model",
	}
	var root string
	cmd.PersistentFlags().StringVar(&root, "models-root", "", "models directory (default ~/.piimask/models)")
	resolveRoot := func() (string, error) {
		if root != "" {
			return root, nil
		}
		return models.DefaultModelsRoot()
	}

	var spec models.ModelSpec
	install := &cobra.Command{
		Use:   "install",
		Short: "Download or copy a model archive, verify its checksum and install it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := resolveRoot()
			if err != nil {
				return err
			}
			return modelInstall(cmd.Context(), cmd.OutOrStdout(), spec, r)
		},
	}
	install.Flags().StringVar(&spec.Name, "name", models.DefaultModelName, "model name")
	install.Flags().StringVar(&spec.URL, "url", "", "archive URL or local .tar.gz path")
	install.Flags().StringVar(&spec.Checksum, "checksum", "", "expected archive checksum (sha256:<hex>)")
	_ = install.MarkFlagRequired("url")
	_ = install.MarkFlagRequired("checksum")

	verify := &cobra.Command{
		Use:   "verify [name...]",
		Short: "Check that installed models have all files and load",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := resolveRoot()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				args = []string{models.DefaultModelName}
			}
			return modelVerify(cmd.OutOrStdout(), r, args)
		},
	}

	var yes bool
	remove := &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete an installed model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := resolveRoot()
			if err != nil {
				return err
			}
			return modelRemove(cmd.OutOrStdout(), cmd.InOrStdin(), r, args[0], yes)
		},
	}
	remove.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	cmd.AddCommand(install, verify, remove)
	return cmd
}

func modelInstall(ctx context.Context, w io.Writer, spec models.ModelSpec, root string) error {
	fmt.Fprintf(w, "Installing %s\n", spec.Name)
	fmt.Fprintf(w, "Source: %s\n\n", spec.URL)
	lastUpdate := time.Time{}
	err := models.NewDownloader().DownloadAndInstall(ctx, spec, root, func(p models.Progress) {
		if time.Since(lastUpdate) < 120*time.Millisecond && p.Total > 0 {
			return
		}
		lastUpdate = time.Now()
		pct := float64(0)
		if p.Total > 0 {
			pct = float64(p.Downloaded) * 100 / float64(p.Total)
		}
		fmt.Fprintf(w, "\rDownloading... %6.2f%% | %s / %s | %.2f MB/s | ETA %s",
			pct, humanBytes(p.Downloaded), humanBytes(p.Total), p.SpeedMBps, p.ETA.Truncate(time.Second))
	})
	fmt.Fprintln(w)
	if err != nil {
		return err
	}
	dir := models.ModelInstallPath(root, spec.Name)
	if err := validateModelMetadata(dir); err != nil {
		return errors.Wrap(err, "validate model")
	}
	fmt.Fprintf(w, "Model %s installed in %s\n", spec.Name, dir)
	return nil
}

// validateModelLoads runs the detector once against dir. A detector that
// cannot initialize reports ErrNERUnavailable.
func validateModelLoads(ctx context.Context, dir string) error {
	if err := validateModelMetadata(dir); err != nil {
		return err
	}
	d := detect.NewONNXNERDetector(detect.ONNXNERConfig{ModelDir: dir})
	_, err := d.Detect(ctx, "John Doe emailed jane@example.com")
	return err
}

func validateModelMetadata(dir string) error {
	labelsRaw, err := os.ReadFile(filepath.Join(dir, "labels.json"))
	if err != nil {
		return errors.Wrap(err, "read labels.json")
	}
	var labels map[string]string
	if err := json.Unmarshal(labelsRaw, &labels); err != nil {
		return errors.Wrap(err, "parse labels.json")
	}
	if len(labels) == 0 {
		return errors.New("labels.json is empty")
	}
	if err := models.CheckPersonLabels(dir); err != nil {
		return err
	}

	tokenizerRaw, err := os.ReadFile(filepath.Join(dir, "tokenizer.json"))
	if err != nil {
		return errors.Wrap(err, "read tokenizer.json")
	}
	var payload map[string]any
	if err := json.Unmarshal(tokenizerRaw, &payload); err != nil {
		return errors.Wrap(err, "parse tokenizer.json")
	}
	if len(payload) == 0 {
		return errors.New("tokenizer.json is empty")
	}
	return nil
}

func modelVerify(w io.Writer, root string, names []string) error {
	failures := 0
	for _, name := range names {
		dir := models.ModelInstallPath(root, name)
		fmt.Fprintf(w, "%s (%s)\n", name, dir)
		if !models.IsInstalled(dir) {
			fmt.Fprintln(w, "  └─ Files...    ✗ (not installed)")
			failures++
			continue
		}
		if sum, ok := models.InstalledChecksum(dir); ok {
			fmt.Fprintf(w, "  ├─ Checksum... %s\n", sum)
		} else {
			fmt.Fprintln(w, "  ├─ Checksum... ? (metadata unavailable)")
		}
		fmt.Fprintln(w, "  ├─ Files...    ✓")
		if err := validateModelLoads(context.Background(), dir); err != nil {
			fmt.Fprintf(w, "  └─ Loadable... ✗ (%v)\n", err)
			failures++
			continue
		}
		fmt.Fprintln(w, "  └─ Loadable... ✓")
	}
	if failures > 0 {
		return errors.Newf("%d model(s) failed verification", failures)
	}
	return nil
}

func modelRemove(w io.Writer, in io.Reader, root, name string, yes bool) error {
	loc := models.ModelInstallPath(root, name)
	if _, err := os.Stat(loc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(w, "Model %s is not installed\n", name)
			return nil
		}
		return err
	}
	if !yes {
		fmt.Fprintf(w, "This will delete %s\n", loc)
		fmt.Fprint(w, "Continue? (y/N): ")
		resp, _ := bufio.NewReader(in).ReadString('\n')
		resp = strings.TrimSpace(strings.ToLower(resp))
		if resp != "y" && resp != "yes" {
			fmt.Fprintln(w, "Cancelled")
			return nil
		}
	}
	if err := os.RemoveAll(loc); err != nil {
		return err
	}
	fmt.Fprintf(w, "Model %s removed\n", name)
	return nil
}

func humanBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	const mb = 1024 * 1024
	if n >= mb {
		return fmt.Sprintf("%d MB", n/mb)
	}
	return fmt.Sprintf("%d KB", n/1024)
}
