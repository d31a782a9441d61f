// Command piimask detects and masks personal data in free text, either as
// a one-shot CLI or as an HTTP service.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"piimask/internal/config"
)

// Version info injected via ldflags at build time
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

type app struct {
	v *viper.Viper

	cfgFile   string
	envFile   string
	logLevel  string
	logFormat string
	verbose   bool
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}
	root := &cobra.Command{
		Use:   "piimask",
		Short: "Detect and mask personal data in text",
		Long: `piimask finds personal data such as names, emails, phone numbers and card
numbers in free text and replaces each span with a [classification] placeholder.

Candidates come from regular expressions and an optional ONNX NER model.
Overlapping candidates are resolved by start offset, then label priority.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: ./piimask.yaml or ~/.piimask/piimask.yaml)")
	pf.StringVar(&a.envFile, "env-file", "", "dotenv file to load (default: ./.env if present)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&a.logFormat, "log-format", "", "log format (console, json)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newServeCmd(a),
		newMaskCmd(a),
		newDetectCmd(a),
		newModelCmd(a),
		newStatsCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	var envFiles []string
	if a.envFile != "" {
		envFiles = append(envFiles, a.envFile)
	}
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return err
	}
	if err := config.ReadFile(a.v, a.cfgFile); err != nil {
		return err
	}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		a.v.Set(config.KeyLogLevel, a.logLevel)
	}
	if f := cmd.Flags().Lookup("log-format"); f != nil && f.Changed {
		a.v.Set(config.KeyLogFormat, a.logFormat)
	}
	a.setupLogging()
	return nil
}

func (a *app) loadConfig() (*config.Config, error) {
	return config.Load(a.v)
}

func (a *app) setupLogging() {
	level, err := zerolog.ParseLevel(a.v.GetString(config.KeyLogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if a.verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	// Logs go to stderr so stdout stays clean for piping (e.g. piimask mask | jq).
	if a.v.GetString(config.KeyLogFormat) == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().
			Timestamp().
			Logger()
	}
	zerolog.DefaultContextLogger = &log.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
