package main

import (
	"time"

	"github.com/rs/zerolog/log"

	"piimask/internal/config"
	"piimask/internal/detect"
	"piimask/internal/metrics"
	"piimask/internal/sanitizer"
)

type pipeline struct {
	sanitizer *sanitizer.Sanitizer
	metrics   *metrics.Metrics
}

func buildPipeline(cfg *config.Config) (*pipeline, error) {
	collector, err := buildCollector(cfg)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	san := sanitizer.New(collector,
		sanitizer.WithPriorities(sanitizer.NewPriorityTable(cfg.Priorities)),
		sanitizer.WithObserver(m),
	)
	return &pipeline{sanitizer: san, metrics: m}, nil
}

func buildCollector(cfg *config.Config) (*detect.Collector, error) {
	c := &detect.Collector{}
	pc := cfg.Detectors.Patterns
	if pc.Enabled {
		specs, err := detect.DefaultPatterns()
		if pc.File != "" {
			specs, err = detect.LoadPatternFile(pc.File)
		}
		if err != nil {
			return nil, err
		}
		pd, err := detect.NewPatternDetector(specs)
		if err != nil {
			return nil, err
		}
		c.Patterns = pd
		log.Debug().Strs("classifications", pd.Classifications()).Msg("pattern detector ready")
	}

	nc := cfg.Detectors.NER
	if nc.Enabled {
		c.NER = detect.NewONNXNERDetector(detect.ONNXNERConfig{
			ModelDir:    nc.ModelDir,
			MaxBytes:    nc.MaxBytes,
			Backend:     nc.Backend,
			LibraryPath: nc.LibraryPath,
		})
	}
	c.Config = detect.CollectorConfig{
		NEREnabled: nc.Enabled,
		MaxBytes:   nc.MaxBytes,
		Timeout:    time.Duration(nc.TimeoutMS) * time.Millisecond,
		MinScore:   nc.MinScore,
	}
	return c, nil
}
