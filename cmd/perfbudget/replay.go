package main

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/perfbudget/internal/codec"
	"github.com/tinytelemetry/perfbudget/internal/collector"
	"github.com/tinytelemetry/perfbudget/internal/config"
	"github.com/tinytelemetry/perfbudget/internal/journal"
	"github.com/tinytelemetry/perfbudget/internal/model"
	"github.com/tinytelemetry/perfbudget/internal/signal"
)

func readerFor(cfg config.Config, sig *signal.Signal) *journal.Reader {
	opts := []journal.Option{journal.WithSignal(sig)}
	if cfg.SkipMalformed {
		opts = append(opts, journal.WithSkipMalformed())
	}
	return journal.NewReader(cfg.DatafilePath, opts...)
}

// runReplay dumps every recorded sample to w, one JSON line each or as a
// YAML document stream.
func runReplay(cfg config.Config, format string, w io.Writer) error {
	samples, err := readerFor(cfg, signal.ResultsRead).ReadAll()
	if err != nil {
		return err
	}

	switch format {
	case "json":
		enc := codec.NewEncoder(w)
		for _, s := range samples {
			if err := enc.Encode(s); err != nil {
				return err
			}
		}
		return nil
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		for _, s := range samples {
			if err := enc.Encode(yamlSample(s)); err != nil {
				return fmt.Errorf("replay: encode yaml: %w", err)
			}
		}
		return enc.Close()
	}
	return fmt.Errorf("replay: unknown format %q", format)
}

type yamlSender struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`
}

type yamlRecord struct {
	Sender  yamlSender     `yaml:"sender"`
	Results []any          `yaml:"results"`
	Context map[string]any `yaml:"context"`
}

func yamlSample(s model.Sample) yamlRecord {
	rec := yamlRecord{
		Sender:  yamlSender{ID: s.Sender.ID, Type: s.Sender.Type},
		Results: make([]any, 0, len(s.Results)),
		Context: make(map[string]any, len(s.Context)),
	}
	for _, v := range s.Results {
		rec.Results = append(rec.Results, v.Interface())
	}
	for k, v := range s.Context {
		rec.Context[k] = v.Interface()
	}
	return rec
}

// runCheck replays the log against the configured limits and reports
// every event that exceeds them.
func runCheck(cfg config.Config, w io.Writer) error {
	c := collector.New(cfg.CollectorConfig())
	sig := signal.New("check")

	var violations *multierror.Error
	sig.Connect(func(sender model.Sender, results model.Results, ctx model.Context) error {
		err := c.Check(sender, results, ctx)
		var exceeded *collector.LimitExceededError
		if errors.As(err, &exceeded) {
			violations = multierror.Append(violations, err)
			return nil
		}
		return err
	})

	samples, err := readerFor(cfg, sig).ReadAll()
	if err != nil {
		return err
	}
	log.Printf("check: replayed %d samples from %s", len(samples), cfg.DatafilePath)

	if err := violations.ErrorOrNil(); err != nil {
		for _, v := range violations.Errors {
			fmt.Fprintln(w, v.Error())
		}
		return fmt.Errorf("check: %d of %d samples over budget", len(violations.Errors), len(samples))
	}
	fmt.Fprintf(w, "%d samples within budget\n", len(samples))
	return nil
}
