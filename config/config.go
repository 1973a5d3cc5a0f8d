// Package config loads runtime options from YAML or JSON files. YAML input
// is converted to JSON so one strict decoder (DisallowUnknownFields) covers
// both formats; a typo in a config file is an error, not a silent default.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	asyncruntime "github.com/corewind/go-async-runtime"
)

// Options is the serializable form of asyncruntime.Config. Durations are
// strings in time.ParseDuration syntax ("10ms", "1s"). Zero values defer to
// the runtime defaults.
type Options struct {
	Workers             int    `json:"workers"`
	GlobalQueueCapacity int    `json:"global_queue_capacity"`
	LocalQueueCapacity  int    `json:"local_queue_capacity"`
	PollInterval        string `json:"poll_interval"`
	ReactorBatch        int    `json:"reactor_batch"`
	Tracing             bool   `json:"tracing"`
	AutoShutdown        bool   `json:"auto_shutdown"`
}

// Load reads and strictly decodes an options file. The format is picked by
// extension: .yaml/.yml is YAML, anything else is JSON.
func Load(path string) (*Options, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, b)
}

// Parse strictly decodes options from raw bytes; path is only used to pick
// the format and to label errors.
func Parse(path string, data []byte) (*Options, error) {
	jb, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var opts Options
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&opts); err != nil {
		return nil, fmt.Errorf("%s: invalid %s config: %w", path, format, err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("%s: trailing data after config", path)
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &opts, nil
}

// Validate checks field ranges without building a runtime config.
func (o *Options) Validate() error {
	if o.Workers < 0 {
		return fmt.Errorf("workers: must be >= 0, got %d", o.Workers)
	}
	if o.GlobalQueueCapacity < 0 {
		return fmt.Errorf("global_queue_capacity: must be >= 0, got %d", o.GlobalQueueCapacity)
	}
	if o.LocalQueueCapacity < 0 {
		return fmt.Errorf("local_queue_capacity: must be >= 0, got %d", o.LocalQueueCapacity)
	}
	if o.ReactorBatch < 0 {
		return fmt.Errorf("reactor_batch: must be >= 0, got %d", o.ReactorBatch)
	}
	if _, err := parseDurationField("poll_interval", o.PollInterval); err != nil {
		return err
	}
	return nil
}

// Runtime converts the options into an asyncruntime.Config. Reactor and
// Logger are process-level concerns, not file-level ones; set them on the
// returned config before calling asyncruntime.New.
func (o *Options) Runtime() (asyncruntime.Config, error) {
	if err := o.Validate(); err != nil {
		return asyncruntime.Config{}, err
	}
	interval, err := parseDurationField("poll_interval", o.PollInterval)
	if err != nil {
		return asyncruntime.Config{}, err
	}
	return asyncruntime.Config{
		Workers:             o.Workers,
		GlobalQueueCapacity: o.GlobalQueueCapacity,
		LocalQueueCapacity:  o.LocalQueueCapacity,
		PollInterval:        interval,
		ReactorBatch:        o.ReactorBatch,
		Tracing:             o.Tracing,
		AutoShutdown:        o.AutoShutdown,
	}, nil
}

func parseDurationField(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}

// coerceToJSONBytes converts YAML config to JSON bytes so the strict JSON
// decoder serves both formats. Returns (jsonBytes, format, err) where format
// is "json" or "yaml".
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, "json", nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, "yaml", fmt.Errorf("yaml unmarshal: %w", err)
	}
	if v == nil {
		return nil, "yaml", errors.New("empty config")
	}

	v = normalizeYAML(v)

	j, err := json.Marshal(v)
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, "yaml", nil
}

// normalizeYAML ensures all map keys are strings so the result can be
// JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
