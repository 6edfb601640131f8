package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes YAML configuration content over the provided base and validates it.
//
// Keys absent from the document keep their base values; unknown keys are errors.
func Parse(content string, base Config) (Config, []Warning, error) {
	cfg := base

	decoder := yaml.NewDecoder(strings.NewReader(content))
	decoder.KnownFields(true)

	err := decoder.Decode(&cfg)
	switch {
	case errors.Is(err, io.EOF):
		// Empty or comment-only content keeps defaults.
	case err != nil:
		return Config{}, nil, fmt.Errorf("decode yaml config: %w", err)
	default:
		if err := ensureSingleYAMLDocument(decoder); err != nil {
			return Config{}, nil, err
		}
	}

	for name, set := range cfg.Vocab.Sets {
		set.Name = name
		cfg.Vocab.Sets[name] = set
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

// ensureSingleYAMLDocument rejects multi-document config files.
func ensureSingleYAMLDocument(decoder *yaml.Decoder) error {
	var extra yaml.Node
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode yaml config: %w", err)
	}
	return errors.New("config must contain a single yaml document")
}
