// Package config loads the settings needed to run the engine against
// external state and queue backends.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultStatePrefix is the blob key prefix applied when none is configured.
const DefaultStatePrefix = "wf/"

// Config describes where workflow state lives and which queue carries work
// nudges.
type Config struct {
	// StateBucket names the state bucket. Required.
	StateBucket string `yaml:"state_bucket"`

	// StatePrefix is the key prefix for workflow blobs, normalized to end
	// with "/". Default: "wf/".
	StatePrefix string `yaml:"state_prefix"`

	// QueueURL is the fully qualified queue URL. Required.
	QueueURL string `yaml:"queue_url"`
}

// FromEnv reads configuration from STATE_BUCKET, STATE_PREFIX and QUEUE_URL.
func FromEnv() (Config, error) {
	cfg := Config{
		StateBucket: os.Getenv("STATE_BUCKET"),
		StatePrefix: os.Getenv("STATE_PREFIX"),
		QueueURL:    os.Getenv("QUEUE_URL"),
	}
	return cfg.normalize()
}

// FromFile reads configuration from a YAML file with the same fields.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg.normalize()
}

func (c Config) normalize() (Config, error) {
	if c.StateBucket == "" {
		return Config{}, fmt.Errorf("STATE_BUCKET is required")
	}
	if c.QueueURL == "" {
		return Config{}, fmt.Errorf("QUEUE_URL is required")
	}
	if c.StatePrefix == "" {
		c.StatePrefix = DefaultStatePrefix
	} else if !strings.HasSuffix(c.StatePrefix, "/") {
		c.StatePrefix += "/"
	}
	return c, nil
}
