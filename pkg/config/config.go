/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package config loads the settings of an attestation run from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	spilog "github.com/hyperledger/aries-framework-go/spi/log"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/discipl/ipv8-attestation/pkg/peer"
	"github.com/discipl/ipv8-attestation/pkg/poll"
	"github.com/discipl/ipv8-attestation/pkg/scenario"
)

// launchers a deployment can use.
const (
	LoopbackLauncher = "loopback"
	ProcessLauncher  = "process"
	DockerLauncher   = "docker"
)

const maxPort = 65535

var errEmptyFile = errors.New("filename is required")

// Config is the full set of run settings. Zero sections keep the defaults.
type Config struct {
	Launcher     string              `mapstructure:"launcher" yaml:"launcher"`
	WorkRoot     string              `mapstructure:"workRoot" yaml:"workRoot"`
	BasePort     int                 `mapstructure:"basePort" yaml:"basePort"`
	Overlay      *peer.OverlayConfig `mapstructure:"overlay" yaml:"overlay,omitempty"`
	Poll         PollConfig          `mapstructure:"poll" yaml:"poll"`
	Verification PollConfig          `mapstructure:"verification" yaml:"verification"`
	Attribute    AttributeConfig     `mapstructure:"attribute" yaml:"attribute"`
	Consent      bool                `mapstructure:"consent" yaml:"consent"`
	Process      ProcessConfig       `mapstructure:"process" yaml:"process"`
	Docker       DockerConfig        `mapstructure:"docker" yaml:"docker"`
	Loopback     LoopbackConfig      `mapstructure:"loopback" yaml:"loopback"`
}

// PollConfig bounds a polling session. Zero bounds mean none.
type PollConfig struct {
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxAttempts uint64        `mapstructure:"maxAttempts" yaml:"maxAttempts"`
	MaxElapsed  time.Duration `mapstructure:"maxElapsed" yaml:"maxElapsed"`
}

// AttributeConfig is the attribute a run attests and verifies.
type AttributeConfig struct {
	Name  string `mapstructure:"name" yaml:"name"`
	Value string `mapstructure:"value" yaml:"value"`
}

// ProcessConfig configures peers started as local processes.
type ProcessConfig struct {
	Command string   `mapstructure:"command" yaml:"command"`
	Env     []string `mapstructure:"env" yaml:"env,omitempty"`
}

// DockerConfig configures peers started as containers.
type DockerConfig struct {
	Image      string `mapstructure:"image" yaml:"image"`
	Command    string `mapstructure:"command" yaml:"command"`
	NamePrefix string `mapstructure:"namePrefix" yaml:"namePrefix"`
}

// LoopbackConfig configures in-process peers.
type LoopbackConfig struct {
	AutoAllowVerify bool          `mapstructure:"autoAllowVerify" yaml:"autoAllowVerify"`
	InMemory        bool          `mapstructure:"inMemory" yaml:"inMemory"`
	ProcessingDelay time.Duration `mapstructure:"processingDelay" yaml:"processingDelay"`
	RequestTTL      time.Duration `mapstructure:"requestTTL" yaml:"requestTTL"`
	DiscoveryDelay  time.Duration `mapstructure:"discoveryDelay" yaml:"discoveryDelay"`
}

// Default returns the settings of the reference demo.
func Default() *Config {
	return &Config{
		Launcher: LoopbackLauncher,
		WorkRoot: ".",
		BasePort: peer.DefaultBasePort,
		Poll:     PollConfig{Interval: poll.DefaultInterval},
		Verification: PollConfig{
			Interval:    scenario.DefaultVerificationInterval,
			MaxAttempts: scenario.DefaultVerificationAttempts,
		},
		Attribute: AttributeConfig{Name: scenario.DefaultAttributeName, Value: scenario.DefaultAttributeValue},
		Loopback:  LoopbackConfig{AutoAllowVerify: true},
	}
}

// FromFile reads the named YAML file over the defaults.
func FromFile(name string) (*Config, error) {
	if name == "" {
		return nil, errEmptyFile
	}

	f, err := os.Open(name) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("loading config file failed: %w", err)
	}

	defer f.Close() //nolint:errcheck

	return FromReader(f)
}

// FromReader reads YAML from in over the defaults. Unknown keys are rejected.
func FromReader(in io.Reader) (*Config, error) {
	raw := map[string]interface{}{}

	if err := yaml.NewDecoder(in).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := Default()

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("create config decoder: %w", err)
	}

	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings that cannot be left to the components.
func (c *Config) Validate() error {
	switch c.Launcher {
	case LoopbackLauncher, ProcessLauncher, DockerLauncher:
	default:
		return fmt.Errorf("unknown launcher %q", c.Launcher)
	}

	if c.BasePort < 0 || c.BasePort > maxPort-len(peer.Roles())+1 {
		return fmt.Errorf("base port %d out of range", c.BasePort)
	}

	if c.Poll.Interval <= 0 || c.Verification.Interval <= 0 {
		return errors.New("poll intervals must be positive")
	}

	if c.Attribute.Name == "" {
		return errors.New("attribute name is required")
	}

	return nil
}

// Marshal renders the settings as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Poller builds a poller with these bounds.
func (p PollConfig) Poller(l spilog.Logger) *poll.Poller {
	opts := []poll.Option{poll.WithInterval(p.Interval)}

	if p.MaxAttempts > 0 {
		opts = append(opts, poll.WithMaxAttempts(p.MaxAttempts))
	}

	if p.MaxElapsed > 0 {
		opts = append(opts, poll.WithMaxElapsed(p.MaxElapsed))
	}

	if l != nil {
		opts = append(opts, poll.WithLogger(l))
	}

	return poll.New(opts...)
}
