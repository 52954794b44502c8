/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package peer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// OverlayConfigFile is the name of the overlay configuration written into a peer's working directory.
const OverlayConfigFile = "overlay.json"

// OverlayConfig is the configuration handed to an overlay peer at startup.
type OverlayConfig struct {
	Address        string    `json:"address" mapstructure:"address" yaml:"address"`
	Port           int       `json:"port" mapstructure:"port" yaml:"port"`
	Keys           []Key     `json:"keys" mapstructure:"keys" yaml:"keys"`
	Logger         LogConfig `json:"logger" mapstructure:"logger" yaml:"logger"`
	WalkerInterval float64   `json:"walker_interval" mapstructure:"walker_interval" yaml:"walker_interval"`
	Overlays       []Overlay `json:"overlays" mapstructure:"overlays" yaml:"overlays"`
}

// Key is an identity key the peer generates or loads.
type Key struct {
	Alias      string `json:"alias" mapstructure:"alias" yaml:"alias"`
	Generation string `json:"generation" mapstructure:"generation" yaml:"generation"`
	File       string `json:"file" mapstructure:"file" yaml:"file"`
}

// LogConfig sets the peer's own log level.
type LogConfig struct {
	Level string `json:"level" mapstructure:"level" yaml:"level"`
}

// Overlay is one community the peer joins.
type Overlay struct {
	Class   string   `json:"class" mapstructure:"class" yaml:"class"`
	Key     string   `json:"key" mapstructure:"key" yaml:"key"`
	Walkers []Walker `json:"walkers" mapstructure:"walkers" yaml:"walkers"`
}

// Walker is a peer discovery strategy of an overlay.
type Walker struct {
	Strategy string     `json:"strategy" mapstructure:"strategy" yaml:"strategy"`
	Peers    int        `json:"peers" mapstructure:"peers" yaml:"peers"`
	Init     WalkerInit `json:"init" mapstructure:"init" yaml:"init"`
}

// WalkerInit holds the walker's startup settings.
type WalkerInit struct {
	Timeout float64 `json:"timeout" mapstructure:"timeout" yaml:"timeout"`
}

// overlay defaults.
const (
	AnonymousIDKey        = "anonymous id"
	AttestationCommunity  = "AttestationCommunity"
	IdentityCommunity     = "IdentityCommunity"
	defaultWalkerInterval = 4
	defaultWalkerPeers    = 4
	defaultWalkerTimeout  = 60.0
	defaultOverlayPort    = 8090
)

// DefaultOverlayConfig returns the configuration used when none is given: the attestation and identity
// communities, each discovered by a random walk, with the peer logging errors only.
func DefaultOverlayConfig() *OverlayConfig {
	overlays := make([]Overlay, 0, 2) //nolint:gomnd

	for _, class := range []string{AttestationCommunity, IdentityCommunity} {
		overlays = append(overlays, Overlay{
			Class: class,
			Key:   AnonymousIDKey,
			Walkers: []Walker{{
				Strategy: "RandomWalk",
				Peers:    defaultWalkerPeers,
				Init:     WalkerInit{Timeout: defaultWalkerTimeout},
			}},
		})
	}

	return &OverlayConfig{
		Address:        "0.0.0.0",
		Port:           defaultOverlayPort,
		Keys:           []Key{{Alias: AnonymousIDKey, Generation: "curve25519", File: "ec_multichain.pem"}},
		Logger:         LogConfig{Level: "ERROR"},
		WalkerInterval: defaultWalkerInterval,
		Overlays:       overlays,
	}
}

// HasOverlay reports whether the configuration joins the community class.
func (c *OverlayConfig) HasOverlay(class string) bool {
	for _, o := range c.Overlays {
		if o.Class == class {
			return true
		}
	}

	return false
}

// Write stores the configuration as JSON in dir and returns the file path.
func (c *OverlayConfig) Write(dir string) (string, error) {
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal overlay config: %w", err)
	}

	path := filepath.Join(dir, OverlayConfigFile)

	if err := os.WriteFile(path, raw, 0o600); err != nil { //nolint:gomnd
		return "", fmt.Errorf("write overlay config: %w", err)
	}

	return path, nil
}
