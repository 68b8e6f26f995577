// Package config loads the injection rule set and runtime toggles from
// the proxy's JSON configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/ardnew/usbproxy/inject"
)

// Config is the decoded top-level configuration document: the injection
// rule set plus the two runtime toggles surfaced to the CLI.
//
// No third-party JSON library appears anywhere in the retrieval pack, and
// none of the pack's USB/GPIO/gadget repos ships a config loader, so this
// is the one component built directly on the standard library; see
// DESIGN.md.
type Config struct {
	Rules *inject.RuleSet `json:"-"`

	// InjectionEnabled is the initial value of the injection_enabled
	// runtime toggle, overridable by --inject/--no-inject.
	InjectionEnabled bool `json:"injection_enabled"`

	// VerboseLevel selects the minimum log level: 0 Warn, 1 Info, 2
	// Debug. No per-transfer enqueue/dequeue notices or payload dumps are
	// logged at any level.
	VerboseLevel int `json:"verbose_level"`
}

// document mirrors the on-disk JSON shape. Its Control/Int/Bulk/Isoc
// fields are the ones inject.RuleSet holds; Load copies them into a new
// RuleSet and compiles it before exposing it as Config.Rules.
type document struct {
	Control inject.ControlRuleSet `json:"control"`
	Int     []inject.EndpointRule `json:"int"`
	Bulk    []inject.EndpointRule `json:"bulk"`
	Isoc    []inject.EndpointRule `json:"isoc"`

	InjectionEnabled bool `json:"injection_enabled"`
	VerboseLevel     int  `json:"verbose_level"`
}

// Load reads and decodes the configuration file at path, compiling its
// injection rule set. Unknown fields are ignored by encoding/json's
// default behavior; missing optional fields take the zero-value defaults
// documented on inject.RuleSet's types.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	rules := &inject.RuleSet{
		Control: doc.Control,
		Int:     doc.Int,
		Bulk:    doc.Bulk,
		Isoc:    doc.Isoc,
	}
	if err := rules.Compile(); err != nil {
		return nil, fmt.Errorf("compile rules in %s: %w", path, err)
	}

	return &Config{
		Rules:            rules,
		InjectionEnabled: doc.InjectionEnabled,
		VerboseLevel:     clampVerboseLevel(doc.VerboseLevel),
	}, nil
}

// SlogLevel maps the verbose_level tier to a log/slog level: 0 Warn, 1
// Info, 2 Debug. Only the minimum level differs between tiers; no
// per-transfer enqueue/dequeue notices or payload dumps are logged.
func (c *Config) SlogLevel() slog.Level {
	switch c.VerboseLevel {
	case 1:
		return slog.LevelInfo
	case 2:
		return slog.LevelDebug
	default:
		return slog.LevelWarn
	}
}

func clampVerboseLevel(level int) int {
	switch {
	case level < 0:
		return 0
	case level > 2:
		return 2
	default:
		return level
	}
}
