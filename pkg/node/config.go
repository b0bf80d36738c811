// Package node wires the individually-tested packages (registry, lock,
// persistence, tables, portal/transport, container/wrapper) into one
// running application per spec §6's configuration schema, the way
// substrated's main assembles its services rather than leaving it to
// each package's own constructors.
package node

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/darlean-io/darlean-go/pkg/persistence"
)

// Config mirrors spec §6's configuration file schema. Out of scope is the
// *loading* of this file from arbitrary collaborators (watchers, remote
// config services); cmd/darlean only ever decodes one JSON document named
// by --config.
type Config struct {
	AppID       string        `json:"appId"`
	RuntimeApps []string      `json:"runtimeApps"`
	Runtime     RuntimeConfig `json:"runtime"`
	Messaging   Messaging     `json:"messaging"`
}

// RuntimeConfig toggles and configures the in-process runtime components.
type RuntimeConfig struct {
	Enabled       bool            `json:"enabled"`
	ActorLock     ActorLockConfig `json:"actorLock"`
	ActorRegistry RegistryConfig  `json:"actorRegistry"`
	Persistence   PersistenceConfig `json:"persistence"`
}

// ActorLockConfig configures the distributed lock of spec §4.4.
type ActorLockConfig struct {
	Enabled    bool     `json:"enabled"`
	Apps       []string `json:"apps"`
	Redundancy int      `json:"redundancy"`
}

// RegistryConfig configures the actor registry of spec §4.5.
type RegistryConfig struct {
	Enabled bool     `json:"enabled"`
	Apps    []string `json:"apps"`
}

// SpecifierRule is one entry of spec §6's persistence.specifiers: a glob
// over store/load specifiers and the compartment template it resolves to.
type SpecifierRule struct {
	Specifier   string `json:"specifier"`
	Compartment string `json:"compartment"`
}

// HandlerRule is one entry of spec §6's persistence.handlers: a glob over
// compartment names and the actor type implementing storage for them.
type HandlerRule struct {
	Compartment string `json:"compartment"`
	ActorType   string `json:"actorType"`
}

// PersistenceConfig configures the persistence routing layer of spec §4.7.
// Handlers naming an actor type other than the built-in in-memory one are
// an external collaborator's concern (spec.md §1); this run mode only ever
// wires the in-memory handler, regardless of what ActorType names.
type PersistenceConfig struct {
	Enabled    bool            `json:"enabled"`
	Specifiers []SpecifierRule `json:"specifiers"`
	Handlers   []HandlerRule   `json:"handlers"`
}

// Messaging configures the transport layer between applications. Only
// "grpc" is implemented in-core; "nats" is accepted in config (so a
// config file written for a NATS-backed deployment still parses) but
// rejected at wiring time, per spec.md's NATS non-goal.
type Messaging struct {
	Providers []string   `json:"providers"`
	Nats      *NatsConfig `json:"nats,omitempty"`
	Grpc      *GrpcConfig `json:"grpc,omitempty"`
}

// NatsConfig is accepted for config-file compatibility only; see Messaging.
type NatsConfig struct {
	Hosts []string `json:"hosts"`
}

// GrpcConfig configures the in-core grpctransport binding.
type GrpcConfig struct {
	ListenAddr string `json:"listenAddr"`
}

// LoadConfig reads and decodes path into a Config.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("node: read config %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("node: parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c PersistenceConfig) compartmentRules() []persistence.CompartmentRule {
	out := make([]persistence.CompartmentRule, len(c.Specifiers))
	for i, s := range c.Specifiers {
		out[i] = persistence.CompartmentRule{SpecifierGlob: s.Specifier, CompartmentTemplate: s.Compartment}
	}
	return out
}

func (c PersistenceConfig) handlerRules() []persistence.HandlerRule {
	out := make([]persistence.HandlerRule, len(c.Handlers))
	for i, h := range c.Handlers {
		out[i] = persistence.HandlerRule{CompartmentGlob: h.Compartment, ActorType: h.ActorType}
	}
	return out
}

func (c ActorLockConfig) redundancyOrDefault() int {
	if c.Redundancy > 0 {
		return c.Redundancy
	}
	return len(c.Apps)
}
