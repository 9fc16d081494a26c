package config

import (
	"fmt"
	"strings"

	"github.com/quoracle/quoracle/internal/mcpclient"
	"github.com/quoracle/quoracle/pkg/models"
)

// Config is Quoracle's top-level configuration tree, grounded on
// internal/config/config.go's top-level struct shape (one field per
// subsystem, yaml-tagged, loaded through $include resolution and
// env-var interpolation) but re-sectioned away from the teacher's
// chat-gateway/channel/session domain toward the agent orchestration
// runtime's domain: model catalog and provider credentials, the
// profile catalog, MCP servers, persistence, and the ambient
// server/logging/tracing stack (spec.md §6, SPEC_FULL §2/§3).
type Config struct {
	Version       int                 `yaml:"version"`
	Server        ServerConfig        `yaml:"server"`
	Models        ModelsConfig        `yaml:"models"`
	Profiles      ProfilesConfig      `yaml:"profiles"`
	MCP           mcpclient.Config    `yaml:"mcp"`
	Persistence   PersistenceConfig   `yaml:"persistence"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Load reads path, resolving $include directives and expanding
// environment variables (loader.go), decodes it into a Config with
// strict field checking, validates its version, applies defaults, and
// runs any registered plugin validator.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ServerConfig configures the control-plane surfaces: gRPC for the
// inbound agent API (spec.md §6), HTTP for the eventbus websocket and
// health/metrics endpoints.
type ServerConfig struct {
	Host        string `yaml:"host"`
	GRPCPort    int    `yaml:"grpc_port"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// PersistenceConfig configures the SQL-backed restore-contract store
// (internal/persistence), dialect-agnostic across Postgres and SQLite.
type PersistenceConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LoggingConfig and ObservabilityConfig carry the ambient stack
// forward unchanged from the teacher's config_observability.go
// (ServiceName/Environment/etc. renamed to describe an agent runtime
// rather than a chat gateway), trimmed of the teacher's security
// posture and artifact-storage sections which have no counterpart in
// this spec.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyModelsDefaults(&cfg.Models)
	applyPersistenceDefaults(&cfg.Persistence)
	applyLoggingDefaults(&cfg.Logging)
	applyObservabilityDefaults(&cfg.Observability)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.GRPCPort == 0 {
		cfg.GRPCPort = 50051
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyPersistenceDefaults(cfg *PersistenceConfig) {
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.DSN == "" {
		cfg.DSN = "quoracle.db"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyObservabilityDefaults(cfg *ObservabilityConfig) {
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "quoracle"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}

// ConfigValidationError aggregates config validation issues, grounded
// on the teacher's config.go's error of the same name/shape.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if cfg.Server.GRPCPort == cfg.Server.HTTPPort {
		issues = append(issues, "server.grpc_port and server.http_port must differ")
	}
	if cfg.Server.MetricsPort == cfg.Server.GRPCPort || cfg.Server.MetricsPort == cfg.Server.HTTPPort {
		issues = append(issues, "server.metrics_port must differ from grpc_port and http_port")
	}

	seenCatalog := map[models.ModelSpec]struct{}{}
	for i, entry := range cfg.Models.Catalog {
		if strings.TrimSpace(string(entry.ModelSpec)) == "" {
			issues = append(issues, fmt.Sprintf("models.catalog[%d].model_spec is required", i))
			continue
		}
		if _, dup := seenCatalog[entry.ModelSpec]; dup {
			issues = append(issues, fmt.Sprintf("models.catalog[%d].model_spec %q is duplicated", i, entry.ModelSpec))
		}
		seenCatalog[entry.ModelSpec] = struct{}{}
	}

	seenServers := map[string]struct{}{}
	for i, sc := range cfg.MCP.Servers {
		if strings.TrimSpace(sc.ID) == "" {
			issues = append(issues, fmt.Sprintf("mcp.servers[%d].id is required", i))
			continue
		}
		if _, dup := seenServers[sc.ID]; dup {
			issues = append(issues, fmt.Sprintf("mcp.servers[%d].id %q is duplicated", i, sc.ID))
		}
		seenServers[sc.ID] = struct{}{}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Persistence.Driver)) {
	case "postgres", "sqlite":
	default:
		issues = append(issues, "persistence.driver must be \"postgres\" or \"sqlite\"")
	}

	for name, p := range cfg.Profiles.Entries {
		if p.MaxRefinementRounds < 1 {
			issues = append(issues, fmt.Sprintf("profiles.entries[%s].max_refinement_rounds must be >= 1", name))
		}
		if len(p.CapabilityGroups) == 0 {
			issues = append(issues, fmt.Sprintf("profiles.entries[%s].capability_groups must be non-empty", name))
		}
	}

	if groupIssues := validateCapabilityGroupNames(cfg); len(groupIssues) > 0 {
		issues = append(issues, groupIssues...)
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

// validateCapabilityGroupNames rejects empty or duplicated capability
// group names within a single profile. Folded directly into
// validateConfig rather than left behind an external-registration hook,
// since nothing in this runtime plugs in validators beyond the catalog
// checks above.
func validateCapabilityGroupNames(cfg *Config) []string {
	var issues []string
	for name, p := range cfg.Profiles.Entries {
		seen := map[string]struct{}{}
		for _, group := range p.CapabilityGroups {
			if strings.TrimSpace(group) == "" {
				issues = append(issues, fmt.Sprintf("profiles.entries[%s].capability_groups contains an empty group name", name))
				continue
			}
			if _, dup := seen[group]; dup {
				issues = append(issues, fmt.Sprintf("profiles.entries[%s].capability_groups duplicates %q", name, group))
			}
			seen[group] = struct{}{}
		}
	}
	return issues
}
