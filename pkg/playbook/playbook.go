// Package playbook holds the registry of recovery strategies. A playbook
// binds an error type to a primary action, its retry budget, an optional
// fallback and chained playbook, and the verification and breaker policy
// around it. The registry is data: the builtin table ships in the binary
// and a YAML overlay can replace or extend it without recompiling.
package playbook

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/pipeheal/pipeheal/pkg/types"
)

// ActionParams carries action-specific tuning. Only the fields relevant
// to the configured action are read.
type ActionParams struct {
	// ScalePercent grows the worker count by this percentage (scale_cluster)
	ScalePercent int `yaml:"scale_percent,omitempty" json:"scale_percent,omitempty"`
	// MaxWorkers caps the worker count after scaling (scale_cluster)
	MaxWorkers int `yaml:"max_workers,omitempty" json:"max_workers,omitempty"`
	// LibraryVersions maps library names to candidate versions tried in
	// order (library_fallback)
	LibraryVersions map[string][]string `yaml:"library_versions,omitempty" json:"library_versions,omitempty"`
}

// Config describes one recovery playbook
type Config struct {
	Platform types.Platform   `yaml:"platform" json:"platform"`
	Action   types.ActionType `yaml:"action" json:"action"`

	MaxRetries     int `yaml:"max_retries" json:"max_retries"`
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`

	FallbackAction  types.ActionType `yaml:"fallback_action,omitempty" json:"fallback_action,omitempty"`
	ChainedPlaybook string           `yaml:"chained_playbook,omitempty" json:"chained_playbook,omitempty"`

	VerifyHealth       bool `yaml:"verify_health" json:"verify_health"`
	HealthCheckTimeout int  `yaml:"health_check_timeout" json:"health_check_timeout"`

	SnapshotBefore bool `yaml:"snapshot_before" json:"snapshot_before"`

	// CircuitBreakerThreshold of zero disables the breaker for this playbook
	CircuitBreakerThreshold int `yaml:"circuit_breaker_threshold" json:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   int `yaml:"circuit_breaker_timeout" json:"circuit_breaker_timeout"`

	ActionParams ActionParams `yaml:"action_params,omitempty" json:"action_params,omitempty"`
	Description  string       `yaml:"description" json:"description"`
}

// Validate rejects configs the executor cannot run
func (c Config) Validate() error {
	switch c.Action {
	case types.ActionRetryJob, types.ActionRestartCluster, types.ActionScaleCluster,
		types.ActionLibraryFallback, types.ActionRerunPipeline, types.ActionRollbackConfig,
		types.ActionNoop:
	default:
		return fmt.Errorf("unknown action %q", c.Action)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be > 0, got %d", c.TimeoutSeconds)
	}
	if c.VerifyHealth && c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("health_check_timeout must be > 0 when verify_health is set")
	}
	if c.Action == types.ActionRollbackConfig && !c.SnapshotBefore {
		return fmt.Errorf("rollback_config requires snapshot_before")
	}
	return nil
}

// Registry is a read-only mapping from error type to playbook
type Registry struct {
	playbooks map[string]Config
}

// NewRegistry builds a registry from the given table, validating every
// entry and every chain reference
func NewRegistry(table map[string]Config) (*Registry, error) {
	playbooks := make(map[string]Config, len(table))
	for errorType, cfg := range table {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("playbook %s: %w", errorType, err)
		}
		playbooks[errorType] = cfg
	}
	for errorType, cfg := range playbooks {
		if cfg.ChainedPlaybook != "" {
			if _, ok := playbooks[cfg.ChainedPlaybook]; !ok {
				return nil, fmt.Errorf("playbook %s chains to unknown error type %q", errorType, cfg.ChainedPlaybook)
			}
		}
	}
	return &Registry{playbooks: playbooks}, nil
}

// Default builds the registry from the builtin table
func Default() *Registry {
	r, err := NewRegistry(builtin())
	if err != nil {
		// the builtin table is validated by tests; a bad entry is a
		// programming fault
		panic(err)
	}
	return r
}

// LoadFile builds a registry from the builtin table overlaid with
// entries from a YAML file. An overlay entry is decoded on top of the
// builtin entry of the same error type (or on top of defaults for new
// error types), so fields the file omits keep their current values.
func LoadFile(path string, defaults Config) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playbook file: %w", err)
	}

	var overlay map[string]yaml.Node
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("failed to parse playbook file: %w", err)
	}

	table := builtin()
	for errorType, node := range overlay {
		base, ok := table[errorType]
		if !ok {
			base = defaults
		}
		if err := node.Decode(&base); err != nil {
			return nil, fmt.Errorf("playbook %s: %w", errorType, err)
		}
		table[errorType] = base
	}
	return NewRegistry(table)
}

// Get returns the playbook for an error type
func (r *Registry) Get(errorType string) (Config, bool) {
	cfg, ok := r.playbooks[errorType]
	return cfg, ok
}

// List returns all registered error types, sorted
func (r *Registry) List() []string {
	out := make([]string, 0, len(r.playbooks))
	for errorType := range r.playbooks {
		out = append(out, errorType)
	}
	sort.Strings(out)
	return out
}

// View is the operator-facing projection of one playbook
type View struct {
	ErrorType       string           `json:"error_type"`
	Platform        types.Platform   `json:"platform"`
	Action          types.ActionType `json:"action"`
	MaxRetries      int              `json:"max_retries"`
	FallbackAction  types.ActionType `json:"fallback_action,omitempty"`
	ChainedPlaybook string           `json:"chained_playbook,omitempty"`
	VerifyHealth    bool             `json:"verify_health"`
	Description     string           `json:"description"`
}

// PublicView returns the operator projection of the whole registry
func (r *Registry) PublicView() []View {
	views := make([]View, 0, len(r.playbooks))
	for _, errorType := range r.List() {
		cfg := r.playbooks[errorType]
		views = append(views, View{
			ErrorType:       errorType,
			Platform:        cfg.Platform,
			Action:          cfg.Action,
			MaxRetries:      cfg.MaxRetries,
			FallbackAction:  cfg.FallbackAction,
			ChainedPlaybook: cfg.ChainedPlaybook,
			VerifyHealth:    cfg.VerifyHealth,
			Description:     cfg.Description,
		})
	}
	return views
}
