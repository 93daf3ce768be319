// Package registry holds the static entity configuration records and wires
// their declared hooks into a hook manager at application start.
package registry

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"saaskit/internal/hooks"
	"saaskit/internal/types"
)

// HookDeclaration is one hook embedded in an entity configuration.
type HookDeclaration struct {
	Name     string         `validate:"required"`
	Priority hooks.Priority `validate:"min=0,max=2"`
	Fn       hooks.HookFunc `validate:"required"`
}

// EntityConfig is the validated, tagged configuration record for one entity.
// Configurations are validated at registration time rather than trusted at
// execution time.
type EntityConfig struct {
	Name   string `validate:"required,alphanum,lowercase"`
	Plural string `validate:"required"`
	// Parent is set for child entities ("tasks" under "projects"); hooks for
	// such entities are registered under the composite "parent.name" key.
	Parent string `validate:"omitempty,alphanum,lowercase"`
	Hooks  map[hooks.HookType][]HookDeclaration `validate:"dive,dive"`
}

// key returns the hook registration key for the entity.
func (c *EntityConfig) key() string {
	if c.Parent != "" {
		return c.Parent + "." + c.Name
	}
	return c.Name
}

// EntityRegistry validates and indexes entity configurations.
type EntityRegistry struct {
	validate *validator.Validate
	entities map[string]*EntityConfig
}

// NewEntityRegistry creates an empty registry.
func NewEntityRegistry() *EntityRegistry {
	return &EntityRegistry{
		validate: validator.New(),
		entities: make(map[string]*EntityConfig),
	}
}

// Register validates a configuration and stores it. Duplicate names are
// rejected so a misconfigured composition root fails fast.
func (r *EntityRegistry) Register(cfg *EntityConfig) error {
	if err := r.validate.Struct(cfg); err != nil {
		return types.NewAppError(types.ErrCodeValidationEntityConfig,
			fmt.Sprintf("invalid entity config %q", cfg.Name), err)
	}
	key := cfg.key()
	if _, exists := r.entities[key]; exists {
		return types.NewAppError(types.ErrCodeValidationEntityConfig,
			fmt.Sprintf("entity %q already registered", key), nil)
	}
	r.entities[key] = cfg
	return nil
}

// Get returns a registered configuration by key ("name" or "parent.name").
func (r *EntityRegistry) Get(key string) (*EntityConfig, bool) {
	cfg, ok := r.entities[key]
	return cfg, ok
}

// RegisterEntityHooks registers every hook declared by a single entity
// configuration into the manager, with its declared priority. Hook types
// with a forced priority are elevated inside the manager.
func RegisterEntityHooks(m *hooks.Manager, cfg *EntityConfig) {
	for hookType, decls := range cfg.Hooks {
		for _, d := range decls {
			m.Register(cfg.key(), hookType, d.Fn, d.Priority, d.Name)
		}
	}
}

// InstallAll registers the hooks of every entity in the registry.
// Called once from the composition root.
func (r *EntityRegistry) InstallAll(m *hooks.Manager) {
	for _, cfg := range r.entities {
		RegisterEntityHooks(m, cfg)
	}
}
