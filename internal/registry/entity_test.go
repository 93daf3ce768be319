package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saaskit/internal/hooks"
	"saaskit/internal/types"
)

func noopHook(ctx context.Context, hctx *hooks.HookContext) hooks.HookResult {
	return hooks.HookResult{Continue: true}
}

func validConfig() *EntityConfig {
	return &EntityConfig{
		Name:   "project",
		Plural: "projects",
		Hooks: map[hooks.HookType][]HookDeclaration{
			hooks.HookBeforeCreate: {
				{Name: "quota-guard", Priority: hooks.PriorityHigh, Fn: noopHook},
			},
		},
	}
}

func TestEntityRegistry_Register(t *testing.T) {
	r := NewEntityRegistry()

	require.NoError(t, r.Register(validConfig()))

	cfg, ok := r.Get("project")
	require.True(t, ok)
	assert.Equal(t, "projects", cfg.Plural)
}

func TestEntityRegistry_Register_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*EntityConfig)
	}{
		{"empty name", func(c *EntityConfig) { c.Name = "" }},
		{"uppercase name", func(c *EntityConfig) { c.Name = "Project" }},
		{"missing plural", func(c *EntityConfig) { c.Plural = "" }},
		{"unnamed hook", func(c *EntityConfig) {
			c.Hooks[hooks.HookBeforeCreate][0].Name = ""
		}},
		{"nil hook fn", func(c *EntityConfig) {
			c.Hooks[hooks.HookBeforeCreate][0].Fn = nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := NewEntityRegistry().Register(cfg)

			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, types.ErrCodeValidationEntityConfig, appErr.Code)
		})
	}
}

func TestEntityRegistry_Register_RejectsDuplicate(t *testing.T) {
	r := NewEntityRegistry()
	require.NoError(t, r.Register(validConfig()))

	err := r.Register(validConfig())

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationEntityConfig, appErr.Code)
}

func TestEntityRegistry_ChildEntityCompositeKey(t *testing.T) {
	r := NewEntityRegistry()
	require.NoError(t, r.Register(validConfig()))
	require.NoError(t, r.Register(&EntityConfig{
		Name:   "task",
		Plural: "tasks",
		Parent: "project",
		Hooks: map[hooks.HookType][]HookDeclaration{
			hooks.HookBeforeDelete: {
				{Name: "task-guard", Priority: hooks.PriorityNormal, Fn: noopHook},
			},
		},
	}))

	_, ok := r.Get("project.task")
	assert.True(t, ok)
	_, ok = r.Get("task")
	assert.False(t, ok, "child entities are only addressable under the composite key")
}

func TestEntityRegistry_InstallAll(t *testing.T) {
	r := NewEntityRegistry()
	require.NoError(t, r.Register(validConfig()))
	require.NoError(t, r.Register(&EntityConfig{
		Name:   "task",
		Plural: "tasks",
		Parent: "project",
		Hooks: map[hooks.HookType][]HookDeclaration{
			hooks.HookBeforeDelete: {
				{Name: "task-guard", Priority: hooks.PriorityNormal, Fn: noopHook},
			},
		},
	}))

	m := hooks.NewManager(types.RealClock{}, nil)
	r.InstallAll(m)

	assert.Equal(t, 1, m.GetHookCount("project", hooks.HookBeforeCreate))
	assert.Equal(t, 1, m.GetHookCount("project.task", hooks.HookBeforeDelete))

	// The installed hooks run: a child execution walks the parent chain first.
	result := m.ExecuteChildHooks(context.Background(), "project", "task", hooks.HookBeforeDelete, &hooks.HookContext{})
	assert.True(t, result.Continue)
}

func TestRegisterEntityHooks_PreservesDeclaredPriority(t *testing.T) {
	m := hooks.NewManager(types.RealClock{}, nil)

	RegisterEntityHooks(m, validConfig())

	registered := m.GetEntityHooks("project", hooks.HookBeforeCreate)
	require.Len(t, registered, 1)
	assert.Equal(t, "quota-guard", registered[0].Name)
	assert.Equal(t, hooks.PriorityHigh, registered[0].Priority)
}
