package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"saaskit/internal/types"
)

// Manager is an injectable hook registry. Its lifetime is owned by the
// composition root; tests construct a fresh instance per case. All methods
// are safe for concurrent use, but the manager provides no concurrency
// control around the hooks themselves -- callers serialize per-entity
// lifecycle events as their operation model requires.
type Manager struct {
	mu      sync.RWMutex
	chains  map[string][]registration
	stats   map[string]*Stats
	enabled bool
	clock   types.Clock
	logger  *slog.Logger
}

// NewManager creates an enabled, empty hook manager.
func NewManager(clock types.Clock, logger *slog.Logger) *Manager {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		chains:  make(map[string][]registration),
		stats:   make(map[string]*Stats),
		enabled: true,
		clock:   clock,
		logger:  logger,
	}
}

func chainKey(entityName string, hookType HookType) string {
	return entityName + ":" + string(hookType)
}

// Register appends a hook to the (entityName, hookType) chain and re-sorts
// the chain by priority descending. The sort is stable, so hooks of equal
// priority keep registration order. Hook types listed in forcedPriorities
// are stored with their forced priority regardless of the caller's.
func (m *Manager) Register(entityName string, hookType HookType, fn HookFunc, priority Priority, name string) {
	if forced, ok := forcedPriorities[hookType]; ok {
		priority = forced
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := chainKey(entityName, hookType)
	// Derive the auto-name under the write lock so concurrent unnamed
	// registrations on the same chain cannot observe the same count.
	if name == "" {
		name = fmt.Sprintf("%s.%s#%d", entityName, hookType, len(m.chains[key]))
	}
	m.chains[key] = append(m.chains[key], registration{
		fn:       fn,
		priority: priority,
		name:     name,
	})
	sort.SliceStable(m.chains[key], func(i, j int) bool {
		return m.chains[key][i].priority > m.chains[key][j].priority
	})
}

// Execute runs the hook chain for (entityName, hookType).
//
// When the manager is disabled or the chain is empty, it returns
// {Continue: true} immediately. Otherwise hooks run strictly in priority
// order; the first hook returning Continue=false stops the chain and its
// result is returned as-is. Data returned by a hook replaces hctx.Data for
// subsequent hooks and for the final result.
//
// Panic policy differs by phase: a panic in a before-phase hook is treated
// as an explicit block and aborts the chain; a panic in an after-phase hook
// is logged and the chain continues, because after-hooks are best-effort
// side effects that must not abort an already-completed operation.
func (m *Manager) Execute(ctx context.Context, entityName string, hookType HookType, hctx *HookContext) HookResult {
	m.mu.RLock()
	enabled := m.enabled
	chain := m.chains[chainKey(entityName, hookType)]
	// Copy so concurrent registration cannot mutate the running chain.
	hooks := make([]registration, len(chain))
	copy(hooks, chain)
	m.mu.RUnlock()

	if !enabled || len(hooks) == 0 {
		return HookResult{Continue: true}
	}

	start := m.clock.Now()
	defer func() {
		m.recordExecution(entityName, hookType, m.clock.Now().Sub(start))
	}()

	if hctx == nil {
		hctx = &HookContext{EntityName: entityName}
	}

	result := HookResult{Continue: true, Data: hctx.Data}
	for _, h := range hooks {
		r, panicked := m.invoke(ctx, h, hookType, hctx)
		if panicked && hookType.IsAfter() {
			// Best-effort phase: skip the broken hook, keep going.
			continue
		}
		if r.Data != nil {
			hctx.Data = r.Data
			result.Data = r.Data
		}
		if !r.Continue {
			r.Data = result.Data
			if r.Data == nil {
				r.Data = hctx.Data
			}
			return r
		}
	}
	return result
}

// invoke runs a single hook, converting a panic into a blocking result.
func (m *Manager) invoke(ctx context.Context, h registration, hookType HookType, hctx *HookContext) (result HookResult, panicked bool) {
	defer func() {
		if rvr := recover(); rvr != nil {
			panicked = true
			m.logger.Error("hook panicked",
				slog.String("hook", h.name),
				slog.String("hook_type", string(hookType)),
				slog.String("panic", fmt.Sprintf("%v", rvr)),
			)
			result = HookResult{Continue: false, Error: fmt.Sprintf("hook %s panicked: %v", h.name, rvr)}
		}
	}()
	return h.fn(ctx, hctx), false
}

// ExecuteBeforeHooks runs the guarding chain for an operation
// (e.g. "create" resolves to beforeCreate).
func (m *Manager) ExecuteBeforeHooks(ctx context.Context, entityName, operation string, hctx *HookContext) HookResult {
	return m.Execute(ctx, entityName, BeforeHookType(operation), hctx)
}

// ExecuteAfterHooks runs the side-effect chain for an operation
// (e.g. "create" resolves to afterCreate).
func (m *Manager) ExecuteAfterHooks(ctx context.Context, entityName, operation string, hctx *HookContext) HookResult {
	return m.Execute(ctx, entityName, AfterHookType(operation), hctx)
}

// ExecutePlanLimitHooks runs the onPlanLimitReached chain.
func (m *Manager) ExecutePlanLimitHooks(ctx context.Context, entityName string, hctx *HookContext) HookResult {
	return m.Execute(ctx, entityName, HookOnPlanLimitReached, hctx)
}

// ExecuteFlagHooks runs the onFlagChanged chain.
func (m *Manager) ExecuteFlagHooks(ctx context.Context, entityName string, hctx *HookContext) HookResult {
	return m.Execute(ctx, entityName, HookOnFlagChanged, hctx)
}

// ExecuteChildHooks runs a two-phase chain for child entities. Phase one
// executes the hooks registered under the bare parent name (the parent-level
// guard, e.g. "no row may be created under a locked parent"). Only when that
// phase continues does phase two run the hooks registered under the
// composite "parent.child" key. A parent-level block is returned verbatim
// and the child phase is skipped entirely.
func (m *Manager) ExecuteChildHooks(ctx context.Context, parentName, childName string, hookType HookType, hctx *HookContext) HookResult {
	parentResult := m.Execute(ctx, parentName, hookType, hctx)
	if !parentResult.Continue {
		return parentResult
	}
	if parentResult.Data != nil && hctx != nil {
		hctx.Data = parentResult.Data
	}
	return m.Execute(ctx, parentName+"."+childName, hookType, hctx)
}

// RemoveEntityHooks removes every chain registered for the entity,
// including composite "entity.child" chains.
func (m *Manager) RemoveEntityHooks(entityName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.chains {
		if keyEntity(key) == entityName {
			delete(m.chains, key)
		}
	}
}

// RemoveHook removes one named hook from a chain, or the whole chain when
// name is empty.
func (m *Manager) RemoveHook(entityName string, hookType HookType, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := chainKey(entityName, hookType)
	if name == "" {
		delete(m.chains, key)
		return
	}
	chain := m.chains[key]
	kept := chain[:0]
	for _, h := range chain {
		if h.name != name {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 {
		delete(m.chains, key)
		return
	}
	m.chains[key] = kept
}

// GetEntityHooks returns the registered hooks for a chain in execution order.
func (m *Manager) GetEntityHooks(entityName string, hookType HookType) []RegisteredHook {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.chains[chainKey(entityName, hookType)]
	out := make([]RegisteredHook, len(chain))
	for i, h := range chain {
		out[i] = RegisteredHook{Name: h.name, Priority: h.priority}
	}
	return out
}

// GetHookCount returns the number of hooks registered for a chain.
func (m *Manager) GetHookCount(entityName string, hookType HookType) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chains[chainKey(entityName, hookType)])
}

// GetStats returns a copy of the execution statistics for a chain.
func (m *Manager) GetStats(entityName string, hookType HookType) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.stats[chainKey(entityName, hookType)]; ok {
		return *s
	}
	return Stats{}
}

// AllStats returns a snapshot of statistics for every executed chain, keyed
// "entity:hookType". Consumed by the CloudWatch publisher.
func (m *Manager) AllStats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.stats))
	for k, s := range m.stats {
		out[k] = *s
	}
	return out
}

// SetEnabled toggles hook execution globally. While disabled, Execute
// returns {Continue: true} without running anything.
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

// Clear removes all registrations and statistics.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains = make(map[string][]registration)
	m.stats = make(map[string]*Stats)
}

func (m *Manager) recordExecution(entityName string, hookType HookType, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := chainKey(entityName, hookType)
	s, ok := m.stats[key]
	if !ok {
		s = &Stats{}
		m.stats[key] = s
	}
	s.ExecutionCount++
	// Incremental mean: avg += (sample - avg) / n
	s.AverageDuration += (d - s.AverageDuration) / time.Duration(s.ExecutionCount)
	s.LastExecuted = m.clock.Now()
}

// keyEntity extracts the entity portion of a chain key. Composite child
// chains ("parent.child:hookType") report the parent entity.
func keyEntity(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' || key[i] == '.' {
			return key[:i]
		}
	}
	return key
}
