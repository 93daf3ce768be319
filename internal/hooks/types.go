// Package hooks implements the entity lifecycle hook pipeline: a
// priority-ordered registry of named callbacks per (entity, hook type) pair,
// executed sequentially with short-circuit-on-block semantics.
package hooks

import (
	"context"
	"time"

	"saaskit/internal/types"
)

// HookType names a lifecycle event on an entity.
type HookType string

const (
	HookBeforeCreate HookType = "beforeCreate"
	HookAfterCreate  HookType = "afterCreate"
	HookBeforeUpdate HookType = "beforeUpdate"
	HookAfterUpdate  HookType = "afterUpdate"
	HookBeforeDelete HookType = "beforeDelete"
	HookAfterDelete  HookType = "afterDelete"

	// HookOnPlanLimitReached fires when a billing quota check blocks a
	// create. Registrations of this type are always stored at PriorityHigh.
	HookOnPlanLimitReached HookType = "onPlanLimitReached"

	// HookOnFlagChanged fires when a feature flag toggles for an entity.
	HookOnFlagChanged HookType = "onFlagChanged"
)

// IsBefore reports whether the hook type runs in the guarding phase, where a
// panicking hook blocks the chain.
func (t HookType) IsBefore() bool {
	switch t {
	case HookBeforeCreate, HookBeforeUpdate, HookBeforeDelete:
		return true
	}
	return false
}

// IsAfter reports whether the hook type is a best-effort side effect phase,
// where a panicking hook is logged and skipped.
func (t HookType) IsAfter() bool {
	switch t {
	case HookAfterCreate, HookAfterUpdate, HookAfterDelete:
		return true
	}
	return false
}

// BeforeHookType maps an operation name to its guarding hook type.
func BeforeHookType(operation string) HookType {
	switch operation {
	case "create":
		return HookBeforeCreate
	case "update":
		return HookBeforeUpdate
	case "delete":
		return HookBeforeDelete
	}
	return HookType("before" + titleCase(operation))
}

// AfterHookType maps an operation name to its side-effect hook type.
func AfterHookType(operation string) HookType {
	switch operation {
	case "create":
		return HookAfterCreate
	case "update":
		return HookAfterUpdate
	case "delete":
		return HookAfterDelete
	}
	return HookType("after" + titleCase(operation))
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}

// Priority orders hook execution within a (entity, hook type) chain.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// String returns the lowercase priority name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// forcedPriorities maps hook types whose registrations are always elevated,
// regardless of the caller-specified priority. Applied at registration time.
var forcedPriorities = map[HookType]Priority{
	HookOnPlanLimitReached: PriorityHigh,
}

// HookContext is the input to a hook chain. Data carries the accumulated
// result threaded through the chain; each hook that returns Data replaces it
// for subsequent hooks.
type HookContext struct {
	EntityName string
	Operation  string
	Data       any
	Actor      *types.Actor
	Child      *HookContext
}

// HookResult is the outcome of a single hook or a whole chain.
// Continue=false stops the chain; Error carries the blocking reason.
type HookResult struct {
	Continue bool
	Data     any
	Error    string
}

// HookFunc is a registered callback. It must not retain hctx past its return.
type HookFunc func(ctx context.Context, hctx *HookContext) HookResult

// registration is one entry in a hook chain.
type registration struct {
	fn       HookFunc
	priority Priority
	name     string
}

// RegisteredHook is the introspection view of a registration.
type RegisteredHook struct {
	Name     string
	Priority Priority
}

// Stats accumulates execution statistics per (entity, hook type) pair.
// AverageDuration is maintained as an incremental mean.
type Stats struct {
	ExecutionCount  int64
	AverageDuration time.Duration
	LastExecuted    time.Time
}
