package types

import "time"

// PayloadEntityIDKey is the payload key that carries the logical entity
// identity of a one-shot action. Its presence switches scheduling onto the
// deduplication path.
const PayloadEntityIDKey = "entityId"

// ScheduledAction is a row in the scheduled_actions table: a unit of deferred
// or recurring work consumed by the action worker.
type ScheduledAction struct {
	ID                string         `json:"id"`
	ActionType        string         `json:"action_type"`
	Status            ActionStatus   `json:"status"`
	Payload           Payload        `json:"payload"`
	TeamID            *string        `json:"team_id,omitempty"`
	ScheduledAt       time.Time      `json:"scheduled_at"`
	RecurringInterval *string        `json:"recurring_interval,omitempty"`
	RecurrenceType    RecurrenceType `json:"recurrence_type,omitempty"`
	LockGroup         *string        `json:"lock_group,omitempty"`
	MaxRetries        int            `json:"max_retries"`
	RetryCount        int            `json:"retry_count"`
	ErrorMessage      *string        `json:"error_message,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// IsRecurring reports whether the action reschedules itself after each run.
func (a *ScheduledAction) IsRecurring() bool {
	return a.RecurringInterval != nil && *a.RecurringInterval != ""
}

// EntityID returns the logical entity identity from the payload, if any.
func (a *ScheduledAction) EntityID() (string, bool) {
	return a.Payload.EntityID()
}

// Team is the tenant boundary. Every owned resource carries a team_id.
type Team struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Slug             string     `json:"slug"`
	PlanSlug         string     `json:"plan_slug"`
	StripeCustomerID string     `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

// Subscription is the locally synchronized billing state for a team.
type Subscription struct {
	ID                   string             `json:"id"`
	TeamID               string             `json:"team_id"`
	PlanSlug             string             `json:"plan_slug"`
	Status               SubscriptionStatus `json:"status"`
	StripeSubscriptionID string             `json:"-"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// QuotaInfo is the result of checking one plan limit for a team.
// Max of -1 means unlimited; Remaining is meaningless in that case and is
// reported as -1 as well.
type QuotaInfo struct {
	LimitSlug   string      `json:"limit_slug"`
	Current     int         `json:"current"`
	Max         int         `json:"max"`
	Remaining   int         `json:"remaining"`
	Allowed     bool        `json:"allowed"`
	ResetPeriod ResetPeriod `json:"reset_period"`
}

// Actor is the resolved principal of an authenticated request.
type Actor struct {
	ID     string    `json:"id"`
	Type   ActorType `json:"type"`
	TeamID string    `json:"team_id"`
}
