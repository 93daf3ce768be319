package types

// ActionStatus is the lifecycle state of a scheduled action row.
type ActionStatus string

const (
	// ActionPending means the action is waiting for its scheduled_at time.
	ActionPending ActionStatus = "pending"
	// ActionRunning means a worker has claimed the action and is executing it.
	ActionRunning ActionStatus = "running"
	// ActionCompleted means the action finished successfully.
	ActionCompleted ActionStatus = "completed"
	// ActionFailed means the action exhausted its retries or was cancelled.
	ActionFailed ActionStatus = "failed"
)

// RecurrenceType controls how the next run of a recurring action is anchored.
type RecurrenceType string

const (
	// RecurrenceFixed anchors the next run to the previous scheduled time,
	// keeping a stable cadence regardless of execution duration.
	RecurrenceFixed RecurrenceType = "fixed"
	// RecurrenceRolling anchors the next run to the completion time, so the
	// interval is measured between executions.
	RecurrenceRolling RecurrenceType = "rolling"
)

// SubscriptionStatus mirrors the subset of Stripe subscription states the
// platform tracks locally.
type SubscriptionStatus string

const (
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusTrialing SubscriptionStatus = "trialing"
	SubStatusPastDue  SubscriptionStatus = "past_due"
	SubStatusCanceled SubscriptionStatus = "canceled"
)

// ResetPeriod describes when a usage counter resets.
type ResetPeriod string

const (
	ResetNever   ResetPeriod = "never"
	ResetDaily   ResetPeriod = "daily"
	ResetMonthly ResetPeriod = "monthly"
)

// ActorType identifies the kind of principal behind an API request.
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeAPIKey ActorType = "api_key"
	ActorTypeSystem ActorType = "system"
)
