package db

import "context"

// Probe is the database health probe mounted on GET /health.
type Probe struct {
	pool *Pool
}

// NewProbe creates a health probe over the connection pool.
func NewProbe(pool *Pool) *Probe {
	return &Probe{pool: pool}
}

// Name identifies the probe in health responses.
func (p *Probe) Name() string { return "database" }

// Check pings the database, respecting the context deadline.
func (p *Probe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
