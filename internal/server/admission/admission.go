// Package admission bounds the number of chunk uploads in flight. Requests
// over the limit are rejected immediately rather than queued, so a flood of
// uploads degrades into fast failures instead of growing latency.
package admission

import (
	"golang.org/x/sync/semaphore"

	"github.com/dmitrijs2005/cipherdrive/internal/common"
)

// Controller hands out upload permits. The zero value is not usable; call New.
type Controller struct {
	sem *semaphore.Weighted
}

// New creates a controller with the given number of permits.
func New(slots int64) *Controller {
	return &Controller{sem: semaphore.NewWeighted(slots)}
}

// Acquire takes one permit without blocking. When none is free it returns
// ErrBusy and the caller should surface the rejection to the client.
func (c *Controller) Acquire() error {
	if !c.sem.TryAcquire(1) {
		return common.ErrBusy
	}
	return nil
}

// Release returns one permit. Must be called exactly once per successful Acquire.
func (c *Controller) Release() {
	c.sem.Release(1)
}
