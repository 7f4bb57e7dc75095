package health

import (
	"context"
	"time"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result
}

// CheckAll runs the checkers in order and stops at the first unhealthy one.
// It returns true only when every checker reported healthy.
func CheckAll(ctx context.Context, checkers ...Checker) (bool, []Result) {
	results := make([]Result, 0, len(checkers))
	for _, c := range checkers {
		r := c.Check(ctx)
		results = append(results, r)
		if !r.Healthy {
			return false, results
		}
	}
	return len(checkers) > 0, results
}
