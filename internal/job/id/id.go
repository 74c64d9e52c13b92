// Package id provides unique identifier generation for jobs.
package id

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Generate creates a new unique job ID.
// Format: job-<uuid>
// Example: job-7f9c24e8-3b2a-4f6e-9d1c-8a5b0e2f4c6d
func Generate() string {
	u, err := uuid.NewRandom()
	if err != nil {
		// Fallback to timestamp only if the random source fails
		return fmt.Sprintf("job-%d", time.Now().UnixNano())
	}
	return "job-" + u.String()
}
