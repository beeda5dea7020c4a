package models

import "time"

// CheckResult is the outcome of one reachability check against a
// descriptor's endpoint.
type CheckResult struct {
	ID           int64     `json:"id"`
	DescriptorID string    `json:"descriptor_id"`
	LatencyMS    *int64    `json:"latency_ms,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Strategy     string    `json:"strategy"`
	CheckedAt    time.Time `json:"checked_at"`
}

// StatusFromResult maps a check outcome to a descriptor status.
func StatusFromResult(success bool) Status {
	if success {
		return StatusAlive
	}
	return StatusDead
}
