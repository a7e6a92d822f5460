// Package reputation implements the per-peer reputation engine of
// spec.md §4.4: points, decay, cost-of-forgery, and JSON persistence.
// Its event-log-per-peer shape (one record per address, timestamped
// history) is grounded on the teacher's chanfitness/chanevent.go
// (per-channel event log with online/offline bucketing); its action/delta
// table is grounded on the teacher's rep.go (reputationDelta,
// endorsed/success fee deltas) generalized from HTLC-forwarding outcomes
// to relay-forwarding outcomes.
package reputation

import "time"

const (
	// MinPoints and MaxPoints bound a node's reputation points.
	MinPoints = 0.0
	MaxPoints = 200.0

	// BasePoints is the starting score for a newly observed peer.
	BasePoints = 100.0

	// decayRate is the per-day multiplicative decay applied to an idle
	// peer's points (spec.md §4.4: "multiply points by 0.99^days_inactive").
	decayRate = 0.99
)

// Action is an event that changes a peer's reputation points.
type Action int

const (
	SuccessfulTask Action = iota
	UptimeMilestone
	HighQualityService
	TaskFailure
	DroppedConnection
	MaliciousBehavior
	Custom
)

// actionDelta is the point delta table for each predefined action, the
// direct generalization of the teacher's rep.go endorsed/success delta
// table to relay forwarding outcomes.
var actionDelta = map[Action]float64{
	SuccessfulTask:      10,
	UptimeMilestone:     5,
	HighQualityService:  20,
	TaskFailure:         -15,
	DroppedConnection:   -25,
	MaliciousBehavior:   -50,
}

// String returns the human-readable action name, used in events and logs.
func (a Action) String() string {
	switch a {
	case SuccessfulTask:
		return "SuccessfulTask"
	case UptimeMilestone:
		return "UptimeMilestone"
	case HighQualityService:
		return "HighQualityService"
	case TaskFailure:
		return "TaskFailure"
	case DroppedConnection:
		return "DroppedConnection"
	case MaliciousBehavior:
		return "MaliciousBehavior"
	case Custom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// History tallies the lifetime counters behind a peer's reputation,
// consulted for cost-of-forgery and operator diagnostics. History is never
// zeroed: "history matters" (spec.md §3 Lifecycles).
type History struct {
	SuccessfulTasks int       `json:"successful_tasks"`
	FailedTasks     int       `json:"failed_tasks"`
	DecayEvents     int       `json:"decay_events"`
	LastDecayAt     time.Time `json:"last_decay_at,omitempty"`
}

// NodeReputation is the per-peer record of spec.md §3.
type NodeReputation struct {
	Address    string    `json:"address"`
	Points     float64   `json:"points"`
	Stake      uint64    `json:"stake"`
	LastActive time.Time `json:"last_active"`
	CreatedAt  time.Time `json:"created_at"`
	History    History   `json:"history"`
}

// Normalized returns points/200, in [0,1], the form the lottery consumes.
func (n NodeReputation) Normalized() float64 {
	return n.Points / MaxPoints
}

// clampPoints keeps points within [MinPoints, MaxPoints].
func clampPoints(p float64) float64 {
	if p < MinPoints {
		return MinPoints
	}
	if p > MaxPoints {
		return MaxPoints
	}
	return p
}
