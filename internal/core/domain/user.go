package domain

import "time"

// ConnectionPhase is the relationship between a viewer and a subject user,
// as seen from the viewer's side.
type ConnectionPhase string

const (
	PhaseNone      ConnectionPhase = "none"
	PhasePending   ConnectionPhase = "pending"
	PhaseReceived  ConnectionPhase = "received"
	PhaseConnected ConnectionPhase = "connected"
	PhaseRejected  ConnectionPhase = "rejected"
	PhaseWithdraw  ConnectionPhase = "withdraw"
	PhaseUnconnect ConnectionPhase = "unconnect"
)

// IsValid checks if the phase is a known connection phase
func (p ConnectionPhase) IsValid() bool {
	switch p {
	case PhaseNone, PhasePending, PhaseReceived, PhaseConnected,
		PhaseRejected, PhaseWithdraw, PhaseUnconnect:
		return true
	default:
		return false
	}
}

// Relationship carries the current phase and when it was entered.
// ChangedAt gates re-requests out of rejected, withdraw and unconnect.
type Relationship struct {
	Phase     ConnectionPhase `json:"phase"`
	ChangedAt time.Time       `json:"changedAt"`
}

// NoRelationship is the initial relationship between two users.
func NoRelationship() Relationship {
	return Relationship{Phase: PhaseNone}
}

// UserProjection is the screen-local copy of a user.
type UserProjection struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Profession string       `json:"profession"`
	Speciality string       `json:"speciality"`
	IsFollowed bool         `json:"isFollowed"`
	Connection Relationship `json:"connection"`
}
