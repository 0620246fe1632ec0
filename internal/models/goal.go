package models

import "time"

type EvidenceType string

const (
	EvidencePhoto    EvidenceType = "photo"
	EvidenceDocument EvidenceType = "document"
	EvidenceReceipt  EvidenceType = "receipt"
	EvidenceText     EvidenceType = "text"
)

type Goal struct {
	ID               int32        `json:"id"`
	Title            string       `json:"title"`
	Description      string       `json:"description"`
	Category         string       `json:"category"`
	Reward           int32        `json:"reward"`
	Active           bool         `json:"active"`
	RequiresApproval bool         `json:"requires_approval"`
	MaxCompletions   *int32       `json:"max_completions,omitempty"`
	StartsAt         time.Time    `json:"starts_at"`
	EndsAt           *time.Time   `json:"ends_at,omitempty"`
	EvidenceRequired bool         `json:"evidence_required"`
	EvidenceType     EvidenceType `json:"evidence_type"`
	EvidenceHint     string       `json:"evidence_hint,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`

	// Read-side markers, not persisted on the goal row.
	Completed      bool `json:"completed,omitempty"`
	PendingRequest bool `json:"pending_request,omitempty"`
}

// AvailableAt reports whether the goal accepts completions at t. The
// completion cap is checked separately against the completion count.
func (g *Goal) AvailableAt(t time.Time) bool {
	if !g.Active {
		return false
	}
	if g.StartsAt.After(t) {
		return false
	}
	if g.EndsAt != nil && g.EndsAt.Before(t) {
		return false
	}
	return true
}

// GoalRequest is a student's in-flight claim on an approval-gated goal.
// GoalID becomes nil if the goal is deleted after approval; history is
// preserved, never cascade-deleted.
type GoalRequest struct {
	ID           int32      `json:"id"`
	GoalID       *int32     `json:"goal_id,omitempty"`
	StudentID    int32      `json:"student_id"`
	Status       Status     `json:"status"`
	EvidenceText string     `json:"evidence_text,omitempty"`
	EvidenceFile string     `json:"evidence_file,omitempty"`
	ReviewerID   *int32     `json:"reviewer_id,omitempty"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
	ReviewNote   string     `json:"review_note,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
