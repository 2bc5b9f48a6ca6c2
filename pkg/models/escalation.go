package models

import "time"

// EscalationStatus represents the handling state of an escalation.
type EscalationStatus string

const (
	EscalationStatusPending    EscalationStatus = "pending"
	EscalationStatusInProgress EscalationStatus = "in_progress"
	EscalationStatusResolved   EscalationStatus = "resolved"
	EscalationStatusClosed     EscalationStatus = "closed"
)

// EscalationPriority is the severity classification driving the
// response-time deadline.
type EscalationPriority string

const (
	PriorityUrgent EscalationPriority = "urgent"
	PriorityHigh   EscalationPriority = "high"
	PriorityMedium EscalationPriority = "medium"
	PriorityLow    EscalationPriority = "low"
)

// ResolutionType classifies how an escalation was remediated.
type ResolutionType string

const (
	ResolutionApology            ResolutionType = "apology"
	ResolutionDiscount           ResolutionType = "discount"
	ResolutionServiceImprovement ResolutionType = "service_improvement"
)

// EscalationNote is an append-only annotation on an escalation.
type EscalationNote struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// EscalationResolution records the remediation attached on resolve.
type EscalationResolution struct {
	Type    ResolutionType `json:"type" validate:"required,oneof=apology discount service_improvement"`
	Content string         `json:"content"`
}

// Escalation is a tracked remediation case opened for a negative rating.
type Escalation struct {
	ID         string                `json:"id"`
	ReviewID   string                `json:"review_id"`
	CustomerID string                `json:"customer_id"`
	Rating     int                   `json:"rating"`
	Content    string                `json:"content"`
	Status     EscalationStatus      `json:"status"`
	Priority   EscalationPriority    `json:"priority"`
	AssigneeID string                `json:"assignee_id,omitempty"`
	Deadline   *time.Time            `json:"deadline,omitempty"`
	Notes      []*EscalationNote     `json:"notes"`
	Resolution *EscalationResolution `json:"resolution,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
	ResolvedAt *time.Time            `json:"resolved_at,omitempty"`
}

// PriorityForRating derives the escalation priority from a 1-5 rating.
func PriorityForRating(rating int) EscalationPriority {
	switch rating {
	case 1:
		return PriorityUrgent
	case 2:
		return PriorityHigh
	case 3:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// DeadlineForPriority derives the response deadline from a priority,
// anchored at the creation instant.
func DeadlineForPriority(priority EscalationPriority, now time.Time) time.Time {
	switch priority {
	case PriorityUrgent:
		return now.Add(4 * time.Hour)
	case PriorityHigh:
		return now.Add(12 * time.Hour)
	case PriorityMedium:
		return now.Add(24 * time.Hour)
	default:
		return now.Add(48 * time.Hour)
	}
}

// SeverityRank orders priorities from most to least severe. Lower is
// more severe.
func SeverityRank(priority EscalationPriority) int {
	switch priority {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// ApplyStatus is the single transition point for status changes. The first
// transition into resolved stamps ResolvedAt; later transitions never
// change or clear it.
func (e *Escalation) ApplyStatus(status EscalationStatus, now time.Time) {
	e.Status = status
	e.UpdatedAt = now

	if status == EscalationStatusResolved && e.ResolvedAt == nil {
		resolvedAt := now
		e.ResolvedAt = &resolvedAt
	}
}

// Clone returns a deep copy safe to hand out as a read snapshot.
func (e *Escalation) Clone() *Escalation {
	clone := *e
	clone.Notes = make([]*EscalationNote, len(e.Notes))

	for i, note := range e.Notes {
		noteCopy := *note
		clone.Notes[i] = &noteCopy
	}

	if e.Deadline != nil {
		deadline := *e.Deadline
		clone.Deadline = &deadline
	}

	if e.ResolvedAt != nil {
		resolvedAt := *e.ResolvedAt
		clone.ResolvedAt = &resolvedAt
	}

	if e.Resolution != nil {
		resolution := *e.Resolution
		clone.Resolution = &resolution
	}

	return &clone
}
