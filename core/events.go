package core

import "time"

// EventType enumerates domain events published on the bus.
type EventType string

const (
	EventXPAwarded         EventType = "xp_awarded"
	EventLevelUp           EventType = "level_up"
	EventBadgeAwarded      EventType = "badge_awarded"
	EventCertificateIssued EventType = "certificate_issued"
	EventCourseCompleted   EventType = "course_completed"
	EventQuizSubmitted     EventType = "quiz_submitted"
)

// EventTypes lists every event the engine publishes.
var EventTypes = []EventType{
	EventXPAwarded,
	EventLevelUp,
	EventBadgeAwarded,
	EventCertificateIssued,
	EventCourseCompleted,
	EventQuizSubmitted,
}

// Event represents an immutable domain event.
type Event struct {
	Type     EventType      `json:"type"`
	Time     time.Time      `json:"time"`
	UserID   UserID         `json:"user_id"`
	CourseID CourseID       `json:"course_id,omitempty"`
	XPType   ExperienceType `json:"xp_type,omitempty"`
	Delta    int64          `json:"delta,omitempty"`
	Total    int64          `json:"total,omitempty"`
	Badge    BadgeID        `json:"badge,omitempty"`
	Level    int            `json:"level,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MetaTotalStale marks an xp_awarded event whose Total could not be recomputed.
const MetaTotalStale = "total_stale"

func NewXPAwarded(user UserID, typ ExperienceType, delta, total int64) Event {
	return Event{Type: EventXPAwarded, Time: time.Now().UTC(), UserID: user, XPType: typ, Delta: delta, Total: total}
}

// NewXPAwardedStale reports an award whose aggregate refresh failed. Total is unknown.
func NewXPAwardedStale(user UserID, typ ExperienceType, delta int64) Event {
	ev := NewXPAwarded(user, typ, delta, 0)
	ev.Metadata = map[string]any{MetaTotalStale: true}
	return ev
}

// TotalStale reports whether Total should be ignored.
func (e Event) TotalStale() bool {
	stale, _ := e.Metadata[MetaTotalStale].(bool)
	return stale
}

func NewLevelUp(user UserID, level int, total int64) Event {
	return Event{Type: EventLevelUp, Time: time.Now().UTC(), UserID: user, Level: level, Total: total}
}

func NewBadgeAwarded(user UserID, badge Badge, bonus int64) Event {
	return Event{
		Type:     EventBadgeAwarded,
		Time:     time.Now().UTC(),
		UserID:   user,
		Badge:    badge.ID,
		Delta:    bonus,
		Metadata: map[string]any{"slug": badge.Slug, "rarity": string(badge.Rarity)},
	}
}

func NewCertificateIssued(cert Certificate) Event {
	return Event{
		Type:     EventCertificateIssued,
		Time:     time.Now().UTC(),
		UserID:   cert.UserID,
		CourseID: cert.CourseID,
		Metadata: map[string]any{"certificate_number": cert.Number},
	}
}

func NewCourseCompleted(user UserID, course CourseID) Event {
	return Event{Type: EventCourseCompleted, Time: time.Now().UTC(), UserID: user, CourseID: course}
}

func NewQuizSubmitted(attempt QuizAttempt) Event {
	return Event{
		Type:     EventQuizSubmitted,
		Time:     time.Now().UTC(),
		UserID:   attempt.UserID,
		CourseID: attempt.CourseID,
		Metadata: map[string]any{"attempt_id": attempt.ID, "score": attempt.Score, "passed": attempt.Passed},
	}
}
