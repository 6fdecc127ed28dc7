package engine

import (
	"context"
	"time"

	"learnkit/core"
)

// LedgerStore persists the append-only experience log.
type LedgerStore interface {
	AppendExperience(ctx context.Context, ev core.ExperienceEvent) error
	SumExperience(ctx context.Context, user core.UserID) (int64, error)
	ListExperience(ctx context.Context, user core.UserID) ([]core.ExperienceEvent, error)
}

// StatsStore persists the aggregate row. GetStats returns core.ErrNotFound when absent.
type StatsStore interface {
	GetStats(ctx context.Context, user core.UserID) (core.StatsAggregate, error)
	UpsertStats(ctx context.Context, stats core.StatsAggregate) error
	ListStatsUsers(ctx context.Context) ([]core.UserID, error)
}

// BadgeStore persists ownership. InsertBadgeOwnership returns core.ErrAlreadyExists
// when the (user, badge) pair is taken.
type BadgeStore interface {
	InsertBadgeOwnership(ctx context.Context, o core.BadgeOwnership) error
	ListBadgeOwnership(ctx context.Context, user core.UserID) ([]core.BadgeOwnership, error)
	CountBadges(ctx context.Context, user core.UserID) (int, error)
}

// CertificateStore persists certificates. InsertCertificate returns core.ErrAlreadyExists
// when either the (user, course) pair or the number is taken.
type CertificateStore interface {
	GetCertificate(ctx context.Context, user core.UserID, course core.CourseID) (core.Certificate, error)
	InsertCertificate(ctx context.Context, cert core.Certificate) error
	ListCertificates(ctx context.Context, user core.UserID) ([]core.Certificate, error)
	CountCertificates(ctx context.Context, user core.UserID) (int64, error)
}

// AttemptStore persists quiz attempts.
type AttemptStore interface {
	InsertAttempt(ctx context.Context, a core.QuizAttempt) error
	CountPassedAttempts(ctx context.Context, user core.UserID) (int64, error)
}

// EnrollmentStore reads and completes course enrollments.
type EnrollmentStore interface {
	// CompleteEnrollment sets progress to 100% and keeps an existing completion time.
	CompleteEnrollment(ctx context.Context, user core.UserID, course core.CourseID, at time.Time) error
	CountCompletedCourses(ctx context.Context, user core.UserID) (int64, error)
}

// LessonStore records lesson completions. InsertLessonCompletion returns
// core.ErrAlreadyExists for a lesson the user already finished.
type LessonStore interface {
	InsertLessonCompletion(ctx context.Context, lc core.LessonCompletion) error
	CountCompletedLessons(ctx context.Context, user core.UserID) (int64, error)
}

// QuestionBank returns ordered questions for a module; an empty slice means no bank.
type QuestionBank interface {
	Questions(ctx context.Context, moduleID string) ([]core.Question, error)
}

// CourseDirectory resolves the module whose quiz graduates a course.
// It returns core.ErrNotFound when the course has none.
type CourseDirectory interface {
	GraduationModule(ctx context.Context, course core.CourseID) (string, error)
}

// UserDirectory reads display name and email for notification payloads.
type UserDirectory interface {
	LookupUser(ctx context.Context, user core.UserID) (core.UserProfile, error)
}

// CatalogSource supplies the badge catalog, loaded once per evaluation.
type CatalogSource interface {
	Catalog(ctx context.Context) (core.Catalog, error)
}

// SettingsSource supplies level rules. ok is false when unset and defaults apply.
type SettingsSource interface {
	LevelRules(ctx context.Context) (rules core.LevelRules, ok bool, err error)
}

// Broadcaster is a fire-and-forget notification channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev core.Event) error
}

// Mailer sends outbound email.
type Mailer interface {
	Send(ctx context.Context, msg core.Email) error
}

// Storage is the full persistence surface an adapter provides.
type Storage interface {
	LedgerStore
	StatsStore
	BadgeStore
	CertificateStore
	AttemptStore
	EnrollmentStore
	LessonStore
	QuestionBank
	CourseDirectory
	UserDirectory
	CatalogSource
	SettingsSource
}
