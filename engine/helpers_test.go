package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mem "learnkit/adapters/memory"
	"learnkit/core"
)

var _ Storage = (*mem.Store)(nil)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	eng    *Engine
	store  *mem.Store
	mu     sync.Mutex
	events []core.Event
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	return newFixtureWithStore(t, mem.New(), nil, opts)
}

// newFixtureWithStore builds an engine over wrapped, which defaults to store.
func newFixtureWithStore(t *testing.T, store *mem.Store, wrapped Storage, opts Options) *fixture {
	t.Helper()
	if wrapped == nil {
		wrapped = store
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return testNow }
	}
	f := &fixture{store: store}
	f.eng = NewEngine(wrapped, NewEventBus(DispatchSync), opts)
	for _, typ := range []core.EventType{
		core.EventXPAwarded, core.EventLevelUp, core.EventBadgeAwarded,
		core.EventCertificateIssued, core.EventCourseCompleted, core.EventQuizSubmitted,
	} {
		f.eng.Subscribe(typ, func(_ context.Context, ev core.Event) {
			f.mu.Lock()
			f.events = append(f.events, ev)
			f.mu.Unlock()
		})
	}
	return f
}

func (f *fixture) count(typ core.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (f *fixture) ledger(t *testing.T, user core.UserID, typ core.ExperienceType) []core.ExperienceEvent {
	t.Helper()
	all, err := f.store.ListExperience(context.Background(), user)
	if err != nil {
		t.Fatal(err)
	}
	var out []core.ExperienceEvent
	for _, ev := range all {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// faultyStore wraps the memory store and fails selected calls.
type faultyStore struct {
	*mem.Store
	failAttempt     error
	failUpsertStats error
	failCatalog     error
	failEnrollment  error
	hideOwnership   bool
	certCollisions  int
}

func (f *faultyStore) InsertAttempt(ctx context.Context, a core.QuizAttempt) error {
	if f.failAttempt != nil {
		return f.failAttempt
	}
	return f.Store.InsertAttempt(ctx, a)
}

func (f *faultyStore) UpsertStats(ctx context.Context, st core.StatsAggregate) error {
	if f.failUpsertStats != nil {
		return f.failUpsertStats
	}
	return f.Store.UpsertStats(ctx, st)
}

func (f *faultyStore) Catalog(ctx context.Context) (core.Catalog, error) {
	if f.failCatalog != nil {
		return core.Catalog{}, f.failCatalog
	}
	return f.Store.Catalog(ctx)
}

func (f *faultyStore) CompleteEnrollment(ctx context.Context, user core.UserID, course core.CourseID, at time.Time) error {
	if f.failEnrollment != nil {
		return f.failEnrollment
	}
	return f.Store.CompleteEnrollment(ctx, user, course, at)
}

func (f *faultyStore) ListBadgeOwnership(ctx context.Context, user core.UserID) ([]core.BadgeOwnership, error) {
	if f.hideOwnership {
		return nil, nil
	}
	return f.Store.ListBadgeOwnership(ctx, user)
}

func (f *faultyStore) InsertCertificate(ctx context.Context, cert core.Certificate) error {
	if f.certCollisions > 0 {
		f.certCollisions--
		return core.ErrAlreadyExists
	}
	return f.Store.InsertCertificate(ctx, cert)
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []core.Email
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg core.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

type panickingMailer struct{}

func (panickingMailer) Send(context.Context, core.Email) error { panic("smtp exploded") }

type broadcasterFunc func(context.Context, core.Event) error

func (f broadcasterFunc) Broadcast(ctx context.Context, ev core.Event) error { return f(ctx, ev) }

var errBoom = errors.New("boom")

func float(v float64) *float64 { return &v }
func boolean(v bool) *bool      { return &v }
