package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"learnkit/core"
)

// Store is a concurrent in-memory implementation of every engine store interface.
// Per-user data sits behind a per-user mutex; catalog-wide data behind mu.
type Store struct {
	users sync.Map // map[core.UserID]*userRecord

	mu          sync.RWMutex
	certNumbers map[string]struct{}
	catalog     core.Catalog
	rules       *core.LevelRules
	questions   map[string][]core.Question
	modules     map[core.CourseID]string
	profiles    map[core.UserID]core.UserProfile
}

type userRecord struct {
	mu          sync.Mutex
	ledger      []core.ExperienceEvent
	stats       *core.StatsAggregate
	badges      []core.BadgeOwnership
	certs       map[core.CourseID]core.Certificate
	attempts    []core.QuizAttempt
	enrollments map[core.CourseID]core.Enrollment
	lessons     map[string]core.LessonCompletion
}

func New() *Store {
	return &Store{
		certNumbers: map[string]struct{}{},
		questions:   map[string][]core.Question{},
		modules:     map[core.CourseID]string{},
		profiles:    map[core.UserID]core.UserProfile{},
	}
}

func (s *Store) getOrCreate(user core.UserID) *userRecord {
	if v, ok := s.users.Load(user); ok {
		return v.(*userRecord)
	}
	rec := &userRecord{
		certs:       map[core.CourseID]core.Certificate{},
		enrollments: map[core.CourseID]core.Enrollment{},
		lessons:     map[string]core.LessonCompletion{},
	}
	actual, _ := s.users.LoadOrStore(user, rec)
	return actual.(*userRecord)
}

// Ledger

func (s *Store) AppendExperience(_ context.Context, ev core.ExperienceEvent) error {
	rec := s.getOrCreate(ev.UserID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.ledger = append(rec.ledger, ev)
	return nil
}

func (s *Store) SumExperience(_ context.Context, user core.UserID) (int64, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	var total int64
	for _, ev := range rec.ledger {
		next, err := core.AddSafe(total, ev.Amount)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}

func (s *Store) ListExperience(_ context.Context, user core.UserID) ([]core.ExperienceEvent, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]core.ExperienceEvent(nil), rec.ledger...), nil
}

// Stats

func (s *Store) GetStats(_ context.Context, user core.UserID) (core.StatsAggregate, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.stats == nil {
		return core.StatsAggregate{}, core.ErrNotFound
	}
	return *rec.stats, nil
}

func (s *Store) UpsertStats(_ context.Context, st core.StatsAggregate) error {
	rec := s.getOrCreate(st.UserID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	cp := st
	if st.LastActivityDate != nil {
		d := *st.LastActivityDate
		cp.LastActivityDate = &d
	}
	rec.stats = &cp
	return nil
}

func (s *Store) ListStatsUsers(_ context.Context) ([]core.UserID, error) {
	var out []core.UserID
	s.users.Range(func(k, v any) bool {
		rec := v.(*userRecord)
		rec.mu.Lock()
		has := rec.stats != nil
		rec.mu.Unlock()
		if has {
			out = append(out, k.(core.UserID))
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Badges

func (s *Store) InsertBadgeOwnership(_ context.Context, o core.BadgeOwnership) error {
	rec := s.getOrCreate(o.UserID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, b := range rec.badges {
		if b.BadgeID == o.BadgeID {
			return fmt.Errorf("%w: badge %s for %s", core.ErrAlreadyExists, o.BadgeID, o.UserID)
		}
	}
	rec.badges = append(rec.badges, o)
	return nil
}

func (s *Store) ListBadgeOwnership(_ context.Context, user core.UserID) ([]core.BadgeOwnership, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]core.BadgeOwnership(nil), rec.badges...), nil
}

func (s *Store) CountBadges(_ context.Context, user core.UserID) (int, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.badges), nil
}

// Certificates

func (s *Store) GetCertificate(_ context.Context, user core.UserID, course core.CourseID) (core.Certificate, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	c, ok := rec.certs[course]
	if !ok {
		return core.Certificate{}, core.ErrNotFound
	}
	return c, nil
}

func (s *Store) InsertCertificate(_ context.Context, cert core.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.getOrCreate(cert.UserID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, ok := rec.certs[cert.CourseID]; ok {
		return fmt.Errorf("%w: certificate for %s/%s", core.ErrAlreadyExists, cert.UserID, cert.CourseID)
	}
	if _, ok := s.certNumbers[cert.Number]; ok {
		return fmt.Errorf("%w: certificate number %s", core.ErrAlreadyExists, cert.Number)
	}
	s.certNumbers[cert.Number] = struct{}{}
	rec.certs[cert.CourseID] = cert
	return nil
}

func (s *Store) ListCertificates(_ context.Context, user core.UserID) ([]core.Certificate, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]core.Certificate, 0, len(rec.certs))
	for _, c := range rec.certs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func (s *Store) CountCertificates(_ context.Context, user core.UserID) (int64, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return int64(len(rec.certs)), nil
}

// Attempts

func (s *Store) InsertAttempt(_ context.Context, a core.QuizAttempt) error {
	rec := s.getOrCreate(a.UserID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	a.Answers = append([]int(nil), a.Answers...)
	rec.attempts = append(rec.attempts, a)
	return nil
}

func (s *Store) CountPassedAttempts(_ context.Context, user core.UserID) (int64, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	var n int64
	for _, a := range rec.attempts {
		if a.Passed {
			n++
		}
	}
	return n, nil
}

// Attempts returns a copy of the user's recorded attempts.
func (s *Store) Attempts(user core.UserID) []core.QuizAttempt {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]core.QuizAttempt(nil), rec.attempts...)
}

// Enrollments

// Enroll registers a user on a course with zero progress.
func (s *Store) Enroll(user core.UserID, course core.CourseID) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, ok := rec.enrollments[course]; !ok {
		rec.enrollments[course] = core.Enrollment{UserID: user, CourseID: course}
	}
}

// Enrollment returns the user's enrollment in course.
func (s *Store) Enrollment(user core.UserID, course core.CourseID) (core.Enrollment, bool) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	en, ok := rec.enrollments[course]
	return en, ok
}

func (s *Store) CompleteEnrollment(_ context.Context, user core.UserID, course core.CourseID, at time.Time) error {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	en := rec.enrollments[course]
	en.UserID, en.CourseID = user, course
	en.ProgressPercent = 100
	if en.CompletedAt == nil {
		t := at
		en.CompletedAt = &t
	}
	rec.enrollments[course] = en
	return nil
}

func (s *Store) CountCompletedCourses(_ context.Context, user core.UserID) (int64, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	var n int64
	for _, en := range rec.enrollments {
		if en.CompletedAt != nil {
			n++
		}
	}
	return n, nil
}

// Lessons

func (s *Store) InsertLessonCompletion(_ context.Context, lc core.LessonCompletion) error {
	rec := s.getOrCreate(lc.UserID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, ok := rec.lessons[lc.LessonID]; ok {
		return fmt.Errorf("%w: lesson %s for %s", core.ErrAlreadyExists, lc.LessonID, lc.UserID)
	}
	rec.lessons[lc.LessonID] = lc
	return nil
}

func (s *Store) CountCompletedLessons(_ context.Context, user core.UserID) (int64, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return int64(len(rec.lessons)), nil
}

// Course content and directories

// SetQuestions replaces a module's question bank.
func (s *Store) SetQuestions(moduleID string, qs []core.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[moduleID] = append([]core.Question(nil), qs...)
}

func (s *Store) Questions(_ context.Context, moduleID string) ([]core.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Question(nil), s.questions[moduleID]...), nil
}

// SetGraduationModule marks the module whose quiz completes course.
func (s *Store) SetGraduationModule(course core.CourseID, moduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[course] = moduleID
}

func (s *Store) GraduationModule(_ context.Context, course core.CourseID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[course]
	if !ok {
		return "", core.ErrNotFound
	}
	return m, nil
}

func (s *Store) SetUser(p core.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
}

func (s *Store) LookupUser(_ context.Context, user core.UserID) (core.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[user]
	if !ok {
		return core.UserProfile{}, core.ErrNotFound
	}
	return p, nil
}

// Configuration

func (s *Store) SetCatalog(c core.Catalog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = c
}

func (s *Store) Catalog(_ context.Context) (core.Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.catalog
	c.Badges = append([]core.Badge(nil), s.catalog.Badges...)
	return c, nil
}

func (s *Store) SetLevelRules(r core.LevelRules) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = &r
}

func (s *Store) LevelRules(_ context.Context) (core.LevelRules, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rules == nil {
		return core.LevelRules{}, false, nil
	}
	return *s.rules, true, nil
}
