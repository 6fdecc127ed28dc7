package core

import (
	"regexp"
	"strconv"
	"strings"
)

// SlugRule is one entry of the legacy milestone vocabulary. Older catalog entries carry
// no structured requirement; their slug names the milestone instead.
type SlugRule struct {
	Name    string
	Pattern *regexp.Regexp
	// Check receives the threshold captured from the slug (1 for "first-*" rules).
	Check func(f Facts, n int64) bool
}

// LegacySlugRules is matched in order against the normalized slug; the first match decides.
var LegacySlugRules = []SlugRule{
	{Name: "first lesson", Pattern: regexp.MustCompile(`^first-lesson$`), Check: lessonsAtLeast},
	{Name: "N lessons", Pattern: regexp.MustCompile(`^(?:lessons-(\d+)|(\d+)-lessons)$`), Check: lessonsAtLeast},
	{Name: "first course", Pattern: regexp.MustCompile(`^first-course$`), Check: coursesAtLeast},
	{Name: "N courses", Pattern: regexp.MustCompile(`^(?:courses-(\d+)|(\d+)-courses)$`), Check: coursesAtLeast},
	{Name: "level N", Pattern: regexp.MustCompile(`^level-(\d+)$`), Check: func(f Facts, n int64) bool { return int64(f.Level) >= n }},
	{Name: "N day streak", Pattern: regexp.MustCompile(`^(?:streak-(\d+)|(\d+)-day-streak)$`), Check: func(f Facts, n int64) bool { return int64(f.CurrentStreak) >= n }},
	{Name: "first quiz", Pattern: regexp.MustCompile(`^first-quiz$`), Check: quizzesAtLeast},
	{Name: "N quizzes", Pattern: regexp.MustCompile(`^(?:quizzes-(\d+)|(\d+)-quizzes)$`), Check: quizzesAtLeast},
	{Name: "perfect score", Pattern: regexp.MustCompile(`^perfect-score$`), Check: func(f Facts, _ int64) bool { return f.Trigger.PerfectScore }},
	{Name: "first certificate", Pattern: regexp.MustCompile(`^first-certificate$`), Check: func(f Facts, n int64) bool { return f.Counters.CertificatesEarned >= n }},
}

func lessonsAtLeast(f Facts, n int64) bool { return f.Counters.LessonsCompleted >= n }
func coursesAtLeast(f Facts, n int64) bool { return f.Counters.CoursesCompleted >= n }
func quizzesAtLeast(f Facts, n int64) bool { return f.Counters.QuizzesPassed >= n }

// NormalizeSlug lowercases a slug and treats '_' and '-' as the same separator.
func NormalizeSlug(slug string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(slug)), "_", "-")
}

// LegacyQualifies checks a slug against LegacySlugRules. Unknown slugs never qualify.
func LegacyQualifies(slug string, f Facts) bool {
	s := NormalizeSlug(slug)
	for _, rule := range LegacySlugRules {
		m := rule.Pattern.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		n := int64(1)
		for _, g := range m[1:] {
			if g == "" {
				continue
			}
			v, err := strconv.ParseInt(g, 10, 64)
			if err != nil {
				return false
			}
			n = v
			break
		}
		return rule.Check(f, n)
	}
	return false
}
