package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"learnkit/core"
)

// AwardedBadge is a badge granted during one evaluation together with its bonus XP.
type AwardedBadge struct {
	Badge   core.Badge `json:"badge"`
	BonusXP int64      `json:"bonus_xp"`
}

// badgeRun carries what one evaluation session shares across triggers: a pinned
// catalog, pinned level rules and the owned set, which grows as badges are granted.
type badgeRun struct {
	user    core.UserID
	rules   core.LevelRules
	catalog core.Catalog
	owned   map[core.BadgeID]struct{}
}

func (e *Engine) newBadgeRun(ctx context.Context, user core.UserID, rules core.LevelRules) (*badgeRun, error) {
	catalog, err := e.catalog.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	owned, err := e.store.ListBadgeOwnership(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	run := &badgeRun{
		user:    user,
		rules:   rules,
		catalog: catalog,
		owned:   make(map[core.BadgeID]struct{}, len(owned)),
	}
	for _, o := range owned {
		run.owned[o.BadgeID] = struct{}{}
	}
	return run, nil
}

// counters reads the collaborator totals badge requirements compare against.
func (e *Engine) counters(ctx context.Context, user core.UserID) (core.Counters, error) {
	var c core.Counters
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		c.LessonsCompleted, err = e.store.CountCompletedLessons(gctx, user)
		return err
	})
	g.Go(func() (err error) {
		c.CoursesCompleted, err = e.store.CountCompletedCourses(gctx, user)
		return err
	})
	g.Go(func() (err error) {
		c.QuizzesPassed, err = e.store.CountPassedAttempts(gctx, user)
		return err
	})
	g.Go(func() (err error) {
		c.CertificatesEarned, err = e.store.CountCertificates(gctx, user)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.Counters{}, fmt.Errorf("count progress: %w", err)
	}
	return c, nil
}

// EvaluateBadges runs one evaluation for the given trigger and grants every newly
// qualifying badge.
func (e *Engine) EvaluateBadges(ctx context.Context, user core.UserID, trigger core.Trigger) ([]AwardedBadge, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	run, err := e.newBadgeRun(ctx, normalized, e.LevelRules(ctx))
	if err != nil {
		return nil, err
	}
	return e.evaluate(ctx, run, trigger)
}

func (e *Engine) evaluate(ctx context.Context, run *badgeRun, trigger core.Trigger) ([]AwardedBadge, error) {
	counters, err := e.counters(ctx, run.user)
	if err != nil {
		return nil, err
	}
	stats, err := e.loadStats(ctx, run.user, run.rules)
	if err != nil {
		return nil, err
	}
	candidates := core.Evaluate(run.catalog.Badges, run.owned, counters, stats, trigger)
	return e.grant(ctx, run, candidates), nil
}

// grant inserts ownership for each candidate and credits its rarity bonus. A badge
// whose insert reports an existing row was granted elsewhere and is skipped.
func (e *Engine) grant(ctx context.Context, run *badgeRun, candidates []core.Badge) []AwardedBadge {
	awarded := make([]AwardedBadge, 0, len(candidates))
	for _, b := range candidates {
		if _, ok := run.owned[b.ID]; ok {
			continue
		}
		err := e.store.InsertBadgeOwnership(ctx, core.BadgeOwnership{UserID: run.user, BadgeID: b.ID, UnlockedAt: e.now()})
		if errors.Is(err, core.ErrAlreadyExists) {
			run.owned[b.ID] = struct{}{}
			continue
		}
		if err != nil {
			e.log.Warn("badge insert failed", "user_id", run.user, "badge_id", b.ID, "error", err)
			continue
		}
		run.owned[b.ID] = struct{}{}

		bonus := run.catalog.Bonus(b.Rarity)
		meta := map[string]any{"badge_id": string(b.ID), "rarity": string(b.Rarity)}
		if _, err := e.award(ctx, run.user, core.XPBadgeEarned, bonus, "Earned badge: "+b.Title, meta, run.rules); err != nil {
			e.log.Warn("badge bonus award failed", "user_id", run.user, "badge_id", b.ID, "error", err)
			bonus = 0
		}
		if _, err := e.refreshBadges(ctx, run.user, run.rules); err != nil {
			e.log.Warn("badge count refresh failed", "user_id", run.user, "error", err)
		}
		e.log.Info("badge awarded", "user_id", run.user, "badge_id", b.ID, "rarity", b.Rarity, "bonus_xp", bonus)
		e.bus.Publish(ctx, core.NewBadgeAwarded(run.user, b, bonus))
		awarded = append(awarded, AwardedBadge{Badge: b, BonusXP: bonus})
	}
	return awarded
}
