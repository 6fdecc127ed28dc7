package engine

import (
	"context"
	"errors"
	"fmt"

	"learnkit/core"
)

// loadStats reads the aggregate, returning the default row when none exists yet.
func (e *Engine) loadStats(ctx context.Context, user core.UserID, rules core.LevelRules) (core.StatsAggregate, error) {
	st, err := e.stats.GetStats(ctx, user)
	if errors.Is(err, core.ErrNotFound) {
		return core.NewStatsAggregate(user, rules), nil
	}
	if err != nil {
		return core.StatsAggregate{}, fmt.Errorf("get stats: %w", err)
	}
	return st, nil
}

// modifyStats is the read-modify-upsert cycle every aggregate writer goes through.
// fn must only touch the fields its caller owns.
func (e *Engine) modifyStats(ctx context.Context, user core.UserID, rules core.LevelRules, fn func(*core.StatsAggregate)) (before, after core.StatsAggregate, err error) {
	before, err = e.loadStats(ctx, user, rules)
	if err != nil {
		return before, before, err
	}
	after = before
	fn(&after)
	after.UserID = user
	after.UpdatedAt = e.now()
	if err := e.stats.UpsertStats(ctx, after); err != nil {
		return before, before, fmt.Errorf("upsert stats: %w", err)
	}
	return before, after, nil
}

// refreshProgress recomputes the ledger-owned fields from the ledger sum.
func (e *Engine) refreshProgress(ctx context.Context, user core.UserID, rules core.LevelRules) (before, after core.StatsAggregate, err error) {
	total, err := e.store.SumExperience(ctx, user)
	if err != nil {
		return before, after, fmt.Errorf("sum experience: %w", err)
	}
	info := core.LevelFor(total, rules)
	return e.modifyStats(ctx, user, rules, func(st *core.StatsAggregate) {
		st.TotalXP = total
		st.CurrentLevel = info.Level
		st.XPToNextLevel = info.XPToNextLevel
	})
}

// refreshBadges recomputes total_badges from ownership rows.
func (e *Engine) refreshBadges(ctx context.Context, user core.UserID, rules core.LevelRules) (core.StatsAggregate, error) {
	n, err := e.store.CountBadges(ctx, user)
	if err != nil {
		return core.StatsAggregate{}, fmt.Errorf("count badges: %w", err)
	}
	_, after, err := e.modifyStats(ctx, user, rules, func(st *core.StatsAggregate) {
		st.TotalBadges = n
	})
	return after, err
}

// RebuildStats recomputes every ledger- and badge-owned field of a user's aggregate.
// Streak fields are left as they are.
func (e *Engine) RebuildStats(ctx context.Context, user core.UserID) (core.StatsAggregate, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.StatsAggregate{}, err
	}
	rules := e.LevelRules(ctx)
	total, err := e.store.SumExperience(ctx, normalized)
	if err != nil {
		return core.StatsAggregate{}, fmt.Errorf("sum experience: %w", err)
	}
	badges, err := e.store.CountBadges(ctx, normalized)
	if err != nil {
		return core.StatsAggregate{}, fmt.Errorf("count badges: %w", err)
	}
	info := core.LevelFor(total, rules)
	_, after, err := e.modifyStats(ctx, normalized, rules, func(st *core.StatsAggregate) {
		st.TotalXP = total
		st.CurrentLevel = info.Level
		st.XPToNextLevel = info.XPToNextLevel
		st.TotalBadges = badges
	})
	return after, err
}

// RebuildAll runs RebuildStats for every user with an aggregate row. It keeps going
// past individual failures and returns how many rows were rebuilt.
func (e *Engine) RebuildAll(ctx context.Context) (int, error) {
	users, err := e.stats.ListStatsUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stats users: %w", err)
	}
	var errs []error
	rebuilt := 0
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return rebuilt, err
		}
		if _, err := e.RebuildStats(ctx, u); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
			continue
		}
		rebuilt++
	}
	return rebuilt, errors.Join(errs...)
}
