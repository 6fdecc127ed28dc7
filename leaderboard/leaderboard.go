package leaderboard

import (
	"context"
	"errors"
	"fmt"

	"learnkit/core"
)

// Entry is one ranked learner. Rank is 1-based and only set on reads.
type Entry struct {
	User    core.UserID `json:"user_id"`
	TotalXP int64       `json:"total_xp"`
	Rank    int         `json:"rank,omitempty"`
}

// Board abstracts leaderboard operations.
type Board interface {
	Update(user core.UserID, totalXP int64)
	Remove(user core.UserID)
	TopN(n int) []Entry
	Get(user core.UserID) (Entry, bool)
	Len() int
}

// Subscriber is the part of the engine the tracker listens on.
type Subscriber interface {
	Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func()
}

// Track keeps board in step with xp_awarded events. The returned func stops tracking.
func Track(sub Subscriber, board Board) func() {
	return sub.Subscribe(core.EventXPAwarded, func(_ context.Context, ev core.Event) {
		if ev.TotalStale() {
			return
		}
		board.Update(ev.UserID, ev.Total)
	})
}

// StatsSource lists aggregates to seed a board at startup.
type StatsSource interface {
	ListStatsUsers(ctx context.Context) ([]core.UserID, error)
	GetStats(ctx context.Context, user core.UserID) (core.StatsAggregate, error)
}

// Seed loads every known aggregate into board and returns how many were loaded.
func Seed(ctx context.Context, src StatsSource, board Board) (int, error) {
	users, err := src.ListStatsUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing users: %w", err)
	}
	n := 0
	for _, u := range users {
		st, err := src.GetStats(ctx, u)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("loading stats for %s: %w", u, err)
		}
		board.Update(st.UserID, st.TotalXP)
		n++
	}
	return n, nil
}
