package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"learnkit/core"
)

// AwardResult reports one ledger append. NewTotal, Level and XPToNextLevel are zero
// when the aggregate refresh after the append failed; the event itself still counts.
type AwardResult struct {
	Event         core.ExperienceEvent `json:"event"`
	AppliedAmount int64                `json:"applied_amount"`
	NewTotal      int64                `json:"new_total"`
	Level         int                  `json:"level"`
	XPToNextLevel int64                `json:"xp_to_next_level"`
	LeveledUp     bool                 `json:"leveled_up"`
}

func (r AwardResult) snapshot() *core.Snapshot {
	if r.Level == 0 {
		return nil
	}
	return &core.Snapshot{Level: r.Level, TotalXP: r.NewTotal}
}

// Award appends an experience event and refreshes the user's aggregate.
func (e *Engine) Award(ctx context.Context, user core.UserID, typ core.ExperienceType, amount int64, description string, meta map[string]any) (AwardResult, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return AwardResult{}, err
	}
	return e.award(ctx, normalized, typ, amount, description, meta, e.LevelRules(ctx))
}

// AdjustExperience records a manual correction; it is the only event allowed to be negative.
func (e *Engine) AdjustExperience(ctx context.Context, user core.UserID, amount int64, reason string) (AwardResult, error) {
	if strings.TrimSpace(reason) == "" {
		return AwardResult{}, fmt.Errorf("%w: adjustment reason is required", core.ErrValidation)
	}
	return e.Award(ctx, user, core.XPAdminAdjustment, amount, reason, nil)
}

func (e *Engine) award(ctx context.Context, user core.UserID, typ core.ExperienceType, amount int64, description string, meta map[string]any, rules core.LevelRules) (AwardResult, error) {
	if !typ.Valid() {
		return AwardResult{}, fmt.Errorf("%w: unknown experience type %q", core.ErrValidation, typ)
	}
	if amount == 0 {
		return AwardResult{}, fmt.Errorf("%w: amount cannot be zero", core.ErrValidation)
	}
	if amount < 0 && typ != core.XPAdminAdjustment {
		return AwardResult{}, fmt.Errorf("%w: negative amounts are only allowed for %s", core.ErrValidation, core.XPAdminAdjustment)
	}

	ev := core.ExperienceEvent{
		ID:          uuid.NewString(),
		UserID:      user,
		Type:        typ,
		Amount:      amount,
		Description: description,
		Context:     meta,
		CreatedAt:   e.now(),
	}
	if err := e.store.AppendExperience(ctx, ev); err != nil {
		return AwardResult{}, fmt.Errorf("append experience: %w", err)
	}
	res := AwardResult{Event: ev, AppliedAmount: amount}

	before, after, err := e.refreshProgress(ctx, user, rules)
	if err != nil {
		e.log.Warn("stats refresh after award failed", "user_id", user, "xp_type", typ, "error", err)
		e.bus.Publish(ctx, core.NewXPAwardedStale(user, typ, amount))
		return res, nil
	}
	res.NewTotal = after.TotalXP
	res.Level = after.CurrentLevel
	res.XPToNextLevel = after.XPToNextLevel
	res.LeveledUp = after.CurrentLevel > before.CurrentLevel

	e.bus.Publish(ctx, core.NewXPAwarded(user, typ, amount, after.TotalXP))
	if res.LeveledUp {
		e.log.Info("level up", "user_id", user, "level", after.CurrentLevel, "total_xp", after.TotalXP)
		e.bus.Publish(ctx, core.NewLevelUp(user, after.CurrentLevel, after.TotalXP))
	}
	return res, nil
}
