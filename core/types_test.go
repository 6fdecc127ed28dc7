package core

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestAddSafe(t *testing.T) {
	if v, err := AddSafe(10, 5); err != nil || v != 15 {
		t.Fatalf("got %v %v", v, err)
	}
	if _, err := AddSafe(math.MaxInt64, 1); err == nil {
		t.Fatalf("expected overflow")
	}
	if _, err := AddSafe(math.MinInt64, -1); err == nil {
		t.Fatalf("expected underflow")
	}
}

func TestNormalizeUserID(t *testing.T) {
	id, err := NormalizeUserID(" Alice ")
	if err != nil || id != "alice" {
		t.Fatalf("got %v %v", id, err)
	}
	if _, err := NormalizeUserID("   "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateSlug(t *testing.T) {
	if err := ValidateSlug("lesson_1-intro"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := ValidateSlug("bad lesson"); err == nil {
		t.Fatalf("expected invalid slug err")
	}
}

func TestExperienceTypeValid(t *testing.T) {
	if !XPAdminAdjustment.Valid() || !XPQuizPassed.Valid() {
		t.Fatal("catalog types must be valid")
	}
	if ExperienceType("points_added").Valid() {
		t.Fatal("unknown type must be invalid")
	}
}

func TestRarityRank(t *testing.T) {
	if !(RarityCommon.Rank() < RarityRare.Rank() && RarityRare.Rank() < RarityEpic.Rank() && RarityEpic.Rank() < RarityLegendary.Rank()) {
		t.Fatal("rarity ranks must ascend")
	}
	if Rarity("mythic").Rank() != 0 {
		t.Fatal("unknown rarity ranks as common")
	}
}

func TestDay(t *testing.T) {
	loc := time.FixedZone("X", 5*3600)
	got := Day(time.Date(2026, 3, 2, 2, 30, 0, 0, loc))
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
