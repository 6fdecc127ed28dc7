package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"learnkit/core"
)

const certificateAttempts = 3

// IssueResult reports the certificate and whether it was issued earlier.
type IssueResult struct {
	Certificate    core.Certificate `json:"certificate"`
	AlreadyExisted bool             `json:"already_existed"`
}

// IssueCertificate returns the user's certificate for a course, creating it on first call.
// Concurrent callers converge on one row.
func (e *Engine) IssueCertificate(ctx context.Context, user core.UserID, course core.CourseID) (IssueResult, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return IssueResult{}, err
	}
	if strings.TrimSpace(string(course)) == "" {
		return IssueResult{}, fmt.Errorf("%w: course id is required", core.ErrValidation)
	}

	existing, err := e.store.GetCertificate(ctx, normalized, course)
	if err == nil {
		return IssueResult{Certificate: existing, AlreadyExisted: true}, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return IssueResult{}, fmt.Errorf("get certificate: %w", err)
	}

	for i := 0; i < certificateAttempts; i++ {
		now := e.now()
		cert := core.Certificate{
			ID:       uuid.NewString(),
			UserID:   normalized,
			CourseID: course,
			Number:   CertificateNumber(now),
			IssuedAt: now,
		}
		err := e.store.InsertCertificate(ctx, cert)
		if err == nil {
			e.log.Info("certificate issued", "user_id", normalized, "course_id", course, "number", cert.Number)
			e.bus.Publish(ctx, core.NewCertificateIssued(cert))
			return IssueResult{Certificate: cert}, nil
		}
		if !errors.Is(err, core.ErrAlreadyExists) {
			return IssueResult{}, fmt.Errorf("insert certificate: %w", err)
		}
		// Either a concurrent issuer won the (user, course) pair or the number collided.
		winner, gerr := e.store.GetCertificate(ctx, normalized, course)
		if gerr == nil {
			return IssueResult{Certificate: winner, AlreadyExisted: true}, nil
		}
		if !errors.Is(gerr, core.ErrNotFound) {
			return IssueResult{}, fmt.Errorf("get certificate: %w", gerr)
		}
	}
	return IssueResult{}, fmt.Errorf("certificate number collided %d times for %s/%s", certificateAttempts, normalized, course)
}

// CertificateNumber formats LK-YYYYMMDD-XXXXXXXX with eight random upper-case hex digits.
func CertificateNumber(t time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("LK-%s-%s", t.UTC().Format("20060102"), strings.ToUpper(fmt.Sprintf("%x", id[:4])))
}
