package domain

import (
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestTransition_HappyPath(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := &ClaimRecord{Status: StatusPending}

	if err := c.Transition(StatusVerified, at); err != nil {
		t.Fatalf("pending -> verified: %v", err)
	}
	if !c.ContactVerified || c.VerificationTimestamp == nil || !c.VerificationTimestamp.Equal(at) {
		t.Error("verified transition should set ContactVerified and VerificationTimestamp")
	}
	if c.Claimed {
		t.Error("Claimed must stay false until claimed")
	}

	later := at.Add(time.Minute)
	if err := c.Transition(StatusClaimed, later); err != nil {
		t.Fatalf("verified -> claimed: %v", err)
	}
	if !c.Claimed || c.ClaimedAt == nil || !c.ClaimedAt.Equal(later) {
		t.Error("claimed transition should set Claimed and ClaimedAt")
	}
	if !c.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", c.UpdatedAt, later)
	}
}

func TestTransition_Illegal(t *testing.T) {
	tests := []struct {
		from, to Status
	}{
		{StatusPending, StatusClaimed},
		{StatusVerified, StatusExpired},
		{StatusVerified, StatusPending},
		{StatusClaimed, StatusPending},
		{StatusClaimed, StatusRejected},
		{StatusExpired, StatusPending},
		{StatusRejected, StatusVerified},
	}
	for _, tt := range tests {
		c := &ClaimRecord{Status: tt.from}
		err := c.Transition(tt.to, time.Now())
		if !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("%s -> %s: err = %v, want ErrIllegalTransition", tt.from, tt.to, err)
		}
		if c.Status != tt.from {
			t.Errorf("%s -> %s: status changed to %s", tt.from, tt.to, c.Status)
		}
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	for _, s := range []Status{StatusClaimed, StatusExpired, StatusRejected} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
		for _, to := range []Status{StatusPending, StatusVerified, StatusClaimed, StatusRejected, StatusExpired} {
			if CanTransition(s, to) {
				t.Errorf("terminal %s must not transition to %s", s, to)
			}
		}
	}
	for _, s := range []Status{StatusPending, StatusVerified} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestClone_IsDeep(t *testing.T) {
	at := time.Now()
	c := &ClaimRecord{Status: StatusPending}
	_ = c.Transition(StatusVerified, at)
	cp := c.Clone()
	*cp.VerificationTimestamp = at.Add(time.Hour)
	if !c.VerificationTimestamp.Equal(at) {
		t.Error("Clone shares VerificationTimestamp")
	}
}
