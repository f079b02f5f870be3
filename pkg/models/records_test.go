package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyDelayFor(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		attempt int
		want    time.Duration
	}{
		{
			name:    "none yields zero",
			policy:  RetryPolicy{Strategy: RetryNone, BaseDelayMS: 5000},
			attempt: 2,
			want:    0,
		},
		{
			name:    "fixed same every attempt",
			policy:  RetryPolicy{Strategy: RetryFixed, BaseDelayMS: 5000},
			attempt: 4,
			want:    5 * time.Second,
		},
		{
			name:    "linear grows with attempt",
			policy:  RetryPolicy{Strategy: RetryLinear, BaseDelayMS: 2000},
			attempt: 3,
			want:    6 * time.Second,
		},
		{
			name:    "exponential doubles",
			policy:  RetryPolicy{Strategy: RetryExponential, BaseDelayMS: 1000},
			attempt: 4,
			want:    8 * time.Second,
		},
		{
			name:    "exponential capped at max delay",
			policy:  RetryPolicy{Strategy: RetryExponential, BaseDelayMS: 10000, MaxDelayMS: 30000},
			attempt: 6,
			want:    30 * time.Second,
		},
		{
			name:    "attempt below one treated as first",
			policy:  RetryPolicy{Strategy: RetryExponential, BaseDelayMS: 3000},
			attempt: 0,
			want:    3 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.DelayFor(tt.attempt))
		})
	}
}

func TestSubscriptionMatches(t *testing.T) {
	all := IntentSubscription{}
	assert.True(t, all.Matches("state_patched"))
	assert.True(t, all.Matches("anything"))

	some := IntentSubscription{EventTypes: StringList{"status_changed", "intent_completed"}}
	assert.True(t, some.Matches("status_changed"))
	assert.False(t, some.Matches("state_patched"))
}

func TestACLEntryExpiredAt(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&ACLEntry{}).ExpiredAt(now), "no expiry never expires")
	assert.True(t, (&ACLEntry{ExpiresAt: &past}).ExpiredAt(now))
	assert.True(t, (&ACLEntry{ExpiresAt: &now}).ExpiredAt(now), "boundary counts as expired")
	assert.False(t, (&ACLEntry{ExpiresAt: &future}).ExpiredAt(now))
}

func TestPermissionSatisfies(t *testing.T) {
	order := []Permission{PermissionNone, PermissionRead, PermissionWrite, PermissionAdmin}
	for i, p := range order {
		for j, required := range order {
			assert.Equal(t, i >= j, p.Satisfies(required), "%s vs %s", p, required)
		}
	}
}

func TestLeaseStatusAt(t *testing.T) {
	now := time.Now().UTC()
	released := now.Add(-time.Minute)

	active := &IntentLease{ExpiresAt: now.Add(time.Minute)}
	assert.Equal(t, LeaseActive, active.StatusAt(now))

	expired := &IntentLease{ExpiresAt: now.Add(-time.Second)}
	assert.Equal(t, LeaseExpired, expired.StatusAt(now))

	rel := &IntentLease{ExpiresAt: now.Add(time.Minute), ReleasedAt: &released}
	assert.Equal(t, LeaseReleased, rel.StatusAt(now))
}
