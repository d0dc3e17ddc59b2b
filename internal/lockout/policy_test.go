package lockout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-auth/internal/repository"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestIsLocked(t *testing.T) {
	p := DefaultPolicy()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)
	exact := now

	tests := []struct {
		name string
		end  *time.Time
		want bool
	}{
		{name: "never locked", end: nil, want: false},
		{name: "window open", end: &future, want: true},
		{name: "window closed", end: &past, want: false},
		{name: "window ends now", end: &exact, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &repository.User{LockoutEndAt: tt.end}
			assert.Equal(t, tt.want, p.IsLocked(u, now))
		})
	}
}

func TestRecordFailureLocksAtThreshold(t *testing.T) {
	p := DefaultPolicy()
	u := &repository.User{}

	for i := 1; i < DefaultThreshold; i++ {
		p.RecordFailure(u, now)
		assert.Equal(t, i, u.FailedLoginAttempts)
		assert.Nil(t, u.LockoutEndAt, "locked after %d failures", i)
	}

	p.RecordFailure(u, now)
	assert.Equal(t, DefaultThreshold, u.FailedLoginAttempts)
	require.NotNil(t, u.LockoutEndAt)
	assert.Equal(t, now.Add(DefaultDuration), *u.LockoutEndAt)
	require.NotNil(t, u.LastFailedLoginAt)
	assert.Equal(t, now, *u.LastFailedLoginAt)
	assert.True(t, p.IsLocked(u, now.Add(DefaultDuration-time.Second)))
	assert.False(t, p.IsLocked(u, now.Add(DefaultDuration)))
}

func TestRecordFailureAboveThresholdDoesNotCompound(t *testing.T) {
	p := Policy{Threshold: 3, Duration: 10 * time.Minute}
	u := &repository.User{FailedLoginAttempts: 3}

	later := now.Add(time.Hour)
	p.RecordFailure(u, later)

	assert.Equal(t, 4, u.FailedLoginAttempts)
	require.NotNil(t, u.LockoutEndAt)
	assert.Equal(t, later.Add(10*time.Minute), *u.LockoutEndAt)
}

func TestRecordSuccessClearsState(t *testing.T) {
	p := DefaultPolicy()
	end := now.Add(-time.Minute)
	failed := now.Add(-time.Hour)
	u := &repository.User{FailedLoginAttempts: 4, LockoutEndAt: &end, LastFailedLoginAt: &failed}

	p.RecordSuccess(u, now)

	assert.Zero(t, u.FailedLoginAttempts)
	assert.Nil(t, u.LockoutEndAt)
	assert.Nil(t, u.LastFailedLoginAt)
	require.NotNil(t, u.LastLoginAt)
	assert.Equal(t, now, *u.LastLoginAt)
}

func TestClearExpired(t *testing.T) {
	p := DefaultPolicy()

	past := now.Add(-time.Second)
	u := &repository.User{LockoutEndAt: &past}
	assert.True(t, p.ClearExpired(u, now))
	assert.Nil(t, u.LockoutEndAt)

	future := now.Add(time.Second)
	u = &repository.User{LockoutEndAt: &future}
	assert.False(t, p.ClearExpired(u, now))
	assert.NotNil(t, u.LockoutEndAt)

	assert.False(t, p.ClearExpired(&repository.User{}, now))
}
