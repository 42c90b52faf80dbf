package license

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "keyserve/internal/errors"
	"keyserve/internal/store"
)

func newTestManager(s store.Store) *Manager {
	logger := testLogger()
	return NewManager(s, NewGenerator(s, logger), logger)
}

func intPtr(n int) *int { return &n }

func TestManagerIssue(t *testing.T) {
	ctx := context.Background()

	t.Run("permanent key has no expiry", func(t *testing.T) {
		s := store.NewMemoryStore()
		m := newTestManager(s)

		record, err := m.Issue(ctx, KeyTypePermanent, ExpiryPolicy{})
		require.NoError(t, err)
		assert.Equal(t, KeyTypePermanent, record.KeyType)
		assert.Equal(t, StatusUnused, record.ValidationStatus)
		assert.Nil(t, record.ExpiresAt)
		assert.False(t, IsTrialKey(record.KeyValue))

		stored, err := m.Get(ctx, record.KeyValue)
		require.NoError(t, err)
		assert.Equal(t, record.KeyValue, stored.KeyValue)
		assert.Nil(t, stored.ExpiresAt)
	})

	t.Run("trial key expiry from days", func(t *testing.T) {
		s := store.NewMemoryStore()
		m := newTestManager(s)
		now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		m.now = func() time.Time { return now }

		record, err := m.Issue(ctx, KeyTypeTrial, ExpiryPolicy{DurationDays: 7})
		require.NoError(t, err)
		require.NotNil(t, record.ExpiresAt)
		assert.Equal(t, now.AddDate(0, 0, 7), *record.ExpiresAt)
		assert.True(t, IsTrialKey(record.KeyValue))
	})

	t.Run("minutes take precedence over days", func(t *testing.T) {
		s := store.NewMemoryStore()
		m := newTestManager(s)
		now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		m.now = func() time.Time { return now }

		record, err := m.Issue(ctx, KeyTypeTrial, ExpiryPolicy{DurationDays: 7, DurationMinutes: intPtr(30)})
		require.NoError(t, err)
		require.NotNil(t, record.ExpiresAt)
		assert.Equal(t, now.Add(30*time.Minute), *record.ExpiresAt)
	})

	t.Run("zero minutes issues an instantly expired key", func(t *testing.T) {
		s := store.NewMemoryStore()
		m := newTestManager(s)

		record, err := m.Issue(ctx, KeyTypeTrial, ExpiryPolicy{DurationMinutes: intPtr(0)})
		require.NoError(t, err)
		require.NotNil(t, record.ExpiresAt)
		assert.True(t, record.IsExpired(time.Now().Add(time.Second)))
	})

	t.Run("trial without a duration is refused", func(t *testing.T) {
		s := store.NewMemoryStore()
		m := newTestManager(s)

		_, err := m.Issue(ctx, KeyTypeTrial, ExpiryPolicy{})
		assert.ErrorIs(t, err, apperrors.ErrInvalidDuration)
	})
}

func TestManagerIssueBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers the requested quantity with unique keys", func(t *testing.T) {
		s := store.NewMemoryStore()
		m := newTestManager(s)

		result, err := m.IssueBatch(ctx, 20, KeyTypeTrial, ExpiryPolicy{DurationDays: 3})
		require.NoError(t, err)
		assert.Equal(t, 20, result.AddedCount)
		assert.Len(t, result.GeneratedKeys, 20)

		seen := make(map[string]bool)
		for _, key := range result.GeneratedKeys {
			assert.False(t, seen[key], "duplicate key %q in batch", key)
			seen[key] = true
			assert.True(t, IsTrialKey(key))
		}
	})

	t.Run("invalid duration fails the whole request", func(t *testing.T) {
		s := store.NewMemoryStore()
		m := newTestManager(s)

		_, err := m.IssueBatch(ctx, 5, KeyTypeTrial, ExpiryPolicy{})
		assert.ErrorIs(t, err, apperrors.ErrInvalidDuration)

		records, err := m.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, records, "no keys may be issued when the policy is invalid")
	})
}

func TestManagerReset(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown key", func(t *testing.T) {
		m := newTestManager(store.NewMemoryStore())
		assert.ErrorIs(t, m.Reset(ctx, "MSKnosuch"), apperrors.ErrKeyNotFound)
	})

	t.Run("clears activation state and identity binding", func(t *testing.T) {
		s := store.NewMemoryStore()
		m := newTestManager(s)

		record, err := m.Issue(ctx, KeyTypeTrial, ExpiryPolicy{DurationDays: 7})
		require.NoError(t, err)

		won, err := s.ActivateIfUnused(ctx, RecordKey(record.KeyValue), map[string]string{
			"validation_status":  "used",
			"activated_at":       "2025-06-01T00:00:00Z",
			"web_validated_time": "2025-06-01T00:00:00Z",
			"user_id":            "device-1",
		}, MarkerKey("device-1"), time.Hour)
		require.NoError(t, err)
		require.True(t, won)

		require.NoError(t, m.Reset(ctx, record.KeyValue))

		fresh, err := m.Get(ctx, record.KeyValue)
		require.NoError(t, err)
		assert.Equal(t, StatusUnused, fresh.ValidationStatus)
		assert.Nil(t, fresh.ActivatedAt)
		assert.Nil(t, fresh.WebValidatedTime)
		assert.Empty(t, fresh.UserID)
		assert.NotNil(t, fresh.ExpiresAt, "reset must not touch the expiry")
	})
}

func TestManagerDelete(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	m := newTestManager(s)

	record, err := m.Issue(ctx, KeyTypePermanent, ExpiryPolicy{})
	require.NoError(t, err)

	t.Run("removes the record", func(t *testing.T) {
		require.NoError(t, m.Delete(ctx, record.KeyValue))
		_, err := m.Get(ctx, record.KeyValue)
		assert.ErrorIs(t, err, apperrors.ErrKeyNotFound)
	})

	t.Run("deleting a nonexistent key is not an error", func(t *testing.T) {
		assert.NoError(t, m.Delete(ctx, record.KeyValue))
	})

	t.Run("batch delete reports removed count", func(t *testing.T) {
		a, err := m.Issue(ctx, KeyTypePermanent, ExpiryPolicy{})
		require.NoError(t, err)
		b, err := m.Issue(ctx, KeyTypePermanent, ExpiryPolicy{})
		require.NoError(t, err)

		removed, err := m.BatchDelete(ctx, []string{a.KeyValue, b.KeyValue, "MSKnosuch"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)
	})
}

func TestManagerStats(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	m := newTestManager(s)

	_, err := m.Issue(ctx, KeyTypePermanent, ExpiryPolicy{})
	require.NoError(t, err)
	trial, err := m.Issue(ctx, KeyTypeTrial, ExpiryPolicy{DurationDays: 7})
	require.NoError(t, err)
	expired, err := m.Issue(ctx, KeyTypeTrial, ExpiryPolicy{DurationMinutes: intPtr(0)})
	require.NoError(t, err)
	_ = expired

	won, err := s.ActivateIfUnused(ctx, RecordKey(trial.KeyValue),
		map[string]string{"validation_status": "used"}, "", 0)
	require.NoError(t, err)
	require.True(t, won)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Used)
	assert.Equal(t, 2, stats.Unused)
	assert.Equal(t, 2, stats.Trial)
	assert.Equal(t, 1, stats.Permanent)
	assert.Equal(t, 1, stats.Expired)
}
