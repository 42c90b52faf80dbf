package license

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "keyserve/internal/errors"
	"keyserve/internal/store"
)

const testMarkerTTL = 365 * 24 * time.Hour

type coordinatorFixture struct {
	store       *store.MemoryStore
	manager     *Manager
	coordinator *Coordinator
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()
	s := store.NewMemoryStore()
	logger := testLogger()
	return &coordinatorFixture{
		store:       s,
		manager:     NewManager(s, NewGenerator(s, logger), logger),
		coordinator: NewCoordinator(s, NewTrialGuard(s, logger), testMarkerTTL, logger),
	}
}

func TestActivatePermanent(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)

	record, err := f.manager.Issue(ctx, KeyTypePermanent, ExpiryPolicy{})
	require.NoError(t, err)

	first, err := f.coordinator.Activate(ctx, record.KeyValue, "")
	require.NoError(t, err)
	assert.Equal(t, StatusUsed, first.ValidationStatus)
	assert.NotNil(t, first.ActivatedAt)

	// Re-activation of a used permanent key succeeds without rewriting state.
	second, err := f.coordinator.Activate(ctx, record.KeyValue, "")
	require.NoError(t, err)
	assert.Equal(t, StatusUsed, second.ValidationStatus)

	fields, err := f.store.ReadRecord(ctx, RecordKey(record.KeyValue))
	require.NoError(t, err)
	require.NotNil(t, first.ActivatedAt)
	assert.Equal(t, first.ActivatedAt.Format(time.RFC3339), fields["activated_at"],
		"idempotent re-validation must not move the activation timestamp")
}

func TestActivateUnknownKey(t *testing.T) {
	f := newCoordinatorFixture(t)
	_, err := f.coordinator.Activate(context.Background(), "MSKnosuch", "")
	assert.ErrorIs(t, err, apperrors.ErrKeyNotFound)
}

func TestActivateExpiredTrial(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)

	record, err := f.manager.Issue(ctx, KeyTypeTrial, ExpiryPolicy{DurationMinutes: intPtr(0)})
	require.NoError(t, err)

	_, err = f.coordinator.Activate(ctx, record.KeyValue, "device-1")
	assert.ErrorIs(t, err, apperrors.ErrTrialExpired)

	fields, err := f.store.ReadRecord(ctx, RecordKey(record.KeyValue))
	require.NoError(t, err)
	assert.Equal(t, "unused", fields["validation_status"], "a refused activation must not mutate the record")
}

func TestOneTrialPerIdentity(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)

	issue := func() string {
		record, err := f.manager.Issue(ctx, KeyTypeTrial, ExpiryPolicy{DurationDays: 7})
		require.NoError(t, err)
		return record.KeyValue
	}

	keyA := issue()
	keyB := issue()

	// First activation binds the key to the identity and records the marker.
	result, err := f.coordinator.Activate(ctx, keyA, "device-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUsed, result.ValidationStatus)

	ttl, ok := f.store.MarkerTTL(MarkerKey("device-1"))
	require.True(t, ok, "activation must record the identity marker")
	assert.InDelta(t, testMarkerTTL.Seconds(), ttl.Seconds(), 5)

	// The same identity cannot start a second trial on a fresh key.
	_, err = f.coordinator.Activate(ctx, keyB, "device-1")
	assert.ErrorIs(t, err, apperrors.ErrTrialAlreadyConsumed)

	// Re-activating the bound key from the same identity stays idempotent.
	again, err := f.coordinator.Activate(ctx, keyA, "device-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUsed, again.ValidationStatus)

	// A different identity is refused on the bound key but free on a fresh one.
	_, err = f.coordinator.Activate(ctx, keyA, "device-2")
	assert.ErrorIs(t, err, apperrors.ErrIdentityMismatch)

	other, err := f.coordinator.Activate(ctx, keyB, "device-2")
	require.NoError(t, err)
	assert.Equal(t, StatusUsed, other.ValidationStatus)
}

func TestActivateWithoutIdentityLeavesNoMarker(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)

	record, err := f.manager.Issue(ctx, KeyTypeTrial, ExpiryPolicy{DurationDays: 7})
	require.NoError(t, err)

	result, err := f.coordinator.Activate(ctx, record.KeyValue, "")
	require.NoError(t, err)
	assert.Equal(t, StatusUsed, result.ValidationStatus)

	fields, err := f.store.ReadRecord(ctx, RecordKey(record.KeyValue))
	require.NoError(t, err)
	assert.Empty(t, fields["user_id"])
}

func TestConcurrentActivationSingleWinner(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)

	record, err := f.manager.Issue(ctx, KeyTypeTrial, ExpiryPolicy{DurationDays: 7})
	require.NoError(t, err)

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Distinct identities: exactly one may claim the key, the rest
			// must see a mismatch against the winner's binding.
			identity := string(rune('a' + i))
			_, errs[i] = f.coordinator.Activate(ctx, record.KeyValue, "device-"+identity)
		}(i)
	}
	wg.Wait()

	var wins, mismatches int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrIdentityMismatch)
		mismatches++
	}
	assert.Equal(t, 1, wins, "exactly one racer may win the activation")
	assert.Equal(t, racers-1, mismatches)

	fields, err := f.store.ReadRecord(ctx, RecordKey(record.KeyValue))
	require.NoError(t, err)
	assert.Equal(t, "used", fields["validation_status"])
	assert.NotEmpty(t, fields["user_id"])
}

func TestResetThenActivateAgain(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)

	record, err := f.manager.Issue(ctx, KeyTypeTrial, ExpiryPolicy{DurationDays: 7})
	require.NoError(t, err)

	_, err = f.coordinator.Activate(ctx, record.KeyValue, "device-1")
	require.NoError(t, err)

	require.NoError(t, f.manager.Reset(ctx, record.KeyValue))

	// After a reset the key is claimable again, though device-1's trial
	// marker still blocks that particular identity.
	_, err = f.coordinator.Activate(ctx, record.KeyValue, "device-1")
	assert.ErrorIs(t, err, apperrors.ErrTrialAlreadyConsumed)

	result, err := f.coordinator.Activate(ctx, record.KeyValue, "device-2")
	require.NoError(t, err)
	assert.Equal(t, StatusUsed, result.ValidationStatus)
}

func TestMarkerExpiryFreesIdentity(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)

	now := time.Now()
	f.store.SetClock(func() time.Time { return now })

	keyA, err := f.manager.Issue(ctx, KeyTypeTrial, ExpiryPolicy{DurationDays: 7})
	require.NoError(t, err)
	keyB, err := f.manager.Issue(ctx, KeyTypeTrial, ExpiryPolicy{DurationDays: 7})
	require.NoError(t, err)

	_, err = f.coordinator.Activate(ctx, keyA.KeyValue, "device-1")
	require.NoError(t, err)

	_, err = f.coordinator.Activate(ctx, keyB.KeyValue, "device-1")
	assert.ErrorIs(t, err, apperrors.ErrTrialAlreadyConsumed)

	// Once the abuse window passes the identity may start a new trial.
	f.store.SetClock(func() time.Time { return now.Add(testMarkerTTL + time.Hour) })

	result, err := f.coordinator.Activate(ctx, keyB.KeyValue, "device-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUsed, result.ValidationStatus)
}

func TestActivationCarriesConfiguredLinks(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)

	require.NoError(t, f.store.WriteRecord(ctx, ConfigRecordKey, map[string]string{
		"shortcut_link":     "https://example.com/shortcut",
		"distribution_link": "https://example.com/download",
	}))

	record, err := f.manager.Issue(ctx, KeyTypePermanent, ExpiryPolicy{})
	require.NoError(t, err)

	result, err := f.coordinator.Activate(ctx, record.KeyValue, "")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/shortcut", result.ShortcutLink)
	assert.Equal(t, "https://example.com/download", result.DistributionLink)
}

func TestCheckStatus(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)

	require.NoError(t, f.store.WriteRecord(ctx, ConfigRecordKey, map[string]string{
		"shortcut_link": "https://example.com/shortcut",
	}))

	permanent, err := f.manager.Issue(ctx, KeyTypePermanent, ExpiryPolicy{})
	require.NoError(t, err)
	active, err := f.manager.Issue(ctx, KeyTypeTrial, ExpiryPolicy{DurationDays: 7})
	require.NoError(t, err)
	expired, err := f.manager.Issue(ctx, KeyTypeTrial, ExpiryPolicy{DurationMinutes: intPtr(0)})
	require.NoError(t, err)

	_, err = f.coordinator.Activate(ctx, active.KeyValue, "device-1")
	require.NoError(t, err)

	t.Run("unknown key", func(t *testing.T) {
		result, err := f.coordinator.CheckStatus(ctx, "MSKnosuch")
		require.NoError(t, err)
		assert.Equal(t, StatusNotFound, result.Status)
	})

	t.Run("permanent key", func(t *testing.T) {
		result, err := f.coordinator.CheckStatus(ctx, permanent.KeyValue)
		require.NoError(t, err)
		assert.Equal(t, StatusPermanent, result.Status)
	})

	t.Run("activated trial", func(t *testing.T) {
		result, err := f.coordinator.CheckStatus(ctx, active.KeyValue)
		require.NoError(t, err)
		assert.Equal(t, StatusTrialActive, result.Status)
		assert.NotNil(t, result.ExpiresAt)
		assert.Equal(t, "https://example.com/shortcut", result.ShortcutLink)
	})

	t.Run("expired trial", func(t *testing.T) {
		result, err := f.coordinator.CheckStatus(ctx, expired.KeyValue)
		require.NoError(t, err)
		assert.Equal(t, StatusTrialExpired, result.Status)
	})

	t.Run("unused trial reads invalid", func(t *testing.T) {
		fresh, err := f.manager.Issue(ctx, KeyTypeTrial, ExpiryPolicy{DurationDays: 7})
		require.NoError(t, err)
		result, err := f.coordinator.CheckStatus(ctx, fresh.KeyValue)
		require.NoError(t, err)
		assert.Equal(t, StatusInvalid, result.Status)
	})
}
