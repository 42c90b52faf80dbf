package license

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	apperrors "keyserve/internal/errors"
	"keyserve/internal/store"
)

// ExpiryPolicy describes how a trial key's expiry is computed at issuance.
// DurationMinutes is the diagnostic/debug path and takes precedence over
// DurationDays whenever it is supplied, including zero (an instantly expired
// key, useful for exercising expiry handling end to end).
type ExpiryPolicy struct {
	DurationDays    int
	DurationMinutes *int
}

// BatchResult reports the outcome of a bulk issuance. AddedCount may fall
// short of the requested quantity when collision retries were exhausted for
// some units; callers treat that as under-delivery, not as an error.
type BatchResult struct {
	GeneratedKeys []string
	AddedCount    int
}

// KeyStats summarizes the key namespace for the admin dashboard
type KeyStats struct {
	Total     int `json:"total"`
	Used      int `json:"used"`
	Unused    int `json:"unused"`
	Trial     int `json:"trial"`
	Permanent int `json:"permanent"`
	Expired   int `json:"expired"`
}

// Manager owns the key record lifecycle: issuance, reset, and deletion
type Manager struct {
	store     store.Store
	generator *Generator
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a lifecycle manager
func NewManager(s store.Store, generator *Generator, logger *slog.Logger) *Manager {
	return &Manager{
		store:     s,
		generator: generator,
		logger:    logger.With(slog.String("component", "key_manager")),
		now:       time.Now,
	}
}

// expiresAt computes a trial key's expiry from the policy
func (m *Manager) expiresAt(policy ExpiryPolicy) (*time.Time, error) {
	now := m.now().UTC()
	if policy.DurationMinutes != nil && *policy.DurationMinutes >= 0 {
		t := now.Add(time.Duration(*policy.DurationMinutes) * time.Minute)
		return &t, nil
	}
	if policy.DurationDays > 0 {
		t := now.AddDate(0, 0, policy.DurationDays)
		return &t, nil
	}
	return nil, apperrors.ErrInvalidDuration
}

// Issue generates and persists one key record with validation_status unused
func (m *Manager) Issue(ctx context.Context, keyType KeyType, policy ExpiryPolicy) (*KeyRecord, error) {
	var expiresAt *time.Time
	if keyType == KeyTypeTrial {
		var err error
		if expiresAt, err = m.expiresAt(policy); err != nil {
			return nil, err
		}
	}

	keyValue, err := m.generator.GenerateUnique(ctx, keyType)
	if err != nil {
		return nil, err
	}

	record := &KeyRecord{
		KeyValue:         keyValue,
		KeyType:          keyType,
		ValidationStatus: StatusUnused,
		CreatedAt:        m.now().UTC(),
		ExpiresAt:        expiresAt,
	}
	if err := m.store.WriteRecord(ctx, RecordKey(keyValue), record.Fields()); err != nil {
		return nil, apperrors.StoreError("write record", err)
	}

	m.logger.InfoContext(ctx, "key issued",
		slog.String("key", keyValue),
		slog.String("key_type", string(keyType)),
	)
	return record, nil
}

// IssueBatch issues up to quantity keys. Units whose collision retries were
// exhausted are skipped; the result reports what was actually added.
func (m *Manager) IssueBatch(ctx context.Context, quantity int, keyType KeyType, policy ExpiryPolicy) (*BatchResult, error) {
	// Validate the expiry policy once up front so an invalid duration fails
	// the whole request instead of issuing nothing key by key.
	if keyType == KeyTypeTrial {
		if _, err := m.expiresAt(policy); err != nil {
			return nil, err
		}
	}

	result := &BatchResult{GeneratedKeys: make([]string, 0, quantity)}
	for i := 0; i < quantity; i++ {
		record, err := m.Issue(ctx, keyType, policy)
		if err != nil {
			if errors.Is(err, apperrors.ErrGenerationExhausted) {
				m.logger.WarnContext(ctx, "skipping unit after exhausted collision retries",
					slog.Int("unit", i),
				)
				continue
			}
			return nil, err
		}
		result.GeneratedKeys = append(result.GeneratedKeys, record.KeyValue)
		result.AddedCount++
	}

	m.logger.InfoContext(ctx, "batch issuance completed",
		slog.Int("requested", quantity),
		slog.Int("added", result.AddedCount),
		slog.String("key_type", string(keyType)),
	)
	return result, nil
}

// Get loads a key record, returning ErrKeyNotFound if absent
func (m *Manager) Get(ctx context.Context, keyValue string) (*KeyRecord, error) {
	fields, err := m.store.ReadRecord(ctx, RecordKey(keyValue))
	if err != nil {
		return nil, apperrors.StoreError("read record", err)
	}
	if fields == nil {
		return nil, apperrors.ErrKeyNotFound
	}
	return RecordFromFields(fields)
}

// Reset rewrites a key record to unused, clearing the activation timestamps
// and releasing the identity binding so the key starts a fresh activation
// cycle as if newly issued.
func (m *Manager) Reset(ctx context.Context, keyValue string) error {
	exists, err := m.store.Exists(ctx, RecordKey(keyValue))
	if err != nil {
		return apperrors.StoreError("exists", err)
	}
	if !exists {
		return apperrors.ErrKeyNotFound
	}

	err = m.store.WriteRecord(ctx, RecordKey(keyValue), map[string]string{
		fieldValidationStatus: string(StatusUnused),
		fieldActivatedAt:      "",
		fieldWebValidatedTime: "",
		fieldUserID:           "",
	})
	if err != nil {
		return apperrors.StoreError("write record", err)
	}

	m.logger.InfoContext(ctx, "key reset to unused", slog.String("key", keyValue))
	return nil
}

// Delete removes a key record. Deleting a nonexistent key is not an error.
func (m *Manager) Delete(ctx context.Context, keyValue string) error {
	if _, err := m.store.DeleteRecords(ctx, RecordKey(keyValue)); err != nil {
		return apperrors.StoreError("delete record", err)
	}
	return nil
}

// BatchDelete removes multiple key records in one pipelined batch and
// returns how many actually existed.
func (m *Manager) BatchDelete(ctx context.Context, keyValues []string) (int64, error) {
	if len(keyValues) == 0 {
		return 0, nil
	}
	recordKeys := make([]string, len(keyValues))
	for i, keyValue := range keyValues {
		recordKeys[i] = RecordKey(keyValue)
	}
	removed, err := m.store.DeleteRecords(ctx, recordKeys...)
	if err != nil {
		return 0, apperrors.StoreError("batch delete", err)
	}
	m.logger.InfoContext(ctx, "batch delete completed",
		slog.Int("requested", len(keyValues)),
		slog.Int64("removed", removed),
	)
	return removed, nil
}

// List returns all key records, most recently created first
func (m *Manager) List(ctx context.Context) ([]*KeyRecord, error) {
	recordKeys, err := m.store.ScanRecords(ctx, RecordKeyPattern)
	if err != nil {
		return nil, apperrors.StoreError("scan records", err)
	}

	records := make([]*KeyRecord, 0, len(recordKeys))
	for _, recordKey := range recordKeys {
		fields, err := m.store.ReadRecord(ctx, recordKey)
		if err != nil {
			return nil, apperrors.StoreError("read record", err)
		}
		if fields == nil {
			// Deleted between scan and read; skip.
			continue
		}
		record, err := RecordFromFields(fields)
		if err != nil {
			m.logger.WarnContext(ctx, "skipping malformed key record",
				slog.String("record_key", recordKey),
				slog.String("error", err.Error()),
			)
			continue
		}
		records = append(records, record)
	}

	sortRecordsByCreation(records)
	return records, nil
}

// Stats summarizes the key namespace
func (m *Manager) Stats(ctx context.Context) (*KeyStats, error) {
	records, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &KeyStats{Total: len(records)}
	now := m.now()
	for _, record := range records {
		if record.ValidationStatus == StatusUsed {
			stats.Used++
		} else {
			stats.Unused++
		}
		if record.KeyType == KeyTypeTrial {
			stats.Trial++
		} else {
			stats.Permanent++
		}
		if record.IsExpired(now) {
			stats.Expired++
		}
	}
	return stats, nil
}

// sortRecordsByCreation orders records newest first, key value as tiebreak
func sortRecordsByCreation(records []*KeyRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].KeyValue < records[j].KeyValue
	})
}
