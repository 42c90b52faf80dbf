package license

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "keyserve/internal/errors"
	"keyserve/internal/store"
)

// KeyStatus is the non-mutating quick-status classification of a key
type KeyStatus string

const (
	StatusPermanent    KeyStatus = "permanent"
	StatusTrialActive  KeyStatus = "trial_active"
	StatusTrialExpired KeyStatus = "trial_expired"
	StatusNotFound     KeyStatus = "not_found"
	StatusInvalid      KeyStatus = "invalid"
)

// ActivationResult is what a successful activation (or idempotent
// re-validation) reports back to the client application.
type ActivationResult struct {
	KeyValue         string           `json:"key_value"`
	KeyType          KeyType          `json:"key_type"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
	ActivatedAt      *time.Time       `json:"activated_at,omitempty"`
	ShortcutLink     string           `json:"shortcut_link,omitempty"`
	DistributionLink string           `json:"distribution_link,omitempty"`
}

// StatusResult is the response of the quick-status check
type StatusResult struct {
	Status       KeyStatus  `json:"status"`
	KeyType      KeyType    `json:"key_type,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	ShortcutLink string     `json:"shortcut_link,omitempty"`
}

// casAttempts bounds how often a lost conditional write is re-evaluated.
// One retry suffices in practice: after losing, the record reads used and the
// guard refuses or no-ops; a second loss means a reset raced in between.
const casAttempts = 3

// Coordinator orchestrates activation requests: it loads the record, runs the
// trial guard, and performs the conditional state transition.
type Coordinator struct {
	store     store.Store
	guard     *TrialGuard
	logger    *slog.Logger
	markerTTL time.Duration
	now       func() time.Time
}

// NewCoordinator creates an activation coordinator. markerTTL bounds the
// one-trial-per-identity abuse window.
func NewCoordinator(s store.Store, guard *TrialGuard, markerTTL time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:     s,
		guard:     guard,
		logger:    logger.With(slog.String("component", "activation_coordinator")),
		markerTTL: markerTTL,
		now:       time.Now,
	}
}

// Activate validates and activates a key for an optional identity token.
// The unused -> used transition is a conditional write: it applies only if
// the stored status still reads unused, so concurrent activations of the same
// key admit exactly one winner. A loser re-runs the guard against the fresh
// record and receives the same deterministic refusal a late arrival would.
func (c *Coordinator) Activate(ctx context.Context, keyValue, identity string) (*ActivationResult, error) {
	tracer := otel.Tracer("license")
	ctx, span := tracer.Start(ctx, "coordinator.activate",
		trace.WithAttributes(
			attribute.String("key.type_hint", keyTypeHint(keyValue)),
			attribute.Bool("identity.present", identity != ""),
		),
	)
	defer span.End()

	record, err := c.load(ctx, keyValue)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		decision, err := c.guard.Evaluate(ctx, record, identity)
		if err != nil {
			span.SetAttributes(attribute.String("activation.refusal", err.Error()))
			return nil, err
		}

		if decision == DecisionNoop {
			span.SetAttributes(attribute.String("activation.outcome", "idempotent"))
			return c.result(ctx, record), nil
		}

		now := c.now().UTC()
		stamp := now.Format(time.RFC3339)
		fields := map[string]string{
			fieldValidationStatus: string(StatusUsed),
			fieldActivatedAt:      stamp,
			fieldWebValidatedTime: stamp,
		}
		markerKey := ""
		if decision == DecisionActivateWithBinding {
			fields[fieldUserID] = identity
			markerKey = MarkerKey(identity)
		}

		won, err := c.store.ActivateIfUnused(ctx, RecordKey(keyValue), fields, markerKey, c.markerTTL)
		if err != nil {
			return nil, apperrors.StoreError("activate", err)
		}
		if won {
			record.ValidationStatus = StatusUsed
			record.ActivatedAt = &now
			record.WebValidatedTime = &now
			if decision == DecisionActivateWithBinding {
				record.UserID = identity
			}
			span.SetAttributes(attribute.String("activation.outcome", "activated"))
			c.logger.InfoContext(ctx, "key activated",
				slog.String("key", keyValue),
				slog.String("key_type", string(record.KeyType)),
				slog.Bool("identity_bound", decision == DecisionActivateWithBinding),
			)
			return c.result(ctx, record), nil
		}

		// Lost the conditional write: someone else activated (or the record
		// changed) between our read and the transition. Re-evaluate against
		// the fresh state for a deterministic refusal.
		c.logger.WarnContext(ctx, "conditional activation lost, re-evaluating",
			slog.String("key", keyValue),
			slog.Int("attempt", attempt+1),
		)
		if record, err = c.load(ctx, keyValue); err != nil {
			return nil, err
		}
	}

	// The record kept flipping back to unused under us (concurrent resets).
	// Surface the conflict rather than spinning.
	return nil, apperrors.ErrAlreadyUsed
}

// CheckStatus classifies a key without mutating any state. Used by periodic
// client-side health checks, distinct from activation.
func (c *Coordinator) CheckStatus(ctx context.Context, keyValue string) (*StatusResult, error) {
	fields, err := c.store.ReadRecord(ctx, RecordKey(keyValue))
	if err != nil {
		return nil, apperrors.StoreError("read record", err)
	}
	if fields == nil {
		return &StatusResult{Status: StatusNotFound}, nil
	}
	record, err := RecordFromFields(fields)
	if err != nil {
		c.logger.WarnContext(ctx, "malformed key record in status check",
			slog.String("key", keyValue),
			slog.String("error", err.Error()),
		)
		return &StatusResult{Status: StatusInvalid}, nil
	}

	if record.KeyType == KeyTypePermanent {
		return &StatusResult{Status: StatusPermanent, KeyType: record.KeyType}, nil
	}
	if record.IsExpired(c.now()) {
		return &StatusResult{Status: StatusTrialExpired, KeyType: record.KeyType, ExpiresAt: record.ExpiresAt}, nil
	}
	if record.ValidationStatus != StatusUsed {
		// A trial key that was never activated has no status to report to a
		// running client; it must go through activation first.
		return &StatusResult{Status: StatusInvalid, KeyType: record.KeyType}, nil
	}

	result := &StatusResult{Status: StatusTrialActive, KeyType: record.KeyType, ExpiresAt: record.ExpiresAt}
	if cfg := c.readConfig(ctx); cfg != nil {
		result.ShortcutLink = cfg["shortcut_link"]
	}
	return result, nil
}

// load reads a record, mapping absence to ErrKeyNotFound
func (c *Coordinator) load(ctx context.Context, keyValue string) (*KeyRecord, error) {
	fields, err := c.store.ReadRecord(ctx, RecordKey(keyValue))
	if err != nil {
		return nil, apperrors.StoreError("read record", err)
	}
	if fields == nil {
		return nil, apperrors.ErrKeyNotFound
	}
	record, err := RecordFromFields(fields)
	if err != nil {
		c.logger.ErrorContext(ctx, "malformed key record",
			slog.String("key", keyValue),
			slog.String("error", err.Error()),
		)
		return nil, apperrors.ErrKeyNotFound
	}
	return record, nil
}

// result assembles the activation response, attaching operator-configured
// links. Config read failures are logged, not surfaced: the activation itself
// already committed.
func (c *Coordinator) result(ctx context.Context, record *KeyRecord) *ActivationResult {
	result := &ActivationResult{
		KeyValue:         record.KeyValue,
		KeyType:          record.KeyType,
		ValidationStatus: record.ValidationStatus,
		ExpiresAt:        record.ExpiresAt,
		ActivatedAt:      record.ActivatedAt,
	}
	if cfg := c.readConfig(ctx); cfg != nil {
		result.ShortcutLink = cfg["shortcut_link"]
		result.DistributionLink = cfg["distribution_link"]
	}
	return result
}

func (c *Coordinator) readConfig(ctx context.Context) map[string]string {
	cfg, err := c.store.ReadRecord(ctx, ConfigRecordKey)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to read system config",
			slog.String("error", err.Error()),
		)
		return nil
	}
	return cfg
}

// keyTypeHint classifies a key value lexically for span attributes
func keyTypeHint(keyValue string) string {
	if IsTrialKey(keyValue) {
		return string(KeyTypeTrial)
	}
	return string(KeyTypePermanent)
}
