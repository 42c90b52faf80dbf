package license

import (
	"context"
	"log/slog"
	"time"

	apperrors "keyserve/internal/errors"
	"keyserve/internal/store"
)

// Decision is the outcome of the trial guard's evaluation
type Decision int

const (
	// DecisionActivate transitions the record to used without binding
	DecisionActivate Decision = iota
	// DecisionActivateWithBinding additionally binds the presented identity
	// and writes its trial marker
	DecisionActivateWithBinding
	// DecisionNoop grants use without any state write (idempotent
	// re-validation of an already used key)
	DecisionNoop
)

// TrialGuard decides whether use of a key may proceed and whether an
// identity-binding side effect must occur. The evaluation order is fixed so
// refusals carry deterministic error codes.
type TrialGuard struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewTrialGuard creates a guard consulting the given store for trial markers
func NewTrialGuard(s store.Store, logger *slog.Logger) *TrialGuard {
	return &TrialGuard{
		store:  s,
		logger: logger.With(slog.String("component", "trial_guard")),
		now:    time.Now,
	}
}

// Evaluate runs the decision procedure for a key record and optional identity
// token. An empty identity means the flow does not request identity binding.
func (g *TrialGuard) Evaluate(ctx context.Context, record *KeyRecord, identity string) (Decision, error) {
	// Expiry dominates everything else, including an unused status.
	if record.IsExpired(g.now()) {
		return 0, apperrors.ErrTrialExpired
	}

	if record.ValidationStatus == StatusUsed {
		// Permanent keys re-validate idempotently and never require an
		// identity match.
		if record.KeyType == KeyTypePermanent {
			return DecisionNoop, nil
		}
		if identity == "" {
			return 0, apperrors.ErrAlreadyUsed
		}
		if record.UserID == "" {
			// A used trial key reached through the identity-bound flow must
			// have been bound at activation. Refuse rather than adopt the
			// presented identity.
			g.logger.WarnContext(ctx, "used trial key has no identity binding",
				slog.String("key", record.KeyValue),
			)
			return 0, apperrors.ErrAlreadyUsed
		}
		if record.UserID != identity {
			return 0, apperrors.ErrIdentityMismatch
		}
		return DecisionNoop, nil
	}

	// Unused. The one-trial-per-identity rule only applies to the
	// identity-bound flow on trial keys.
	if record.KeyType == KeyTypeTrial && identity != "" {
		consumed, err := g.store.MarkerExists(ctx, MarkerKey(identity))
		if err != nil {
			return 0, apperrors.StoreError("marker exists", err)
		}
		if consumed {
			return 0, apperrors.ErrTrialAlreadyConsumed
		}
		return DecisionActivateWithBinding, nil
	}

	return DecisionActivate, nil
}
