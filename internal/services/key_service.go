// Package services provides the application layer between HTTP handlers and
// the license domain: request-scoped orchestration, metrics recording, and
// the interfaces handlers are tested against.
package services

import (
	"context"
	"errors"
	"log/slog"

	apperrors "keyserve/internal/errors"
	"keyserve/internal/infrastructure"
	"keyserve/internal/license"
)

// KeyService exposes the public key operations
type KeyService interface {
	// Activate validates and activates a key, optionally binding an identity
	Activate(ctx context.Context, keyValue, identity string) (*license.ActivationResult, error)
	// CheckStatus classifies a key without mutating state
	CheckStatus(ctx context.Context, keyValue string) (*license.StatusResult, error)
}

type keyService struct {
	coordinator *license.Coordinator
	metrics     *infrastructure.Metrics
	logger      *slog.Logger
}

// NewKeyService creates the public key service
func NewKeyService(coordinator *license.Coordinator, metrics *infrastructure.Metrics, logger *slog.Logger) KeyService {
	return &keyService{
		coordinator: coordinator,
		metrics:     metrics,
		logger:      logger.With(slog.String("service", "keys")),
	}
}

func (s *keyService) Activate(ctx context.Context, keyValue, identity string) (*license.ActivationResult, error) {
	result, err := s.coordinator.Activate(ctx, keyValue, identity)
	s.metrics.ActivationsTotal.WithLabelValues(activationOutcome(err)).Inc()
	if err != nil {
		countStoreFailure(s.metrics, err)
		return nil, err
	}
	return result, nil
}

func (s *keyService) CheckStatus(ctx context.Context, keyValue string) (*license.StatusResult, error) {
	result, err := s.coordinator.CheckStatus(ctx, keyValue)
	if err != nil {
		countStoreFailure(s.metrics, err)
		return nil, err
	}
	return result, nil
}

// countStoreFailure increments the store failure counter when an operation
// failed on infrastructure rather than a business refusal
func countStoreFailure(m *infrastructure.Metrics, err error) {
	if errors.Is(err, apperrors.ErrStoreUnavailable) {
		m.StoreErrorsTotal.Inc()
	}
}

// activationOutcome labels the activation metric with the business code of a
// refusal, or "success"
func activationOutcome(err error) string {
	if err == nil {
		return "success"
	}
	return apperrors.MapKeyError(err).ErrorCode
}
