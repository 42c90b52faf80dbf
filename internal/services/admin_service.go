package services

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "keyserve/internal/errors"
	"keyserve/internal/infrastructure"
	"keyserve/internal/license"
	"keyserve/internal/store"
)

// Config link types the admin endpoint may set
const (
	LinkTypeShortcut     = "shortcut_link"
	LinkTypeDistribution = "distribution_link"
)

// AdminService exposes administrator key management operations.
// Authentication happens in middleware before any of these are reached.
type AdminService interface {
	IssueBatch(ctx context.Context, quantity int, keyType license.KeyType, policy license.ExpiryPolicy) (*license.BatchResult, error)
	Reset(ctx context.Context, keyValue string) error
	BatchDelete(ctx context.Context, keyValues []string) (int64, error)
	ListKeys(ctx context.Context) ([]*license.KeyRecord, error)
	Stats(ctx context.Context) (*license.KeyStats, error)
	GetConfig(ctx context.Context) (map[string]string, error)
	SetConfigLink(ctx context.Context, linkType, url string) error
}

type adminService struct {
	manager *license.Manager
	store   store.Store
	metrics *infrastructure.Metrics
	logger  *slog.Logger
}

// NewAdminService creates the admin service
func NewAdminService(manager *license.Manager, s store.Store, metrics *infrastructure.Metrics, logger *slog.Logger) AdminService {
	return &adminService{
		manager: manager,
		store:   s,
		metrics: metrics,
		logger:  logger.With(slog.String("service", "admin")),
	}
}

func (s *adminService) IssueBatch(ctx context.Context, quantity int, keyType license.KeyType, policy license.ExpiryPolicy) (*license.BatchResult, error) {
	result, err := s.manager.IssueBatch(ctx, quantity, keyType, policy)
	if err != nil {
		countStoreFailure(s.metrics, err)
		return nil, err
	}
	s.metrics.KeysIssuedTotal.WithLabelValues(string(keyType)).Add(float64(result.AddedCount))
	return result, nil
}

func (s *adminService) Reset(ctx context.Context, keyValue string) error {
	if err := s.manager.Reset(ctx, keyValue); err != nil {
		countStoreFailure(s.metrics, err)
		return err
	}
	s.metrics.KeysResetTotal.Inc()
	return nil
}

func (s *adminService) BatchDelete(ctx context.Context, keyValues []string) (int64, error) {
	removed, err := s.manager.BatchDelete(ctx, keyValues)
	if err != nil {
		countStoreFailure(s.metrics, err)
		return 0, err
	}
	s.metrics.KeysDeletedTotal.Add(float64(removed))
	return removed, nil
}

func (s *adminService) ListKeys(ctx context.Context) ([]*license.KeyRecord, error) {
	return s.manager.List(ctx)
}

func (s *adminService) Stats(ctx context.Context) (*license.KeyStats, error) {
	return s.manager.Stats(ctx)
}

func (s *adminService) GetConfig(ctx context.Context) (map[string]string, error) {
	cfg, err := s.store.ReadRecord(ctx, license.ConfigRecordKey)
	if err != nil {
		return nil, apperrors.StoreError("read config", err)
	}
	if cfg == nil {
		cfg = map[string]string{}
	}
	return cfg, nil
}

func (s *adminService) SetConfigLink(ctx context.Context, linkType, url string) error {
	switch linkType {
	case LinkTypeShortcut, LinkTypeDistribution:
	default:
		return fmt.Errorf("%w: %q", apperrors.ErrUnknownLinkType, linkType)
	}
	err := s.store.WriteRecord(ctx, license.ConfigRecordKey, map[string]string{linkType: url})
	if err != nil {
		return apperrors.StoreError("write config", err)
	}
	s.logger.InfoContext(ctx, "config link updated", slog.String("link_type", linkType))
	return nil
}
