package license

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	apperrors "keyserve/internal/errors"
	"keyserve/internal/store"
)

const (
	// keyPrefix tags every issued key
	keyPrefix = "MSK"
	// randomLength is the number of random characters after the prefix
	randomLength = 6
	// TrialSuffix makes trial keys lexically recognizable
	TrialSuffix = "sy"
	// maxGenerateAttempts bounds collision retries for one key
	maxGenerateAttempts = 5
)

// keyAlphabet is the 62-symbol alphanumeric draw set
const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generator produces collision-checked random key identifiers
type Generator struct {
	store  store.Store
	logger *slog.Logger
}

// NewGenerator creates a key generator backed by the given store
func NewGenerator(s store.Store, logger *slog.Logger) *Generator {
	return &Generator{store: s, logger: logger.With(slog.String("component", "key_generator"))}
}

// Generate draws a fresh key identifier without a collision check. Only
// trial keys carry the trial suffix: a permanent draw that happens to end in
// it is redrawn so key types stay lexically distinguishable.
func (g *Generator) Generate(keyType KeyType) (string, error) {
	for {
		key, err := g.draw()
		if err != nil {
			return "", err
		}
		if keyType == KeyTypeTrial {
			return key + TrialSuffix, nil
		}
		if !strings.HasSuffix(key, TrialSuffix) {
			return key, nil
		}
	}
}

// draw produces the fixed prefix followed by the random part
func (g *Generator) draw() (string, error) {
	var sb strings.Builder
	sb.WriteString(keyPrefix)
	max := big.NewInt(int64(len(keyAlphabet)))
	for i := 0; i < randomLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to draw random key character: %w", err)
		}
		sb.WriteByte(keyAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// GenerateUnique draws key identifiers until one does not collide with an
// existing record, giving up after a small bounded attempt count. Callers
// issuing in bulk treat ErrGenerationExhausted as under-delivery for that
// unit, not as a request failure.
func (g *Generator) GenerateUnique(ctx context.Context, keyType KeyType) (string, error) {
	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		key, err := g.Generate(keyType)
		if err != nil {
			return "", err
		}
		exists, err := g.store.Exists(ctx, RecordKey(key))
		if err != nil {
			return "", apperrors.StoreError("exists", err)
		}
		if !exists {
			return key, nil
		}
		g.logger.DebugContext(ctx, "key collision, retrying",
			slog.Int("attempt", attempt),
			slog.String("key_type", string(keyType)),
		)
	}
	return "", apperrors.ErrGenerationExhausted
}

// IsTrialKey reports whether a key value carries the trial suffix
func IsTrialKey(keyValue string) bool {
	return strings.HasSuffix(keyValue, TrialSuffix)
}
