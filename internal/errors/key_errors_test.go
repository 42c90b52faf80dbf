package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapKeyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"key not found", ErrKeyNotFound, http.StatusNotFound, CodeKeyNotFound},
		{"trial expired", ErrTrialExpired, http.StatusForbidden, CodeTrialExpired},
		{"already used", ErrAlreadyUsed, http.StatusConflict, CodeAlreadyUsed},
		{"identity mismatch", ErrIdentityMismatch, http.StatusForbidden, CodeIdentityMismatch},
		{"trial already consumed", ErrTrialAlreadyConsumed, http.StatusForbidden, CodeTrialAlreadyConsumed},
		{"invalid duration", ErrInvalidDuration, http.StatusBadRequest, CodeInvalidDuration},
		{"invalid key format", ErrInvalidKeyFormat, http.StatusBadRequest, CodeInvalidKeyFormat},
		{"unknown link type", ErrUnknownLinkType, http.StatusBadRequest, "UNKNOWN_LINK_TYPE"},
		{"store failure", StoreError("read", errors.New("dial tcp: refused")), http.StatusServiceUnavailable, CodeStoreUnavailable},
		{"deadline exceeded", context.DeadlineExceeded, http.StatusServiceUnavailable, CodeStoreUnavailable},
		{"wrapped sentinel", fmt.Errorf("activate: %w", ErrTrialExpired), http.StatusForbidden, CodeTrialExpired},
		{"unknown error", errors.New("surprise"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := MapKeyError(tt.err)
			require.NotNil(t, apiErr)
			assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
			assert.Equal(t, tt.wantCode, apiErr.ErrorCode)
		})
	}
}

func TestStoreError(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, StoreError("read", nil))
	})

	t.Run("matches the sentinel and keeps the cause", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := StoreError("write record", cause)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "write record")
	})

	t.Run("store failures never map to business codes", func(t *testing.T) {
		err := StoreError("read record", errors.New("key not found in cluster"))
		apiErr := MapKeyError(err)
		assert.Equal(t, CodeStoreUnavailable, apiErr.ErrorCode)
	})
}
