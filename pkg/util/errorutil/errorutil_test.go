package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDomainError(t *testing.T) {
	t.Run("domain error passes through wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("approve: %w", NewNoPendingApproval(map[string]any{"ticket_id": int64(1)}))
		de := ToDomainError(wrapped)
		require.NotNil(t, de)
		assert.Equal(t, CodeNoPendingApproval, de.Code)
		assert.Equal(t, http.StatusBadRequest, de.HTTPStatus)
	})

	t.Run("no rows maps to not found", func(t *testing.T) {
		de := ToDomainError(fmt.Errorf("get ticket: %w", pgx.ErrNoRows))
		assert.Equal(t, CodeNotFound, de.Code)
		assert.Equal(t, http.StatusNotFound, de.HTTPStatus)
	})

	t.Run("anything else is internal", func(t *testing.T) {
		de := ToDomainError(errors.New("connection reset"))
		assert.Equal(t, CodeInternal, de.Code)
		assert.Equal(t, http.StatusInternalServerError, de.HTTPStatus)
		assert.EqualError(t, de, "internal server error: connection reset")
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, ToDomainError(nil))
		assert.NoError(t, MapError(nil))
	})
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("instantiate: %w", NewResolutionError("no superior", nil))
	assert.True(t, HasCode(err, CodeResolution))
	assert.False(t, HasCode(err, CodeValidation))
	assert.False(t, HasCode(errors.New("plain"), CodeResolution))
}
