package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindAndStatusThroughWrapping(t *testing.T) {
	base := External("create customer failed", http.StatusServiceUnavailable, errors.New("dial tcp: refused"))
	wrapped := fmt.Errorf("stage 1: %w", base)

	assert.Equal(t, KindExternal, KindOf(wrapped))
	assert.Equal(t, http.StatusServiceUnavailable, StatusOf(wrapped))
	assert.Equal(t, "create customer failed", MessageOf(wrapped))
	assert.Contains(t, wrapped.Error(), "dial tcp: refused")
	assert.False(t, IsPermanent(wrapped))
}

func TestExternalDefaultsToBadGateway(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, External("x", 0, nil).Status)
}

func TestUnknownErrorsAreInternal(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(err))
	assert.Equal(t, "internal server error", MessageOf(err))
}

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NotFound("payment not found"))
	assert.True(t, errors.Is(err, NotFound("")))
	assert.True(t, errors.Is(err, NotFound("payment not found")))
	assert.False(t, errors.Is(err, NotFound("user not found")))
	assert.False(t, errors.Is(err, Conflict("")))
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(Validation("bad email")))
	assert.True(t, IsPermanent(Inconsistency("user missing")))
	assert.False(t, IsPermanent(Internal("db down", nil)))
	assert.False(t, IsPermanent(errors.New("plain")))
}
