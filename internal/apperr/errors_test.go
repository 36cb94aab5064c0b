package apperr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"ms-eventchain/internal/apperr"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("apply: %w", apperr.Conflict("already applied"))

	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	assert.False(t, errors.Is(err, apperr.ErrNotFound))
	assert.Equal(t, "already applied", apperr.PublicMessage(err))
}

func TestUnknownErrorIsInternal(t *testing.T) {
	err := errors.New("connection reset by peer")

	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Equal(t, "internal server error", apperr.PublicMessage(err))
	assert.Equal(t, http.StatusInternalServerError, apperr.HTTPStatus(apperr.KindOf(err)))
}

func TestDependencyKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := apperr.Dependency(cause, "minting service unavailable")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusBadGateway, apperr.HTTPStatus(err.Kind))
	assert.NotContains(t, apperr.PublicMessage(err), "dial tcp")
}

func TestHTTPStatus(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindValidation:       http.StatusBadRequest,
		apperr.KindNotFound:         http.StatusNotFound,
		apperr.KindConflict:         http.StatusConflict,
		apperr.KindAlreadyTriggered: http.StatusConflict,
		apperr.KindInvalidState:     http.StatusUnprocessableEntity,
		apperr.KindUnauthorized:     http.StatusUnauthorized,
		apperr.KindForbidden:        http.StatusForbidden,
	}
	for kind, status := range cases {
		assert.Equal(t, status, apperr.HTTPStatus(kind), kind)
	}
}
