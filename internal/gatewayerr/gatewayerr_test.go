package gatewayerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindHTTPStatusTable(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
		code   string
	}{
		{KindValidation, http.StatusBadRequest, "VALIDATION_ERROR"},
		{KindAuthentication, http.StatusUnauthorized, "AUTHENTICATION_ERROR"},
		{KindAuthorization, http.StatusForbidden, "AUTHORIZATION_ERROR"},
		{KindNotFound, http.StatusNotFound, "NOT_FOUND"},
		{KindConflict, http.StatusConflict, "CONFLICT"},
		{KindRateLimit, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED"},
		{KindPOP3, http.StatusBadGateway, "POP3_ERROR"},
		{KindEncryption, http.StatusInternalServerError, "ENCRYPTION_ERROR"},
		{KindInternal, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.status, tc.kind.HTTPStatus())
		require.Equal(t, tc.code, tc.kind.String())
	}
}

func TestAsUnwrapsWrappedError(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	ge := POP3("upstream mailbox unreachable", cause)
	wrapped := fmt.Errorf("outer: %w", ge)

	got, ok := As(wrapped)
	require.True(t, ok)
	require.Equal(t, KindPOP3, got.Kind)
	require.ErrorIs(t, got, cause)
}

func TestAsFalseForPlainError(t *testing.T) {
	_, ok := As(errors.New("plain"))
	require.False(t, ok)
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	require.Equal(t, KindInternal, KindOf(errors.New("plain")))
	require.Equal(t, KindValidation, KindOf(Validation("bad input")))
}

func TestWithFieldDoesNotMutateOriginal(t *testing.T) {
	base := New(KindValidation, "bad input")
	derived := base.WithField("field", "email")

	require.Nil(t, base.Fields())
	require.Equal(t, "email", derived.Fields()["field"])
}

func TestValidationFormatsMessage(t *testing.T) {
	err := Validation("inbox %s not found", "abc-123")
	require.Equal(t, "inbox abc-123 not found", err.Message)
}
