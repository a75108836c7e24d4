package muninnerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToolErrorChainSupportsErrorsAs(t *testing.T) {
	base := errors.New("boom")
	wrapped := NewToolErrorWithCause("tool failed", base)

	var te *ToolError
	require.True(t, errors.As(wrapped, &te))
	require.Equal(t, "tool failed", te.Message)
	require.NotNil(t, te.Cause)
	require.Equal(t, "boom", te.Cause.Message)
}

func TestRecoveredPanicProducesGenericMessage(t *testing.T) {
	te := Recovered("index out of range")
	require.Contains(t, te.Error(), "tool panicked")
}

func TestBackendErrorUnwrap(t *testing.T) {
	base := errors.New("dial tcp: timeout")
	be := NewNetworkError(base)
	require.ErrorIs(t, be, base)
	require.Equal(t, "api_error", be.ErrorType())
}

func TestBackendErrorTypeMapping(t *testing.T) {
	require.Equal(t, "authentication_error", NewAuthError("bad key").ErrorType())
	require.Equal(t, "rate_limit_error", NewRateLimitError(5).ErrorType())
	require.Equal(t, "api_error", NewUpstream5xxError(502, "bad gateway").ErrorType())
}

func TestRequestErrorHTTPStatus(t *testing.T) {
	require.Equal(t, 400, NewInvalidRequestError("bad json").HTTPStatus())
	require.Equal(t, 503, NewOverloadedError().HTTPStatus())
	require.Equal(t, 500, NewInternalError(errors.New("panic")).HTTPStatus())
}
