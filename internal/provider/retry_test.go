package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eclia/gateway/internal/apperror"
)

func TestIsTransientFor5xxAnd429(t *testing.T) {
	require.True(t, isTransient(apperror.NewUpstreamHTTPError(500, "boom")))
	require.True(t, isTransient(apperror.NewUpstreamHTTPError(429, "rate limited")))
	require.True(t, isTransient(&apperror.UpstreamNetworkError{Op: "dial", Err: errors.New("refused")}))
}

func TestIsTransientFalseFor4xx(t *testing.T) {
	require.False(t, isTransient(apperror.NewUpstreamHTTPError(400, "bad request")))
	require.False(t, isTransient(apperror.NewUpstreamHTTPError(401, "unauthorized")))
}

func TestIsTransientFalseForUnrelatedError(t *testing.T) {
	require.False(t, isTransient(errors.New("something else")))
}
