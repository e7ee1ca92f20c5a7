package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eclia/gateway/internal/apperror"
)

func TestStatusForKindKnownKinds(t *testing.T) {
	cases := []struct {
		kind apperror.Kind
		want int
	}{
		{apperror.KindInvalidRequest, 400},
		{apperror.KindSessionNotFound, 404},
		{apperror.KindSessionInUse, 409},
		{apperror.KindForbiddenArtifact, 403},
		{apperror.KindUpstreamHTTP, 502},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusForKind(tc.kind))
	}
}

func TestStatusForKindUnknownDefaultsTo500(t *testing.T) {
	require.Equal(t, 500, statusForKind(apperror.KindToolhostError))
}

func TestWriteAppErrorWritesKindAsCode(t *testing.T) {
	rec := httptest.NewRecorder()
	writeAppError(rec, apperror.ErrSessionNotFound)

	require.Equal(t, 404, rec.Code)
	require.Contains(t, rec.Body.String(), `"code":"session_not_found"`)
}

func TestWriteSuccessShape(t *testing.T) {
	rec := httptest.NewRecorder()
	writeSuccess(rec)

	require.Equal(t, 200, rec.Code)
	require.JSONEq(t, `{"success":true}`, rec.Body.String())
}
