package provider

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleNotificationRoutesDeltaToOnDelta(t *testing.T) {
	p := &codexProvider{}

	var got []string
	p.onDelta = func(text string) { got = append(got, text) }

	p.handleNotification(rpcResponse{Method: "turn/delta", Params: []byte(`{"text":"hel"}`)})
	p.handleNotification(rpcResponse{Method: "turn/delta", Params: []byte(`{"text":"lo"}`)})

	require.Equal(t, []string{"hel", "lo"}, got)
}

func TestHandleNotificationIgnoresOtherMethods(t *testing.T) {
	p := &codexProvider{}

	called := false
	p.onDelta = func(string) { called = true }

	p.handleNotification(rpcResponse{Method: "account/login/progress", Params: []byte(`{"text":"hi"}`)})
	require.False(t, called)
}

func TestHandleNotificationNoOnDeltaRegisteredIsNoop(t *testing.T) {
	p := &codexProvider{}
	require.NotPanics(t, func() {
		p.handleNotification(rpcResponse{Method: "turn/delta", Params: []byte(`{"text":"hi"}`)})
	})
}

func TestHandleNotificationEmptyTextIsNoop(t *testing.T) {
	p := &codexProvider{}

	called := false
	p.onDelta = func(string) { called = true }

	p.handleNotification(rpcResponse{Method: "turn/delta", Params: []byte(`{"text":""}`)})
	require.False(t, called)
}
