package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eclia/gateway/pkg/types"
)

type fakeProvider struct{ kind types.ProviderKind }

func (f *fakeProvider) Origin() types.ProviderKind { return f.kind }
func (f *fakeProvider) BuildContext(history []types.Record, tokenBudget int) ContextResult {
	return ContextResult{}
}
func (f *fakeProvider) StreamTurn(ctx context.Context, req StreamRequest) (StreamResult, error) {
	return StreamResult{}, nil
}
func (f *fakeProvider) BuildAssistantToolCallMessage(text string, calls []types.ToolCall, ts int64) *types.MessageRecord {
	return nil
}
func (f *fakeProvider) BuildToolResultMessage(callID string, resultText string, isError bool, ts int64) *types.MessageRecord {
	return nil
}

func TestRegistryBuildResolvesByScheme(t *testing.T) {
	r := NewRegistry()
	r.Register(types.ProviderOpenAICompat, func(sel types.UpstreamSelection) (Provider, error) {
		return &fakeProvider{kind: types.ProviderOpenAICompat}, nil
	})

	p, err := r.Build(types.UpstreamSelection{ProviderKind: types.ProviderOpenAICompat})
	require.NoError(t, err)
	require.Equal(t, types.ProviderOpenAICompat, p.Origin())
}

func TestRegistryBuildUnknownSchemeFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build(types.UpstreamSelection{ProviderKind: "bogus"})
	require.Error(t, err)
}
