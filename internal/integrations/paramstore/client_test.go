package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
}

func (f *fakeAPI) GetParameter(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr(`{"k":"v"}`),
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, `{"k":"v"}`, v)
}

func TestGetParameter_HappyPath_SecureString(t *testing.T) {
	typeStr := "SecureString"
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr(`{"k":"v"}`), Type: types.ParameterType(typeStr),
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, `{"k":"v"}`, v)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("boom")}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	api := &fakeAPI{}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestGetParameter_NotFound(t *testing.T) {
	api := &fakeAPI{getErr: &types.ParameterNotFound{}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "/vibe-trader/codex-api-key")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetParameter_RequestsDecryption(t *testing.T) {
	api := &recordingAPI{}
	client, err := New(api)
	require.NoError(t, err)
	_, _ = client.GetParameter(context.Background(), " /vibe-trader/open-ai-token ")
	require.Equal(t, "/vibe-trader/open-ai-token", *api.last.Name)
	require.True(t, *api.last.WithDecryption)
}

type recordingAPI struct {
	last *ssm.GetParameterInput
}

func (r *recordingAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	r.last = in
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: strPtr("v")}}, nil
}

// ---------------------------------------------------------------------------
// Static and LoadSecrets
// ---------------------------------------------------------------------------

func TestStatic(t *testing.T) {
	s := Static{"/p/a": "1", "/p/empty": ""}
	v, err := s.GetParameter(context.Background(), "/p/a")
	require.NoError(t, err)
	require.Equal(t, "1", v)

	_, err = s.GetParameter(context.Background(), "/p/empty")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetParameter(context.Background(), "/p/missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadSecrets(t *testing.T) {
	s := Static{
		"/vibe-trader/open-ai-token":      `{"token":"sk-json"}`,
		"/vibe-trader/solana-private-key": "base58secret",
		"/vibe-trader/jupiter-api-key":    " jup-key\n",
	}
	secrets, err := LoadSecrets(context.Background(), s, "/vibe-trader/")
	require.NoError(t, err)
	require.Equal(t, Secrets{
		OpenAIToken:      "sk-json",
		SolanaPrivateKey: "base58secret",
		JupiterAPIKey:    "jup-key",
	}, secrets)
}

type failingGetter struct{}

func (failingGetter) GetParameter(context.Context, string) (string, error) {
	return "", errors.New("ssm unavailable")
}

func TestLoadSecrets_Errors(t *testing.T) {
	_, err := LoadSecrets(context.Background(), nil, "/p")
	require.ErrorContains(t, err, "must not be nil")

	_, err = LoadSecrets(context.Background(), failingGetter{}, "/p")
	require.ErrorContains(t, err, "ssm unavailable")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}
