package aws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
	"github.com/stretchr/testify/require"

	"github.com/rbright/dictum/internal/asr"
)

func result(id string, partial bool, transcript string) types.Result {
	return types.Result{
		ResultId:     aws.String(id),
		IsPartial:    partial,
		Alternatives: []types.Alternative{{Transcript: aws.String(transcript)}},
	}
}

func TestTranscriptAccumulatorReplacesPartialsByID(t *testing.T) {
	acc := newTranscriptAccumulator()
	acc.record(result("r1", true, "hello"))
	acc.record(result("r1", true, "hello wor"))
	acc.record(result("r1", false, "hello world"))
	acc.record(result("r2", true, "second"))
	acc.record(result("r2", false, "second phrase"))

	require.Equal(t, "hello world second phrase", acc.text())
}

func TestTranscriptAccumulatorKeepsArrivalOrder(t *testing.T) {
	acc := newTranscriptAccumulator()
	acc.record(result("b", false, "later segment"))
	acc.record(result("a", false, "first by id"))

	require.Equal(t, "later segment first by id", acc.text())
}

func TestTranscriptAccumulatorSkipsEmptyResults(t *testing.T) {
	acc := newTranscriptAccumulator()
	acc.record(types.Result{ResultId: aws.String("r1")})
	acc.record(result("r2", true, "   "))

	require.Empty(t, acc.text())
}

func TestStreamLanguageMapping(t *testing.T) {
	svc := New(Options{})
	require.Equal(t, "en-US", svc.streamLanguage(""))
	require.Equal(t, "en-US", svc.streamLanguage("en-US"))
	require.Equal(t, "pt-BR", svc.streamLanguage("pt-PT"))
	require.Equal(t, "es-US", svc.streamLanguage("es-ES"))

	forced := New(Options{Language: "en-GB"})
	require.Equal(t, "en-GB", forced.streamLanguage("pt-PT"))
}

func clearAWSEnv(t *testing.T) {
	t.Helper()
	missing := filepath.Join(t.TempDir(), "missing")
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")
	t.Setenv("AWS_SESSION_TOKEN", "")
	t.Setenv("AWS_PROFILE", "")
	t.Setenv("AWS_CONFIG_FILE", missing)
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", missing)
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	t.Setenv("AWS_CONTAINER_CREDENTIALS_RELATIVE_URI", "")
	t.Setenv("AWS_WEB_IDENTITY_TOKEN_FILE", "")
}

func setTestCredentials(t *testing.T) {
	t.Helper()
	clearAWSEnv(t)
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIDEXAMPLE")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
}

func TestRecognizeUnavailableWithoutCredentials(t *testing.T) {
	clearAWSEnv(t)

	svc := New(Options{Region: "us-east-1"})
	_, err := svc.Recognize(context.Background(), testUtterance(), "en-US")
	require.ErrorIs(t, err, asr.ErrUnavailable)
}

func TestRecognizeUnavailableWithoutRegion(t *testing.T) {
	setTestCredentials(t)
	t.Setenv("AWS_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "")

	svc := New(Options{})
	_, err := svc.Recognize(context.Background(), testUtterance(), "en-US")
	require.ErrorIs(t, err, asr.ErrUnavailable)
	require.Contains(t, err.Error(), "region")
}

func TestRecognizeSurfacesTransportError(t *testing.T) {
	setTestCredentials(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc := New(Options{Region: "us-east-1", BaseEndpoint: server.URL})
	_, err := svc.Recognize(ctx, testUtterance(), "en-US")
	require.Error(t, err)
	require.NotErrorIs(t, err, asr.ErrUnavailable)
}

func TestResetDropsCachedClient(t *testing.T) {
	svc := New(Options{Region: "us-east-1"})
	require.NoError(t, svc.Reset(context.Background()))
}

func testUtterance() asr.Audio {
	return asr.Audio{PCM: make([]int16, 1600), SampleRate: 16000}
}
