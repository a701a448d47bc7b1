package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/corpus/pkg/config"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/server"
	"github.com/Mindburn-Labs/corpus/pkg/service"
)

const (
	ownerCredential = "owner-credential"
	ownerSalt       = "owner-salt"
)

type envelope struct {
	Status    int             `json:"status"`
	Code      string          `json:"code"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	service.Reset()
	t.Cleanup(service.Reset)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.CorpusPath = filepath.Join(dir, "corpus.db")
	cfg.AudioDir = filepath.Join(dir, "audio")
	cfg.ExportsDir = filepath.Join(dir, "exports")
	cfg.PolicyPath = filepath.Join(dir, "policy.yaml")
	cfg.EmbeddingDim = 8
	cfg.ExportSigningKey = "server-test-key"

	store, err := corpus.Init(cfg.CorpusPath, ownerCredential, ownerSalt)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	container := service.NewContainer(cfg)
	require.NoError(t, container.Open(context.Background()))
	t.Cleanup(func() { _ = container.Close() })

	ts := httptest.NewServer(server.New(cfg, container, nil).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path string, body any) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("X-Corpus-Credential", ownerCredential)
	req.Header.Set("X-User-ID", "u-1")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, env := do(t, ts, http.MethodPost, "/sessions", map[string]any{
		"metadata": map[string]any{"clinic": "east"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sess struct {
		SessionID string `json:"session_id"`
		State     string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	require.NotEmpty(t, sess.SessionID)
	require.Equal(t, "open", sess.State)
	return sess.SessionID
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, env := do(t, ts, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", env.Code)

	var health map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Contains(t, health, "corpus_id")
	assert.Equal(t, false, health["read_only"])
}

func TestCreateSessionEnvelope(t *testing.T) {
	ts := newTestServer(t)

	resp, env := do(t, ts, http.MethodPost, "/sessions", map[string]any{"user_id": "u-1"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, http.StatusCreated, env.Status)
	assert.Equal(t, "OK", env.Code)
	assert.NotEmpty(t, env.RequestID)
	assert.Equal(t, env.RequestID, resp.Header.Get("X-Request-ID"))
}

func TestRequestIDPropagates(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-fixed-1")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, "req-fixed-1", env.RequestID)
	assert.Equal(t, "req-fixed-1", resp.Header.Get("X-Request-ID"))
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, env := do(t, ts, http.MethodGet, "/sessions/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", env.Code)
	assert.NotEmpty(t, env.Message)
}

func TestUnknownBodyFieldIsValidationError(t *testing.T) {
	ts := newTestServer(t)

	resp, env := do(t, ts, http.MethodPost, "/interactions", map[string]any{
		"session_id": "s-1", "prompt": "p", "bogus_field": true,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)
}

func TestSessionFinalizeFlow(t *testing.T) {
	ts := newTestServer(t)
	sessionID := createSession(t, ts)

	resp, env := do(t, ts, http.MethodPost, "/interactions", map[string]any{
		"session_id": sessionID, "prompt": "chief complaint", "response": "headache", "model": "echo",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		InteractionID string `json:"interaction_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.NotEmpty(t, created.InteractionID)

	resp, _ = do(t, ts, http.MethodPost, "/sessions/"+sessionID+"/finalize", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env = do(t, ts, http.MethodPost, "/sessions/"+sessionID+"/finalize", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INVALID_TRANSITION", env.Code)

	resp, env = do(t, ts, http.MethodGet, "/sessions/"+sessionID+"/interactions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)
}

func TestWrongCredentialIsUnauthorized(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/sessions",
		bytes.NewReader([]byte(`{"user_id":"u-1"}`)))
	require.NoError(t, err)
	req.Header.Set("X-Corpus-Credential", "not-the-owner")
	req.Header.Set("X-User-ID", "u-1")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "OWNERSHIP_DENIED", env.Code)
}

func TestUploadAcceptedAndJobVisible(t *testing.T) {
	ts := newTestServer(t)
	sessionID := createSession(t, ts)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("session_id", sessionID))
	part, err := mw.CreateFormFile("audio", "visit.wav")
	require.NoError(t, err)
	_, err = part.Write([]byte("RIFF fake audio payload"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/transcribe", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Corpus-Credential", ownerCredential)
	req.Header.Set("X-User-ID", "u-1")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted struct {
		JobID      string `json:"job_id"`
		ArtifactID string `json:"artifact_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &accepted))
	require.NotEmpty(t, accepted.JobID)

	// The fabric is not started in this fixture, so the job stays pending.
	jobResp, jobEnv := do(t, ts, http.MethodGet, "/jobs/"+accepted.JobID, nil)
	require.Equal(t, http.StatusOK, jobResp.StatusCode)
	var job struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(jobEnv.Data, &job))
	assert.Equal(t, "pending", job.Status)
}

func TestExportOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	sessionID := createSession(t, ts)
	_, _ = do(t, ts, http.MethodPost, "/interactions", map[string]any{
		"session_id": sessionID, "prompt": "p", "response": "r", "model": "echo",
	})

	resp, env := do(t, ts, http.MethodPost, "/exports", map[string]any{
		"targets": []string{"sessions", "interactions"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var exp struct {
		ExportID string `json:"export_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &exp))
	require.NotEmpty(t, exp.ExportID)

	resp, env = do(t, ts, http.MethodPost, "/exports/"+exp.ExportID+"/verify", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report struct {
		SignatureValid bool `json:"signature_valid"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.True(t, report.SignatureValid)

	resp, _ = do(t, ts, http.MethodDelete, "/exports/"+exp.ExportID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env = do(t, ts, http.MethodGet, "/exports/"+exp.ExportID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		DeletedAt *string `json:"deleted_at"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.NotNil(t, got.DeletedAt)
}

func TestAuditQueryOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	createSession(t, ts)

	resp, env := do(t, ts, http.MethodGet, "/audit?operation=SESSION_CREATED", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var events []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &events))
	assert.Len(t, events, 1)

	resp, env = do(t, ts, http.MethodGet, "/audit?since=not-a-time", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)
}
