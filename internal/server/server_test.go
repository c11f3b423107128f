package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ferret/internal/capability"
	"ferret/internal/chunker"
	"ferret/internal/embed"
	"ferret/internal/extract"
	"ferret/internal/fulltext"
	"ferret/internal/indexer"
	"ferret/internal/scheduler"
	"ferret/internal/search"
	"ferret/internal/store"
	"ferret/internal/vectorindex"
)

type fixture struct {
	store  *store.Store
	stub   *capability.StubProvider
	api    http.Handler
	client *httptest.Server
}

func setup(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	vm, err := vectorindex.New(s.DB(), capability.StubDim)
	require.NoError(t, err)
	fm, err := fulltext.New(s.DB())
	require.NoError(t, err)

	stub := capability.NewStubProvider()
	co := embed.NewCoordinator(stub, embed.WithRetry(1, time.Millisecond))
	ix := indexer.New(s, vm, fm, extract.New(stub, stub), chunker.New(500, 50), co, nil)

	cache := search.NewCache(time.Minute)
	eng := search.New(s, vm, fm, co, search.WithCache(cache))

	sched, err := scheduler.New(s, ix, scheduler.WithRetry(0, time.Millisecond), scheduler.WithCache(cache))
	require.NoError(t, err)
	sched.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sched.Close(ctx)
	})

	api := New(s, sched, eng, stub, nil).Handler()
	ts := httptest.NewServer(api)
	t.Cleanup(ts.Close)
	return &fixture{store: s, stub: stub, api: api, client: ts}
}

func (fx *fixture) postJSON(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(fx.client.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (fx *fixture) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(fx.client.URL + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (fx *fixture) waitJob(t *testing.T, id string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, body := fx.get(t, "/index/status/"+id)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		status := body["status"].(string)
		if status == store.JobStatusCompleted || status == store.JobStatusFailed {
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not finish")
	return nil
}

func TestIndexCreateAndSearchEndToEnd(t *testing.T) {
	fx := setup(t)
	dir := t.TempDir()
	// Roughly 2000 chars; "porcupine" appears only past offset 1500, so it
	// lands in the final chunk rather than the first.
	content := strings.Repeat("ordinary filler text here ", 60) +
		"porcupine " + strings.Repeat("trailing padding text here ", 16)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.txt"), []byte(content), 0o644))

	resp, body := fx.postJSON(t, "/index/create", map[string]any{
		"folder_path": dir,
		"recursive":   true,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID := body["index_id"].(string)
	require.NotEmpty(t, jobID)

	done := fx.waitJob(t, jobID)
	assert.Equal(t, store.JobStatusCompleted, done["status"])
	assert.Equal(t, 1.0, done["progress"])

	resp, body = fx.postJSON(t, "/search", map[string]any{"query": "porcupine"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := body["results"].([]any)
	require.NotEmpty(t, results)
	first := results[0].(map[string]any)
	assert.Equal(t, "doc.txt", first["name"])
	assert.Contains(t, []string{search.ModeFulltext, search.ModeHybrid}, first["match_type"])
	assert.NotEmpty(t, body["search_time"])
}

func TestIndexCreateConflict(t *testing.T) {
	fx := setup(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("some text"), 0o644))

	release := make(chan struct{})
	fx.stub.EmbedFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = make([]float32, capability.StubDim)
		}
		return out, nil
	}

	resp, body := fx.postJSON(t, "/index/create", map[string]any{"folder_path": dir, "recursive": true})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID := body["index_id"].(string)

	resp, _ = fx.postJSON(t, "/index/create", map[string]any{"folder_path": dir, "recursive": true})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	close(release)
	fx.waitJob(t, jobID)
}

func TestSearchVoiceInputTranscribed(t *testing.T) {
	fx := setup(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("meeting about the wombat budget"), 0o644))

	resp, body := fx.postJSON(t, "/index/create", map[string]any{"folder_path": dir, "recursive": true})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	fx.waitJob(t, body["index_id"].(string))

	fx.stub.TranscribeFunc = func(ctx context.Context, path string) (string, error) {
		return "wombat budget", nil
	}
	resp, body = fx.postJSON(t, "/search", map[string]any{
		"query":      "/fake/recording.wav",
		"input_type": "voice",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["results"])
}

func TestSearchValidation(t *testing.T) {
	fx := setup(t)

	resp, _ := fx.postJSON(t, "/search", map[string]any{"query": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = fx.postJSON(t, "/search", map[string]any{"query": "x", "input_type": "telepathy"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = fx.postJSON(t, "/search", map[string]any{"query": "x", "search_type": "regex"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = fx.postJSON(t, "/index/create", map[string]any{"recursive": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIndexStatusNotFound(t *testing.T) {
	fx := setup(t)
	resp, _ := fx.get(t, "/index/status/no-such-job")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIndexDeleteRemovesData(t *testing.T) {
	fx := setup(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.txt"), []byte("ephemeral numbat data"), 0o644))

	resp, body := fx.postJSON(t, "/index/create", map[string]any{"folder_path": dir, "recursive": true})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	createID := body["index_id"].(string)
	fx.waitJob(t, createID)

	req, err := http.NewRequest(http.MethodDelete, fx.client.URL+"/index/"+createID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	deleteBody := decodeBody(t, resp)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	fx.waitJob(t, deleteBody["index_id"].(string))

	_, total, err := fx.store.ListFiles(store.FileFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)

	resp, body = fx.postJSON(t, "/search", map[string]any{"query": "numbat", "search_type": "fulltext"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["results"])
}

func TestIndexFilesPagination(t *testing.T) {
	fx := setup(t)
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("content of "+name), 0o644))
	}

	resp, body := fx.postJSON(t, "/index/create", map[string]any{"folder_path": dir, "recursive": true})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	fx.waitJob(t, body["index_id"].(string))

	resp, body = fx.get(t, "/index/files?limit=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3.0, body["total"])
	assert.Len(t, body["files"].([]any), 2)

	resp, body = fx.get(t, "/index/files?limit=2&offset=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["files"].([]any), 1)

	resp, body = fx.get(t, "/index/files?status="+store.FileStatusFailed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.0, body["total"])
}
