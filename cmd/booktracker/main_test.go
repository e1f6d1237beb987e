package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnehpets/booktracker/book"
	"github.com/mnehpets/booktracker/config"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestToolsCommandPrintsListResult(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"tools"})
	require.NoError(t, cmd.Execute())

	var listed struct {
		Tools []struct {
			Name        string         `json:"name"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &listed))
	require.Len(t, listed.Tools, 7)
	for _, tool := range listed.Tools {
		assert.NotEmpty(t, tool.Name)
		assert.Equal(t, "object", tool.InputSchema["type"])
		assert.Contains(t, tool.InputSchema, "required", tool.Name)
	}
}

func TestServeRejectsUnknownFlagValue(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"serve", "--log-level", "chatty"})
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log_level")
}

func TestNewApp_SealedSnapshotSurvivesRestart(t *testing.T) {
	cfg := config.Default()
	cfg.Snapshot = config.SnapshotConfig{
		Path:  filepath.Join(t.TempDir(), "books.snap"),
		KeyID: "k1",
		Key:   base64.RawURLEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)),
	}
	require.NoError(t, cfg.Validate())

	srv, err := newApp(cfg, discard())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/books", strings.NewReader(`{"title":"Dune","author":"Herbert","isbn":"1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	raw, err := os.ReadFile(cfg.Snapshot.Path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "k1."))
	assert.NotContains(t, string(raw), "Dune")

	store, err := openStore(cfg.Snapshot)
	require.NoError(t, err)
	all, err := store.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Dune", all[0].Title)
}

func TestOpenStore_WrongKeyFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.snap")
	sealed := config.SnapshotConfig{Path: path, KeyID: "k1", Key: base64.RawURLEncoding.EncodeToString(bytes.Repeat([]byte{1}, 32))}
	store, err := openStore(sealed)
	require.NoError(t, err)
	_, err = store.Save(context.Background(), book.New("Emma", "Austen", "2"))
	require.NoError(t, err)

	sealed.Key = base64.RawURLEncoding.EncodeToString(bytes.Repeat([]byte{2}, 32))
	_, err = openStore(sealed)
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, io.Discard) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
