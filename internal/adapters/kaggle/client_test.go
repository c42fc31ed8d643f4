package kaggle

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ohlcvsync/internal/ports"
)

// mockLogger ignores all messages.
type mockLogger struct{}

func (l *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := New(Config{
		Username: "tester",
		Key:      "secret",
		Logger:   &mockLogger{},
		BaseURL:  baseURL,
	})
	require.NoError(t, err)
	return client
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Username: "tester", Key: "secret"})
	assert.Error(t, err, "missing logger should be rejected")

	_, err = New(Config{Logger: &mockLogger{}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestDownloadDataset(t *testing.T) {
	archive := zipArchive(t, map[string]string{
		"eth_1h.csv":            "Open time,Close\n",
		"dataset-metadata.json": "{}",
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/datasets/download/user/eth-prices", r.URL.Path)
		user, key, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "tester", user)
		assert.Equal(t, "secret", key)
		w.Write(archive)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	destDir := filepath.Join(t.TempDir(), "data")

	err := client.DownloadDataset(context.Background(), "user/eth-prices", destDir)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(destDir, "eth_1h.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Open time,Close\n", string(content))
	assert.FileExists(t, filepath.Join(destDir, "dataset-metadata.json"))
}

func TestDownloadDataset_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, ports.ErrAuthenticationFailed},
		{"forbidden", http.StatusForbidden, ports.ErrAuthenticationFailed},
		{"not found", http.StatusNotFound, ports.ErrNotFound},
		{"rate limited", http.StatusTooManyRequests, ports.ErrRateLimited},
		{"server error", http.StatusInternalServerError, ports.ErrDownloadFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tt.name, tt.status)
			}))
			defer server.Close()

			client := newTestClient(t, server.URL)
			err := client.DownloadDataset(context.Background(), "user/eth-prices", t.TempDir())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateVersion(t *testing.T) {
	folder := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(folder, "eth_1h.csv"), []byte("Open time,Close\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "dataset-metadata.json"), []byte("{}"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(folder, "subdir"), 0755))

	var (
		uploadedNames []string
		storedBodies  int
		versionBody   map[string]interface{}
	)

	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/datasets/upload/file/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		name := r.FormValue("fileName")
		uploadedNames = append(uploadedNames, name)
		json.NewEncoder(w).Encode(map[string]string{
			"token":     "token-" + name,
			"createUrl": server.URL + "/storage/" + name,
		})
	})
	mux.HandleFunc("/storage/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.NotEmpty(t, body)
		storedBodies++
	})
	mux.HandleFunc("/datasets/create/version/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/datasets/create/version/user/eth-prices", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&versionBody))
		w.Write([]byte(`{"status":"ok"}`))
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.CreateVersion(context.Background(), "user/eth-prices", folder, "Update August, 31 2026")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"eth_1h.csv", "dataset-metadata.json"}, uploadedNames,
		"directories should be skipped")
	assert.Equal(t, 2, storedBodies)
	assert.Equal(t, "Update August, 31 2026", versionBody["versionNotes"])
	files, ok := versionBody["files"].([]interface{})
	require.True(t, ok)
	assert.Len(t, files, 2)
}

func TestCreateVersion_EmptyFolder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an empty folder")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.CreateVersion(context.Background(), "user/eth-prices", t.TempDir(), "notes")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestCreateVersion_UploadRejected(t *testing.T) {
	folder := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(folder, "eth_1h.csv"), []byte("x"), 0644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.CreateVersion(context.Background(), "user/eth-prices", folder, "notes")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrUploadFailed)
}
