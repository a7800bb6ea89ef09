package weights

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsure_DownloadsOnce(t *testing.T) {
	var hits atomic.Int32
	payload := []byte("weights-bytes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "file-1", r.URL.Query().Get("id"))
		w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "cache", "unet-checkpoint.npz")

	p := NewProvisioner()
	p.Endpoint = srv.URL

	require.NoError(t, p.Ensure(context.Background(), File{ID: "file-1", Name: "unet-checkpoint.npz"}, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// second call is satisfied from the cache
	require.NoError(t, p.Ensure(context.Background(), File{ID: "file-1", Name: "unet-checkpoint.npz"}, dest))
	assert.Equal(t, int32(1), hits.Load())
}

func TestEnsure_ConfirmTokenHandshake(t *testing.T) {
	payload := []byte("large-file-bytes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("confirm") == "" {
			http.SetCookie(w, &http.Cookie{Name: "download_warning_13058876", Value: "tok42"})
			w.Write([]byte("<html>virus scan warning</html>"))
			return
		}

		assert.Equal(t, "tok42", r.URL.Query().Get("confirm"))
		w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "unet-checkpoint.npz")

	p := NewProvisioner()
	p.Endpoint = srv.URL

	require.NoError(t, p.Ensure(context.Background(), File{ID: "big", Name: "unet-checkpoint.npz"}, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestEnsure_ChecksumVerified(t *testing.T) {
	payload := []byte("checkpoint")
	sum := sha256.Sum256(payload)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	p := NewProvisioner()
	p.Endpoint = srv.URL

	dir := t.TempDir()

	ok := File{ID: "f", Name: "ok.npz", SHA256: hex.EncodeToString(sum[:])}
	require.NoError(t, p.Ensure(context.Background(), ok, filepath.Join(dir, "ok.npz")))

	bad := File{ID: "f", Name: "bad.npz", SHA256: strings.Repeat("0", 64)}
	err := p.Ensure(context.Background(), bad, filepath.Join(dir, "bad.npz"))
	assert.ErrorIs(t, err, ErrChecksum)

	// a rejected download must not surface under the destination name
	_, statErr := os.Stat(filepath.Join(dir, "bad.npz"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestEnsure_HTTPErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such file", http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()

	p := NewProvisioner()
	p.Endpoint = srv.URL

	err := p.Ensure(context.Background(), File{ID: "missing", Name: "w.npz"}, filepath.Join(dir, "w.npz"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	// no partial files left behind
	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestEnsure_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("never seen"))
	}))
	defer srv.Close()

	p := NewProvisioner()
	p.Endpoint = srv.URL

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Ensure(ctx, File{ID: "f", Name: "w.npz"}, filepath.Join(t.TempDir(), "w.npz"))
	assert.ErrorIs(t, err, context.Canceled)
}
