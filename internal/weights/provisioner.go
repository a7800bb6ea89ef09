package weights

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	// driveEndpoint is the Google Drive direct-download endpoint hosting the
	// published checkpoints.
	driveEndpoint = "https://docs.google.com/uc?export=download"

	// confirmCookiePrefix marks the virus-scan warning cookie Drive sets for
	// large files; its value must be echoed back as the confirm parameter.
	confirmCookiePrefix = "download_warning"

	// chunkSize is the streaming copy buffer size.
	chunkSize = 32768
)

// File identifies a remote weights artifact.
type File struct {
	// ID is the fixed Drive file identifier.
	ID string

	// Name is the cache file name.
	Name string

	// SHA256 is the hex digest of the complete file. Empty skips verification.
	SHA256 string
}

// NucleiCheckpoint is the published 3-class nuclei model, converted from the
// original training checkpoint to the npz layout read by OpenCheckpoint.
var NucleiCheckpoint = File{
	ID:   "1I9j4oABbcV8EnvO_ufACXP9e4KyfHMtE",
	Name: "unet-checkpoint.npz",
}

// Provisioner guarantees that weight files exist in the local cache,
// downloading them from Drive on first use.
type Provisioner struct {
	// Endpoint is the download endpoint. Overridable for tests.
	Endpoint string

	client *http.Client
}

// NewProvisioner creates a Provisioner with a cookie-carrying client, which
// the Drive confirm-token handshake requires.
func NewProvisioner() *Provisioner {
	jar, _ := cookiejar.New(nil)

	return &Provisioner{
		Endpoint: driveEndpoint,
		client:   &http.Client{Jar: jar},
	}
}

// Ensure guarantees a readable copy of f at dest. An existing file is
// trusted as-is and costs no network round trip. A download streams to a
// temporary file and is renamed into place only once complete (and, when f
// carries a digest, verified), so a crashed download never leaves a
// partial file under the final name.
func (p *Provisioner) Ensure(ctx context.Context, f File, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		slog.Debug("Weights already cached, skipping download", "file", f.Name, "path", dest)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("weights: failed to create cache directory: %w", err)
	}

	slog.Info("Downloading model weights", "file", f.Name, "id", f.ID, "path", dest)

	resp, err := p.fetch(ctx, f.ID, "")
	if err != nil {
		return err
	}

	if token := confirmToken(resp); token != "" {
		resp.Body.Close()
		slog.Debug("Drive returned a confirm token, reissuing request", "file", f.Name)

		if resp, err = p.fetch(ctx, f.ID, token); err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("weights: download of %s failed with status %s", f.ID, resp.Status)
	}

	return save(resp.Body, f, dest)
}

// fetch issues one download request, optionally carrying a confirm token.
func (p *Provisioner) fetch(ctx context.Context, id, confirm string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("weights: failed to create request: %w", err)
	}

	params := url.Values{"id": []string{id}}
	if confirm != "" {
		params.Set("confirm", confirm)
	}
	// the endpoint carries its own export=download parameter
	if q := req.URL.Query(); len(q) > 0 {
		for k, vs := range q {
			params[k] = vs
		}
	}
	req.URL.RawQuery = params.Encode()

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weights: download request failed: %w", err)
	}

	return resp, nil
}

// confirmToken extracts the virus-scan warning token from response cookies.
func confirmToken(resp *http.Response) string {
	for _, c := range resp.Cookies() {
		if strings.HasPrefix(c.Name, confirmCookiePrefix) {
			return c.Value
		}
	}

	return ""
}

// save streams body into a temporary file next to dest and atomically
// renames it into place, verifying the digest when one is expected.
func save(body io.Reader, f File, dest string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), f.Name+".partial-*")
	if err != nil {
		return fmt.Errorf("weights: failed to create temporary file: %w", err)
	}

	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	hash := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(io.MultiWriter(tmp, hash), body, buf); err != nil {
		cleanup()
		return fmt.Errorf("weights: download of %s interrupted: %w", f.ID, err)
	}

	if f.SHA256 != "" {
		if sum := hex.EncodeToString(hash.Sum(nil)); !strings.EqualFold(sum, f.SHA256) {
			cleanup()
			return fmt.Errorf("%w: got %s, want %s", ErrChecksum, sum, f.SHA256)
		}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("weights: failed to finalize download: %w", err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("weights: failed to move download into cache: %w", err)
	}

	slog.Info("Model weights downloaded", "file", f.Name, "path", dest)
	return nil
}
