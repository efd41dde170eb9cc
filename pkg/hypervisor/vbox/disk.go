package vbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrChecksumMismatch is returned when a downloaded disk image does not match
// its expected SHA-256 digest.
var ErrChecksumMismatch = errors.New("vbox: disk image checksum mismatch")

const cacheDirName = ".cache"

// fetchDisk downloads the image at rawURL into the base directory cache and
// returns its local path. A cached copy is reused when it matches checksum.
// An empty checksum skips verification.
func (h *Hypervisor) fetchDisk(ctx context.Context, rawURL, checksum string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid disk URL %q", rawURL)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("disk URL %q has no file name", rawURL)
	}
	checksum = strings.ToLower(strings.TrimSpace(checksum))

	dir := filepath.Join(h.BaseDir(), cacheDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	dest := filepath.Join(dir, name)

	if _, err := os.Stat(dest); err == nil {
		if checksum == "" {
			return dest, nil
		}
		if sum, err := fileSHA256(dest); err == nil && sum == checksum {
			h.logger.Debug().Str("path", dest).Msg("disk image cached")
			return dest, nil
		}
	}

	h.logger.Info().Str("url", rawURL).Msg("downloading disk image")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: %s", rawURL, resp.Status)
	}

	tmp, err := os.CreateTemp(dir, name+".part-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hash), resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if sum := hex.EncodeToString(hash.Sum(nil)); checksum != "" && sum != checksum {
		return "", fmt.Errorf("%w: %s: got %s, want %s", ErrChecksumMismatch, name, sum, checksum)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", err
	}
	return dest, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
