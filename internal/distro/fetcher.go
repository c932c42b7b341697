// Package distro downloads and verifies base OS cloud images.
//
// Images are fetched from the Ubuntu cloud image mirrors, verified
// against a GPG-signed checksum manifest, and kept in a local cache that
// is revalidated on every use. The cache directory is safe to delete at
// any time; the next fetch heals it.
package distro

import (
	"bytes"
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
)

const (
	imageVersion = "jammy"
	imageArch    = "amd64"

	// DefaultBaseURL is where Ubuntu publishes minimal cloud images.
	DefaultBaseURL = "https://cloud-images.ubuntu.com/minimal/daily/"
)

// ubuntuKey is the pinned signing key for the image checksum manifests.
// It is process-wide immutable trust material; the manifest is untrusted
// input until a signature over it verifies against this key.
//
//go:embed keys/ubuntu.asc
var ubuntuKey string

var (
	// ErrNoSerial means the build-info file had no serial= line.
	ErrNoSerial = errors.New("no image serial found in build info")

	// ErrChecksumNotFound means the signed manifest carries no entry for
	// the requested artifact. Distinct from a signature failure.
	ErrChecksumNotFound = errors.New("checksum not found in SHA256SUMS")

	// ErrChecksumMismatch means a downloaded artifact did not hash to
	// the digest the signed manifest promised.
	ErrChecksumMismatch = errors.New("image checksum mismatch")
)

// Fetcher downloads, verifies and caches base images.
type Fetcher struct {
	client   *http.Client
	baseURL  string
	cacheDir string
	keyring  openpgp.EntityList
}

// Option adjusts a Fetcher.
type Option func(*Fetcher)

// WithBaseURL points the fetcher at a different mirror.
func WithBaseURL(url string) Option {
	return func(f *Fetcher) { f.baseURL = url }
}

// WithHTTPClient substitutes the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithKeyring pins a different set of trusted signing keys.
func WithKeyring(kr openpgp.EntityList) Option {
	return func(f *Fetcher) { f.keyring = kr }
}

// NewFetcher returns a Fetcher caching into cacheDir, creating it if
// needed. By default artifacts are verified against the embedded key.
func NewFetcher(cacheDir string, opts ...Option) (*Fetcher, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(ubuntuKey))
	if err != nil {
		return nil, fmt.Errorf("parsing embedded signing key: %w", err)
	}
	f := &Fetcher{
		client:   http.DefaultClient,
		baseURL:  DefaultBaseURL,
		cacheDir: cacheDir,
		keyring:  keyring,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch resolves serial (empty or "current" means the latest published
// build), verifies the artifact digest against the signed checksum
// manifest, and returns a local path to the verified image. A cached
// copy is revalidated by digest before it is trusted; on mismatch it is
// deleted and downloaded again.
func (f *Fetcher) Fetch(ctx context.Context, serial string) (string, error) {
	if serial == "" || serial == "current" {
		resolved, err := f.resolveSerial(ctx)
		if err != nil {
			return "", err
		}
		serial = resolved
	}
	log.Printf("ubuntu image serial: %s", serial)

	checksums, err := f.get(ctx, f.baseURL+imageVersion+"/"+serial+"/SHA256SUMS")
	if err != nil {
		return "", err
	}
	signature, err := f.get(ctx, f.baseURL+imageVersion+"/"+serial+"/SHA256SUMS.gpg")
	if err != nil {
		return "", err
	}
	if err := f.verify(checksums, signature); err != nil {
		return "", fmt.Errorf("verifying SHA256SUMS signature: %w", err)
	}
	log.Printf("verified signature of checksums file")

	filename := fmt.Sprintf("%s-minimal-cloudimg-%s.img", imageVersion, imageArch)
	digest, err := findChecksum(checksums, filename)
	if err != nil {
		return "", err
	}

	cachePath := filepath.Join(f.cacheDir, fmt.Sprintf("ubuntu-%s-%s-%s.img", imageVersion, imageArch, serial))
	ok, err := f.checkCached(cachePath, digest)
	if err != nil {
		return "", err
	}
	if ok {
		log.Printf("cached image checksum matches")
		return cachePath, nil
	}

	if err := f.download(ctx, f.baseURL+imageVersion+"/"+serial+"/"+filename, cachePath, digest); err != nil {
		return "", err
	}
	return cachePath, nil
}

func (f *Fetcher) resolveSerial(ctx context.Context) (string, error) {
	info, err := f.get(ctx, f.baseURL+imageVersion+"/current/unpacked/build-info.txt")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(info), "\n") {
		if serial, ok := strings.CutPrefix(line, "serial="); ok {
			return strings.TrimSpace(serial), nil
		}
	}
	return "", ErrNoSerial
}

// verify checks the detached signature over the raw manifest bytes.
// Both armored and binary signatures appear in the wild.
func (f *Fetcher) verify(signed, signature []byte) error {
	var err error
	if bytes.HasPrefix(signature, []byte("-----")) {
		_, err = openpgp.CheckArmoredDetachedSignature(f.keyring, bytes.NewReader(signed), bytes.NewReader(signature), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(f.keyring, bytes.NewReader(signed), bytes.NewReader(signature), nil)
	}
	return err
}

// findChecksum locates the artifact's digest by exact filename match.
// Manifest lines look like "<hex digest> *<filename>".
func findChecksum(checksums []byte, filename string) ([]byte, error) {
	for _, line := range strings.Split(string(checksums), "\n") {
		hexDigest, ok := strings.CutSuffix(line, " *"+filename)
		if !ok {
			continue
		}
		digest, err := hex.DecodeString(strings.TrimSpace(hexDigest))
		if err != nil {
			return nil, fmt.Errorf("decoding checksum for %s: %w", filename, err)
		}
		return digest, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrChecksumNotFound, filename)
}

// checkCached reports whether cachePath exists and hashes to digest.
// A stale cache entry is deleted so the caller can redownload.
func (f *Fetcher) checkCached(cachePath string, digest []byte) (bool, error) {
	file, err := os.Open(cachePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return false, fmt.Errorf("hashing cached image: %w", err)
	}
	if bytes.Equal(hasher.Sum(nil), digest) {
		return true, nil
	}

	log.Printf("warning: cached image checksum mismatch, redownloading")
	if err := os.Remove(cachePath); err != nil {
		return false, fmt.Errorf("removing stale cache entry: %w", err)
	}
	return false, nil
}

// download streams url into a temporary file next to cachePath, hashing
// as it goes, and renames it into place only if the digest matches. A
// failed verification never pollutes the cache.
func (f *Fetcher) download(ctx context.Context, url, cachePath string, digest []byte) (err error) {
	log.Printf("downloading image")
	body, err := f.getStream(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(f.cacheDir, ".download-*")
	if err != nil {
		return fmt.Errorf("creating download temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	hasher := sha256.New()
	if _, err = io.Copy(io.MultiWriter(tmp, hasher), body); err != nil {
		return fmt.Errorf("downloading image: %w", err)
	}
	if !bytes.Equal(hasher.Sum(nil), digest) {
		return fmt.Errorf("%w: downloaded image", ErrChecksumMismatch)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing download temp file: %w", err)
	}
	// Rename is atomic because the temp file lives in the cache directory.
	if err = os.Rename(tmp.Name(), cachePath); err != nil {
		return fmt.Errorf("moving image into cache: %w", err)
	}
	return nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	body, err := f.getStream(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

func (f *Fetcher) getStream(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}
	return resp.Body, nil
}
