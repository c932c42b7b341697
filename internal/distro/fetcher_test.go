package distro

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSerial   = "20240101"
	testFilename = "jammy-minimal-cloudimg-amd64.img"
)

// testMirror is a fake cloud-images server with a signing key of its own.
type testMirror struct {
	entity       *openpgp.Entity
	image        []byte
	checksums    []byte
	signature    []byte
	imageHits    atomic.Int64
	infoHits     atomic.Int64
	server       *httptest.Server
	servedImage  []byte // what the artifact endpoint actually returns
	dropChecksum bool
}

func newTestMirror(t *testing.T, image []byte) *testMirror {
	t.Helper()

	entity, err := openpgp.NewEntity("Test Image Signing Key", "", "images@example.com", &packet.Config{
		Algorithm: packet.PubKeyAlgoEdDSA,
	})
	require.NoError(t, err)

	m := &testMirror{entity: entity, image: image, servedImage: image}
	m.sign(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/minimal/daily/jammy/current/unpacked/build-info.txt", func(w http.ResponseWriter, _ *http.Request) {
		m.infoHits.Add(1)
		fmt.Fprintf(w, "release=jammy\nserial=%s\n", testSerial)
	})
	mux.HandleFunc("/minimal/daily/jammy/"+testSerial+"/SHA256SUMS", func(w http.ResponseWriter, _ *http.Request) {
		w.Write(m.checksums)
	})
	mux.HandleFunc("/minimal/daily/jammy/"+testSerial+"/SHA256SUMS.gpg", func(w http.ResponseWriter, _ *http.Request) {
		w.Write(m.signature)
	})
	mux.HandleFunc("/minimal/daily/jammy/"+testSerial+"/"+testFilename, func(w http.ResponseWriter, _ *http.Request) {
		m.imageHits.Add(1)
		w.Write(m.servedImage)
	})
	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)
	return m
}

// sign rebuilds the checksum manifest and its detached signature.
func (m *testMirror) sign(t *testing.T) {
	t.Helper()
	digest := sha256.Sum256(m.image)
	var sums bytes.Buffer
	fmt.Fprintf(&sums, "%x *other-file.img\n", sha256.Sum256([]byte("other")))
	if !m.dropChecksum {
		fmt.Fprintf(&sums, "%x *%s\n", digest, testFilename)
	}
	m.checksums = sums.Bytes()

	var sig bytes.Buffer
	require.NoError(t, openpgp.DetachSign(&sig, m.entity, bytes.NewReader(m.checksums), nil))
	m.signature = sig.Bytes()
}

func (m *testMirror) fetcher(t *testing.T, cacheDir string) *Fetcher {
	t.Helper()
	f, err := NewFetcher(cacheDir,
		WithBaseURL(m.server.URL+"/minimal/daily/"),
		WithKeyring(openpgp.EntityList{m.entity}),
	)
	require.NoError(t, err)
	return f
}

func TestFetchDownloadsAndCaches(t *testing.T) {
	image := bytes.Repeat([]byte{0xA5}, 1<<16)
	m := newTestMirror(t, image)
	cacheDir := t.TempDir()

	path, err := m.fetcher(t, cacheDir).Fetch(context.Background(), "")
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, image, got)
	assert.Equal(t, int64(1), m.imageHits.Load())
	assert.Equal(t, int64(1), m.infoHits.Load(), "empty serial resolves through build-info.txt")
	assert.Equal(t, filepath.Join(cacheDir, "ubuntu-jammy-amd64-"+testSerial+".img"), path)
}

func TestFetchCacheHitSkipsDownload(t *testing.T) {
	m := newTestMirror(t, bytes.Repeat([]byte{0x01}, 4096))
	cacheDir := t.TempDir()
	f := m.fetcher(t, cacheDir)

	_, err := f.Fetch(context.Background(), testSerial)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), testSerial)
	require.NoError(t, err)

	assert.Equal(t, int64(1), m.imageHits.Load(), "intact cache must not refetch the artifact body")
	assert.Equal(t, int64(0), m.infoHits.Load(), "explicit serial must not hit build-info.txt")
}

func TestFetchCorruptCacheRedownloadsOnce(t *testing.T) {
	m := newTestMirror(t, bytes.Repeat([]byte{0x02}, 4096))
	cacheDir := t.TempDir()
	f := m.fetcher(t, cacheDir)

	path, err := f.Fetch(context.Background(), testSerial)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("corrupted"), 0o644))

	path, err = f.Fetch(context.Background(), testSerial)
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, m.image, got)
	assert.Equal(t, int64(2), m.imageHits.Load())
}

func TestFetchRejectsTamperedChecksums(t *testing.T) {
	m := newTestMirror(t, []byte("image"))
	// Flip a byte of the signed manifest after signing it.
	m.checksums[0] ^= 0xFF

	_, err := m.fetcher(t, t.TempDir()).Fetch(context.Background(), testSerial)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature")
	assert.Equal(t, int64(0), m.imageHits.Load(), "no artifact may be fetched before the manifest is trusted")
}

func TestFetchRejectsTruncatedSignature(t *testing.T) {
	m := newTestMirror(t, []byte("image"))
	m.signature = m.signature[:len(m.signature)/2]

	_, err := m.fetcher(t, t.TempDir()).Fetch(context.Background(), testSerial)
	require.Error(t, err)
	assert.Equal(t, int64(0), m.imageHits.Load())
}

func TestFetchChecksumNotFound(t *testing.T) {
	m := newTestMirror(t, []byte("image"))
	m.dropChecksum = true
	m.sign(t)

	_, err := m.fetcher(t, t.TempDir()).Fetch(context.Background(), testSerial)
	require.ErrorIs(t, err, ErrChecksumNotFound)
}

func TestFetchBadDownloadDoesNotPolluteCache(t *testing.T) {
	m := newTestMirror(t, []byte("the real image"))
	m.servedImage = []byte("not the real image")
	cacheDir := t.TempDir()

	_, err := m.fetcher(t, cacheDir).Fetch(context.Background(), testSerial)
	require.ErrorIs(t, err, ErrChecksumMismatch)

	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed verification must leave no cache entry or temp file")
}

func TestEmbeddedKeyParses(t *testing.T) {
	_, err := NewFetcher(t.TempDir())
	assert.NoError(t, err)
}

func TestFindChecksum(t *testing.T) {
	sums := []byte("aabb *one.img\nccdd *two.img\n")

	digest, err := findChecksum(sums, "two.img")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xcc, 0xdd}, digest)

	_, err = findChecksum(sums, "three.img")
	assert.ErrorIs(t, err, ErrChecksumNotFound)
}
