// SPDX-License-Identifier: MIT

package imagedl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thurstonsan/anypod/internal/fsstore"
)

// testFetch rewrites the validated URL back to the local test server.
// netpol rejects loopback addresses, so tests register a fake public host
// and point the client's transport at the httptest listener.
type rewriteTransport struct {
	target *url.URL
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newDownloader(t *testing.T, handler http.Handler, converter Converter) (*Downloader, *fsstore.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := fsstore.New(t.TempDir())
	require.NoError(t, err)

	d := New(store, nil, converter)
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)
	d.client.Transport = &rewriteTransport{target: target}
	return d, store
}

func TestFetchJPEGStoredDirectly(t *testing.T) {
	d, store := newDownloader(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}), nil)

	ext, err := d.Fetch(context.Background(), "https://cdn.example.com/cover", "images/f1")
	require.NoError(t, err)
	assert.Equal(t, "jpg", ext)

	data, err := os.ReadFile(filepath.Join(store.Root(), "images", "f1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
}

type fakeConverter struct{ calls int }

func (c *fakeConverter) ConvertToJPG(_ context.Context, src, dst string) error {
	c.calls++
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func TestFetchWebPNormalizedToJPG(t *testing.T) {
	conv := &fakeConverter{}
	d, store := newDownloader(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/webp")
		_, _ = w.Write([]byte("webp-bytes"))
	}), conv)

	ext, err := d.Fetch(context.Background(), "https://cdn.example.com/thumb", "images/f1/downloads/d1")
	require.NoError(t, err)
	assert.Equal(t, "jpg", ext)
	assert.Equal(t, 1, conv.calls)

	assert.FileExists(t, filepath.Join(store.Root(), "images", "f1", "downloads", "d1.jpg"))
	assert.NoFileExists(t, filepath.Join(store.Root(), "images", "f1", "downloads", "d1.webp"))
}

func TestFetchRejectsDisallowedURL(t *testing.T) {
	store, err := fsstore.New(t.TempDir())
	require.NoError(t, err)
	d := New(store, nil, nil)

	_, err = d.Fetch(context.Background(), "http://127.0.0.1/thumb.jpg", "images/x")
	require.Error(t, err)
	var de *DownloadError
	assert.ErrorAs(t, err, &de)
}

func TestFetchNon200(t *testing.T) {
	d, _ := newDownloader(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}), nil)

	_, err := d.Fetch(context.Background(), "https://cdn.example.com/gone.jpg", "images/x")
	require.Error(t, err)
	var de *DownloadError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Err.Error(), "404")
}
