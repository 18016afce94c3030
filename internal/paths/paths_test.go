// SPDX-License-Identifier: MIT

package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaFilePath(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, "http://localhost:8024/")

	p, err := m.MediaFilePath("f1", "abc_123", "m4a")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "media", "f1", "abc_123.m4a"), p)

	// Feed directory must exist after resolution.
	info, err := os.Stat(filepath.Join(root, "media", "f1"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	assert.Equal(t, "http://localhost:8024/media/f1/abc_123.m4a", m.MediaFileURL("f1", "abc_123", "m4a"))
}

func TestInvalidSegmentsRejected(t *testing.T) {
	m := NewManager(t.TempDir(), "http://example.com")

	tests := []struct {
		name string
		fn   func() error
	}{
		{"traversal feed id", func() error { _, err := m.MediaDir("../etc"); return err }},
		{"slash in download id", func() error { _, err := m.MediaFilePath("f1", "a/b", "mp4"); return err }},
		{"empty feed id", func() error { _, err := m.FeedXMLPath(""); return err }},
		{"dotted ext", func() error { _, err := m.MediaFilePath("f1", "d1", "m.4a"); return err }},
		{"overlong feed id", func() error { _, err := m.MediaDir(strings.Repeat("a", 256)); return err }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.fn()
			require.Error(t, err)
			var seg *InvalidSegmentError
			assert.ErrorAs(t, err, &seg)
		})
	}
}

func TestTmpFileUnique(t *testing.T) {
	m := NewManager(t.TempDir(), "http://example.com")

	a, err := m.TmpFile("f1")
	require.NoError(t, err)
	b, err := m.TmpFile("f1")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(filepath.Base(a), "tmp_"))
	assert.DirExists(t, filepath.Dir(a))
}

func TestFeedAndImageLayout(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, "https://pods.example.com")

	xml, err := m.FeedXMLPath("news")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "feeds", "news.xml"), xml)
	assert.Equal(t, "https://pods.example.com/feeds/news.xml", m.FeedURL("news"))

	img, err := m.FeedImagePath("news", "jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "images", "news.jpg"), img)

	thumb, err := m.DownloadImagePath("news", "ep1", "jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "images", "news", "downloads", "ep1.jpg"), thumb)
	assert.Equal(t, "https://pods.example.com/images/news/downloads/ep1.jpg",
		m.DownloadImageURL("news", "ep1", "jpg"))
}

func TestDBFilePath(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, "http://example.com")

	p, err := m.DBFilePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "db", "anypod.db"), p)
	assert.DirExists(t, filepath.Join(root, "db"))
}
