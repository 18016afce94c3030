// SPDX-License-Identifier: MIT

// Package paths maps (feed, download, ext) tuples to canonical filesystem
// paths and public URLs under the data root. Directories are created on
// demand; all identifier segments are validated before they touch a path.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const dirMode = 0o755

// idPattern matches valid feed and download identifiers. Anything else is
// rejected before it can become a path segment.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// extPattern matches file extensions without the leading dot.
var extPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,10}$`)

// InvalidSegmentError reports an identifier or extension that cannot be
// used as a path segment.
type InvalidSegmentError struct {
	Kind  string // "feed_id", "download_id", "ext"
	Value string
}

func (e *InvalidSegmentError) Error() string {
	return fmt.Sprintf("paths: invalid %s %q", e.Kind, e.Value)
}

// ValidateID reports whether id is usable as a feed or download identifier.
func ValidateID(id string) bool {
	return idPattern.MatchString(id)
}

// Manager resolves the on-disk layout and the matching public URLs.
//
//	db/anypod.db
//	media/<feed_id>/<download_id>.<ext>
//	images/<feed_id>.<ext>
//	images/<feed_id>/downloads/<download_id>.<ext>
//	feeds/<feed_id>.xml
//	tmp/<feed_id>/tmp_<hex>
type Manager struct {
	dataDir string
	baseURL string
}

// NewManager builds a Manager rooted at dataDir. baseURL is used verbatim
// (trailing slash stripped) as the public URL prefix.
func NewManager(dataDir, baseURL string) *Manager {
	return &Manager{
		dataDir: filepath.Clean(dataDir),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// DataDir returns the root every path resolves under.
func (m *Manager) DataDir() string {
	return m.dataDir
}

// BaseURL returns the public URL prefix.
func (m *Manager) BaseURL() string {
	return m.baseURL
}

// DBDir returns the database directory, created if missing.
func (m *Manager) DBDir() (string, error) {
	return m.ensureDir(filepath.Join(m.dataDir, "db"))
}

// DBFilePath returns the SQLite file path, creating the db directory.
func (m *Manager) DBFilePath() (string, error) {
	dir, err := m.DBDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "anypod.db"), nil
}

// MediaDir returns the media directory for one feed, created if missing.
func (m *Manager) MediaDir(feedID string) (string, error) {
	if err := checkID("feed_id", feedID); err != nil {
		return "", err
	}
	return m.ensureDir(filepath.Join(m.dataDir, "media", feedID))
}

// MediaFilePath returns the canonical media file path for a download.
func (m *Manager) MediaFilePath(feedID, downloadID, ext string) (string, error) {
	dir, err := m.MediaDir(feedID)
	if err != nil {
		return "", err
	}
	if err := checkID("download_id", downloadID); err != nil {
		return "", err
	}
	if err := checkExt(ext); err != nil {
		return "", err
	}
	return filepath.Join(dir, downloadID+"."+ext), nil
}

// MediaFileURL returns the public URL the RSS enclosure points at.
func (m *Manager) MediaFileURL(feedID, downloadID, ext string) string {
	return fmt.Sprintf("%s/media/%s/%s.%s", m.baseURL, feedID, downloadID, ext)
}

// ImagesDir returns the root images directory, created if missing.
func (m *Manager) ImagesDir() (string, error) {
	return m.ensureDir(filepath.Join(m.dataDir, "images"))
}

// FeedImagePath returns the hosted feed image path.
func (m *Manager) FeedImagePath(feedID, ext string) (string, error) {
	dir, err := m.ImagesDir()
	if err != nil {
		return "", err
	}
	if err := checkID("feed_id", feedID); err != nil {
		return "", err
	}
	if err := checkExt(ext); err != nil {
		return "", err
	}
	return filepath.Join(dir, feedID+"."+ext), nil
}

// FeedImageURL returns the public URL of the hosted feed image.
func (m *Manager) FeedImageURL(feedID, ext string) string {
	return fmt.Sprintf("%s/images/%s.%s", m.baseURL, feedID, ext)
}

// DownloadImagePath returns the hosted per-download thumbnail path.
// Thumbnails are normalized to a single extension (jpg) on download.
func (m *Manager) DownloadImagePath(feedID, downloadID, ext string) (string, error) {
	if err := checkID("feed_id", feedID); err != nil {
		return "", err
	}
	if err := checkID("download_id", downloadID); err != nil {
		return "", err
	}
	if err := checkExt(ext); err != nil {
		return "", err
	}
	dir, err := m.ensureDir(filepath.Join(m.dataDir, "images", feedID, "downloads"))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, downloadID+"."+ext), nil
}

// DownloadImageURL returns the public URL of the hosted thumbnail.
func (m *Manager) DownloadImageURL(feedID, downloadID, ext string) string {
	return fmt.Sprintf("%s/images/%s/downloads/%s.%s", m.baseURL, feedID, downloadID, ext)
}

// FeedXMLDir returns the generated-feeds directory, created if missing.
func (m *Manager) FeedXMLDir() (string, error) {
	return m.ensureDir(filepath.Join(m.dataDir, "feeds"))
}

// FeedXMLPath returns the generated RSS document path for a feed.
func (m *Manager) FeedXMLPath(feedID string) (string, error) {
	dir, err := m.FeedXMLDir()
	if err != nil {
		return "", err
	}
	if err := checkID("feed_id", feedID); err != nil {
		return "", err
	}
	return filepath.Join(dir, feedID+".xml"), nil
}

// FeedURL returns the public URL podcast clients subscribe to.
func (m *Manager) FeedURL(feedID string) string {
	return fmt.Sprintf("%s/feeds/%s.xml", m.baseURL, feedID)
}

// TmpDir returns the per-feed scratch directory, created if missing.
func (m *Manager) TmpDir(feedID string) (string, error) {
	if err := checkID("feed_id", feedID); err != nil {
		return "", err
	}
	return m.ensureDir(filepath.Join(m.dataDir, "tmp", feedID))
}

// TmpFile returns a unique scratch file path inside the feed's tmp dir.
// The file itself is not created.
func (m *Manager) TmpFile(feedID string) (string, error) {
	dir, err := m.TmpDir(feedID)
	if err != nil {
		return "", err
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return filepath.Join(dir, "tmp_"+suffix), nil
}

func (m *Manager) ensureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return "", fmt.Errorf("paths: create %s: %w", dir, err)
	}
	return dir, nil
}

func checkID(kind, id string) error {
	if !idPattern.MatchString(id) {
		return &InvalidSegmentError{Kind: kind, Value: id}
	}
	return nil
}

func checkExt(ext string) error {
	if !extPattern.MatchString(ext) {
		return &InvalidSegmentError{Kind: "ext", Value: ext}
	}
	return nil
}
