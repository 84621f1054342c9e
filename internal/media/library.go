package media

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// ErrUnsupportedType is returned for uploads that are neither images nor mp4 video.
var ErrUnsupportedType = errors.New("unsupported media type")

const uploadPattern = "upload-*"

// Library owns the media directory and the upload spool directory next to it.
type Library struct {
	Dir       string
	UploadDir string
}

// NewLibrary creates both directories if needed.
func NewLibrary(dir, uploadDir string) (*Library, error) {
	for _, d := range []string{dir, uploadDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", d, err)
		}
	}
	return &Library{Dir: dir, UploadDir: uploadDir}, nil
}

// FS exposes the media directory for reading media bytes at publish time.
func (l *Library) FS() fs.FS {
	return os.DirFS(l.Dir)
}

// Save spools r into the upload directory, checks its content type, and moves
// it into the media directory under a fresh name. It returns the media
// reference to store in the archive.
func (l *Library) Save(r io.Reader) (string, error) {
	tmp, err := os.CreateTemp(l.UploadDir, uploadPattern)
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("spool upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close spool file: %w", err)
	}

	mt, err := mimetype.DetectFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("detect type: %w", err)
	}
	if !allowed(mt) {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mt.String())
	}

	ref := uuid.NewString() + mt.Extension()
	if err := os.Rename(tmpPath, filepath.Join(l.Dir, ref)); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("move upload: %w", err)
	}
	return ref, nil
}

// Remove deletes a stored media file. Used to roll back a failed enqueue.
func (l *Library) Remove(ref string) error {
	return os.Remove(filepath.Join(l.Dir, filepath.Base(ref)))
}

// SweepUploads deletes spooled uploads last modified before now-maxAge and
// returns how many were removed.
func (l *Library) SweepUploads(now time.Time, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(l.UploadDir)
	if err != nil {
		return 0, fmt.Errorf("read upload dir: %w", err)
	}
	cutoff := now.Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "upload-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(l.UploadDir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func allowed(mt *mimetype.MIME) bool {
	return mt.Is("video/mp4") || strings.HasPrefix(mt.String(), "image/")
}
