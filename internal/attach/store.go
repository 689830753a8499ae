// Package attach binds uploaded files to process steps. It owns the
// upload fan-out, not the files: a Store implementation holds the bytes
// and the ledger keeps only the returned references.
package attach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/DevanaGroup/titanium/internal/domain"
)

// File is one upload submitted with a dispatch.
type File struct {
	Name        string
	ContentType string
	Content     io.Reader
}

// Uploader identifies who attached the files.
type Uploader struct {
	ID   string
	Name string
}

// Store uploads dispatch files and returns their references.
// Uploads are all-or-nothing for one logical dispatch: any failure
// must surface as an error so the caller aborts before touching the
// ledger.
type Store interface {
	UploadMany(ctx context.Context, files []File, taskID, stepID string, by Uploader) ([]domain.Attachment, error)
}

// DiskStore keeps attachments under <root>/<task>/<step>/. It is the
// in-process stand-in for the external attachment collaborator.
type DiskStore struct {
	Root string
	Now  func() time.Time
}

func NewDiskStore(root string) DiskStore {
	return DiskStore{Root: root, Now: time.Now}
}

func (s DiskStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s DiskStore) UploadMany(ctx context.Context, files []File, taskID, stepID string, by Uploader) ([]domain.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if taskID == "" || stepID == "" {
		return nil, errors.New("task and step ids required")
	}
	dir := filepath.Join(s.Root, taskID, stepID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	ts := s.now().UTC().Format(time.RFC3339)
	refs := make([]domain.Attachment, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if strings.TrimSpace(f.Name) == "" {
				return errors.New("attachment name required")
			}
			id := uuid.New().String()
			path := filepath.Join(dir, id+"_"+sanitize(f.Name))
			size, err := writeFile(path, f.Content)
			if err != nil {
				return fmt.Errorf("upload %s: %w", f.Name, err)
			}
			refs[i] = domain.Attachment{
				ID:           id,
				StepID:       stepID,
				Name:         f.Name,
				URL:          path,
				Size:         size,
				ContentType:  f.ContentType,
				UploaderID:   by.ID,
				UploaderName: by.Name,
				UploadedAt:   ts,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return refs, nil
}

func writeFile(path string, content io.Reader) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	size, err := io.Copy(out, content)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return size, err
}

func sanitize(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}
