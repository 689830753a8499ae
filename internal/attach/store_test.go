package attach_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DevanaGroup/titanium/internal/attach"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestUploadManyWritesAllFiles(t *testing.T) {
	root := t.TempDir()
	store := attach.NewDiskStore(root)
	store.Now = func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) }
	files := []attach.File{
		{Name: "laudo.pdf", ContentType: "application/pdf", Content: bytes.NewReader([]byte("abc"))},
		{Name: "foto.png", ContentType: "image/png", Content: bytes.NewReader([]byte("defgh"))},
	}
	refs, err := store.UploadMany(context.Background(), files, "task-1", "step-1", attach.Uploader{ID: "alice", Name: "Alice"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %d", len(refs))
	}
	// Order mirrors the input even though uploads run concurrently.
	if refs[0].Name != "laudo.pdf" || refs[1].Name != "foto.png" {
		t.Fatalf("refs out of order: %v", refs)
	}
	if refs[0].Size != 3 || refs[1].Size != 5 {
		t.Fatalf("sizes %d, %d", refs[0].Size, refs[1].Size)
	}
	for _, ref := range refs {
		if ref.StepID != "step-1" || ref.UploaderID != "alice" {
			t.Fatalf("ref metadata %+v", ref)
		}
		if _, err := os.Stat(ref.URL); err != nil {
			t.Fatalf("stored file missing: %v", err)
		}
	}
	entries, err := os.ReadDir(filepath.Join(root, "task-1", "step-1"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 files on disk, got %d", len(entries))
	}
}

func TestUploadManyFailsAsAUnit(t *testing.T) {
	store := attach.NewDiskStore(t.TempDir())
	files := []attach.File{
		{Name: "ok.txt", Content: bytes.NewReader([]byte("ok"))},
		{Name: "bad.txt", Content: failingReader{}},
	}
	refs, err := store.UploadMany(context.Background(), files, "task-1", "step-1", attach.Uploader{ID: "alice"})
	if err == nil {
		t.Fatalf("expected error from failing reader")
	}
	if refs != nil {
		t.Fatalf("expected no refs on failure, got %v", refs)
	}
}

func TestUploadManyRejectsUnnamedFiles(t *testing.T) {
	store := attach.NewDiskStore(t.TempDir())
	_, err := store.UploadMany(context.Background(), []attach.File{{Name: "  ", Content: bytes.NewReader(nil)}}, "task-1", "step-1", attach.Uploader{})
	if err == nil {
		t.Fatalf("expected error for unnamed file")
	}
}

func TestStoredNamesAreSanitized(t *testing.T) {
	store := attach.NewDiskStore(t.TempDir())
	refs, err := store.UploadMany(context.Background(), []attach.File{
		{Name: "con:tra*to?.pdf", Content: bytes.NewReader([]byte("x"))},
	}, "task-1", "step-1", attach.Uploader{ID: "alice"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	base := filepath.Base(refs[0].URL)
	if strings.ContainsAny(base, `:*?`) {
		t.Fatalf("stored name not sanitized: %s", base)
	}
	// The ledger keeps the original name.
	if refs[0].Name != "con:tra*to?.pdf" {
		t.Fatalf("original name lost: %s", refs[0].Name)
	}
}
