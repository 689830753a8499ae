package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DevanaGroup/titanium/internal/db"
	"github.com/DevanaGroup/titanium/internal/domain"
	"github.com/DevanaGroup/titanium/internal/migrate"
	"github.com/DevanaGroup/titanium/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, context.Background()
}

func inTx(t *testing.T, r repo.Repo, ctx context.Context, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func seedProcess(t *testing.T, r repo.Repo, ctx context.Context) domain.TaskProcess {
	t.Helper()
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC).Format(time.RFC3339)
	task := domain.Task{ID: "t1", Title: "Contrato", Status: "aberta", CreatedBy: "alice", CreatedAt: now, UpdatedAt: now}
	err := inTx(t, r, ctx, func(tx *sql.Tx) error {
		if err := r.InsertTask(ctx, tx, task); err != nil {
			return err
		}
		if err := r.InsertProcess(ctx, tx, domain.TaskProcess{TaskID: "t1", Version: 0, CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		return r.AppendStep(ctx, tx, domain.ProcessStep{
			ID: "s0", TaskID: "t1", Seq: 0,
			FromUserID: domain.SystemUserID, ToUserID: "alice",
			Status: domain.StepEmAnalise, IsActive: true, CreatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("seed process: %v", err)
	}
	p, err := r.GetProcess(ctx, "t1")
	if err != nil {
		t.Fatalf("get process: %v", err)
	}
	return p
}

func TestBumpProcessVersionDetectsStaleReads(t *testing.T) {
	r, ctx := newTestRepo(t)
	p := seedProcess(t, r, ctx)
	ts := time.Now().UTC().Format(time.RFC3339)
	if err := inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.BumpProcessVersion(ctx, tx, p.TaskID, p.Version, ts)
	}); err != nil {
		t.Fatalf("first bump: %v", err)
	}
	// A second writer still holding the old version loses.
	err := inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.BumpProcessVersion(ctx, tx, p.TaskID, p.Version, ts)
	})
	if !errors.Is(err, repo.ErrStaleProcess) {
		t.Fatalf("expected ErrStaleProcess, got %v", err)
	}
	got, err := r.GetProcess(ctx, p.TaskID)
	if err != nil {
		t.Fatalf("get process: %v", err)
	}
	if got.Version != p.Version+1 {
		t.Fatalf("version %d, want %d", got.Version, p.Version+1)
	}
}

func TestResolveActiveStepIsGuarded(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedProcess(t, r, ctx)
	// Wrong expected status loses the guard.
	err := inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.ResolveActiveStep(ctx, tx, repo.StepResolution{
			StepID:     "s0",
			FromStatus: domain.StepEmTransito,
			ToStatus:   domain.StepAssinado,
		})
	})
	if !errors.Is(err, repo.ErrStaleProcess) {
		t.Fatalf("expected ErrStaleProcess for wrong from-status, got %v", err)
	}
	if err := inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.ResolveActiveStep(ctx, tx, repo.StepResolution{
			StepID:         "s0",
			FromStatus:     domain.StepEmAnalise,
			ToStatus:       domain.StepEmAnalise,
			Notes:          "encaminhado",
			TimeInAnalysis: 15,
		})
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Already resolved: the same update must not apply twice.
	err = inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.ResolveActiveStep(ctx, tx, repo.StepResolution{
			StepID:     "s0",
			FromStatus: domain.StepEmAnalise,
			ToStatus:   domain.StepEmAnalise,
		})
	})
	if !errors.Is(err, repo.ErrStaleProcess) {
		t.Fatalf("expected ErrStaleProcess on double resolve, got %v", err)
	}
	p, err := r.GetProcess(ctx, "t1")
	if err != nil {
		t.Fatalf("get process: %v", err)
	}
	s := p.Steps[0]
	if s.IsActive || s.Notes != "encaminhado" || s.TimeInAnalysis == nil || *s.TimeInAnalysis != 15 {
		t.Fatalf("resolved step %+v", s)
	}
}

func TestSecondActiveStepIsRejectedBySchema(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedProcess(t, r, ctx)
	now := time.Now().UTC().Format(time.RFC3339)
	err := inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.AppendStep(ctx, tx, domain.ProcessStep{
			ID: "s1", TaskID: "t1", Seq: 1,
			FromUserID: "alice", ToUserID: "bob",
			Status: domain.StepEmTransito, IsActive: true, CreatedAt: now,
		})
	})
	if err == nil {
		t.Fatalf("expected unique index violation for second active step")
	}
}

func TestAppendStepValidatesStatus(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedProcess(t, r, ctx)
	err := inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.AppendStep(ctx, tx, domain.ProcessStep{
			ID: "s1", TaskID: "t1", Seq: 1,
			FromUserID: "alice", ToUserID: "bob",
			Status: "pendente", CreatedAt: time.Now().UTC().Format(time.RFC3339),
		})
	})
	if err == nil {
		t.Fatalf("expected invalid status error")
	}
}

func TestGetProcessNotFound(t *testing.T) {
	r, ctx := newTestRepo(t)
	if _, err := r.GetProcess(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
