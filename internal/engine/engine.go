// Package engine implements the task transit workflow: a ledger of
// hand-off steps moved by forward, sign and reject operations, gated
// by the current holder and a password-backed signature.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/DevanaGroup/titanium/internal/attach"
	"github.com/DevanaGroup/titanium/internal/domain"
	"github.com/DevanaGroup/titanium/internal/events"
	"github.com/DevanaGroup/titanium/internal/repo"
)

type Engine struct {
	DB          *sql.DB
	Repo        repo.Repo
	Audit       events.Recorder
	Attachments attach.Store
	Logger      *zap.Logger
	Now         func() time.Time
}

func New(db *sql.DB, store attach.Store, logger *zap.Logger) Engine {
	return Engine{
		DB:          db,
		Repo:        repo.Repo{DB: db},
		Audit:       events.SQLRecorder{DB: db},
		Attachments: store,
		Logger:      logger,
		Now:         time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// Session is the explicit caller identity passed into every operation.
// There is no ambient current-user state.
type Session struct {
	UserID         string
	DisplayName    string
	Email          string
	HierarchyLevel string
}

// hierarchyFor resolves the caller's hierarchy level from the
// collaborator directory; the session value is only a fallback for
// actors the directory does not know.
func (e Engine) hierarchyFor(ctx context.Context, s Session) (string, error) {
	c, err := e.Repo.GetCollaborator(ctx, s.UserID)
	if err == nil {
		return c.HierarchyLevel, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}
	if s.HierarchyLevel != "" {
		return s.HierarchyLevel, nil
	}
	return domain.HierarchyColaborador, nil
}

// --- tasks ---

type TaskCreateOptions struct {
	ID          string
	Title       string
	Description string
	AssigneeUID string
}

func (e Engine) CreateTask(ctx context.Context, session Session, opts TaskCreateOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, errors.New("title is required")
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:          id,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      "aberta",
		CreatedBy:   session.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.AssigneeUID != "" {
		c, err := e.Repo.GetCollaborator(ctx, opts.AssigneeUID)
		if err != nil {
			return domain.Task{}, fmt.Errorf("assignee %s: %w", opts.AssigneeUID, err)
		}
		name := c.FullName()
		t.AssigneeID = &c.UID
		t.AssigneeName = &name
		if c.Email != "" {
			t.AssigneeEmail = &c.Email
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.recordAudit(ctx, events.ActionCreateTask, "tarefa criada", t.ID, t.Title, session.UserID, events.Changes{"status": t.Status})
	return t, nil
}

// AssignTask sets or replaces the task assignee from the directory.
func (e Engine) AssignTask(ctx context.Context, session Session, taskID, assigneeUID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	c, err := e.Repo.GetCollaborator(ctx, assigneeUID)
	if err != nil {
		return t, fmt.Errorf("assignee %s: %w", assigneeUID, err)
	}
	name := c.FullName()
	t.AssigneeID = &c.UID
	t.AssigneeName = &name
	if c.Email != "" {
		t.AssigneeEmail = &c.Email
	} else {
		t.AssigneeEmail = nil
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// --- process lifecycle ---

// InitializeProcess creates the ledger for a task with step 0 routed
// from the system to the assignee. Refused for unassigned tasks and
// for tasks that already have a process.
func (e Engine) InitializeProcess(ctx context.Context, session Session, taskID string) (domain.TaskProcess, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.TaskProcess{}, err
	}
	if t.AssigneeID == nil || strings.TrimSpace(*t.AssigneeID) == "" {
		return domain.TaskProcess{}, ErrNoAssignee
	}
	if _, err := e.Repo.GetProcess(ctx, taskID); err == nil {
		return domain.TaskProcess{}, ErrAlreadyExists
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.TaskProcess{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	assigneeName := ""
	if t.AssigneeName != nil {
		assigneeName = *t.AssigneeName
	}
	assigneeEmail := ""
	if t.AssigneeEmail != nil {
		assigneeEmail = *t.AssigneeEmail
	}
	step0 := domain.ProcessStep{
		ID:           uuid.New().String(),
		TaskID:       taskID,
		Seq:          0,
		FromUserID:   domain.SystemUserID,
		FromUserName: "Sistema",
		ToUserID:     *t.AssigneeID,
		ToUserName:   assigneeName,
		ToUserEmail:  assigneeEmail,
		Status:       domain.StepEmAnalise,
		IsActive:     true,
		CreatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskProcess{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProcess(ctx, tx, domain.TaskProcess{TaskID: taskID, Version: 0, CreatedAt: now, UpdatedAt: now}); err != nil {
		return domain.TaskProcess{}, err
	}
	if err := e.Repo.AppendStep(ctx, tx, step0); err != nil {
		return domain.TaskProcess{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskProcess{}, err
	}
	e.recordAudit(ctx, events.ActionInitProcess, "trâmite iniciado", taskID, t.Title, session.UserID,
		events.Changes{"to_user_id": step0.ToUserID})
	return e.Repo.GetProcess(ctx, taskID)
}

// EnsureProcess returns the existing ledger or lazily initializes it.
// Calling it twice yields one process, not two.
func (e Engine) EnsureProcess(ctx context.Context, session Session, taskID string) (domain.TaskProcess, error) {
	p, err := e.Repo.GetProcess(ctx, taskID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return p, err
	}
	p, err = e.InitializeProcess(ctx, session, taskID)
	if errors.Is(err, ErrAlreadyExists) {
		return e.Repo.GetProcess(ctx, taskID)
	}
	return p, err
}

// GetProcess is the read-only fetch of the ledger.
func (e Engine) GetProcess(ctx context.Context, taskID string) (domain.TaskProcess, error) {
	return e.Repo.GetProcess(ctx, taskID)
}

// Metrics recomputes timing metrics from the ledger on read.
func (e Engine) Metrics(ctx context.Context, taskID string) (domain.ProcessMetrics, error) {
	p, err := e.Repo.GetProcess(ctx, taskID)
	if err != nil {
		return domain.ProcessMetrics{}, err
	}
	return ComputeMetrics(p, e.now()), nil
}

// ProcessPermissions evaluates the authorization gate for the caller.
func (e Engine) ProcessPermissions(ctx context.Context, session Session, taskID string) (Permissions, error) {
	p, err := e.Repo.GetProcess(ctx, taskID)
	if err != nil {
		return Permissions{}, err
	}
	level, err := e.hierarchyFor(ctx, session)
	if err != nil {
		return Permissions{}, err
	}
	return PermissionsFor(p, session.UserID, level), nil
}

// --- transit operations ---

type ForwardOptions struct {
	TaskID      string
	ToUserID    string
	ToUserName  string
	ToUserEmail string
	Notes       string
	RichNotes   string
	Files       []attach.File
}

// Forward routes the task to a new responsible party: the sender's
// active step absorbs the dispatch note and leaves the active
// position, and a new step awaiting the recipient's signature is
// appended as one atomic unit.
func (e Engine) Forward(ctx context.Context, session Session, opts ForwardOptions) (domain.TaskProcess, error) {
	t, err := e.Repo.GetTask(ctx, opts.TaskID)
	if err != nil {
		return domain.TaskProcess{}, err
	}
	p, err := e.Repo.GetProcess(ctx, opts.TaskID)
	if err != nil {
		return domain.TaskProcess{}, err
	}
	level, err := e.hierarchyFor(ctx, session)
	if err != nil {
		return domain.TaskProcess{}, err
	}
	if !CanForward(p, session.UserID, level) {
		return domain.TaskProcess{}, ErrUnauthorized
	}
	toName, toEmail := opts.ToUserName, opts.ToUserEmail
	if c, err := e.Repo.GetCollaborator(ctx, opts.ToUserID); err == nil {
		if toName == "" {
			toName = c.FullName()
		}
		if toEmail == "" {
			toEmail = c.Email
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.TaskProcess{}, err
	}
	if strings.TrimSpace(toEmail) == "" {
		return domain.TaskProcess{}, ErrInvalidRecipient
	}
	active := CurrentHolderStep(p, session.UserID)

	atts, err := e.uploadFiles(ctx, session, opts.Files, opts.TaskID, active.ID)
	if err != nil {
		return domain.TaskProcess{}, err
	}

	now := e.now().UTC()
	ts := now.Format(time.RFC3339)
	next := domain.ProcessStep{
		ID:           uuid.New().String(),
		TaskID:       opts.TaskID,
		Seq:          len(p.Steps),
		FromUserID:   session.UserID,
		FromUserName: session.DisplayName,
		ToUserID:     opts.ToUserID,
		ToUserName:   toName,
		ToUserEmail:  toEmail,
		Status:       domain.StepEmTransito,
		IsActive:     true,
		CreatedAt:    ts,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskProcess{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.BumpProcessVersion(ctx, tx, opts.TaskID, p.Version, ts); err != nil {
		return domain.TaskProcess{}, mapStale(err)
	}
	if err := e.Repo.ResolveActiveStep(ctx, tx, repo.StepResolution{
		StepID:         active.ID,
		FromStatus:     domain.StepEmAnalise,
		ToStatus:       domain.StepEmAnalise,
		Notes:          opts.Notes,
		RichNotes:      opts.RichNotes,
		TimeInAnalysis: minutesBetween(active.CreatedAt, now),
	}); err != nil {
		return domain.TaskProcess{}, mapStale(err)
	}
	if err := e.Repo.InsertStepAttachments(ctx, tx, atts); err != nil {
		return domain.TaskProcess{}, err
	}
	if err := e.Repo.AppendStep(ctx, tx, next); err != nil {
		return domain.TaskProcess{}, err
	}
	if err := e.Repo.UpdateTaskStatus(ctx, tx, t.ID, "em_andamento", ts); err != nil {
		return domain.TaskProcess{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskProcess{}, err
	}
	e.recordAudit(ctx, events.ActionMoveTask, "tarefa tramitada", t.ID, t.Title, session.UserID, events.Changes{
		"from_user_id": session.UserID,
		"to_user_id":   opts.ToUserID,
		"to_email":     toEmail,
		"step_id":      next.ID,
	})
	return e.Repo.GetProcess(ctx, opts.TaskID)
}

type SignOptions struct {
	TaskID     string
	Passphrase string
	Notes      string
	RichNotes  string
	Files      []attach.File
}

// Sign accepts a forwarded task. The pending step becomes assinado and
// a fresh working step addressed back to the signer is appended, so the
// signer is the new holder.
func (e Engine) Sign(ctx context.Context, session Session, opts SignOptions) (domain.TaskProcess, error) {
	t, err := e.Repo.GetTask(ctx, opts.TaskID)
	if err != nil {
		return domain.TaskProcess{}, err
	}
	p, err := e.Repo.GetProcess(ctx, opts.TaskID)
	if err != nil {
		return domain.TaskProcess{}, err
	}
	level, err := e.hierarchyFor(ctx, session)
	if err != nil {
		return domain.TaskProcess{}, err
	}
	if !CanSign(p, session.UserID, level) {
		return domain.TaskProcess{}, ErrUnauthorized
	}
	if err := e.VerifyCredential(ctx, session.UserID, opts.Passphrase); err != nil {
		if errors.Is(err, ErrInvalidCredential) {
			e.recordAudit(ctx, events.ActionSignDenied, "assinatura recusada: senha inválida", t.ID, t.Title, session.UserID, nil)
		}
		return domain.TaskProcess{}, err
	}
	active := CurrentHolderStep(p, session.UserID)

	atts, err := e.uploadFiles(ctx, session, opts.Files, opts.TaskID, active.ID)
	if err != nil {
		return domain.TaskProcess{}, err
	}

	now := e.now().UTC()
	ts := now.Format(time.RFC3339)
	next := domain.ProcessStep{
		ID:           uuid.New().String(),
		TaskID:       opts.TaskID,
		Seq:          len(p.Steps),
		FromUserID:   session.UserID,
		FromUserName: session.DisplayName,
		ToUserID:     session.UserID,
		ToUserName:   session.DisplayName,
		ToUserEmail:  session.Email,
		Status:       domain.StepEmAnalise,
		IsActive:     true,
		CreatedAt:    ts,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskProcess{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.BumpProcessVersion(ctx, tx, opts.TaskID, p.Version, ts); err != nil {
		return domain.TaskProcess{}, mapStale(err)
	}
	if err := e.Repo.ResolveActiveStep(ctx, tx, repo.StepResolution{
		StepID:         active.ID,
		FromStatus:     domain.StepEmTransito,
		ToStatus:       domain.StepAssinado,
		Notes:          opts.Notes,
		RichNotes:      opts.RichNotes,
		SignedAt:       &ts,
		TimeInAnalysis: minutesBetween(active.CreatedAt, now),
	}); err != nil {
		return domain.TaskProcess{}, mapStale(err)
	}
	if err := e.Repo.InsertStepAttachments(ctx, tx, atts); err != nil {
		return domain.TaskProcess{}, err
	}
	if err := e.Repo.AppendStep(ctx, tx, next); err != nil {
		return domain.TaskProcess{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskProcess{}, err
	}
	e.recordAudit(ctx, events.ActionSignTask, "tarefa assinada", t.ID, t.Title, session.UserID, events.Changes{
		"signed_step_id": active.ID,
		"new_step_id":    next.ID,
	})
	return e.Repo.GetProcess(ctx, opts.TaskID)
}

type RejectOptions struct {
	TaskID     string
	Reason     string
	RichReason string
	Files      []attach.File
}

// Reject refuses a forwarded task with a justification. No new step is
// appended: the ledger halts until someone re-forwards manually.
func (e Engine) Reject(ctx context.Context, session Session, opts RejectOptions) (domain.TaskProcess, error) {
	reason := opts.RichReason
	if strings.TrimSpace(reason) == "" {
		reason = opts.Reason
	}
	if strings.TrimSpace(reason) == "" {
		return domain.TaskProcess{}, ErrEmptyReason
	}
	t, err := e.Repo.GetTask(ctx, opts.TaskID)
	if err != nil {
		return domain.TaskProcess{}, err
	}
	p, err := e.Repo.GetProcess(ctx, opts.TaskID)
	if err != nil {
		return domain.TaskProcess{}, err
	}
	level, err := e.hierarchyFor(ctx, session)
	if err != nil {
		return domain.TaskProcess{}, err
	}
	if !CanReject(p, session.UserID, level) {
		return domain.TaskProcess{}, ErrUnauthorized
	}
	active := CurrentHolderStep(p, session.UserID)

	atts, err := e.uploadFiles(ctx, session, opts.Files, opts.TaskID, active.ID)
	if err != nil {
		return domain.TaskProcess{}, err
	}

	now := e.now().UTC()
	ts := now.Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskProcess{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.BumpProcessVersion(ctx, tx, opts.TaskID, p.Version, ts); err != nil {
		return domain.TaskProcess{}, mapStale(err)
	}
	if err := e.Repo.ResolveActiveStep(ctx, tx, repo.StepResolution{
		StepID:         active.ID,
		FromStatus:     domain.StepEmTransito,
		ToStatus:       domain.StepRejeitado,
		Notes:          opts.Reason,
		RichNotes:      reason,
		RejectedAt:     &ts,
		TimeInAnalysis: minutesBetween(active.CreatedAt, now),
	}); err != nil {
		return domain.TaskProcess{}, mapStale(err)
	}
	if err := e.Repo.InsertStepAttachments(ctx, tx, atts); err != nil {
		return domain.TaskProcess{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskProcess{}, err
	}
	e.recordAudit(ctx, events.ActionRejectTask, "tarefa rejeitada", t.ID, t.Title, session.UserID, events.Changes{
		"rejected_step_id": active.ID,
		"reason":           reason,
	})
	return e.Repo.GetProcess(ctx, opts.TaskID)
}

// --- signature credentials ---

// RegisterCredential stores the caller's signature passphrase as a
// bcrypt hash. Re-registration overwrites. The plaintext is neither
// persisted nor logged.
func (e Engine) RegisterCredential(ctx context.Context, session Session, passphrase string) error {
	if len(passphrase) < 6 {
		return ErrWeakPassphrase
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	err = e.Repo.UpsertCredential(ctx, domain.SignatureCredential{
		OwnerUserID: session.UserID,
		SecretHash:  string(hash),
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	e.recordAudit(ctx, events.ActionRegisterCredential, "senha de assinatura registrada", session.UserID, "", session.UserID, nil)
	return nil
}

func (e Engine) HasCredential(ctx context.Context, userID string) (bool, error) {
	return e.Repo.HasCredential(ctx, userID)
}

// VerifyCredential checks the passphrase against the stored hash.
func (e Engine) VerifyCredential(ctx context.Context, userID, passphrase string) error {
	c, err := e.Repo.GetCredential(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNoCredential
	}
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(c.SecretHash), []byte(passphrase)); err != nil {
		return ErrInvalidCredential
	}
	return nil
}

// --- helpers ---

func (e Engine) uploadFiles(ctx context.Context, session Session, files []attach.File, taskID, stepID string) ([]domain.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if e.Attachments == nil {
		return nil, errors.New("attachment store not configured")
	}
	return e.Attachments.UploadMany(ctx, files, taskID, stepID, attach.Uploader{ID: session.UserID, Name: session.DisplayName})
}

func (e Engine) recordAudit(ctx context.Context, action, detail, subjectID, subjectTitle, actorID string, changes events.Changes) {
	if e.Audit == nil {
		return
	}
	if err := e.Audit.Record(ctx, action, detail, subjectID, subjectTitle, actorID, changes); err != nil {
		e.logger().Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}

func mapStale(err error) error {
	if errors.Is(err, repo.ErrStaleProcess) {
		return ErrConflict
	}
	return err
}

func minutesBetween(createdAt string, now time.Time) int64 {
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil || now.Before(t) {
		return 0
	}
	return int64(now.Sub(t) / time.Minute)
}
