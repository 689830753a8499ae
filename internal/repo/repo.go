package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/DevanaGroup/titanium/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const taskColumns = `id,title,COALESCE(description,'') AS description,status,assignee_id,assignee_name,assignee_email,created_by,created_at,updated_at`

func scanTask(row *sql.Row) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.AssigneeID, &t.AssigneeName, &t.AssigneeEmail, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,title,description,status,assignee_id,assignee_name,assignee_email,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Description), t.Status, t.AssigneeID, t.AssigneeName, t.AssigneeEmail, t.CreatedBy, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.AssigneeID, &t.AssigneeName, &t.AssigneeEmail, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, status=?, assignee_id=?, assignee_name=?, assignee_email=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Status, t.AssigneeID, t.AssigneeName, t.AssigneeEmail, t.UpdatedAt, t.ID)
	return err
}

func (r Repo) UpdateTaskStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- task processes ---

func (r Repo) InsertProcess(ctx context.Context, tx *sql.Tx, p domain.TaskProcess) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_processes(task_id,version,created_at,updated_at) VALUES (?,?,?,?)`,
		p.TaskID, p.Version, p.CreatedAt, p.UpdatedAt)
	return err
}

// GetProcess loads the process row plus its full ordered step ledger.
func (r Repo) GetProcess(ctx context.Context, taskID string) (domain.TaskProcess, error) {
	var p domain.TaskProcess
	row := r.DB.QueryRowContext(ctx, `SELECT task_id,version,created_at,updated_at FROM task_processes WHERE task_id=?`, taskID)
	err := row.Scan(&p.TaskID, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	steps, err := r.ListSteps(ctx, taskID)
	if err != nil {
		return p, err
	}
	p.Steps = steps
	p.TotalSteps = len(steps)
	return p, nil
}

// BumpProcessVersion is the optimistic-concurrency guard shared by all
// transit operations. Zero affected rows means another actor resolved
// the active step between our read and write.
func (r Repo) BumpProcessVersion(ctx context.Context, tx *sql.Tx, taskID string, version int64, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE task_processes SET version=version+1, updated_at=? WHERE task_id=? AND version=?`,
		updatedAt, taskID, version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleProcess
	}
	return nil
}

// ErrStaleProcess signals a lost optimistic-concurrency race.
var ErrStaleProcess = errors.New("process version is stale")

// --- process steps ---

const stepColumns = `id,task_id,seq,from_user_id,COALESCE(from_user_name,''),to_user_id,COALESCE(to_user_name,''),COALESCE(to_user_email,''),status,is_active,COALESCE(notes,''),COALESCE(rich_notes,''),created_at,signed_at,rejected_at,time_in_analysis`

func scanStep(scan func(...any) error) (domain.ProcessStep, error) {
	var s domain.ProcessStep
	var active int
	var status string
	err := scan(&s.ID, &s.TaskID, &s.Seq, &s.FromUserID, &s.FromUserName, &s.ToUserID, &s.ToUserName, &s.ToUserEmail,
		&status, &active, &s.Notes, &s.RichNotes, &s.CreatedAt, &s.SignedAt, &s.RejectedAt, &s.TimeInAnalysis)
	if err != nil {
		return s, err
	}
	s.Status = domain.StepStatus(status)
	s.IsActive = active == 1
	return s, nil
}

func (r Repo) ListSteps(ctx context.Context, taskID string) ([]domain.ProcessStep, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stepColumns+` FROM process_steps WHERE task_id=? ORDER BY seq ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var steps []domain.ProcessStep
	for rows.Next() {
		s, err := scanStep(rows.Scan)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range steps {
		atts, err := r.ListStepAttachments(ctx, steps[i].ID)
		if err != nil {
			return nil, err
		}
		steps[i].Attachments = atts
	}
	return steps, nil
}

// AppendStep inserts a new active step. The previous active step must
// already have been deactivated in the same transaction; the partial
// unique index on (task_id) WHERE is_active=1 enforces the invariant.
func (r Repo) AppendStep(ctx context.Context, tx *sql.Tx, s domain.ProcessStep) error {
	active := 0
	if s.IsActive {
		active = 1
	}
	if !s.Status.Valid() {
		return fmt.Errorf("invalid step status %q", s.Status)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO process_steps(id,task_id,seq,from_user_id,from_user_name,to_user_id,to_user_name,to_user_email,status,is_active,notes,rich_notes,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.TaskID, s.Seq, s.FromUserID, nullable(s.FromUserName), s.ToUserID, nullable(s.ToUserName), nullable(s.ToUserEmail),
		string(s.Status), active, nullable(s.Notes), nullable(s.RichNotes), s.CreatedAt)
	return err
}

// StepResolution carries the fields written when a step leaves the
// active position. Terminal timestamps stay nil on a plain forward.
type StepResolution struct {
	StepID         string
	FromStatus     domain.StepStatus
	ToStatus       domain.StepStatus
	Notes          string
	RichNotes      string
	SignedAt       *string
	RejectedAt     *string
	TimeInAnalysis int64
}

// ResolveActiveStep flips the active step out of the active position as
// one guarded update. Zero affected rows means the step was already
// resolved by a concurrent actor.
func (r Repo) ResolveActiveStep(ctx context.Context, tx *sql.Tx, res StepResolution) error {
	if !res.ToStatus.Valid() {
		return fmt.Errorf("invalid step status %q", res.ToStatus)
	}
	out, err := tx.ExecContext(ctx, `UPDATE process_steps SET status=?, is_active=0, notes=COALESCE(?,notes), rich_notes=COALESCE(?,rich_notes), signed_at=?, rejected_at=?, time_in_analysis=? WHERE id=? AND status=? AND is_active=1`,
		string(res.ToStatus), nullable(res.Notes), nullable(res.RichNotes), res.SignedAt, res.RejectedAt, res.TimeInAnalysis,
		res.StepID, string(res.FromStatus))
	if err != nil {
		return err
	}
	n, err := out.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleProcess
	}
	return nil
}

// --- step attachments ---

func (r Repo) InsertStepAttachments(ctx context.Context, tx *sql.Tx, atts []domain.Attachment) error {
	for _, a := range atts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO step_attachments(id,step_id,name,url,size,content_type,uploader_id,uploader_name,uploaded_at) VALUES (?,?,?,?,?,?,?,?,?)`,
			a.ID, a.StepID, a.Name, a.URL, a.Size, nullable(a.ContentType), a.UploaderID, nullable(a.UploaderName), a.UploadedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListStepAttachments(ctx context.Context, stepID string) ([]domain.Attachment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,step_id,name,url,size,COALESCE(content_type,''),uploader_id,COALESCE(uploader_name,''),uploaded_at FROM step_attachments WHERE step_id=? ORDER BY uploaded_at ASC`, stepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var atts []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		if err := rows.Scan(&a.ID, &a.StepID, &a.Name, &a.URL, &a.Size, &a.ContentType, &a.UploaderID, &a.UploaderName, &a.UploadedAt); err != nil {
			return nil, err
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
