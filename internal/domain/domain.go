package domain

// StepStatus is the lifecycle state of a single process step.
type StepStatus string

const (
	StepEmAnalise  StepStatus = "em_analise"
	StepEmTransito StepStatus = "em_transito"
	StepAssinado   StepStatus = "assinado"
	StepRejeitado  StepStatus = "rejeitado"
)

func (s StepStatus) Valid() bool {
	switch s {
	case StepEmAnalise, StepEmTransito, StepAssinado, StepRejeitado:
		return true
	}
	return false
}

// Terminal reports whether the step can no longer change state.
func (s StepStatus) Terminal() bool {
	return s == StepAssinado || s == StepRejeitado
}

// Hierarchy levels of collaborators. External clients never operate the ledger.
const (
	HierarchyDiretor     = "diretor"
	HierarchyGerente     = "gerente"
	HierarchyColaborador = "colaborador"
	HierarchyCliente     = "cliente"
)

// SystemUserID is the synthetic sender of an auto-initialized step 0.
const SystemUserID = "system"

type Task struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description,omitempty"`
	Status        string  `json:"status" enum:"aberta,em_andamento,concluida,cancelada"`
	AssigneeID    *string `json:"assignee_id,omitempty"`
	AssigneeName  *string `json:"assignee_name,omitempty"`
	AssigneeEmail *string `json:"assignee_email,omitempty"`
	CreatedBy     string  `json:"created_by"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

// Attachment is a reference to an uploaded file bound to a step.
// The bytes themselves are owned by the attachment store.
type Attachment struct {
	ID           string `json:"id"`
	StepID       string `json:"step_id"`
	Name         string `json:"name"`
	URL          string `json:"url"`
	Size         int64  `json:"size"`
	ContentType  string `json:"content_type,omitempty"`
	UploaderID   string `json:"uploader_id"`
	UploaderName string `json:"uploader_name,omitempty"`
	UploadedAt   string `json:"uploaded_at" format:"date-time"`
}

// ProcessStep is one hand-off record in the transit ledger.
type ProcessStep struct {
	ID             string       `json:"id"`
	TaskID         string       `json:"task_id"`
	Seq            int          `json:"seq"`
	FromUserID     string       `json:"from_user_id"`
	FromUserName   string       `json:"from_user_name,omitempty"`
	ToUserID       string       `json:"to_user_id"`
	ToUserName     string       `json:"to_user_name,omitempty"`
	ToUserEmail    string       `json:"to_user_email,omitempty"`
	Status         StepStatus   `json:"status" enum:"em_analise,em_transito,assinado,rejeitado"`
	IsActive       bool         `json:"is_active"`
	Notes          string       `json:"notes,omitempty"`
	RichNotes      string       `json:"rich_notes,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      string       `json:"created_at" format:"date-time"`
	SignedAt       *string      `json:"signed_at,omitempty" format:"date-time"`
	RejectedAt     *string      `json:"rejected_at,omitempty" format:"date-time"`
	TimeInAnalysis *int64       `json:"time_in_analysis,omitempty"`
}

// TaskProcess is the append-only transit ledger of one task.
type TaskProcess struct {
	TaskID     string        `json:"task_id"`
	Version    int64         `json:"version"`
	Steps      []ProcessStep `json:"steps"`
	TotalSteps int           `json:"total_steps"`
	CreatedAt  string        `json:"created_at" format:"date-time"`
	UpdatedAt  string        `json:"updated_at" format:"date-time"`
}

// ActiveStep returns the single unresolved step, or nil once the ledger is halted.
func (p TaskProcess) ActiveStep() *ProcessStep {
	for i := range p.Steps {
		if p.Steps[i].IsActive {
			return &p.Steps[i]
		}
	}
	return nil
}

// ProcessMetrics is derived from the ledger on read; values are whole minutes.
type ProcessMetrics struct {
	TotalProcessTime int64 `json:"total_process_time"`
	AverageStepTime  int64 `json:"average_step_time"`
}

type SignatureCredential struct {
	OwnerUserID string `json:"owner_user_id"`
	SecretHash  string `json:"-"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Collaborator struct {
	UID            string `json:"uid"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name,omitempty"`
	Email          string `json:"email,omitempty"`
	HierarchyLevel string `json:"hierarchy_level" enum:"diretor,gerente,colaborador,cliente"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

// FullName joins first and last name for dispatch display.
func (c Collaborator) FullName() string {
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// AuditEvent is one entry of the append-only audit trail.
type AuditEvent struct {
	ID           int64  `json:"id"`
	TS           string `json:"ts" format:"date-time"`
	Action       string `json:"action"`
	Detail       string `json:"detail,omitempty"`
	SubjectID    string `json:"subject_id,omitempty"`
	SubjectTitle string `json:"subject_title,omitempty"`
	ActorID      string `json:"actor_id"`
	Changes      string `json:"changes_json,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
