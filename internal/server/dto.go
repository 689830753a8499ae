package server

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/DevanaGroup/titanium/internal/attach"
	"github.com/DevanaGroup/titanium/internal/domain"
	"github.com/DevanaGroup/titanium/internal/engine"
)

// Request payloads

type CreateTaskRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	AssigneeUID *string `json:"assignee_uid,omitempty"`
}

type AssignTaskRequest struct {
	AssigneeUID string `json:"assignee_uid"`
}

// AttachmentUpload carries dispatch file content inline. The server
// hands the decoded bytes to the attachment store before any ledger
// write happens.
type AttachmentUpload struct {
	Name          string `json:"name"`
	ContentType   string `json:"content_type,omitempty"`
	ContentBase64 string `json:"content_base64"`
}

type ForwardRequest struct {
	ToUserID    string             `json:"to_user_id"`
	ToUserName  *string            `json:"to_user_name,omitempty"`
	ToUserEmail *string            `json:"to_user_email,omitempty"`
	Notes       *string            `json:"notes,omitempty"`
	RichNotes   *string            `json:"rich_notes,omitempty"`
	Attachments []AttachmentUpload `json:"attachments,omitempty"`
}

type SignRequest struct {
	Passphrase  string             `json:"passphrase"`
	Notes       *string            `json:"notes,omitempty"`
	RichNotes   *string            `json:"rich_notes,omitempty"`
	Attachments []AttachmentUpload `json:"attachments,omitempty"`
}

type RejectRequest struct {
	Reason      string             `json:"reason"`
	RichReason  *string            `json:"rich_reason,omitempty"`
	Attachments []AttachmentUpload `json:"attachments,omitempty"`
}

type RegisterCredentialRequest struct {
	Passphrase string `json:"passphrase"`
}

type UpsertCollaboratorRequest struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name,omitempty"`
	Email          string `json:"email,omitempty"`
	HierarchyLevel string `json:"hierarchy_level" enum:"diretor,gerente,colaborador,cliente"`
}

// Response payloads

type TaskResponse struct {
	Task domain.Task `json:"task"`
}

type TaskListResponse struct {
	Items []domain.Task `json:"items"`
}

type ProcessResponse struct {
	Process domain.TaskProcess `json:"process"`
}

type MetricsResponse struct {
	Metrics domain.ProcessMetrics `json:"metrics"`
}

type PermissionsResponse struct {
	Permissions engine.Permissions `json:"permissions"`
}

type CredentialStatusResponse struct {
	Registered bool `json:"registered"`
}

type CollaboratorResponse struct {
	Collaborator domain.Collaborator `json:"collaborator"`
}

type CollaboratorListResponse struct {
	Items []domain.Collaborator `json:"items"`
}

type AuditEventListResponse struct {
	Items []domain.AuditEvent `json:"items"`
}

func collaboratorFromRequest(uid string, req UpsertCollaboratorRequest) domain.Collaborator {
	return domain.Collaborator{
		UID:            uid,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Email:          req.Email,
		HierarchyLevel: req.HierarchyLevel,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
	}
}

func decodeUploads(in []AttachmentUpload) ([]attach.File, error) {
	files := make([]attach.File, 0, len(in))
	for _, u := range in {
		data, err := base64.StdEncoding.DecodeString(u.ContentBase64)
		if err != nil {
			return nil, fmt.Errorf("attachment %s: %w", u.Name, err)
		}
		files = append(files, attach.File{
			Name:        u.Name,
			ContentType: u.ContentType,
			Content:     bytes.NewReader(data),
		})
	}
	return files, nil
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
