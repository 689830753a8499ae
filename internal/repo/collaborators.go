package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/DevanaGroup/titanium/internal/domain"
)

func (r Repo) UpsertCollaborator(ctx context.Context, c domain.Collaborator) error {
	if c.UID == "" {
		return errors.New("uid required")
	}
	if c.HierarchyLevel == "" {
		c.HierarchyLevel = domain.HierarchyColaborador
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO collaborators(uid,first_name,last_name,email,hierarchy_level,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(uid) DO UPDATE SET first_name=excluded.first_name, last_name=excluded.last_name, email=excluded.email, hierarchy_level=excluded.hierarchy_level`,
		c.UID, c.FirstName, nullable(c.LastName), nullable(c.Email), c.HierarchyLevel, c.CreatedAt)
	return err
}

func (r Repo) GetCollaborator(ctx context.Context, uid string) (domain.Collaborator, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT uid,first_name,COALESCE(last_name,''),COALESCE(email,''),hierarchy_level,created_at FROM collaborators WHERE uid=?`, uid)
	var c domain.Collaborator
	err := row.Scan(&c.UID, &c.FirstName, &c.LastName, &c.Email, &c.HierarchyLevel, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListCollaborators(ctx context.Context) ([]domain.Collaborator, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT uid,first_name,COALESCE(last_name,''),COALESCE(email,''),hierarchy_level,created_at FROM collaborators ORDER BY first_name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Collaborator
	for rows.Next() {
		var c domain.Collaborator
		if err := rows.Scan(&c.UID, &c.FirstName, &c.LastName, &c.Email, &c.HierarchyLevel, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
