package repository

import (
	"context"
	"fmt"
)

// RoleRepository loads the role and permission graph of a user
type RoleRepository struct {
	db querier
}

func NewRoleRepository(db querier) *RoleRepository {
	return &RoleRepository{db: db}
}

// ListForUser returns the user's roles ordered by name, each carrying its
// permissions ordered by key. Roles without permissions are kept.
func (r *RoleRepository) ListForUser(ctx context.Context, userID string) ([]Role, error) {
	query := `
		SELECT r.id, r.name, p.id, p.key
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		ORDER BY r.name, p.key
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user roles: %w", err)
	}
	defer rows.Close()

	roles := make([]Role, 0)
	for rows.Next() {
		var (
			roleID, roleName string
			permID, permKey  *string
		)
		if err := rows.Scan(&roleID, &roleName, &permID, &permKey); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}

		if n := len(roles); n == 0 || roles[n-1].ID != roleID {
			roles = append(roles, Role{ID: roleID, Name: roleName})
		}
		if permID != nil && permKey != nil {
			last := &roles[len(roles)-1]
			last.Permissions = append(last.Permissions, Permission{ID: *permID, Key: *permKey})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}

	return roles, nil
}
