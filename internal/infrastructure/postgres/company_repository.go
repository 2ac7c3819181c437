package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmorenov/Gesfactur-api/internal/domain/entity"
	"github.com/dmorenov/Gesfactur-api/internal/domain/repository"
)

var _ repository.CompanyRepository = (*CompanyRepo)(nil)

// CompanyRepo implementación de CompanyRepository (usable con pool o tx).
type CompanyRepo struct {
	q Querier
}

// NewCompanyRepository construye el adaptador. Pasar pool o tx (Querier).
func NewCompanyRepository(q Querier) *CompanyRepo {
	return &CompanyRepo{q: q}
}

// FindByID obtiene la empresa emisora. (nil, nil) si no existe.
func (r *CompanyRepo) FindByID(ctx context.Context, id string) (*entity.Company, error) {
	query := `
		SELECT id, name, nif,
		       COALESCE(address, ''), COALESCE(post_code, ''), COALESCE(town, ''),
		       COALESCE(province, ''), COALESCE(email, ''), status,
		       created_at, updated_at
		FROM companies WHERE id = $1`

	var c entity.Company
	err := r.q.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.NIF,
		&c.Address, &c.PostCode, &c.Town, &c.Province, &c.Email, &c.Status,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get company: %w", err)
	}
	return &c, nil
}
