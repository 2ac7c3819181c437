package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmorenov/Gesfactur-api/internal/domain/entity"
	"github.com/dmorenov/Gesfactur-api/internal/domain/repository"
)

var _ repository.ClientRepository = (*ClientRepo)(nil)

// ClientRepo implementación de ClientRepository (usable con pool o tx).
type ClientRepo struct {
	q Querier
}

// NewClientRepository construye el adaptador. Pasar pool o tx (Querier).
func NewClientRepository(q Querier) *ClientRepo {
	return &ClientRepo{q: q}
}

// FindByID obtiene el cliente con su configuración DIR3. (nil, nil) si no existe.
func (r *ClientRepo) FindByID(ctx context.Context, id string) (*entity.Client, error) {
	query := `
		SELECT id, company_id, name, nif, person_type,
		       COALESCE(address, ''), COALESCE(post_code, ''), COALESCE(town, ''),
		       COALESCE(province, ''), COALESCE(email, ''),
		       einvoice, created_at, updated_at
		FROM clients WHERE id = $1`

	var c entity.Client
	var einvoiceJSON []byte
	err := r.q.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.CompanyID, &c.Name, &c.NIF, &c.PersonType,
		&c.Address, &c.PostCode, &c.Town, &c.Province, &c.Email,
		&einvoiceJSON, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get client: %w", err)
	}

	if len(einvoiceJSON) > 0 && string(einvoiceJSON) != "null" {
		c.EInvoice = &entity.EInvoiceConfig{}
		if err := json.Unmarshal(einvoiceJSON, c.EInvoice); err != nil {
			return nil, fmt.Errorf("decode einvoice config: %w", err)
		}
	}
	return &c, nil
}
