package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmorenov/Gesfactur-api/internal/domain/entity"
	"github.com/dmorenov/Gesfactur-api/internal/domain/repository"
)

var _ repository.CertificateRepository = (*CertificateRepo)(nil)

// CertificateRepo implementación de CertificateRepository (usable con pool o tx).
// Los contenedores (.p12, PEM) se guardan como BYTEA; la contraseña del .p12 se
// almacena tal cual llega del registro del tenant.
type CertificateRepo struct {
	q Querier
}

// NewCertificateRepository construye el adaptador. Pasar pool o tx (Querier).
func NewCertificateRepository(q Querier) *CertificateRepo {
	return &CertificateRepo{q: q}
}

const certColumns = `
	id, company_id, name, COALESCE(subject, ''), COALESCE(issuer, ''), COALESCE(serial, ''),
	valid_from, valid_until, status, format, data, COALESCE(key_data, ''::bytea),
	COALESCE(password, ''), created_at, updated_at`

// FindByID obtiene el certificado con su contenedor. (nil, nil) si no existe.
func (r *CertificateRepo) FindByID(ctx context.Context, id string) (*entity.Certificate, error) {
	query := `SELECT` + certColumns + ` FROM certificates WHERE id = $1`
	var c entity.Certificate
	err := r.q.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.CompanyID, &c.Name, &c.Subject, &c.Issuer, &c.Serial,
		&c.ValidFrom, &c.ValidUntil, &c.Status, &c.Format, &c.Data, &c.KeyData,
		&c.Password, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get certificate: %w", err)
	}
	return &c, nil
}

// ListActive devuelve los certificados con estado active de la empresa,
// los más recientes primero.
func (r *CertificateRepo) ListActive(ctx context.Context, companyID string) ([]*entity.Certificate, error) {
	query := `SELECT` + certColumns + `
		FROM certificates WHERE company_id = $1 AND status = $2
		ORDER BY valid_until DESC`
	rows, err := r.q.Query(ctx, query, companyID, entity.CertStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	var list []*entity.Certificate
	for rows.Next() {
		var c entity.Certificate
		if err := rows.Scan(
			&c.ID, &c.CompanyID, &c.Name, &c.Subject, &c.Issuer, &c.Serial,
			&c.ValidFrom, &c.ValidUntil, &c.Status, &c.Format, &c.Data, &c.KeyData,
			&c.Password, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}
