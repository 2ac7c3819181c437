package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmorenov/Gesfactur-api/internal/domain"
	"github.com/dmorenov/Gesfactur-api/internal/domain/entity"
	"github.com/dmorenov/Gesfactur-api/internal/domain/repository"
)

var _ repository.InvoiceRepository = (*InvoiceRepo)(nil)

// InvoiceRepo implementación de InvoiceRepository (usable con pool o tx).
// El sub-registro FACE vive en columnas face_* de la propia tabla invoices;
// el historial y los agregados (impuestos, vencimientos) son JSONB.
type InvoiceRepo struct {
	q Querier
}

// NewInvoiceRepository construye el adaptador. Pasar pool o tx (Querier).
func NewInvoiceRepository(q Querier) *InvoiceRepo {
	return &InvoiceRepo{q: q}
}

// FindByID obtiene la factura completa: cabecera, líneas, desglose de
// impuestos, vencimientos y estado de presentación. (nil, nil) si no existe.
func (r *InvoiceRepo) FindByID(ctx context.Context, id string) (*entity.Invoice, error) {
	query := `
		SELECT id, company_id, client_id, series, number, date,
		       gross_total, discount_total, tax_total, total, outstanding, withholding_pct,
		       taxes, due_dates, rectifies,
		       face_registration_number, face_state, face_last_queried_at, face_history,
		       created_at, updated_at
		FROM invoices WHERE id = $1`

	var inv entity.Invoice
	var taxesJSON, dueDatesJSON, rectifiesJSON, historyJSON []byte
	var regNumber, faceState *string
	var lastQueried *time.Time

	err := r.q.QueryRow(ctx, query, id).Scan(
		&inv.ID, &inv.CompanyID, &inv.ClientID, &inv.Series, &inv.Number, &inv.Date,
		&inv.GrossTotal, &inv.DiscountTotal, &inv.TaxTotal, &inv.Total, &inv.Outstanding, &inv.WithholdingPct,
		&taxesJSON, &dueDatesJSON, &rectifiesJSON,
		&regNumber, &faceState, &lastQueried, &historyJSON,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}

	if len(taxesJSON) > 0 {
		if err := json.Unmarshal(taxesJSON, &inv.Taxes); err != nil {
			return nil, fmt.Errorf("decode taxes: %w", err)
		}
	}
	if len(dueDatesJSON) > 0 {
		if err := json.Unmarshal(dueDatesJSON, &inv.DueDates); err != nil {
			return nil, fmt.Errorf("decode due_dates: %w", err)
		}
	}
	if len(rectifiesJSON) > 0 && string(rectifiesJSON) != "null" {
		inv.Rectifies = &entity.Rectification{}
		if err := json.Unmarshal(rectifiesJSON, inv.Rectifies); err != nil {
			return nil, fmt.Errorf("decode rectifies: %w", err)
		}
	}
	if regNumber != nil && *regNumber != "" {
		sub := &entity.SubmissionState{
			RegistrationNumber: *regNumber,
			LastQueriedAt:      lastQueried,
		}
		if faceState != nil {
			sub.State = *faceState
		}
		if len(historyJSON) > 0 {
			if err := json.Unmarshal(historyJSON, &sub.History); err != nil {
				return nil, fmt.Errorf("decode face_history: %w", err)
			}
		}
		inv.Submission = sub
	}

	lines, err := r.linesByInvoiceID(ctx, id)
	if err != nil {
		return nil, err
	}
	inv.Lines = lines
	return &inv, nil
}

// linesByInvoiceID obtiene las líneas en su orden de presentación.
func (r *InvoiceRepo) linesByInvoiceID(ctx context.Context, invoiceID string) ([]entity.InvoiceLine, error) {
	query := `
		SELECT id, invoice_id, line_type, description, quantity, unit_price, discount_pct, tax_rate, subtotal
		FROM invoice_lines WHERE invoice_id = $1 ORDER BY position, id`
	rows, err := r.q.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list invoice lines: %w", err)
	}
	defer rows.Close()

	var lines []entity.InvoiceLine
	for rows.Next() {
		var l entity.InvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.LineType, &l.Description,
			&l.Quantity, &l.UnitPrice, &l.DiscountPct, &l.TaxRate, &l.Subtotal); err != nil {
			return nil, fmt.Errorf("scan invoice line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// RegisterSubmission fija número de registro, estado REGISTERED_ERS y primera
// entrada del historial en una sola sentencia condicional: solo escribe si la
// factura no tenía presentación previa. Así dos presentaciones concurrentes no
// pueden registrarse ambas.
func (r *InvoiceRepo) RegisterSubmission(ctx context.Context, invoiceID, registrationNumber string, entry entity.HistoryEntry) error {
	entryJSON, err := json.Marshal([]entity.HistoryEntry{entry})
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}

	query := `
		UPDATE invoices
		SET face_registration_number = $2,
		    face_state               = $3,
		    face_history             = COALESCE(face_history, '[]'::jsonb) || $4::jsonb,
		    updated_at               = now()
		WHERE id = $1
		  AND (face_registration_number IS NULL OR face_registration_number = '')`
	tag, err := r.q.Exec(ctx, query, invoiceID, registrationNumber, entity.StateRegisteredERS, entryJSON)
	if err != nil {
		return fmt.Errorf("register submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM invoices WHERE id = $1)`, invoiceID).Scan(&exists); err != nil {
			return fmt.Errorf("check invoice: %w", err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrAlreadySubmitted
	}
	return nil
}

// UpdateSubmissionState aplica un parche al sub-registro FACE. Los campos nil
// del parche no tocan la columna; el historial solo concatena.
func (r *InvoiceRepo) UpdateSubmissionState(ctx context.Context, invoiceID string, patch repository.SubmissionPatch) error {
	appendJSON := []byte("[]")
	if len(patch.AppendHistory) > 0 {
		var err error
		appendJSON, err = json.Marshal(patch.AppendHistory)
		if err != nil {
			return fmt.Errorf("encode history entries: %w", err)
		}
	}

	query := `
		UPDATE invoices
		SET face_state           = COALESCE($2, face_state),
		    face_last_queried_at = COALESCE($3, face_last_queried_at),
		    face_history         = COALESCE(face_history, '[]'::jsonb) || $4::jsonb,
		    updated_at           = now()
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, query, invoiceID, patch.State, patch.LastQueriedAt, appendJSON)
	if err != nil {
		return fmt.Errorf("update submission state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveSignedXML guarda el artefacto firmado y su nombre de fichero.
func (r *InvoiceRepo) SaveSignedXML(ctx context.Context, invoiceID, filename string, signedXML []byte) error {
	query := `
		UPDATE invoices
		SET signed_xml_name = $2, signed_xml = $3, updated_at = now()
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, query, invoiceID, filename, signedXML)
	if err != nil {
		return fmt.Errorf("save signed xml: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
