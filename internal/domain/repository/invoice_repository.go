package repository

import (
	"context"
	"time"

	"github.com/dmorenov/Gesfactur-api/internal/domain/entity"
)

// SubmissionPatch es la actualización parcial del sub-registro FACE de una
// factura. Los campos nil no se tocan; AppendHistory solo añade, nunca
// reescribe entradas existentes.
type SubmissionPatch struct {
	State         *string
	LastQueriedAt *time.Time
	AppendHistory []entity.HistoryEntry
}

// InvoiceRepository define el puerto de persistencia de facturas para el
// núcleo de facturación electrónica. La gestión CRUD completa vive en otro
// módulo de la suite; aquí solo lectura más el sub-registro de presentación.
type InvoiceRepository interface {
	// FindByID devuelve la factura con líneas, desglose de impuestos,
	// vencimientos y estado de presentación. (nil, nil) si no existe.
	FindByID(ctx context.Context, id string) (*entity.Invoice, error)

	// RegisterSubmission fija el número de registro y el estado
	// REGISTERED_ERS solo si la factura no tiene presentación previa
	// (update condicional en una sola sentencia). Devuelve
	// domain.ErrAlreadySubmitted si ya había una.
	RegisterSubmission(ctx context.Context, invoiceID, registrationNumber string, entry entity.HistoryEntry) error

	// UpdateSubmissionState aplica un parche al sub-registro FACE.
	UpdateSubmissionState(ctx context.Context, invoiceID string, patch SubmissionPatch) error

	// SaveSignedXML guarda el artefacto firmado y su nombre de fichero.
	SaveSignedXML(ctx context.Context, invoiceID, filename string, signedXML []byte) error
}
