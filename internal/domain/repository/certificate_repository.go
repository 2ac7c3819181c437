package repository

import (
	"context"

	"github.com/dmorenov/Gesfactur-api/internal/domain/entity"
)

// CertificateRepository define el puerto de lectura de certificados de firma.
// El alta y la revocación se gestionan fuera de este núcleo.
type CertificateRepository interface {
	// FindByID devuelve el certificado con su contenedor. (nil, nil) si no existe.
	FindByID(ctx context.Context, id string) (*entity.Certificate, error)

	// ListActive devuelve los certificados con estado active de la empresa.
	// La vigencia temporal la evalúa el motor de firma, no el repositorio.
	ListActive(ctx context.Context, companyID string) ([]*entity.Certificate, error)
}
