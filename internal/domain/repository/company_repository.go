package repository

import (
	"context"

	"github.com/dmorenov/Gesfactur-api/internal/domain/entity"
)

// CompanyRepository define el puerto de lectura de la empresa emisora (tenant).
type CompanyRepository interface {
	// FindByID devuelve la empresa. (nil, nil) si no existe.
	FindByID(ctx context.Context, id string) (*entity.Company, error)
}
