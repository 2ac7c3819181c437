package repository

import (
	"context"

	"github.com/dmorenov/Gesfactur-api/internal/domain/entity"
)

// ClientRepository define el puerto de lectura de clientes.
type ClientRepository interface {
	// FindByID devuelve el cliente con su configuración DIR3. (nil, nil) si no existe.
	FindByID(ctx context.Context, id string) (*entity.Client, error)
}
