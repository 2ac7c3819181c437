package entity

import "time"

// Company representa una organización/tenant de la suite (emisor de las facturas).
type Company struct {
	ID       string
	Name     string
	NIF      string // NIF/CIF del emisor
	Address  string
	PostCode string
	Town     string
	Province string
	Email    string
	Status   string // active, suspended, inactive

	CreatedAt time.Time
	UpdatedAt time.Time
}
