package entity

import "time"

// Clasificación de persona del cliente (FacturaE PersonTypeCode).
const (
	PersonNatural = "natural" // F — persona física
	PersonLegal   = "legal"   // J — persona jurídica
)

// Client representa un cliente de la empresa (facturación y CRM).
type Client struct {
	ID         string
	CompanyID  string
	Name       string
	NIF        string // NIF/NIE/CIF español
	PersonType string // ver constantes Person*
	Address    string
	PostCode   string
	Town       string
	Province   string
	Email      string

	// Configuración de factura electrónica para administraciones públicas.
	EInvoice *EInvoiceConfig // nil = facturación electrónica no habilitada

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EInvoiceConfig agrupa los códigos DIR3 obligatorios para presentar en FACE.
// Se persiste como JSONB en la ficha del cliente.
type EInvoiceConfig struct {
	ManagingBody     string `json:"managing_body"`     // órgano gestor (rol 01)
	ProcessingUnit   string `json:"processing_unit"`   // unidad tramitadora (rol 02)
	AccountingOffice string `json:"accounting_office"` // oficina contable (rol 03)
	DeliveryPoint    string `json:"delivery_point"`    // punto de entrega (rol 04, opcional)
}

// Complete indica si están presentes los tres códigos DIR3 obligatorios.
func (c *EInvoiceConfig) Complete() bool {
	return c != nil && c.ManagingBody != "" && c.ProcessingUnit != "" && c.AccountingOffice != ""
}

// MissingCodes lista los códigos DIR3 obligatorios ausentes.
func (c *EInvoiceConfig) MissingCodes() []string {
	var missing []string
	if c == nil {
		return []string{"órgano gestor", "unidad tramitadora", "oficina contable"}
	}
	if c.ManagingBody == "" {
		missing = append(missing, "órgano gestor")
	}
	if c.ProcessingUnit == "" {
		missing = append(missing, "unidad tramitadora")
	}
	if c.AccountingOffice == "" {
		missing = append(missing, "oficina contable")
	}
	return missing
}
