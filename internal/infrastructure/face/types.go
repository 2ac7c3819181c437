// Package face implementa el cliente de la pasarela FACE (punto general de
// entrada de facturas electrónicas de la administración española).
package face

import "context"

// Constantes de entorno de la pasarela.
const (
	// EnvDev es el identificador local: no envía al WS FACE, simula.
	EnvDev = "dev"
	// EnvTest apunta al entorno de pruebas de la SGAD.
	EnvTest = "test"
	// EnvProd apunta al entorno de producción.
	EnvProd = "prod"
)

// SubmitResponse es el resultado de la presentación de una factura.
type SubmitResponse struct {
	RegistrationNumber string // número de registro asignado por FACE
	Code               string // código de resultado del WS ("0" = aceptada)
	Description        string
	Accepted           bool
}

// StatusResponse es el resultado de la consulta de estado de tramitación.
type StatusResponse struct {
	Code        string // código de tramitación FACE (1200, 1300, 2400, ...)
	Description string // motivo asociado al estado
}

// CancelResponse es el resultado de la solicitud de anulación.
type CancelResponse struct {
	Code        string
	Description string
	Accepted    bool
}

// Transport define el puerto de salida hacia la pasarela FACE. La
// implementación concreta usa SOAP; para tests se inyecta un doble.
// Las llamadas no reintentan: un timeout es un desenlace indeterminado y el
// llamador debe re-consultar el estado, nunca re-presentar a ciegas.
type Transport interface {
	// SubmitInvoice presenta el documento firmado (se envía en Base64).
	SubmitInvoice(ctx context.Context, signedXML []byte, filename, env string) (*SubmitResponse, error)

	// QueryInvoiceStatus consulta el estado de tramitación por número de registro.
	QueryInvoiceStatus(ctx context.Context, registrationNumber, env string) (*StatusResponse, error)

	// CancelInvoice solicita la anulación de la factura registrada.
	CancelInvoice(ctx context.Context, registrationNumber, reason, env string) (*CancelResponse, error)
}
