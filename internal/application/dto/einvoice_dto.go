package dto

import "time"

// GenerateRequest opciones de generación del documento FacturaE.
type GenerateRequest struct {
	IssueDate string `json:"issue_date"` // YYYY-MM-DD; vacío = fecha de la factura
}

// GenerateResponse documento FacturaE generado (sin firmar).
type GenerateResponse struct {
	Filename string   `json:"filename"`
	XML      string   `json:"xml"`
	Warnings []string `json:"warnings,omitempty"`
}

// ValidateResponse resultado de la validación estructural de un documento.
type ValidateResponse struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// SignRequest petición de firma XAdES-EPES.
type SignRequest struct {
	CertificateID string `json:"certificate_id"`
}

// SignResponse documento firmado.
type SignResponse struct {
	Filename    string    `json:"filename"`
	XML         string    `json:"xml"`
	Signer      string    `json:"signer"`
	SigningTime time.Time `json:"signing_time"`
	Warnings    []string  `json:"warnings,omitempty"`
}

// SubmitRequest petición de presentación en FACE.
type SubmitRequest struct {
	CertificateID string `json:"certificate_id"`
	Environment   string `json:"environment,omitempty"` // dev|test|prod; vacío = el configurado
}

// SubmitResponse resultado de la presentación.
type SubmitResponse struct {
	RegistrationNumber string   `json:"registration_number"`
	State              string   `json:"state"`
	Warnings           []string `json:"warnings,omitempty"`
}

// StatusResponse estado de tramitación consultado en FACE.
type StatusResponse struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// CancelRequest petición de anulación.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// EligibilityResponse comprobación previa de presentación.
type EligibilityResponse struct {
	Eligible bool     `json:"eligible"`
	Missing  []string `json:"missing,omitempty"`
}

// StatusEventResponse entrada de la vista de historial de tramitación.
type StatusEventResponse struct {
	Date   time.Time `json:"date"`
	State  string    `json:"state"`
	Reason string    `json:"reason,omitempty"`
}
