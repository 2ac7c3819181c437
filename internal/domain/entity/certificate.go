package entity

import "time"

// Formatos de contenedor soportados para el certificado de firma.
const (
	CertFormatP12 = "p12" // PKCS#12 (.p12/.pfx) con llave privada incluida
	CertFormatPEM = "pem" // par PEM: certificado + llave por separado
)

// Estados administrativos del certificado. El ciclo de vida (alta, revocación)
// se gestiona fuera de este núcleo; aquí solo se lee y evalúa al firmar.
const (
	CertStatusActive  = "active"
	CertStatusRevoked = "revoked"
)

// Certificate representa un certificado de firma registrado por el tenant.
type Certificate struct {
	ID         string
	CompanyID  string
	Name       string // alias legible elegido por el usuario
	Subject    string
	Issuer     string
	Serial     string
	ValidFrom  time.Time
	ValidUntil time.Time
	Status     string // ver constantes CertStatus*

	Format   string // ver constantes CertFormat*
	Data     []byte // contenedor .p12 o certificado PEM
	KeyData  []byte // llave privada PEM (solo formato pem)
	Password string // contraseña del .p12; vacía si no protegido

	CreatedAt time.Time
	UpdatedAt time.Time
}
