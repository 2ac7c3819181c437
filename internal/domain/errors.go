package domain

import (
	"errors"
	"strings"
)

// Kind clasifica los fallos esperados del núcleo de facturación electrónica.
// La capa HTTP mapea cualquier Kind a 4xx; solo los pánicos llegan como 5xx.
type Kind string

const (
	KindValidation  Kind = "VALIDATION"  // datos de negocio ausentes o inválidos
	KindNotFound    Kind = "NOT_FOUND"   // factura/cliente/empresa/certificado inexistente
	KindState       Kind = "STATE"       // transición ilegal del ciclo FACE
	KindCrypto      Kind = "CRYPTO"      // certificado inválido o caducado
	KindIntegration Kind = "INTEGRATION" // fallo de transporte con la pasarela
)

// Error es el error tipado del dominio: una clase más uno o varios mensajes
// legibles. Las operaciones públicas lo capturan y lo devuelven como lista de
// errores en el resultado; nunca cruza el borde del módulo como panic.
type Error struct {
	Kind     Kind
	Messages []string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + strings.Join(e.Messages, "; ")
}

// NewError crea un error de dominio con los mensajes dados.
func NewError(kind Kind, msgs ...string) *Error {
	return &Error{Kind: kind, Messages: msgs}
}

// KindOf devuelve la clase de un error si es un *Error del dominio; "" si no.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// Errores sentinela compartidos entre repositorios y casos de uso.
var (
	ErrNotFound         = errors.New("recurso no encontrado")
	ErrAlreadySubmitted = errors.New("la factura ya fue presentada en FACE")
	ErrNoSubmission     = errors.New("la factura no tiene presentación registrada")
)
