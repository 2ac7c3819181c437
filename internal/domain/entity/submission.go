package entity

import "time"

// Estados del ciclo de tramitación FACE. El avance lo marca la pasarela; el
// núcleo solo registra lo devuelto y aplica las guardas de transición local.
const (
	StateRegisteredERS     = "REGISTERED_ERS"     // 1200 — registrada en el ERS
	StateRegisteredARF     = "REGISTERED_ARF"     // 1300 — registrada en el RCF/ARF
	StateBooked            = "BOOKED"             // 2400 — contabilizada la obligación
	StatePaymentRecognized = "PAYMENT_RECOGNIZED" // 2401 — obligación de pago reconocida
	StatePaymentProposed   = "PAYMENT_PROPOSED"   // 2402 — propuesta de pago emitida
	StatePaymentExecuted   = "PAYMENT_EXECUTED"   // 2403 — pago ejecutado
	StatePaid              = "PAID"               // 2500 — pagada
	StateRejected          = "REJECTED"           // 2600 — rechazada
	StateCancelled         = "CANCELLED"          // 3100 — anulada
)

// Acciones registradas en el historial de presentación.
const (
	ActionSubmitted = "submitted"
	ActionStatus    = "status"
	ActionCancelled = "cancelled"
)

// stateByFACECode mapea el código de tramitación devuelto por FACE al estado interno.
var stateByFACECode = map[string]string{
	"1200": StateRegisteredERS,
	"1300": StateRegisteredARF,
	"2400": StateBooked,
	"2401": StatePaymentRecognized,
	"2402": StatePaymentProposed,
	"2403": StatePaymentExecuted,
	"2500": StatePaid,
	"2600": StateRejected,
	"3100": StateCancelled,
}

// StateFromFACECode traduce un código de tramitación FACE; ok=false si es desconocido.
func StateFromFACECode(code string) (string, bool) {
	s, ok := stateByFACECode[code]
	return s, ok
}

// IsTerminalState indica si el estado no admite más transiciones locales.
// PAID, CANCELLED y PAYMENT_EXECUTED son irreversibles: la anulación está vedada.
func IsTerminalState(state string) bool {
	switch state {
	case StatePaid, StateCancelled, StatePaymentExecuted:
		return true
	}
	return false
}

// HistoryEntry es una entrada estructurada del historial de presentación.
// El log es append-only: nunca se reescribe ni se elimina una entrada.
type HistoryEntry struct {
	Action    string    `json:"action"` // ver constantes Action*
	Code      string    `json:"code,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SubmissionState es el sub-registro FACE de una factura. Se crea en la primera
// presentación correcta y a partir de ahí solo se actualiza con late commit.
type SubmissionState struct {
	RegistrationNumber string
	State              string
	LastQueriedAt      *time.Time
	History            []HistoryEntry
}

// CanCancel indica si la factura admite anulación en su estado actual.
func (s *SubmissionState) CanCancel() bool {
	return s != nil && !IsTerminalState(s.State)
}
