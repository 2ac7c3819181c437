package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tipos de línea de factura. Solo las líneas facturables viajan al XML FacturaE;
// texto libre y marcadores de subtotal son presentacionales.
const (
	LineTypeProduct  = "product"
	LineTypeService  = "service"
	LineTypeText     = "text"
	LineTypeSubtotal = "subtotal"
)

// Motivos internos de rectificación. Se mapean a los códigos de motivo
// FacturaE en el bloque Corrective del builder.
const (
	RectifyReasonNumber   = "invoice_number"   // 01 Número de la factura
	RectifyReasonSeries   = "invoice_series"   // 02 Serie de la factura
	RectifyReasonIssuer   = "issuer_data"      // 03 Datos del emisor
	RectifyReasonReceiver = "receiver_data"    // 04 Datos del receptor
	RectifyReasonDetail   = "invoice_detail"   // 80 Detalle de la operación
	RectifyReasonDiscount = "discount"         // 81 Descuentos
	RectifyReasonTaxRate  = "tax_rate"         // 82 Tipo impositivo
	RectifyReasonTaxBase  = "taxable_base"     // 85 Base imponible
)

// Invoice representa la cabecera de una factura de venta (lectura para el núcleo).
type Invoice struct {
	ID             string
	CompanyID      string
	ClientID       string
	Series         string // serie de facturación (ej: "F-2024")
	Number         string // número dentro de la serie
	Date           time.Time
	GrossTotal     decimal.Decimal // suma de líneas antes de impuestos
	DiscountTotal  decimal.Decimal
	TaxTotal       decimal.Decimal
	Total          decimal.Decimal // total factura (base - dto + impuestos)
	Outstanding    decimal.Decimal // pendiente de cobro
	WithholdingPct decimal.Decimal // IRPF retenido; cero si no aplica

	Lines     []InvoiceLine
	Taxes     []TaxItem      // desglose de IVA almacenado (no se recalcula de líneas)
	DueDates  []DueDate      // vencimientos; vacío = sin calendario de pago
	Rectifies *Rectification // nil si no es rectificativa

	Submission *SubmissionState // nil hasta la primera presentación en FACE

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Code devuelve el identificador legible serie+número (ej: "F-2024-001").
func (i *Invoice) Code() string {
	if i.Series == "" {
		return i.Number
	}
	return i.Series + "-" + i.Number
}

// InvoiceLine representa una línea de una factura.
type InvoiceLine struct {
	ID          string
	InvoiceID   string
	LineType    string // ver constantes LineType*
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	DiscountPct decimal.Decimal
	TaxRate     decimal.Decimal
	Subtotal    decimal.Decimal // cantidad × precio − descuento, sin impuestos
}

// TaxItem es una entrada del desglose de impuestos almacenado en la factura.
// Se persiste como JSONB, de ahí las etiquetas json.
type TaxItem struct {
	Rate   decimal.Decimal `json:"rate"`   // tipo de IVA (21, 10, 4, 0)
	Base   decimal.Decimal `json:"base"`   // base imponible del tipo
	Amount decimal.Decimal `json:"amount"` // cuota
}

// DueDate es un vencimiento del calendario de pago.
type DueDate struct {
	Date   time.Time       `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

// Rectification enlaza una factura rectificativa con la original.
type Rectification struct {
	OriginalNumber string `json:"original_number"`
	OriginalSeries string `json:"original_series"`
	Reason         string `json:"reason"` // ver constantes RectifyReason*
}
