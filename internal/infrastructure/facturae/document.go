// Package facturae implementa la generación del documento FacturaE 3.2.2
// (formato oficial de factura electrónica para el sector público español).
package facturae

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmorenov/Gesfactur-api/internal/domain/entity"
)

// Constantes del esquema FacturaE 3.2.2. La versión es inmutable: identifica
// el XSD oficial contra el que valida la administración.
const (
	SchemaVersion = "3.2.2"
	NsFacturae    = "http://www.facturae.gob.es/formato/Versiones/Facturaev3_2_2.xml"
	NsDs          = "http://www.w3.org/2000/09/xmldsig#"

	ModalitySingle = "I" // factura individual
	ModalityBatch  = "L" // lote de facturas

	IssuerTypeSeller = "EM" // emisor = vendedor

	DocumentTypeComplete = "FC" // factura completa
	ClassOriginal        = "OO" // original
	ClassCorrective      = "OR" // original rectificativa

	CurrencyEUR = "EUR"
	LanguageES  = "es"

	TaxTypeVAT  = "01" // IVA
	TaxTypeIRPF = "04" // retención IRPF

	// Método de corrección: rectificación íntegra de la factura original.
	CorrectionMethodFull = "01"
)

// Roles de centro administrativo DIR3 en el bloque AdministrativeCentres.
const (
	RoleManagingBody     = "01" // órgano gestor
	RoleProcessingUnit   = "02" // unidad tramitadora
	RoleAccountingOffice = "03" // oficina contable
	RoleDeliveryPoint    = "04" // punto de entrega
)

// correctiveReason mapea el motivo interno de rectificación al código y
// descripción FacturaE del bloque Corrective.
type correctiveReason struct {
	Code        string
	Description string
}

var correctiveReasons = map[string]correctiveReason{
	entity.RectifyReasonNumber:   {"01", "Número de la factura"},
	entity.RectifyReasonSeries:   {"02", "Serie de la factura"},
	entity.RectifyReasonIssuer:   {"03", "Fecha expedición"},
	entity.RectifyReasonReceiver: {"04", "Nombre y apellidos/Razón social - Receptor"},
	entity.RectifyReasonDetail:   {"80", "Cálculo de cuotas repercutidas"},
	entity.RectifyReasonDiscount: {"81", "Cálculo de cuotas retenidas"},
	entity.RectifyReasonTaxRate:  {"82", "Base imponible"},
	entity.RectifyReasonTaxBase:  {"85", "Cuotas repercutidas"},
}

// Document es el artefacto FacturaE compuesto: cabecera, partes y una o
// varias facturas. La versión de esquema queda fijada en la construcción.
type Document struct {
	Header   FileHeader
	Parties  Parties
	Invoices []InvoiceBlock
}

// FileHeader es la cabecera del fichero. Batch solo se rellena en modalidad L.
type FileHeader struct {
	SchemaVersion string
	Modality      string
	IssuerType    string
	Batch         *Batch
}

// Batch agrega los totales del lote (modalidad L).
type Batch struct {
	Identifier       string
	InvoicesCount    int
	TotalAmount      decimal.Decimal
	TotalOutstanding decimal.Decimal
	TotalExecutable  decimal.Decimal
	Currency         string
}

// Parties agrupa emisor (SellerParty) y receptor (BuyerParty).
type Parties struct {
	Seller Party
	Buyer  Party
}

// Party es una de las partes de la factura con su identidad fiscal y,
// si procede, sus centros administrativos DIR3.
type Party struct {
	PersonType    string // F persona física, J jurídica
	ResidenceType string // R residente, U residente UE
	TaxID         string
	Name          string
	Address       string
	PostCode      string
	Town          string
	Province      string
	Centres       []AdministrativeCentre
}

// AdministrativeCentre es un centro DIR3 del receptor (solo con factura
// electrónica habilitada).
type AdministrativeCentre struct {
	Code string
	Role string
	Name string
}

// InvoiceBlock es una factura dentro del fichero.
type InvoiceBlock struct {
	Number       string
	Series       string
	DocumentType string
	Class        string
	Corrective   *Corrective
	IssueDate    time.Time
	Currency     string
	Language     string
	TaxOutputs   []TaxOutput
	Withheld     *TaxWithheld
	Totals       Totals
	Lines        []Line
	Installments []Installment
}

// Corrective enlaza la rectificativa con la factura original.
type Corrective struct {
	OriginalNumber    string
	OriginalSeries    string
	ReasonCode        string
	ReasonDescription string
	CorrectionMethod  string
}

// TaxOutput es una entrada de IVA repercutido (una por tipo impositivo).
type TaxOutput struct {
	Rate   decimal.Decimal
	Base   decimal.Decimal
	Amount decimal.Decimal
}

// TaxWithheld es la retención IRPF aplicada a la factura.
type TaxWithheld struct {
	Rate   decimal.Decimal
	Base   decimal.Decimal
	Amount decimal.Decimal
}

// Totals son los importes agregados de la factura.
type Totals struct {
	GrossAmount      decimal.Decimal // suma de importes brutos de línea
	GeneralDiscounts decimal.Decimal
	GrossBeforeTaxes decimal.Decimal
	TaxOutputs       decimal.Decimal
	TaxesWithheld    decimal.Decimal
	InvoiceTotal     decimal.Decimal
	TotalOutstanding decimal.Decimal
	TotalExecutable  decimal.Decimal
}

// Line es una línea facturable de la factura.
type Line struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	GrossAmount decimal.Decimal
	TaxRate     decimal.Decimal
}

// Installment es un vencimiento del calendario de pago.
type Installment struct {
	DueDate time.Time
	Amount  decimal.Decimal
}
