package facturae

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Serialize genera el XML del documento FacturaE con sangría de dos espacios.
// La salida es determinista: mismo documento, mismos bytes. El escapado de
// entidades (& < > " ') lo aplica el encoder sobre todo contenido de texto.
func Serialize(doc *Document) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("facturae: documento nulo")
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	w := &writer{enc: enc}

	// Raíz fe:Facturae con los namespaces del formato. El prefijo va embebido
	// en el nombre local para que la salida no dependa de la resolución de
	// namespaces de encoding/xml.
	root := xml.StartElement{
		Name: xml.Name{Local: "fe:Facturae"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns:ds"}, Value: NsDs},
			{Name: xml.Name{Local: "xmlns:fe"}, Value: NsFacturae},
		},
	}
	if err := enc.EncodeToken(root); err != nil {
		return nil, err
	}

	w.writeFileHeader(&doc.Header)
	w.writeParties(&doc.Parties)

	w.open("Invoices")
	for i := range doc.Invoices {
		w.writeInvoice(&doc.Invoices[i])
	}
	w.close("Invoices")

	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	if w.err != nil {
		return nil, w.err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// writer acumula el primer error del encoder para no comprobar cada token.
type writer struct {
	enc *xml.Encoder
	err error
}

func (w *writer) token(t xml.Token) {
	if w.err == nil {
		w.err = w.enc.EncodeToken(t)
	}
}

func (w *writer) open(local string) {
	w.token(xml.StartElement{Name: xml.Name{Local: local}})
}

func (w *writer) close(local string) {
	w.token(xml.EndElement{Name: xml.Name{Local: local}})
}

// text escribe <local>value</local> normalizando el texto a NFC para que
// acentos compuestos y precompuestos produzcan siempre los mismos bytes.
func (w *writer) text(local, value string) {
	w.open(local)
	w.token(xml.CharData(norm.NFC.String(value)))
	w.close(local)
}

func (w *writer) amount(local string, d decimal.Decimal) {
	w.text(local, FormatAmount(d))
}

func (w *writer) date(local string, t interface{ Format(string) string }) {
	w.text(local, t.Format("2006-01-02"))
}

// FormatAmount redondea a 2 decimales con half-away-from-zero y formatea con
// dos decimales fijos. decimal opera en exacto, así que no hace falta la
// corrección por épsilon que exigiría aritmética flotante.
func FormatAmount(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}

func (w *writer) writeFileHeader(h *FileHeader) {
	w.open("FileHeader")
	w.text("SchemaVersion", h.SchemaVersion)
	w.text("Modality", h.Modality)
	w.text("InvoiceIssuerType", h.IssuerType)
	if h.Batch != nil {
		w.open("Batch")
		w.text("BatchIdentifier", h.Batch.Identifier)
		w.text("InvoicesCount", fmt.Sprintf("%d", h.Batch.InvoicesCount))
		w.open("TotalInvoicesAmount")
		w.amount("TotalAmount", h.Batch.TotalAmount)
		w.close("TotalInvoicesAmount")
		w.open("TotalOutstandingAmount")
		w.amount("TotalAmount", h.Batch.TotalOutstanding)
		w.close("TotalOutstandingAmount")
		w.open("TotalExecutableAmount")
		w.amount("TotalAmount", h.Batch.TotalExecutable)
		w.close("TotalExecutableAmount")
		w.text("InvoiceCurrencyCode", h.Batch.Currency)
		w.close("Batch")
	}
	w.close("FileHeader")
}

func (w *writer) writeParties(p *Parties) {
	w.open("Parties")
	w.writeParty("SellerParty", &p.Seller)
	w.writeParty("BuyerParty", &p.Buyer)
	w.close("Parties")
}

func (w *writer) writeParty(local string, p *Party) {
	w.open(local)

	w.open("TaxIdentification")
	w.text("PersonTypeCode", p.PersonType)
	w.text("ResidenceTypeCode", p.ResidenceType)
	w.text("TaxIdentificationNumber", p.TaxID)
	w.close("TaxIdentification")

	if len(p.Centres) > 0 {
		w.open("AdministrativeCentres")
		for _, c := range p.Centres {
			w.open("AdministrativeCentre")
			w.text("CentreCode", c.Code)
			w.text("RoleTypeCode", c.Role)
			if c.Name != "" {
				w.text("Name", c.Name)
			}
			w.close("AdministrativeCentre")
		}
		w.close("AdministrativeCentres")
	}

	// Persona jurídica usa LegalEntity; física, Individual.
	container := "LegalEntity"
	nameTag := "CorporateName"
	if p.PersonType == "F" {
		container = "Individual"
		nameTag = "Name"
	}
	w.open(container)
	w.text(nameTag, p.Name)
	if p.Address != "" {
		w.open("AddressInSpain")
		w.text("Address", p.Address)
		w.text("PostCode", p.PostCode)
		w.text("Town", p.Town)
		w.text("Province", p.Province)
		w.text("CountryCode", "ESP")
		w.close("AddressInSpain")
	}
	w.close(container)

	w.close(local)
}

func (w *writer) writeInvoice(inv *InvoiceBlock) {
	w.open("Invoice")

	w.open("InvoiceHeader")
	w.text("InvoiceNumber", inv.Number)
	if inv.Series != "" {
		w.text("InvoiceSeriesCode", inv.Series)
	}
	w.text("InvoiceDocumentType", inv.DocumentType)
	w.text("InvoiceClass", inv.Class)
	if c := inv.Corrective; c != nil {
		w.open("Corrective")
		w.text("InvoiceNumber", c.OriginalNumber)
		if c.OriginalSeries != "" {
			w.text("InvoiceSeriesCode", c.OriginalSeries)
		}
		w.text("ReasonCode", c.ReasonCode)
		w.text("ReasonDescription", c.ReasonDescription)
		w.text("CorrectionMethod", c.CorrectionMethod)
		w.close("Corrective")
	}
	w.close("InvoiceHeader")

	w.open("InvoiceIssueData")
	w.date("IssueDate", inv.IssueDate)
	w.text("InvoiceCurrencyCode", inv.Currency)
	w.text("TaxCurrencyCode", inv.Currency)
	w.text("LanguageName", inv.Language)
	w.close("InvoiceIssueData")

	w.open("TaxesOutputs")
	for _, t := range inv.TaxOutputs {
		w.open("Tax")
		w.text("TaxTypeCode", TaxTypeVAT)
		w.text("TaxRate", FormatAmount(t.Rate))
		w.open("TaxableBase")
		w.amount("TotalAmount", t.Base)
		w.close("TaxableBase")
		w.open("TaxAmount")
		w.amount("TotalAmount", t.Amount)
		w.close("TaxAmount")
		w.close("Tax")
	}
	w.close("TaxesOutputs")

	if t := inv.Withheld; t != nil {
		w.open("TaxesWithheld")
		w.open("Tax")
		w.text("TaxTypeCode", TaxTypeIRPF)
		w.text("TaxRate", FormatAmount(t.Rate))
		w.open("TaxableBase")
		w.amount("TotalAmount", t.Base)
		w.close("TaxableBase")
		w.open("TaxAmount")
		w.amount("TotalAmount", t.Amount)
		w.close("TaxAmount")
		w.close("Tax")
		w.close("TaxesWithheld")
	}

	w.open("InvoiceTotals")
	w.amount("TotalGrossAmount", inv.Totals.GrossAmount)
	w.amount("TotalGeneralDiscounts", inv.Totals.GeneralDiscounts)
	w.amount("TotalGrossAmountBeforeTaxes", inv.Totals.GrossBeforeTaxes)
	w.amount("TotalTaxOutputs", inv.Totals.TaxOutputs)
	w.amount("TotalTaxesWithheld", inv.Totals.TaxesWithheld)
	w.amount("InvoiceTotal", inv.Totals.InvoiceTotal)
	w.amount("TotalOutstandingAmount", inv.Totals.TotalOutstanding)
	w.amount("TotalExecutableAmount", inv.Totals.TotalExecutable)
	w.close("InvoiceTotals")

	w.open("Items")
	for _, line := range inv.Lines {
		w.open("InvoiceLine")
		w.text("ItemDescription", line.Description)
		w.text("Quantity", line.Quantity.String())
		w.amount("UnitPriceWithoutTax", line.UnitPrice)
		w.amount("TotalCost", line.GrossAmount)
		w.amount("GrossAmount", line.GrossAmount)
		w.open("TaxesOutputs")
		w.open("Tax")
		w.text("TaxTypeCode", TaxTypeVAT)
		w.text("TaxRate", FormatAmount(line.TaxRate))
		w.open("TaxableBase")
		w.amount("TotalAmount", line.GrossAmount)
		w.close("TaxableBase")
		w.close("Tax")
		w.close("TaxesOutputs")
		w.close("InvoiceLine")
	}
	w.close("Items")

	if len(inv.Installments) > 0 {
		w.open("PaymentDetails")
		for _, ins := range inv.Installments {
			w.open("Installment")
			w.date("InstallmentDueDate", ins.DueDate)
			w.amount("InstallmentAmount", ins.Amount)
			w.close("Installment")
		}
		w.close("PaymentDetails")
	}

	w.close("Invoice")
}
