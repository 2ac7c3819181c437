package facturae

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmorenov/Gesfactur-api/internal/domain/entity"
	"github.com/dmorenov/Gesfactur-api/internal/domain/repository"
)

// BuilderService compone el documento FacturaE a partir de factura, cliente y
// empresa, y lo serializa a XML canónico del formato.
type BuilderService struct {
	invoiceRepo repository.InvoiceRepository
	clientRepo  repository.ClientRepository
	companyRepo repository.CompanyRepository
}

// NewBuilderService construye el servicio con sus repositorios.
func NewBuilderService(
	invoiceRepo repository.InvoiceRepository,
	clientRepo repository.ClientRepository,
	companyRepo repository.CompanyRepository,
) *BuilderService {
	return &BuilderService{
		invoiceRepo: invoiceRepo,
		clientRepo:  clientRepo,
		companyRepo: companyRepo,
	}
}

// Options ajusta la generación de un documento individual.
type Options struct {
	IssueDate *time.Time // sobrescribe la fecha de expedición de la factura
}

// GenerateResult es el resultado uniforme de Generate.
type GenerateResult struct {
	OK       bool
	Document *Document
	XML      []byte
	Filename string
	Errors   []string
}

// BatchResult es el resultado de GenerateBatch. Warnings recoge las facturas
// saltadas sin abortar el lote.
type BatchResult struct {
	OK       bool
	Document *Document
	XML      []byte
	Filename string
	Warnings []string
	Errors   []string
}

// ValidateResult es el resultado de la comprobación estructural de un XML.
type ValidateResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Generate carga factura, cliente y empresa, valida los datos obligatorios y
// compone el documento FacturaE en modalidad individual. Ante cualquier fallo
// de validación devuelve la lista de errores y no construye documento.
func (s *BuilderService) Generate(ctx context.Context, invoiceID string, opts *Options) *GenerateResult {
	inv, client, company, errs := s.loadAndValidate(ctx, invoiceID)
	if len(errs) > 0 {
		return &GenerateResult{Errors: errs}
	}

	issueDate := inv.Date
	if opts != nil && opts.IssueDate != nil {
		issueDate = *opts.IssueDate
	}

	block := buildInvoiceBlock(inv, issueDate)
	if msg := totalMismatch(inv, block); msg != "" {
		return &GenerateResult{Errors: []string{msg}}
	}

	doc := &Document{
		Header: FileHeader{
			SchemaVersion: SchemaVersion,
			Modality:      ModalitySingle,
			IssuerType:    IssuerTypeSeller,
		},
		Parties:  buildParties(company, client),
		Invoices: []InvoiceBlock{block},
	}

	xmlBytes, err := Serialize(doc)
	if err != nil {
		return &GenerateResult{Errors: []string{"serializar documento: " + err.Error()}}
	}

	return &GenerateResult{
		OK:       true,
		Document: doc,
		XML:      xmlBytes,
		Filename: fmt.Sprintf("FacturaE_%s.xsig", inv.Code()),
	}
}

// GenerateBatch compone un documento en modalidad lote. Las facturas cuyo
// cliente no puede resolverse se saltan con un aviso; el lote solo falla si
// ninguna factura sobrevive. Las partes del lote son las de la primera
// factura resuelta.
func (s *BuilderService) GenerateBatch(ctx context.Context, invoiceIDs []string) *BatchResult {
	if len(invoiceIDs) == 0 {
		return &BatchResult{Errors: []string{"el lote no contiene facturas"}}
	}

	var (
		blocks   []InvoiceBlock
		warnings []string
		parties  *Parties
	)
	var totalAmount, totalOutstanding, totalExecutable decimal.Decimal

	for _, id := range invoiceIDs {
		inv, client, company, errs := s.loadAndValidate(ctx, id)
		if len(errs) > 0 {
			warnings = append(warnings, fmt.Sprintf("factura %s saltada: %s", id, strings.Join(errs, "; ")))
			continue
		}
		block := buildInvoiceBlock(inv, inv.Date)
		if msg := totalMismatch(inv, block); msg != "" {
			warnings = append(warnings, fmt.Sprintf("factura %s saltada: %s", id, msg))
			continue
		}
		blocks = append(blocks, block)
		totalAmount = totalAmount.Add(block.Totals.InvoiceTotal)
		totalOutstanding = totalOutstanding.Add(block.Totals.TotalOutstanding)
		totalExecutable = totalExecutable.Add(block.Totals.TotalExecutable)
		if parties == nil {
			p := buildParties(company, client)
			parties = &p
		}
	}

	if len(blocks) == 0 {
		return &BatchResult{
			Warnings: warnings,
			Errors:   []string{"ninguna factura del lote pudo resolverse"},
		}
	}

	batchID := uuid.New().String()
	doc := &Document{
		Header: FileHeader{
			SchemaVersion: SchemaVersion,
			Modality:      ModalityBatch,
			IssuerType:    IssuerTypeSeller,
			Batch: &Batch{
				Identifier:       batchID,
				InvoicesCount:    len(blocks),
				TotalAmount:      totalAmount,
				TotalOutstanding: totalOutstanding,
				TotalExecutable:  totalExecutable,
				Currency:         CurrencyEUR,
			},
		},
		Parties:  *parties,
		Invoices: blocks,
	}

	xmlBytes, err := Serialize(doc)
	if err != nil {
		return &BatchResult{Warnings: warnings, Errors: []string{"serializar lote: " + err.Error()}}
	}

	return &BatchResult{
		OK:       true,
		Document: doc,
		XML:      xmlBytes,
		Filename: fmt.Sprintf("FacturaE_Lote_%s.xsig", batchID),
		Warnings: warnings,
	}
}

// Validate hace una comprobación estructural del XML: presencia de los
// elementos de primer nivel y de la versión de esquema esperada. No es una
// validación XSD.
func (s *BuilderService) Validate(xmlBytes []byte) *ValidateResult {
	res := &ValidateResult{}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		res.Errors = append(res.Errors, "XML mal formado: "+err.Error())
		return res
	}
	root := doc.Root()
	if root == nil || root.Tag != "Facturae" {
		res.Errors = append(res.Errors, "el elemento raíz no es fe:Facturae")
		return res
	}
	for _, required := range []string{"FileHeader", "Parties", "Invoices"} {
		if root.FindElement(required) == nil {
			res.Errors = append(res.Errors, "falta el elemento "+required)
		}
	}
	if sv := root.FindElement("FileHeader/SchemaVersion"); sv == nil || sv.Text() != SchemaVersion {
		res.Errors = append(res.Errors, "versión de esquema distinta de "+SchemaVersion)
	}
	if root.FindElement("//Signature") == nil {
		res.Warnings = append(res.Warnings, "el documento no está firmado")
	}
	res.Valid = len(res.Errors) == 0
	return res
}

// ── carga y validación ────────────────────────────────────────────────────────

func (s *BuilderService) loadAndValidate(ctx context.Context, invoiceID string) (*entity.Invoice, *entity.Client, *entity.Company, []string) {
	inv, err := s.invoiceRepo.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, nil, nil, []string{"consultar factura: " + err.Error()}
	}
	if inv == nil {
		return nil, nil, nil, []string{"factura no encontrada: " + invoiceID}
	}
	client, err := s.clientRepo.FindByID(ctx, inv.ClientID)
	if err != nil {
		return nil, nil, nil, []string{"consultar cliente: " + err.Error()}
	}
	if client == nil {
		return nil, nil, nil, []string{"cliente no encontrado: " + inv.ClientID}
	}
	company, err := s.companyRepo.FindByID(ctx, inv.CompanyID)
	if err != nil {
		return nil, nil, nil, []string{"consultar empresa: " + err.Error()}
	}
	if company == nil {
		return nil, nil, nil, []string{"empresa no encontrada: " + inv.CompanyID}
	}
	if errs := validateForGeneration(inv, client, company); len(errs) > 0 {
		return nil, nil, nil, errs
	}
	return inv, client, company, nil
}

// validateForGeneration aplica las comprobaciones obligatorias previas a la
// construcción del documento. Devuelve mensajes legibles, uno por defecto.
func validateForGeneration(inv *entity.Invoice, client *entity.Client, company *entity.Company) []string {
	var errs []string

	if inv.Number == "" {
		errs = append(errs, "la factura no tiene número")
	}
	if inv.Date.IsZero() {
		errs = append(errs, "la factura no tiene fecha de expedición")
	}
	if len(billableLines(inv)) == 0 {
		errs = append(errs, "la factura no tiene líneas facturables")
	}
	if !inv.Total.IsPositive() {
		errs = append(errs, "el total de la factura debe ser positivo")
	}

	if client.NIF == "" {
		errs = append(errs, "el cliente no tiene NIF")
	}
	if client.Name == "" {
		errs = append(errs, "el cliente no tiene nombre")
	}
	if client.EInvoice != nil {
		for _, code := range client.EInvoice.MissingCodes() {
			errs = append(errs, "falta el código DIR3 de "+code)
		}
	}

	if company.NIF == "" {
		errs = append(errs, "la empresa no tiene NIF")
	}
	if company.Name == "" {
		errs = append(errs, "la empresa no tiene nombre")
	}

	return errs
}

// totalMismatch compara el total almacenado en la factura con el total
// recalculado del documento. El redondeo línea a línea admite hasta un céntimo
// de diferencia; un descuadre mayor indica datos derivados inconsistentes y la
// generación falla en lugar de emitir un total divergente.
func totalMismatch(inv *entity.Invoice, block InvoiceBlock) string {
	diff := block.Totals.InvoiceTotal.Sub(inv.Total).Abs()
	if diff.LessThanOrEqual(decimal.New(1, -2)) {
		return ""
	}
	return fmt.Sprintf("el total almacenado (%s) no cuadra con el total calculado del documento (%s)",
		FormatAmount(inv.Total), FormatAmount(block.Totals.InvoiceTotal))
}

// ── construcción de partes ────────────────────────────────────────────────────

func buildParties(company *entity.Company, client *entity.Client) Parties {
	seller := Party{
		PersonType:    "J",
		ResidenceType: residenceTypeFromNIF(company.NIF),
		TaxID:         company.NIF,
		Name:          company.Name,
		Address:       company.Address,
		PostCode:      company.PostCode,
		Town:          company.Town,
		Province:      company.Province,
	}

	buyer := Party{
		PersonType:    personTypeCode(client.PersonType),
		ResidenceType: residenceTypeFromNIF(client.NIF),
		TaxID:         client.NIF,
		Name:          client.Name,
		Address:       client.Address,
		PostCode:      client.PostCode,
		Town:          client.Town,
		Province:      client.Province,
	}
	// Centros administrativos DIR3 solo con factura electrónica habilitada.
	if cfg := client.EInvoice; cfg != nil {
		buyer.Centres = []AdministrativeCentre{
			{Code: cfg.ManagingBody, Role: RoleManagingBody},
			{Code: cfg.ProcessingUnit, Role: RoleProcessingUnit},
			{Code: cfg.AccountingOffice, Role: RoleAccountingOffice},
		}
		if cfg.DeliveryPoint != "" {
			buyer.Centres = append(buyer.Centres, AdministrativeCentre{
				Code: cfg.DeliveryPoint, Role: RoleDeliveryPoint,
			})
		}
	}

	return Parties{Seller: seller, Buyer: buyer}
}

func personTypeCode(classification string) string {
	if classification == entity.PersonNatural {
		return "F"
	}
	return "J"
}

// residenceTypeFromNIF clasifica la residencia por el patrón del NIF: los NIE
// con prefijo X/Y/Z se tratan como residente UE, el resto como residente.
func residenceTypeFromNIF(nif string) string {
	nif = strings.ToUpper(strings.TrimSpace(nif))
	if nif == "" {
		return "R"
	}
	switch nif[0] {
	case 'X', 'Y', 'Z':
		return "U"
	}
	return "R"
}

// ── construcción de la factura ────────────────────────────────────────────────

func buildInvoiceBlock(inv *entity.Invoice, issueDate time.Time) InvoiceBlock {
	block := InvoiceBlock{
		Number:       inv.Number,
		Series:       inv.Series,
		DocumentType: DocumentTypeComplete,
		Class:        ClassOriginal,
		IssueDate:    issueDate,
		Currency:     CurrencyEUR,
		Language:     LanguageES,
	}

	if r := inv.Rectifies; r != nil {
		reason, ok := correctiveReasons[r.Reason]
		if !ok {
			reason = correctiveReason{Code: "16", Description: "Cuota resultante"}
		}
		block.Class = ClassCorrective
		block.Corrective = &Corrective{
			OriginalNumber:    r.OriginalNumber,
			OriginalSeries:    r.OriginalSeries,
			ReasonCode:        reason.Code,
			ReasonDescription: reason.Description,
			CorrectionMethod:  CorrectionMethodFull,
		}
	}

	// Una entrada de IVA repercutido por tipo impositivo distinto del desglose
	// almacenado en la factura; nunca se recalcula desde las líneas.
	block.TaxOutputs = mergeTaxOutputs(inv.Taxes)

	// Líneas facturables con importe bruto redondeado línea a línea. La
	// política línea-y-suma puede divergir un céntimo de redondear el
	// agregado; se conserva tal cual (fuente conocida de descuadres).
	var gross decimal.Decimal
	for _, l := range billableLines(inv) {
		lineGross := lineGrossAmount(l)
		gross = gross.Add(lineGross)
		block.Lines = append(block.Lines, Line{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			GrossAmount: lineGross,
			TaxRate:     l.TaxRate,
		})
	}

	grossBeforeTaxes := gross.Sub(inv.DiscountTotal)
	var taxOutputsTotal decimal.Decimal
	for _, t := range block.TaxOutputs {
		taxOutputsTotal = taxOutputsTotal.Add(t.Amount.Round(2))
	}
	invoiceTotal := grossBeforeTaxes.Add(taxOutputsTotal)

	var withheldTotal decimal.Decimal
	if inv.WithholdingPct.IsPositive() {
		withheldTotal = grossBeforeTaxes.Mul(inv.WithholdingPct).Div(decimal.NewFromInt(100)).Round(2)
		block.Withheld = &TaxWithheld{
			Rate:   inv.WithholdingPct,
			Base:   grossBeforeTaxes,
			Amount: withheldTotal,
		}
	}

	outstanding := inv.Outstanding
	if outstanding.IsZero() {
		outstanding = invoiceTotal
	}

	block.Totals = Totals{
		GrossAmount:      gross,
		GeneralDiscounts: inv.DiscountTotal,
		GrossBeforeTaxes: grossBeforeTaxes,
		TaxOutputs:       taxOutputsTotal,
		TaxesWithheld:    withheldTotal,
		InvoiceTotal:     invoiceTotal,
		TotalOutstanding: outstanding,
		TotalExecutable:  invoiceTotal.Sub(withheldTotal),
	}

	for _, d := range inv.DueDates {
		block.Installments = append(block.Installments, Installment{
			DueDate: d.Date,
			Amount:  d.Amount,
		})
	}

	return block
}

// mergeTaxOutputs agrupa el desglose almacenado por tipo impositivo,
// conservando el orden de primera aparición.
func mergeTaxOutputs(items []entity.TaxItem) []TaxOutput {
	var outputs []TaxOutput
	index := map[string]int{}
	for _, t := range items {
		key := t.Rate.String()
		if i, ok := index[key]; ok {
			outputs[i].Base = outputs[i].Base.Add(t.Base)
			outputs[i].Amount = outputs[i].Amount.Add(t.Amount)
			continue
		}
		index[key] = len(outputs)
		outputs = append(outputs, TaxOutput{Rate: t.Rate, Base: t.Base, Amount: t.Amount})
	}
	return outputs
}

// billableLines filtra las líneas que viajan al XML: texto libre y marcadores
// de subtotal quedan fuera.
func billableLines(inv *entity.Invoice) []entity.InvoiceLine {
	var lines []entity.InvoiceLine
	for _, l := range inv.Lines {
		switch l.LineType {
		case entity.LineTypeText, entity.LineTypeSubtotal:
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

// lineGrossAmount calcula el bruto de una línea: cantidad × precio menos el
// descuento porcentual, redondeado a 2 decimales.
func lineGrossAmount(l entity.InvoiceLine) decimal.Decimal {
	gross := l.Quantity.Mul(l.UnitPrice)
	if l.DiscountPct.IsPositive() {
		discount := gross.Mul(l.DiscountPct).Div(decimal.NewFromInt(100))
		gross = gross.Sub(discount)
	}
	return gross.Round(2)
}
