package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/dmorenov/Gesfactur-api/internal/application/dto"
	"github.com/dmorenov/Gesfactur-api/internal/application/einvoice"
	"github.com/dmorenov/Gesfactur-api/internal/domain"
	"github.com/dmorenov/Gesfactur-api/internal/infrastructure/facturae"
	"github.com/dmorenov/Gesfactur-api/internal/infrastructure/facturae/signer"
)

// EInvoiceHandler expone el ciclo de facturación electrónica sobre HTTP:
// generación FacturaE, firma, presentación FACE y consulta de tramitación.
type EInvoiceHandler struct {
	builder *facturae.BuilderService
	signer  *signer.Service
	svc     *einvoice.Service
}

// NewEInvoiceHandler construye el handler.
func NewEInvoiceHandler(builder *facturae.BuilderService, signerSvc *signer.Service, svc *einvoice.Service) *EInvoiceHandler {
	return &EInvoiceHandler{builder: builder, signer: signerSvc, svc: svc}
}

// statusForKind mapea la clase de error de dominio al código HTTP.
func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return fiber.StatusBadRequest
	case domain.KindNotFound:
		return fiber.StatusNotFound
	case domain.KindState:
		return fiber.StatusConflict
	case domain.KindCrypto:
		return fiber.StatusUnprocessableEntity
	case domain.KindIntegration:
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

func kindError(c *fiber.Ctx, kind domain.Kind, errs []string) error {
	msg := "error"
	if len(errs) > 0 {
		msg = errs[0]
	}
	return c.Status(statusForKind(kind)).JSON(dto.ErrorResponse{
		Code:    string(kind),
		Message: msg,
		Details: errs,
	})
}

// Generate genera el documento FacturaE 3.2.2 de una factura.
// POST /api/invoices/:id/einvoice/generate
func (h *EInvoiceHandler) Generate(c *fiber.Ctx) error {
	id := c.Params("id")
	var in dto.GenerateRequest
	if err := c.BodyParser(&in); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}

	var opts *facturae.Options
	if in.IssueDate != "" {
		d, err := time.Parse("2006-01-02", in.IssueDate)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "issue_date inválida (YYYY-MM-DD)"})
		}
		opts = &facturae.Options{IssueDate: &d}
	}

	res := h.builder.Generate(c.Context(), id, opts)
	if !res.OK {
		return kindError(c, domain.KindValidation, res.Errors)
	}
	return c.JSON(dto.GenerateResponse{Filename: res.Filename, XML: string(res.XML)})
}

// Validate valida la estructura de un documento FacturaE enviado en el cuerpo.
// POST /api/einvoice/validate
func (h *EInvoiceHandler) Validate(c *fiber.Ctx) error {
	res := h.builder.Validate(c.Body())
	return c.JSON(dto.ValidateResponse{Valid: res.Valid, Errors: res.Errors, Warnings: res.Warnings})
}

// Sign genera y firma el documento FacturaE de una factura.
// POST /api/invoices/:id/einvoice/sign
func (h *EInvoiceHandler) Sign(c *fiber.Ctx) error {
	id := c.Params("id")
	var in dto.SignRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if in.CertificateID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "certificate_id requerido"})
	}

	gen := h.builder.Generate(c.Context(), id, nil)
	if !gen.OK {
		return kindError(c, domain.KindValidation, gen.Errors)
	}
	res := h.signer.Sign(c.Context(), gen.XML, in.CertificateID)
	if !res.OK {
		return kindError(c, res.Kind, res.Errors)
	}
	return c.JSON(dto.SignResponse{
		Filename:    gen.Filename,
		XML:         string(res.SignedXML),
		Signer:      res.Signer,
		SigningTime: res.SigningTime,
		Warnings:    res.Warnings,
	})
}

// Submit presenta la factura en FACE (generar → firmar → enviar → registrar).
// POST /api/invoices/:id/einvoice/submit
func (h *EInvoiceHandler) Submit(c *fiber.Ctx) error {
	id := c.Params("id")
	var in dto.SubmitRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if in.CertificateID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "certificate_id requerido"})
	}

	res := h.svc.Submit(c.Context(), id, in.CertificateID, in.Environment)
	if !res.OK {
		return kindError(c, res.Kind, res.Errors)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SubmitResponse{
		RegistrationNumber: res.RegistrationNumber,
		State:              "REGISTERED_ERS",
		Warnings:           res.Warnings,
	})
}

// Status consulta el estado de tramitación en FACE y lo persiste.
// GET /api/invoices/:id/einvoice/status
func (h *EInvoiceHandler) Status(c *fiber.Ctx) error {
	res := h.svc.QueryStatus(c.Context(), c.Params("id"))
	if !res.OK {
		return kindError(c, res.Kind, res.Errors)
	}
	return c.JSON(dto.StatusResponse{State: res.State, Reason: res.Reason})
}

// Cancel solicita la anulación de la factura en FACE.
// POST /api/invoices/:id/einvoice/cancel
func (h *EInvoiceHandler) Cancel(c *fiber.Ctx) error {
	var in dto.CancelRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if in.Reason == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "reason requerido"})
	}
	res := h.svc.Cancel(c.Context(), c.Params("id"), in.Reason)
	if !res.OK {
		return kindError(c, res.Kind, res.Errors)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Eligibility comprueba si la factura puede presentarse en FACE. No muta estado.
// GET /api/invoices/:id/einvoice/eligibility
func (h *EInvoiceHandler) Eligibility(c *fiber.Ctx) error {
	res := h.svc.CheckSubmissionEligibility(c.Context(), c.Params("id"))
	if len(res.Errors) > 0 {
		return kindError(c, domain.KindIntegration, res.Errors)
	}
	return c.JSON(dto.EligibilityResponse{Eligible: res.Eligible, Missing: res.Missing})
}

// History devuelve la vista derivada del historial de tramitación.
// GET /api/invoices/:id/einvoice/history
func (h *EInvoiceHandler) History(c *fiber.Ctx) error {
	res := h.svc.StatusHistory(c.Context(), c.Params("id"))
	if !res.OK {
		return kindError(c, domain.KindNotFound, res.Errors)
	}
	events := make([]dto.StatusEventResponse, 0, len(res.Events))
	for _, e := range res.Events {
		events = append(events, dto.StatusEventResponse{Date: e.Date, State: e.State, Reason: e.Reason})
	}
	return c.JSON(events)
}
