// Package einvoice orquesta el ciclo completo de facturación electrónica:
//
//	FacturaE 3.2.2 → Firma XAdES-EPES → Presentación FACE → Ciclo de tramitación
//
// Cada operación pública captura los fallos internos y devuelve un resultado
// uniforme {OK, Errors}; ningún fallo esperado cruza el borde como panic.
package einvoice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmorenov/Gesfactur-api/internal/domain"
	"github.com/dmorenov/Gesfactur-api/internal/domain/entity"
	"github.com/dmorenov/Gesfactur-api/internal/domain/repository"
	"github.com/dmorenov/Gesfactur-api/internal/infrastructure/face"
	"github.com/dmorenov/Gesfactur-api/internal/infrastructure/facturae"
	"github.com/dmorenov/Gesfactur-api/internal/infrastructure/facturae/signer"
	"github.com/dmorenov/Gesfactur-api/pkg/logger"
)

// Config ajusta la pasarela de presentación.
type Config struct {
	Environment string // entorno FACE por defecto: dev, test o prod
}

// Service es la pasarela de presentación. Ejecución cooperativa por petición,
// sin exclusión mutua interna: las guardas son explícitas (estado terminal,
// update condicional de registro).
type Service struct {
	invoiceRepo repository.InvoiceRepository
	clientRepo  repository.ClientRepository
	certRepo    repository.CertificateRepository
	builder     *facturae.BuilderService
	signer      *signer.Service
	transport   face.Transport // nil en dev
	cfg         Config
	log         *logger.Logger
}

// NewService construye la pasarela con todas sus dependencias.
// transport puede ser nil: en ese caso solo funciona el entorno dev.
func NewService(
	invoiceRepo repository.InvoiceRepository,
	clientRepo repository.ClientRepository,
	certRepo repository.CertificateRepository,
	builder *facturae.BuilderService,
	signerSvc *signer.Service,
	transport face.Transport,
	cfg Config,
	log *logger.Logger,
) *Service {
	return &Service{
		invoiceRepo: invoiceRepo,
		clientRepo:  clientRepo,
		certRepo:    certRepo,
		builder:     builder,
		signer:      signerSvc,
		transport:   transport,
		cfg:         cfg,
		log:         log,
	}
}

// ── resultados uniformes ──────────────────────────────────────────────────────

// SubmitResult es el resultado de Submit.
type SubmitResult struct {
	OK                 bool
	RegistrationNumber string
	Warnings           []string
	Errors             []string
	Kind               domain.Kind
}

// StatusResult es el resultado de QueryStatus.
type StatusResult struct {
	OK     bool
	State  string
	Reason string
	Errors []string
	Kind   domain.Kind
}

// CancelResult es el resultado de Cancel.
type CancelResult struct {
	OK     bool
	Errors []string
	Kind   domain.Kind
}

// EligibilityResult es el resultado de CheckSubmissionEligibility.
type EligibilityResult struct {
	Eligible bool
	Missing  []string
	Errors   []string
}

// StatusEvent es una entrada de la vista derivada del historial.
type StatusEvent struct {
	Date   time.Time
	State  string
	Reason string
}

// HistoryResult es el resultado de StatusHistory.
type HistoryResult struct {
	OK     bool
	Events []StatusEvent
	Errors []string
}

// ── Submit ────────────────────────────────────────────────────────────────────

// Submit ejecuta el pipeline completo: generar → firmar → presentar → commit.
// Cualquier etapa fallida aborta con los errores acumulados y sin persistir
// estado parcial: la única escritura ocurre al final, y el alta del registro
// es un update condicional (solo si no había presentación previa).
func (s *Service) Submit(ctx context.Context, invoiceID, certificateID, env string) *SubmitResult {
	if env == "" {
		env = s.cfg.Environment
	}
	switch env {
	case face.EnvDev, face.EnvTest, face.EnvProd:
	default:
		return &SubmitResult{
			Errors: []string{fmt.Sprintf("entorno FACE desconocido: %q (usar dev|test|prod)", env)},
			Kind:   domain.KindValidation,
		}
	}

	inv, err := s.invoiceRepo.FindByID(ctx, invoiceID)
	if err != nil {
		return &SubmitResult{Errors: []string{"consultar factura: " + err.Error()}, Kind: domain.KindIntegration}
	}
	if inv == nil {
		return &SubmitResult{Errors: []string{"factura no encontrada: " + invoiceID}, Kind: domain.KindNotFound}
	}
	if inv.Submission != nil && inv.Submission.RegistrationNumber != "" {
		return &SubmitResult{Errors: []string{"la factura ya fue presentada en FACE"}, Kind: domain.KindState}
	}

	// 1. Generar el documento FacturaE.
	gen := s.builder.Generate(ctx, invoiceID, nil)
	if !gen.OK {
		return &SubmitResult{Errors: gen.Errors, Kind: domain.KindValidation}
	}

	// 2. Firma XAdES-EPES.
	signRes := s.signer.Sign(ctx, gen.XML, certificateID)
	if !signRes.OK {
		return &SubmitResult{Errors: signRes.Errors, Kind: signRes.Kind}
	}

	// 3. Presentación en la pasarela (o simulación en dev).
	var registrationNumber string
	switch env {
	case face.EnvDev:
		registrationNumber = "DEV-" + uuid.New().String()
		s.log.Info().Str("invoice", invoiceID).Str("registro", registrationNumber).
			Msg("presentación FACE simulada (entorno dev)")
	default:
		if s.transport == nil {
			return &SubmitResult{
				Errors: []string{"transporte FACE no inyectado para entorno " + env},
				Kind:   domain.KindIntegration,
			}
		}
		resp, err := s.transport.SubmitInvoice(ctx, signRes.SignedXML, gen.Filename, env)
		if err != nil {
			return &SubmitResult{Errors: []string{"presentar en FACE: " + err.Error()}, Kind: domain.KindIntegration}
		}
		if !resp.Accepted {
			return &SubmitResult{
				Errors: []string{fmt.Sprintf("FACE rechazó la presentación [%s]: %s", resp.Code, resp.Description)},
				Kind:   domain.KindIntegration,
			}
		}
		registrationNumber = resp.RegistrationNumber
	}

	// 4. Commit tardío: alta condicional del registro y guardado del artefacto.
	entry := entity.HistoryEntry{
		Action:    entity.ActionSubmitted,
		Code:      entity.StateRegisteredERS,
		Reason:    registrationNumber,
		Timestamp: time.Now(),
	}
	if err := s.invoiceRepo.RegisterSubmission(ctx, invoiceID, registrationNumber, entry); err != nil {
		if err == domain.ErrAlreadySubmitted {
			return &SubmitResult{Errors: []string{"la factura ya fue presentada en FACE"}, Kind: domain.KindState}
		}
		return &SubmitResult{Errors: []string{"persistir presentación: " + err.Error()}, Kind: domain.KindIntegration}
	}
	if err := s.invoiceRepo.SaveSignedXML(ctx, invoiceID, gen.Filename, signRes.SignedXML); err != nil {
		s.log.Error().Err(err).Str("invoice", invoiceID).Msg("no se pudo guardar el XML firmado")
	}

	s.log.Info().Str("invoice", invoiceID).Str("registro", registrationNumber).
		Str("env", env).Msg("factura presentada en FACE")

	return &SubmitResult{
		OK:                 true,
		RegistrationNumber: registrationNumber,
		Warnings:           signRes.Warnings,
	}
}

// ── QueryStatus ───────────────────────────────────────────────────────────────

// QueryStatus consulta el estado de tramitación en FACE y lo persiste junto
// con la marca de última consulta. Requiere presentación previa.
func (s *Service) QueryStatus(ctx context.Context, invoiceID string) *StatusResult {
	inv, err := s.invoiceRepo.FindByID(ctx, invoiceID)
	if err != nil {
		return &StatusResult{Errors: []string{"consultar factura: " + err.Error()}, Kind: domain.KindIntegration}
	}
	if inv == nil {
		return &StatusResult{Errors: []string{"factura no encontrada: " + invoiceID}, Kind: domain.KindNotFound}
	}
	sub := inv.Submission
	if sub == nil || sub.RegistrationNumber == "" {
		return &StatusResult{Errors: []string{"la factura no tiene presentación registrada"}, Kind: domain.KindState}
	}

	env := s.cfg.Environment
	var state, reason string
	if env == face.EnvDev || s.transport == nil {
		// En dev no hay pasarela: se conserva el estado conocido.
		state, reason = sub.State, "consulta simulada (entorno dev)"
	} else {
		resp, err := s.transport.QueryInvoiceStatus(ctx, sub.RegistrationNumber, env)
		if err != nil {
			return &StatusResult{Errors: []string{"consultar estado en FACE: " + err.Error()}, Kind: domain.KindIntegration}
		}
		mapped, ok := entity.StateFromFACECode(resp.Code)
		if !ok {
			return &StatusResult{
				Errors: []string{fmt.Sprintf("código de tramitación FACE desconocido: %q", resp.Code)},
				Kind:   domain.KindIntegration,
			}
		}
		state, reason = mapped, resp.Description
	}

	now := time.Now()
	patch := repository.SubmissionPatch{
		State:         &state,
		LastQueriedAt: &now,
		AppendHistory: []entity.HistoryEntry{{
			Action:    entity.ActionStatus,
			Code:      state,
			Reason:    reason,
			Timestamp: now,
		}},
	}
	if err := s.invoiceRepo.UpdateSubmissionState(ctx, invoiceID, patch); err != nil {
		return &StatusResult{Errors: []string{"persistir estado: " + err.Error()}, Kind: domain.KindIntegration}
	}

	return &StatusResult{OK: true, State: state, Reason: reason}
}

// ── Cancel ────────────────────────────────────────────────────────────────────

// Cancel solicita la anulación de la factura. Guarda: los estados PAID,
// CANCELLED y PAYMENT_EXECUTED son irreversibles y rechazan la anulación.
func (s *Service) Cancel(ctx context.Context, invoiceID, reason string) *CancelResult {
	inv, err := s.invoiceRepo.FindByID(ctx, invoiceID)
	if err != nil {
		return &CancelResult{Errors: []string{"consultar factura: " + err.Error()}, Kind: domain.KindIntegration}
	}
	if inv == nil {
		return &CancelResult{Errors: []string{"factura no encontrada: " + invoiceID}, Kind: domain.KindNotFound}
	}
	sub := inv.Submission
	if sub == nil || sub.RegistrationNumber == "" {
		return &CancelResult{Errors: []string{"la factura no tiene presentación registrada"}, Kind: domain.KindState}
	}
	if !sub.CanCancel() {
		return &CancelResult{
			Errors: []string{fmt.Sprintf("la factura no admite anulación en estado %s", sub.State)},
			Kind:   domain.KindState,
		}
	}

	env := s.cfg.Environment
	if env != face.EnvDev && s.transport != nil {
		resp, err := s.transport.CancelInvoice(ctx, sub.RegistrationNumber, reason, env)
		if err != nil {
			return &CancelResult{Errors: []string{"anular en FACE: " + err.Error()}, Kind: domain.KindIntegration}
		}
		if !resp.Accepted {
			return &CancelResult{
				Errors: []string{fmt.Sprintf("FACE rechazó la anulación [%s]: %s", resp.Code, resp.Description)},
				Kind:   domain.KindIntegration,
			}
		}
	}

	state := entity.StateCancelled
	patch := repository.SubmissionPatch{
		State: &state,
		AppendHistory: []entity.HistoryEntry{{
			Action:    entity.ActionCancelled,
			Code:      entity.StateCancelled,
			Reason:    reason,
			Timestamp: time.Now(),
		}},
	}
	if err := s.invoiceRepo.UpdateSubmissionState(ctx, invoiceID, patch); err != nil {
		return &CancelResult{Errors: []string{"persistir anulación: " + err.Error()}, Kind: domain.KindIntegration}
	}

	s.log.Info().Str("invoice", invoiceID).Str("motivo", reason).Msg("factura anulada en FACE")
	return &CancelResult{OK: true}
}

// ── CheckSubmissionEligibility ────────────────────────────────────────────────

// CheckSubmissionEligibility es una comprobación previa consultiva: códigos
// DIR3 completos, al menos un certificado activo vigente y sin presentación
// previa. No muta ningún estado.
func (s *Service) CheckSubmissionEligibility(ctx context.Context, invoiceID string) *EligibilityResult {
	inv, err := s.invoiceRepo.FindByID(ctx, invoiceID)
	if err != nil {
		return &EligibilityResult{Errors: []string{"consultar factura: " + err.Error()}}
	}
	if inv == nil {
		return &EligibilityResult{Errors: []string{"factura no encontrada: " + invoiceID}}
	}

	var missing []string

	client, err := s.clientRepo.FindByID(ctx, inv.ClientID)
	if err != nil {
		return &EligibilityResult{Errors: []string{"consultar cliente: " + err.Error()}}
	}
	if client == nil {
		missing = append(missing, "cliente")
	} else {
		for _, code := range client.EInvoice.MissingCodes() {
			missing = append(missing, "código DIR3 de "+code)
		}
	}

	certs, err := s.certRepo.ListActive(ctx, inv.CompanyID)
	if err != nil {
		return &EligibilityResult{Errors: []string{"consultar certificados: " + err.Error()}}
	}
	now := time.Now()
	hasValidCert := false
	for _, c := range certs {
		if valid, _ := signer.Validity(c, now); valid {
			hasValidCert = true
			break
		}
	}
	if !hasValidCert {
		missing = append(missing, "certificado de firma vigente")
	}

	if inv.Submission != nil && inv.Submission.RegistrationNumber != "" {
		missing = append(missing, "la factura ya fue presentada")
	}

	return &EligibilityResult{Eligible: len(missing) == 0, Missing: missing}
}

// ── StatusHistory ─────────────────────────────────────────────────────────────

// StatusHistory devuelve la vista derivada del historial append-only,
// filtrada a las acciones de presentación y consulta de estado.
func (s *Service) StatusHistory(ctx context.Context, invoiceID string) *HistoryResult {
	inv, err := s.invoiceRepo.FindByID(ctx, invoiceID)
	if err != nil {
		return &HistoryResult{Errors: []string{"consultar factura: " + err.Error()}}
	}
	if inv == nil {
		return &HistoryResult{Errors: []string{"factura no encontrada: " + invoiceID}}
	}

	res := &HistoryResult{OK: true}
	if inv.Submission == nil {
		return res
	}
	for _, e := range inv.Submission.History {
		switch e.Action {
		case entity.ActionSubmitted, entity.ActionStatus:
			res.Events = append(res.Events, StatusEvent{
				Date:   e.Timestamp,
				State:  e.Code,
				Reason: e.Reason,
			})
		}
	}
	return res
}
