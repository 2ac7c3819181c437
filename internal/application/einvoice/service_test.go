package einvoice_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmorenov/Gesfactur-api/internal/application/einvoice"
	"github.com/dmorenov/Gesfactur-api/internal/domain"
	"github.com/dmorenov/Gesfactur-api/internal/domain/entity"
	"github.com/dmorenov/Gesfactur-api/internal/domain/repository"
	"github.com/dmorenov/Gesfactur-api/internal/infrastructure/face"
	"github.com/dmorenov/Gesfactur-api/internal/infrastructure/facturae"
	"github.com/dmorenov/Gesfactur-api/internal/infrastructure/facturae/signer"
	"github.com/dmorenov/Gesfactur-api/pkg/logger"
)

// ──────────────────────────────────────────────────────────────────────────────
// Dobles en memoria
// ──────────────────────────────────────────────────────────────────────────────

type memInvoiceRepo struct {
	invoices map[string]*entity.Invoice

	registered map[string]string // invoiceID → número de registro
	patches    []repository.SubmissionPatch
	savedXML   map[string][]byte

	forceRaceOnRegister bool // simula una presentación concurrente ganadora
}

func newMemInvoiceRepo(invs ...*entity.Invoice) *memInvoiceRepo {
	r := &memInvoiceRepo{
		invoices:   map[string]*entity.Invoice{},
		registered: map[string]string{},
		savedXML:   map[string][]byte{},
	}
	for _, inv := range invs {
		r.invoices[inv.ID] = inv
	}
	return r
}

func (r *memInvoiceRepo) FindByID(_ context.Context, id string) (*entity.Invoice, error) {
	return r.invoices[id], nil
}

func (r *memInvoiceRepo) RegisterSubmission(_ context.Context, invoiceID, registrationNumber string, entry entity.HistoryEntry) error {
	inv := r.invoices[invoiceID]
	if inv == nil {
		return domain.ErrNotFound
	}
	if r.forceRaceOnRegister || inv.Submission != nil {
		return domain.ErrAlreadySubmitted
	}
	r.registered[invoiceID] = registrationNumber
	inv.Submission = &entity.SubmissionState{
		RegistrationNumber: registrationNumber,
		State:              entity.StateRegisteredERS,
		History:            []entity.HistoryEntry{entry},
	}
	return nil
}

func (r *memInvoiceRepo) UpdateSubmissionState(_ context.Context, invoiceID string, patch repository.SubmissionPatch) error {
	inv := r.invoices[invoiceID]
	if inv == nil {
		return domain.ErrNotFound
	}
	r.patches = append(r.patches, patch)
	if inv.Submission != nil {
		if patch.State != nil {
			inv.Submission.State = *patch.State
		}
		if patch.LastQueriedAt != nil {
			inv.Submission.LastQueriedAt = patch.LastQueriedAt
		}
		inv.Submission.History = append(inv.Submission.History, patch.AppendHistory...)
	}
	return nil
}

func (r *memInvoiceRepo) SaveSignedXML(_ context.Context, invoiceID, filename string, signedXML []byte) error {
	r.savedXML[invoiceID] = signedXML
	return nil
}

type memClientRepo struct {
	clients map[string]*entity.Client
}

func (r *memClientRepo) FindByID(_ context.Context, id string) (*entity.Client, error) {
	return r.clients[id], nil
}

type memCompanyRepo struct {
	companies map[string]*entity.Company
}

func (r *memCompanyRepo) FindByID(_ context.Context, id string) (*entity.Company, error) {
	return r.companies[id], nil
}

type memCertRepo struct {
	certs map[string]*entity.Certificate
}

func (r *memCertRepo) FindByID(_ context.Context, id string) (*entity.Certificate, error) {
	return r.certs[id], nil
}

func (r *memCertRepo) ListActive(_ context.Context, companyID string) ([]*entity.Certificate, error) {
	var out []*entity.Certificate
	for _, c := range r.certs {
		if c.CompanyID == companyID && c.Status == entity.CertStatusActive {
			out = append(out, c)
		}
	}
	return out, nil
}

// fakeTransport registra las llamadas y devuelve respuestas programadas.
type fakeTransport struct {
	submitResp *face.SubmitResponse
	statusResp *face.StatusResponse
	cancelResp *face.CancelResponse

	submitCalls int
	statusCalls int
	cancelCalls int
}

func (f *fakeTransport) SubmitInvoice(_ context.Context, _ []byte, _, _ string) (*face.SubmitResponse, error) {
	f.submitCalls++
	return f.submitResp, nil
}

func (f *fakeTransport) QueryInvoiceStatus(_ context.Context, _, _ string) (*face.StatusResponse, error) {
	f.statusCalls++
	return f.statusResp, nil
}

func (f *fakeTransport) CancelInvoice(_ context.Context, _, _, _ string) (*face.CancelResponse, error) {
	f.cancelCalls++
	return f.cancelResp, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────────────────────────────────

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func fixtureInvoice() *entity.Invoice {
	return &entity.Invoice{
		ID:        "inv-1",
		CompanyID: "co-1",
		ClientID:  "cl-1",
		Series:    "F-2024",
		Number:    "001",
		Date:      time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC),
		Total:     dec("24.20"),
		Lines: []entity.InvoiceLine{{
			LineType:    entity.LineTypeProduct,
			Description: "Licencia anual",
			Quantity:    dec("2"),
			UnitPrice:   dec("10.00"),
			TaxRate:     dec("21"),
		}},
		Taxes: []entity.TaxItem{{Rate: dec("21"), Base: dec("20.00"), Amount: dec("4.20")}},
	}
}

func fixtureClient() *entity.Client {
	return &entity.Client{
		ID:         "cl-1",
		CompanyID:  "co-1",
		Name:       "Ayuntamiento de Alcorcón",
		NIF:        "P2800700H",
		PersonType: entity.PersonLegal,
		EInvoice: &entity.EInvoiceConfig{
			ManagingBody:     "L01280066",
			ProcessingUnit:   "L01280067",
			AccountingOffice: "L01280068",
		},
	}
}

func fixtureCompany() *entity.Company {
	return &entity.Company{ID: "co-1", Name: "Gesfactur SL", NIF: "B12345674"}
}

func fixtureCert(t *testing.T) *entity.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "SELLO GESFACTUR"},
		NotBefore:    now.Add(-24 * time.Hour),
		NotAfter:     now.Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return &entity.Certificate{
		ID:         "cert-1",
		CompanyID:  "co-1",
		Status:     entity.CertStatusActive,
		Format:     entity.CertFormatPEM,
		Data:       pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyData:    pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}),
		ValidFrom:  tmpl.NotBefore,
		ValidUntil: tmpl.NotAfter,
	}
}

type fixture struct {
	svc         *einvoice.Service
	invoiceRepo *memInvoiceRepo
	transport   *fakeTransport
}

// newFixture monta el servicio completo con repositorios en memoria y el
// entorno FACE indicado.
func newFixture(t *testing.T, env string, transport *fakeTransport, invs ...*entity.Invoice) *fixture {
	t.Helper()

	invoiceRepo := newMemInvoiceRepo(invs...)
	clientRepo := &memClientRepo{clients: map[string]*entity.Client{"cl-1": fixtureClient()}}
	companyRepo := &memCompanyRepo{companies: map[string]*entity.Company{"co-1": fixtureCompany()}}
	certRepo := &memCertRepo{certs: map[string]*entity.Certificate{"cert-1": fixtureCert(t)}}

	builder := facturae.NewBuilderService(invoiceRepo, clientRepo, companyRepo)
	signerSvc := signer.NewService(certRepo)
	log := logger.New(logger.Config{Env: "development", Level: "error"})

	var tr face.Transport
	if transport != nil {
		tr = transport
	}
	svc := einvoice.NewService(
		invoiceRepo, clientRepo, certRepo,
		builder, signerSvc, tr,
		einvoice.Config{Environment: env},
		log,
	)
	return &fixture{svc: svc, invoiceRepo: invoiceRepo, transport: transport}
}

// ──────────────────────────────────────────────────────────────────────────────
// Submit
// ──────────────────────────────────────────────────────────────────────────────

func TestSubmit_EntornoDev_SimulaYPersiste(t *testing.T) {
	f := newFixture(t, face.EnvDev, nil, fixtureInvoice())

	res := f.svc.Submit(context.Background(), "inv-1", "cert-1", "")
	require.True(t, res.OK, "errores: %v", res.Errors)
	assert.True(t, strings.HasPrefix(res.RegistrationNumber, "DEV-"),
		"en dev el número de registro es simulado")

	// Commit tardío: registro + artefacto firmado.
	assert.Equal(t, res.RegistrationNumber, f.invoiceRepo.registered["inv-1"])
	assert.NotEmpty(t, f.invoiceRepo.savedXML["inv-1"])

	sub := f.invoiceRepo.invoices["inv-1"].Submission
	require.NotNil(t, sub)
	assert.Equal(t, entity.StateRegisteredERS, sub.State)
	require.Len(t, sub.History, 1)
	assert.Equal(t, entity.ActionSubmitted, sub.History[0].Action)
	assert.Equal(t, res.RegistrationNumber, sub.History[0].Reason)
}

func TestSubmit_EntornoTest_UsaTransporte(t *testing.T) {
	tr := &fakeTransport{submitResp: &face.SubmitResponse{
		RegistrationNumber: "REG-2024-0001",
		Code:               "0",
		Accepted:           true,
	}}
	f := newFixture(t, face.EnvTest, tr, fixtureInvoice())

	res := f.svc.Submit(context.Background(), "inv-1", "cert-1", "")
	require.True(t, res.OK, "errores: %v", res.Errors)
	assert.Equal(t, 1, tr.submitCalls)
	assert.Equal(t, "REG-2024-0001", res.RegistrationNumber)
	assert.Equal(t, "REG-2024-0001", f.invoiceRepo.registered["inv-1"])
}

func TestSubmit_FacturaInvalida_NoPersisteNada(t *testing.T) {
	inv := fixtureInvoice()
	inv.Number = ""
	f := newFixture(t, face.EnvDev, nil, inv)

	res := f.svc.Submit(context.Background(), "inv-1", "cert-1", "")
	assert.False(t, res.OK)
	assert.Equal(t, domain.KindValidation, res.Kind)
	assert.Contains(t, res.Errors, "la factura no tiene número")

	// Un fallo en cualquier etapa no deja rastro en la persistencia.
	assert.Empty(t, f.invoiceRepo.registered)
	assert.Empty(t, f.invoiceRepo.savedXML)
	assert.Empty(t, f.invoiceRepo.patches)
	assert.Nil(t, f.invoiceRepo.invoices["inv-1"].Submission)
}

func TestSubmit_YaPresentada_Rechaza(t *testing.T) {
	inv := fixtureInvoice()
	inv.Submission = &entity.SubmissionState{RegistrationNumber: "REG-1", State: entity.StateRegisteredERS}
	tr := &fakeTransport{}
	f := newFixture(t, face.EnvTest, tr, inv)

	res := f.svc.Submit(context.Background(), "inv-1", "cert-1", "")
	assert.False(t, res.OK)
	assert.Equal(t, domain.KindState, res.Kind)
	assert.Zero(t, tr.submitCalls, "no debe llegar a la pasarela")
}

func TestSubmit_CarreraEnRegistro_DevuelveEstado(t *testing.T) {
	f := newFixture(t, face.EnvDev, nil, fixtureInvoice())
	f.invoiceRepo.forceRaceOnRegister = true

	res := f.svc.Submit(context.Background(), "inv-1", "cert-1", "")
	assert.False(t, res.OK)
	assert.Equal(t, domain.KindState, res.Kind,
		"si otra presentación ganó la carrera, el update condicional lo detecta")
}

func TestSubmit_PasarelaRechaza_NoPersiste(t *testing.T) {
	tr := &fakeTransport{submitResp: &face.SubmitResponse{
		Code:        "503",
		Description: "fichero no válido",
		Accepted:    false,
	}}
	f := newFixture(t, face.EnvTest, tr, fixtureInvoice())

	res := f.svc.Submit(context.Background(), "inv-1", "cert-1", "")
	assert.False(t, res.OK)
	assert.Equal(t, domain.KindIntegration, res.Kind)
	assert.Contains(t, res.Errors[0], "fichero no válido")
	assert.Empty(t, f.invoiceRepo.registered)
}

func TestSubmit_EntornoDesconocido(t *testing.T) {
	f := newFixture(t, face.EnvDev, nil, fixtureInvoice())
	res := f.svc.Submit(context.Background(), "inv-1", "cert-1", "staging")
	assert.False(t, res.OK)
	assert.Equal(t, domain.KindValidation, res.Kind)
}

func TestSubmit_FacturaNoEncontrada(t *testing.T) {
	f := newFixture(t, face.EnvDev, nil)
	res := f.svc.Submit(context.Background(), "fantasma", "cert-1", "")
	assert.False(t, res.OK)
	assert.Equal(t, domain.KindNotFound, res.Kind)
}

// ──────────────────────────────────────────────────────────────────────────────
// QueryStatus
// ──────────────────────────────────────────────────────────────────────────────

func TestQueryStatus_SinPresentacion_Falla(t *testing.T) {
	f := newFixture(t, face.EnvTest, &fakeTransport{}, fixtureInvoice())

	res := f.svc.QueryStatus(context.Background(), "inv-1")
	assert.False(t, res.OK)
	assert.Equal(t, domain.KindState, res.Kind)
	assert.Zero(t, f.transport.statusCalls)
}

func TestQueryStatus_PersisteEstadoYMarca(t *testing.T) {
	inv := fixtureInvoice()
	inv.Submission = &entity.SubmissionState{RegistrationNumber: "REG-1", State: entity.StateRegisteredERS}
	tr := &fakeTransport{statusResp: &face.StatusResponse{Code: "2500", Description: "Pagada"}}
	f := newFixture(t, face.EnvTest, tr, inv)

	res := f.svc.QueryStatus(context.Background(), "inv-1")
	require.True(t, res.OK, "errores: %v", res.Errors)
	assert.Equal(t, entity.StatePaid, res.State)
	assert.Equal(t, "Pagada", res.Reason)

	require.Len(t, f.invoiceRepo.patches, 1)
	patch := f.invoiceRepo.patches[0]
	require.NotNil(t, patch.State)
	assert.Equal(t, entity.StatePaid, *patch.State)
	require.NotNil(t, patch.LastQueriedAt, "cada consulta actualiza la marca temporal")
	require.Len(t, patch.AppendHistory, 1)
	assert.Equal(t, entity.ActionStatus, patch.AppendHistory[0].Action)
}

func TestQueryStatus_CodigoDesconocido_NoPersiste(t *testing.T) {
	inv := fixtureInvoice()
	inv.Submission = &entity.SubmissionState{RegistrationNumber: "REG-1", State: entity.StateRegisteredERS}
	tr := &fakeTransport{statusResp: &face.StatusResponse{Code: "9999"}}
	f := newFixture(t, face.EnvTest, tr, inv)

	res := f.svc.QueryStatus(context.Background(), "inv-1")
	assert.False(t, res.OK)
	assert.Equal(t, domain.KindIntegration, res.Kind)
	assert.Empty(t, f.invoiceRepo.patches)
}

// ──────────────────────────────────────────────────────────────────────────────
// Cancel
// ──────────────────────────────────────────────────────────────────────────────

func TestCancel_EstadoAbierto_Anula(t *testing.T) {
	inv := fixtureInvoice()
	inv.Submission = &entity.SubmissionState{RegistrationNumber: "REG-1", State: entity.StateBooked}
	tr := &fakeTransport{cancelResp: &face.CancelResponse{Code: "0", Accepted: true}}
	f := newFixture(t, face.EnvTest, tr, inv)

	res := f.svc.Cancel(context.Background(), "inv-1", "duplicate")
	require.True(t, res.OK, "errores: %v", res.Errors)
	assert.Equal(t, 1, tr.cancelCalls)

	require.Len(t, f.invoiceRepo.patches, 1)
	patch := f.invoiceRepo.patches[0]
	assert.Equal(t, entity.StateCancelled, *patch.State)
	require.Len(t, patch.AppendHistory, 1)
	assert.Equal(t, entity.ActionCancelled, patch.AppendHistory[0].Action)
	assert.Equal(t, "duplicate", patch.AppendHistory[0].Reason,
		"el motivo de anulación queda en el historial")
}

// Los estados terminales rechazan la anulación.
func TestCancel_EstadosTerminales_Rechazan(t *testing.T) {
	for _, state := range []string{entity.StatePaid, entity.StateCancelled, entity.StatePaymentExecuted} {
		t.Run(state, func(t *testing.T) {
			inv := fixtureInvoice()
			inv.Submission = &entity.SubmissionState{RegistrationNumber: "REG-1", State: state}
			tr := &fakeTransport{}
			f := newFixture(t, face.EnvTest, tr, inv)

			res := f.svc.Cancel(context.Background(), "inv-1", "error administrativo")
			assert.False(t, res.OK)
			assert.Equal(t, domain.KindState, res.Kind)
			assert.Zero(t, tr.cancelCalls, "un estado terminal nunca llega a la pasarela")
			assert.Empty(t, f.invoiceRepo.patches)
		})
	}
}

func TestCancel_SinPresentacion_Falla(t *testing.T) {
	f := newFixture(t, face.EnvDev, nil, fixtureInvoice())
	res := f.svc.Cancel(context.Background(), "inv-1", "duplicate")
	assert.False(t, res.OK)
	assert.Equal(t, domain.KindState, res.Kind)
}

// ──────────────────────────────────────────────────────────────────────────────
// CheckSubmissionEligibility
// ──────────────────────────────────────────────────────────────────────────────

func TestEligibility_TodoEnOrden(t *testing.T) {
	f := newFixture(t, face.EnvDev, nil, fixtureInvoice())
	res := f.svc.CheckSubmissionEligibility(context.Background(), "inv-1")
	assert.Empty(t, res.Errors)
	assert.True(t, res.Eligible)
	assert.Empty(t, res.Missing)
}

func TestEligibility_FaltaDIR3(t *testing.T) {
	cl := fixtureClient()
	cl.EInvoice.AccountingOffice = ""
	f := newFixtureWithClient(t, cl, fixtureInvoice())

	res := f.svc.CheckSubmissionEligibility(context.Background(), "inv-1")
	assert.False(t, res.Eligible)
	assert.Contains(t, res.Missing, "código DIR3 de oficina contable")
}

func TestEligibility_YaPresentada(t *testing.T) {
	inv := fixtureInvoice()
	inv.Submission = &entity.SubmissionState{RegistrationNumber: "REG-1", State: entity.StateRegisteredERS}
	f := newFixture(t, face.EnvDev, nil, inv)

	res := f.svc.CheckSubmissionEligibility(context.Background(), "inv-1")
	assert.False(t, res.Eligible)
	assert.Contains(t, res.Missing, "la factura ya fue presentada")
}

// newFixtureWithClient variante con un cliente concreto.
func newFixtureWithClient(t *testing.T, cl *entity.Client, invs ...*entity.Invoice) *fixture {
	t.Helper()
	invoiceRepo := newMemInvoiceRepo(invs...)
	clientRepo := &memClientRepo{clients: map[string]*entity.Client{cl.ID: cl}}
	companyRepo := &memCompanyRepo{companies: map[string]*entity.Company{"co-1": fixtureCompany()}}
	certRepo := &memCertRepo{certs: map[string]*entity.Certificate{"cert-1": fixtureCert(t)}}
	builder := facturae.NewBuilderService(invoiceRepo, clientRepo, companyRepo)
	signerSvc := signer.NewService(certRepo)
	log := logger.New(logger.Config{Env: "development", Level: "error"})
	svc := einvoice.NewService(invoiceRepo, clientRepo, certRepo, builder, signerSvc, nil,
		einvoice.Config{Environment: face.EnvDev}, log)
	return &fixture{svc: svc, invoiceRepo: invoiceRepo}
}

// ──────────────────────────────────────────────────────────────────────────────
// StatusHistory
// ──────────────────────────────────────────────────────────────────────────────

func TestStatusHistory_FiltraAcciones(t *testing.T) {
	base := time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC)
	inv := fixtureInvoice()
	inv.Submission = &entity.SubmissionState{
		RegistrationNumber: "REG-1",
		State:              entity.StateCancelled,
		History: []entity.HistoryEntry{
			{Action: entity.ActionSubmitted, Code: entity.StateRegisteredERS, Reason: "REG-1", Timestamp: base},
			{Action: entity.ActionStatus, Code: entity.StateBooked, Reason: "Contabilizada", Timestamp: base.Add(time.Hour)},
			{Action: entity.ActionCancelled, Code: entity.StateCancelled, Reason: "duplicate", Timestamp: base.Add(2 * time.Hour)},
		},
	}
	f := newFixture(t, face.EnvDev, nil, inv)

	res := f.svc.StatusHistory(context.Background(), "inv-1")
	require.True(t, res.OK)
	require.Len(t, res.Events, 2, "la vista solo incluye presentación y consultas de estado")
	assert.Equal(t, entity.StateRegisteredERS, res.Events[0].State)
	assert.Equal(t, entity.StateBooked, res.Events[1].State)
	assert.Equal(t, "Contabilizada", res.Events[1].Reason)
}

func TestStatusHistory_SinPresentacion_VistaVacia(t *testing.T) {
	f := newFixture(t, face.EnvDev, nil, fixtureInvoice())
	res := f.svc.StatusHistory(context.Background(), "inv-1")
	require.True(t, res.OK)
	assert.Empty(t, res.Events)
}
