package face

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTripFunc permite inyectar respuestas HTTP sin tocar la red.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// capturedRequest guarda lo relevante de la petición saliente para aserciones.
type capturedRequest struct {
	URL        string
	SOAPAction string
	Body       string
}

func clientReturning(t *testing.T, body string, capture *capturedRequest) *SOAPClient {
	t.Helper()
	return &SOAPClient{
		httpClient: &http.Client{
			Timeout: time.Second,
			Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
				if capture != nil {
					raw, err := io.ReadAll(req.Body)
					require.NoError(t, err)
					capture.URL = req.URL.String()
					capture.SOAPAction = req.Header.Get("SOAPAction")
					capture.Body = string(raw)
				}
				return &http.Response{
					StatusCode: http.StatusOK,
					Body:       io.NopCloser(strings.NewReader(body)),
					Header:     http.Header{},
				}, nil
			}),
		},
	}
}

const enviarOKResponse = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <ns2:enviarFacturaResponse xmlns:ns2="https://webservice.face.gob.es">
      <return>
        <resultado>
          <codigo>0</codigo>
          <descripcion>Correcto</descripcion>
        </resultado>
        <factura>
          <numeroRegistro>202401020304REG</numeroRegistro>
        </factura>
      </return>
    </ns2:enviarFacturaResponse>
  </soap:Body>
</soap:Envelope>`

const consultarOKResponse = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <ns2:consultarFacturaResponse xmlns:ns2="https://webservice.face.gob.es">
      <return>
        <resultado>
          <codigo>0</codigo>
          <descripcion>Correcto</descripcion>
        </resultado>
        <factura>
          <numeroRegistro>202401020304REG</numeroRegistro>
          <tramitacion>
            <codigo>2400</codigo>
            <motivo>Registrada en RCF</motivo>
          </tramitacion>
        </factura>
      </return>
    </ns2:consultarFacturaResponse>
  </soap:Body>
</soap:Envelope>`

const faultResponse = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <soap:Fault>
      <faultcode>soap:Server</faultcode>
      <faultstring>Error interno del servidor</faultstring>
    </soap:Fault>
  </soap:Body>
</soap:Envelope>`

// ── endpointFor ───────────────────────────────────────────────────────────────

func TestEndpointFor(t *testing.T) {
	url, err := endpointFor(EnvTest)
	require.NoError(t, err)
	assert.Equal(t, soapURLTest, url)

	url, err = endpointFor(EnvProd)
	require.NoError(t, err)
	assert.Equal(t, soapURLProd, url)

	// dev nunca llega al transporte: la pasarela lo rechaza explícitamente.
	_, err = endpointFor(EnvDev)
	assert.Error(t, err)

	_, err = endpointFor("staging")
	assert.Error(t, err)
}

// ── parseResponse ─────────────────────────────────────────────────────────────

func TestParseResponse_EnviarFactura(t *testing.T) {
	ret, err := parseResponse([]byte(enviarOKResponse))
	require.NoError(t, err)
	assert.Equal(t, "0", ret.Resultado.Codigo)
	require.NotNil(t, ret.Factura)
	assert.Equal(t, "202401020304REG", ret.Factura.NumeroRegistro)
}

func TestParseResponse_ConsultarFactura(t *testing.T) {
	ret, err := parseResponse([]byte(consultarOKResponse))
	require.NoError(t, err)
	require.NotNil(t, ret.Factura)
	assert.Equal(t, "2400", ret.Factura.Tramitacion.Codigo)
	assert.Equal(t, "Registrada en RCF", ret.Factura.Tramitacion.Motivo)
}

func TestParseResponse_Fault(t *testing.T) {
	_, err := parseResponse([]byte(faultResponse))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SOAP Fault")
	assert.Contains(t, err.Error(), "Error interno del servidor")
}

func TestParseResponse_CuerpoInesperado(t *testing.T) {
	_, err := parseResponse([]byte(`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body/></soap:Envelope>`))
	assert.Error(t, err)

	_, err = parseResponse([]byte("no es xml"))
	assert.Error(t, err)
}

// ── operaciones end-to-end con transporte inyectado ───────────────────────────

func TestSubmitInvoice_EnviaBase64YAcepta(t *testing.T) {
	var captured capturedRequest
	c := clientReturning(t, enviarOKResponse, &captured)

	signed := []byte("<fe:Facturae/>")
	resp, err := c.SubmitInvoice(context.Background(), signed, "B12345674-F-2024-001.xsig", EnvTest)
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.Equal(t, "202401020304REG", resp.RegistrationNumber)

	// La petición lleva la acción SOAP y el fichero codificado en Base64.
	assert.Equal(t, soapURLTest, captured.URL)
	assert.Equal(t, actionBase+"enviarFactura", captured.SOAPAction)
	assert.Contains(t, captured.Body, base64.StdEncoding.EncodeToString(signed))
	assert.Contains(t, captured.Body, "B12345674-F-2024-001.xsig")
}

func TestSubmitInvoice_Rechazada(t *testing.T) {
	rejected := strings.Replace(enviarOKResponse, "<codigo>0</codigo>", "<codigo>503</codigo>", 1)
	c := clientReturning(t, rejected, nil)

	resp, err := c.SubmitInvoice(context.Background(), []byte("<x/>"), "f.xsig", EnvTest)
	require.NoError(t, err, "un rechazo funcional no es un error de transporte")
	assert.False(t, resp.Accepted)
	assert.Equal(t, "503", resp.Code)
}

func TestQueryInvoiceStatus_ExtraeTramitacion(t *testing.T) {
	c := clientReturning(t, consultarOKResponse, nil)

	resp, err := c.QueryInvoiceStatus(context.Background(), "202401020304REG", EnvTest)
	require.NoError(t, err)
	assert.Equal(t, "2400", resp.Code)
	assert.Equal(t, "Registrada en RCF", resp.Description)
}

func TestQueryInvoiceStatus_ConsultaRechazada(t *testing.T) {
	rejected := strings.Replace(consultarOKResponse, "<codigo>0</codigo>", "<codigo>404</codigo>", 1)
	c := clientReturning(t, rejected, nil)

	_, err := c.QueryInvoiceStatus(context.Background(), "NOEXISTE", EnvTest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consulta rechazada")
}

func TestCancelInvoice_Aceptada(t *testing.T) {
	anulada := strings.Replace(
		strings.Replace(enviarOKResponse, "enviarFacturaResponse", "anularFacturaResponse", 2),
		"<descripcion>Correcto</descripcion>", "<descripcion>Anulación solicitada</descripcion>", 1)
	var captured capturedRequest
	c := clientReturning(t, anulada, &captured)

	resp, err := c.CancelInvoice(context.Background(), "202401020304REG", "duplicate", EnvTest)
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.Contains(t, captured.Body, "<motivo>duplicate</motivo>")
	assert.Contains(t, captured.Body, "<numeroRegistro>202401020304REG</numeroRegistro>")
}

func TestCall_EntornoDesconocido(t *testing.T) {
	c := NewSOAPClient()
	_, err := c.SubmitInvoice(context.Background(), []byte("<x/>"), "f.xsig", "dev")
	assert.Error(t, err)
}
