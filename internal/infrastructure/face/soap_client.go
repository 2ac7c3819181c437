package face

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	soapURLTest = "https://se-face-webservice.redsara.es/facturasspp2"
	soapURLProd = "https://webservice.face.gob.es/facturasspp2"

	soapNS     = "http://schemas.xmlsoap.org/soap/envelope/"
	faceNS     = "https://webservice.face.gob.es"
	actionBase = "https://webservice.face.gob.es/"
)

// SOAPClient implementa Transport usando el WS SOAP de FACE.
// Usa net/http de la stdlib; no requiere librerías de terceros.
type SOAPClient struct {
	httpClient *http.Client
}

// NewSOAPClient construye el cliente con un timeout de red generoso (60 s):
// la pasarela puede tardar varios segundos en responder. No hay política de
// reintentos: ante timeout el llamador debe consultar el estado.
func NewSOAPClient() *SOAPClient {
	return &SOAPClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

var _ Transport = (*SOAPClient)(nil)

// ── Estructuras SOAP de petición ──────────────────────────────────────────────

type soapEnvelope struct {
	XMLName xml.Name   `xml:"soapenv:Envelope"`
	XmlnsS  string     `xml:"xmlns:soapenv,attr"`
	XmlnsW  string     `xml:"xmlns:web,attr"`
	Header  soapHeader `xml:"soapenv:Header"`
	Body    soapBody   `xml:"soapenv:Body"`
}

type soapHeader struct{}

type soapBody struct {
	Content interface{}
}

func (b soapBody) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "soapenv:Body"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.Encode(b.Content); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// enviarFacturaBody cuerpo de la operación enviarFactura.
type enviarFacturaBody struct {
	XMLName xml.Name `xml:"web:enviarFactura"`
	Factura struct {
		Fichero string `xml:"factura"` // XML firmado en Base64
		Nombre  string `xml:"nombre"`
		Mime    string `xml:"mime"`
	} `xml:"factura"`
}

// consultarFacturaBody cuerpo de la operación consultarFactura.
type consultarFacturaBody struct {
	XMLName        xml.Name `xml:"web:consultarFactura"`
	NumeroRegistro string   `xml:"numeroRegistro"`
}

// anularFacturaBody cuerpo de la operación anularFactura.
type anularFacturaBody struct {
	XMLName        xml.Name `xml:"web:anularFactura"`
	NumeroRegistro string   `xml:"numeroRegistro"`
	Motivo         string   `xml:"motivo"`
}

// ── Estructuras SOAP de respuesta ─────────────────────────────────────────────

type soapResponseEnvelope struct {
	Body soapResponseBody `xml:"Body"`
}

type soapResponseBody struct {
	EnviarResponse    *faceReturn `xml:"enviarFacturaResponse>return"`
	ConsultarResponse *faceReturn `xml:"consultarFacturaResponse>return"`
	AnularResponse    *faceReturn `xml:"anularFacturaResponse>return"`
	Fault             *soapFault  `xml:"Fault"`
}

type faceReturn struct {
	Resultado faceResultado `xml:"resultado"`
	Factura   *faceFactura  `xml:"factura"`
}

type faceResultado struct {
	Codigo      string `xml:"codigo"`
	Descripcion string `xml:"descripcion"`
}

type faceFactura struct {
	NumeroRegistro string `xml:"numeroRegistro"`
	Tramitacion    struct {
		Codigo string `xml:"codigo"`
		Motivo string `xml:"motivo"`
	} `xml:"tramitacion"`
}

type soapFault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
}

// ── Operaciones ───────────────────────────────────────────────────────────────

// SubmitInvoice presenta el documento firmado con la operación enviarFactura.
func (c *SOAPClient) SubmitInvoice(ctx context.Context, signedXML []byte, filename, env string) (*SubmitResponse, error) {
	body := &enviarFacturaBody{}
	body.Factura.Fichero = base64.StdEncoding.EncodeToString(signedXML)
	body.Factura.Nombre = filename
	body.Factura.Mime = "application/xml"

	ret, err := c.call(ctx, env, "enviarFactura", body)
	if err != nil {
		return nil, err
	}
	resp := &SubmitResponse{
		Code:        ret.Resultado.Codigo,
		Description: ret.Resultado.Descripcion,
		Accepted:    ret.Resultado.Codigo == "0",
	}
	if ret.Factura != nil {
		resp.RegistrationNumber = ret.Factura.NumeroRegistro
	}
	return resp, nil
}

// QueryInvoiceStatus consulta el estado de tramitación de una factura registrada.
func (c *SOAPClient) QueryInvoiceStatus(ctx context.Context, registrationNumber, env string) (*StatusResponse, error) {
	ret, err := c.call(ctx, env, "consultarFactura", &consultarFacturaBody{NumeroRegistro: registrationNumber})
	if err != nil {
		return nil, err
	}
	if ret.Resultado.Codigo != "0" {
		return nil, fmt.Errorf("face: consulta rechazada [%s]: %s", ret.Resultado.Codigo, ret.Resultado.Descripcion)
	}
	if ret.Factura == nil {
		return nil, fmt.Errorf("face: respuesta de consulta sin bloque factura")
	}
	return &StatusResponse{
		Code:        ret.Factura.Tramitacion.Codigo,
		Description: ret.Factura.Tramitacion.Motivo,
	}, nil
}

// CancelInvoice solicita la anulación de una factura registrada.
func (c *SOAPClient) CancelInvoice(ctx context.Context, registrationNumber, reason, env string) (*CancelResponse, error) {
	ret, err := c.call(ctx, env, "anularFactura", &anularFacturaBody{
		NumeroRegistro: registrationNumber,
		Motivo:         reason,
	})
	if err != nil {
		return nil, err
	}
	return &CancelResponse{
		Code:        ret.Resultado.Codigo,
		Description: ret.Resultado.Descripcion,
		Accepted:    ret.Resultado.Codigo == "0",
	}, nil
}

// ── transporte común ──────────────────────────────────────────────────────────

func endpointFor(env string) (string, error) {
	switch env {
	case EnvProd:
		return soapURLProd, nil
	case EnvTest:
		return soapURLTest, nil
	default:
		return "", fmt.Errorf("face: entorno desconocido %q (usar 'test' o 'prod')", env)
	}
}

// call serializa el envelope, ejecuta la llamada HTTP y desempaqueta el return.
func (c *SOAPClient) call(ctx context.Context, env, operation string, content interface{}) (*faceReturn, error) {
	soapURL, err := endpointFor(env)
	if err != nil {
		return nil, err
	}

	envelope := soapEnvelope{
		XmlnsS: soapNS,
		XmlnsW: faceNS,
		Body:   soapBody{Content: content},
	}
	payload, err := xml.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("face: serializar envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, soapURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("face: crear request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", actionBase+operation)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("face: timeout o cancelación: %w", ctx.Err())
		}
		return nil, fmt.Errorf("face: llamada HTTP fallida: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // max 1 MB
	if err != nil {
		return nil, fmt.Errorf("face: leer respuesta: %w", err)
	}

	return parseResponse(rawBody)
}

// parseResponse desempaqueta la respuesta SOAP y devuelve el return de la
// operación o el fault como error.
func parseResponse(rawBody []byte) (*faceReturn, error) {
	var envResp soapResponseEnvelope
	if err := xml.Unmarshal(rawBody, &envResp); err != nil {
		return nil, fmt.Errorf("face: no se pudo parsear la respuesta SOAP: %s", string(rawBody))
	}
	if envResp.Body.Fault != nil {
		return nil, fmt.Errorf("face: SOAP Fault [%s]: %s",
			envResp.Body.Fault.FaultCode, envResp.Body.Fault.FaultString)
	}
	for _, ret := range []*faceReturn{
		envResp.Body.EnviarResponse,
		envResp.Body.ConsultarResponse,
		envResp.Body.AnularResponse,
	} {
		if ret != nil {
			return ret, nil
		}
	}
	return nil, fmt.Errorf("face: respuesta SOAP vacía o inesperada: %s", string(rawBody))
}
