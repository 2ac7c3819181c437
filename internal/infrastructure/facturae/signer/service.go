// Servicio de firma digital XAdES-EPES para documentos FacturaE.
// Inserta el nodo ds:Signature justo antes del cierre de fe:Facturae.

package signer

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/ucarion/c14n"

	"github.com/dmorenov/Gesfactur-api/internal/domain"
	"github.com/dmorenov/Gesfactur-api/internal/domain/entity"
	"github.com/dmorenov/Gesfactur-api/internal/domain/repository"
)

const closingRootTag = "</fe:Facturae>"

// Service implementa la firma XAdES-EPES sobre el XML generado por el builder.
type Service struct {
	certRepo repository.CertificateRepository
}

// NewService construye el motor de firma con su repositorio de certificados.
func NewService(certRepo repository.CertificateRepository) *Service {
	return &Service{certRepo: certRepo}
}

// SignResult es el resultado uniforme de Sign.
type SignResult struct {
	OK          bool
	SignedXML   []byte
	Signer      string
	SigningTime time.Time
	Warnings    []string
	Errors      []string
	Kind        domain.Kind // clase del fallo cuando OK es false
}

// VerifyResult es el resultado de la comprobación estructural de un XML firmado.
type VerifyResult struct {
	Valid       bool
	Signer      string
	SigningTime time.Time
	Errors      []string
}

// Sign carga el certificado, valida su vigencia y ensambla la firma
// XAdES-EPES: digest del documento, SignedProperties con la política oficial,
// digest de SignedProperties y de KeyInfo, SignedInfo con las tres
// referencias y firma RSA-SHA256 real sobre el SignedInfo canonicalizado.
// El bloque resultante es inmutable: cualquier cambio posterior al contenido
// firmado invalida todos los digests.
func (s *Service) Sign(ctx context.Context, xmlBytes []byte, certificateID string) *SignResult {
	if len(xmlBytes) == 0 {
		return &SignResult{Errors: []string{"XML vacío"}, Kind: domain.KindValidation}
	}

	certRecord, err := s.certRepo.FindByID(ctx, certificateID)
	if err != nil {
		return &SignResult{Errors: []string{"consultar certificado: " + err.Error()}, Kind: domain.KindIntegration}
	}
	if certRecord == nil {
		return &SignResult{Errors: []string{"certificado no encontrado: " + certificateID}, Kind: domain.KindNotFound}
	}

	res := &SignResult{}
	now := time.Now()
	if certRecord.Status != entity.CertStatusActive {
		return &SignResult{Errors: []string{"el certificado no está activo"}, Kind: domain.KindCrypto}
	}
	valid, daysRemaining := Validity(certRecord, now)
	if !valid {
		return &SignResult{Errors: []string{"el certificado está fuera de su periodo de validez"}, Kind: domain.KindCrypto}
	}
	if daysRemaining < ExpiryWarningDays {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("el certificado caduca en %d días", daysRemaining))
	}

	keyPair, err := LoadKeyPair(certRecord)
	if err != nil {
		return &SignResult{Errors: []string{err.Error()}, Kind: domain.KindCrypto}
	}
	priv, ok := keyPair.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return &SignResult{Errors: []string{"el certificado debe incluir llave privada RSA"}, Kind: domain.KindCrypto}
	}
	x509Cert := keyPair.Leaf
	if x509Cert == nil {
		x509Cert, err = x509.ParseCertificate(keyPair.Certificate[0])
		if err != nil {
			return &SignResult{Errors: []string{"parsear certificado: " + err.Error()}, Kind: domain.KindCrypto}
		}
	}

	sigID := "Signature-" + uuid.New().String()

	// 1) Digest del documento sin firma (semántica enveloped: el documento
	//    completo menos el futuro nodo Signature).
	docDigestB64 := digestB64(canonicalOrRaw(xmlBytes))

	// 2) SignedProperties: hora de firma, digest del certificado, emisor y
	//    serial, y la política de firma oficial (valores literales).
	signingTime := now.UTC()
	certDigestB64, issuerName, serial := CertDigestAndIssuerSerial(x509Cert)
	signedPropsXML := buildSignedProperties(sigID, signingTime, certDigestB64, issuerName, serial)

	// 3) Digest de SignedProperties sobre su forma canónica.
	signedPropsDigestB64 := digestB64(canonicalOrRaw([]byte(signedPropsXML)))

	// 4) KeyInfo con el certificado, y su digest.
	certB64 := base64.StdEncoding.EncodeToString(x509Cert.Raw)
	keyInfoXML := buildKeyInfo(sigID, certB64)
	keyInfoDigestB64 := digestB64(canonicalOrRaw([]byte(keyInfoXML)))

	// 5) SignedInfo con las tres referencias.
	signedInfoXML := buildSignedInfo(sigID, docDigestB64, signedPropsDigestB64, keyInfoDigestB64)

	// 6) Firma RSA-SHA256 sobre el SignedInfo canonicalizado.
	signHash := sha256.Sum256(canonicalOrRaw([]byte(signedInfoXML)))
	signatureValue, err := rsa.SignPKCS1v15(nil, priv, crypto.SHA256, signHash[:])
	if err != nil {
		return &SignResult{Errors: []string{"firmar SignedInfo: " + err.Error()}, Kind: domain.KindCrypto}
	}
	signatureValueB64 := base64.StdEncoding.EncodeToString(signatureValue)

	signatureXML := assembleSignature(sigID, signedInfoXML, signatureValueB64, keyInfoXML, signedPropsXML)

	signedXML, err := injectSignature(xmlBytes, signatureXML)
	if err != nil {
		return &SignResult{Errors: []string{err.Error()}, Kind: domain.KindValidation}
	}

	res.OK = true
	res.SignedXML = signedXML
	res.Signer = x509Cert.Subject.CommonName
	res.SigningTime = signingTime
	return res
}

// Verify hace una comprobación estructural del XML firmado: presencia de los
// sub-elementos de la firma y extracción de firmante y hora. No verifica
// criptográficamente la firma.
func (s *Service) Verify(signedXML []byte) *VerifyResult {
	res := &VerifyResult{}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signedXML); err != nil {
		res.Errors = append(res.Errors, "XML mal formado: "+err.Error())
		return res
	}
	sig := doc.FindElement("//Signature")
	if sig == nil {
		res.Errors = append(res.Errors, "el documento no contiene ds:Signature")
		return res
	}
	for _, required := range []string{"SignedInfo", "SignatureValue", "KeyInfo"} {
		if sig.FindElement(required) == nil {
			res.Errors = append(res.Errors, "falta el elemento "+required+" en la firma")
		}
	}
	if sig.FindElement("//SignedProperties") == nil {
		res.Errors = append(res.Errors, "falta el bloque SignedProperties (XAdES)")
	}

	if st := sig.FindElement("//SigningTime"); st != nil {
		if parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(st.Text())); err == nil {
			res.SigningTime = parsed
		}
	}
	if certEl := sig.FindElement("//X509Certificate"); certEl != nil {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(certEl.Text()))
		if err == nil {
			if parsed, err := x509.ParseCertificate(raw); err == nil {
				res.Signer = parsed.Subject.CommonName
			}
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// ── construcción de bloques ───────────────────────────────────────────────────

func digestB64(data []byte) string {
	h := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(h[:])
}

// canonicalOrRaw canonicaliza (C14N inclusivo) y cae a los bytes originales si
// el fragmento no es canonicalizable.
func canonicalOrRaw(data []byte) []byte {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	canonical, err := c14n.Canonicalize(dec)
	if err != nil {
		return data
	}
	return canonical
}

func buildSignedInfo(sigID, docDigestB64, signedPropsDigestB64, keyInfoDigestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:SignedInfo xmlns:ds="` + NamespaceDS + `">`)
	sb.WriteString(`<ds:CanonicalizationMethod Algorithm="` + AlgC14N + `"/>`)
	sb.WriteString(`<ds:SignatureMethod Algorithm="` + AlgRSASHA256 + `"/>`)
	// Referencia 1: el documento completo (transformada enveloped).
	sb.WriteString(`<ds:Reference Id="` + sigID + `-Reference-Document" URI="">`)
	sb.WriteString(`<ds:Transforms><ds:Transform Algorithm="` + TransformEnveloped + `"/></ds:Transforms>`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + docDigestB64 + `</ds:DigestValue>`)
	sb.WriteString(`</ds:Reference>`)
	// Referencia 2: las propiedades firmadas XAdES.
	sb.WriteString(`<ds:Reference Type="` + TypeSignedProperties + `" URI="#` + sigID + `-SignedProperties">`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + signedPropsDigestB64 + `</ds:DigestValue>`)
	sb.WriteString(`</ds:Reference>`)
	// Referencia 3: el KeyInfo.
	sb.WriteString(`<ds:Reference URI="#` + sigID + `-KeyInfo">`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + keyInfoDigestB64 + `</ds:DigestValue>`)
	sb.WriteString(`</ds:Reference>`)
	sb.WriteString(`</ds:SignedInfo>`)
	return sb.String()
}

// buildSignedProperties genera el bloque XAdES con sus namespaces declarados,
// de modo que la forma canónica digerida coincida byte a byte con la embebida
// en la firma final.
func buildSignedProperties(sigID string, signingTime time.Time, certDigestB64, issuerName, serial string) string {
	var sb strings.Builder
	sb.WriteString(`<xades:SignedProperties xmlns:ds="` + NamespaceDS + `" xmlns:xades="` + NamespaceXAdES + `" Id="` + sigID + `-SignedProperties">`)
	sb.WriteString(`<xades:SignedSignatureProperties>`)
	sb.WriteString(`<xades:SigningTime>` + signingTime.Format(time.RFC3339) + `</xades:SigningTime>`)
	sb.WriteString(`<xades:SigningCertificate><xades:Cert>`)
	sb.WriteString(`<xades:CertDigest><ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + certDigestB64 + `</ds:DigestValue></xades:CertDigest>`)
	sb.WriteString(`<xades:IssuerSerial><ds:X509IssuerName>` + escapeXML(issuerName) + `</ds:X509IssuerName>`)
	sb.WriteString(`<ds:X509SerialNumber>` + serial + `</ds:X509SerialNumber></xades:IssuerSerial>`)
	sb.WriteString(`</xades:Cert></xades:SigningCertificate>`)
	// Política de firma FacturaE (XAdES-EPES): identificador y hash literales.
	sb.WriteString(`<xades:SignaturePolicyIdentifier><xades:SignaturePolicyId>`)
	sb.WriteString(`<xades:SigPolicyId><xades:Identifier>` + SignaturePolicyURL + `</xades:Identifier></xades:SigPolicyId>`)
	sb.WriteString(`<xades:SigPolicyHash><ds:DigestMethod Algorithm="` + AlgSHA1 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + SigPolicyHashDigest + `</ds:DigestValue></xades:SigPolicyHash>`)
	sb.WriteString(`</xades:SignaturePolicyId></xades:SignaturePolicyIdentifier>`)
	sb.WriteString(`</xades:SignedSignatureProperties>`)
	sb.WriteString(`</xades:SignedProperties>`)
	return sb.String()
}

func buildKeyInfo(sigID, certB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:KeyInfo xmlns:ds="` + NamespaceDS + `" Id="` + sigID + `-KeyInfo">`)
	sb.WriteString(`<ds:X509Data><ds:X509Certificate>` + certB64 + `</ds:X509Certificate></ds:X509Data>`)
	sb.WriteString(`</ds:KeyInfo>`)
	return sb.String()
}

func assembleSignature(sigID, signedInfoXML, signatureValueB64, keyInfoXML, signedPropsXML string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:Signature xmlns:ds="` + NamespaceDS + `" xmlns:xades="` + NamespaceXAdES + `" Id="` + sigID + `">`)
	sb.WriteString(signedInfoXML)
	sb.WriteString(`<ds:SignatureValue Id="` + sigID + `-SignatureValue">` + signatureValueB64 + `</ds:SignatureValue>`)
	sb.WriteString(keyInfoXML)
	sb.WriteString(`<ds:Object><xades:QualifyingProperties Target="#` + sigID + `">`)
	sb.WriteString(signedPropsXML)
	sb.WriteString(`</xades:QualifyingProperties></ds:Object>`)
	sb.WriteString(`</ds:Signature>`)
	return sb.String()
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

// injectSignature inserta el bloque de firma justo antes del cierre del
// elemento raíz, a nivel de texto: los bytes previos del documento se
// conservan intactos (cualquier re-serialización invalidaría el digest).
func injectSignature(xmlBytes []byte, signatureXML string) ([]byte, error) {
	idx := bytes.LastIndex(xmlBytes, []byte(closingRootTag))
	if idx < 0 {
		return nil, fmt.Errorf("no se encontró el cierre %s en el documento", closingRootTag)
	}
	var out bytes.Buffer
	out.Grow(len(xmlBytes) + len(signatureXML))
	out.Write(xmlBytes[:idx])
	out.WriteString(signatureXML)
	out.Write(xmlBytes[idx:])
	return out.Bytes(), nil
}
