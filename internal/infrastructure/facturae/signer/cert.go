// Carga y evaluación del certificado de firma desde su contenedor
// PKCS#12 (.p12/.pfx) o par PEM almacenado en el registro del tenant.

package signer

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/crypto/pkcs12"

	"github.com/dmorenov/Gesfactur-api/internal/domain/entity"
)

// LoadKeyPair materializa el certificado y la llave privada del registro.
func LoadKeyPair(cert *entity.Certificate) (tls.Certificate, error) {
	switch cert.Format {
	case entity.CertFormatP12:
		return loadFromP12(cert.Data, cert.Password)
	case entity.CertFormatPEM:
		return loadFromPEM(cert.Data, cert.KeyData)
	default:
		return tls.Certificate{}, fmt.Errorf("signer: formato de certificado desconocido %q", cert.Format)
	}
}

// loadFromP12 decodifica un contenedor .p12/.pfx. El password puede ser vacío
// si el contenedor no está protegido.
func loadFromP12(data []byte, password string) (tls.Certificate, error) {
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("signer: decodificar p12: %w", err)
	}
	// pkcs12.Decode devuelve un solo certificado; para FacturaE basta la hoja.
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  priv,
		Leaf:        cert,
	}, nil
}

// loadFromPEM carga certificado y llave desde bloques PEM separados o combinados.
func loadFromPEM(certPEM, keyPEM []byte) (tls.Certificate, error) {
	if len(keyPEM) == 0 {
		keyPEM = certPEM
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("signer: cargar PEM: %w", err)
	}
	if cert.Leaf == nil && len(cert.Certificate) > 0 {
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			cert.Leaf = leaf
		}
	}
	return cert, nil
}

// Validity evalúa la vigencia temporal del certificado con límites inclusivos
// en ambos extremos. daysRemaining es el techo de (validUntil − now) en días.
func Validity(cert *entity.Certificate, now time.Time) (isValid bool, daysRemaining int) {
	if now.Before(cert.ValidFrom) || now.After(cert.ValidUntil) {
		isValid = false
	} else {
		isValid = true
	}
	remaining := cert.ValidUntil.Sub(now)
	daysRemaining = int(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) > 0 {
		daysRemaining++
	}
	return isValid, daysRemaining
}

// CertDigestAndIssuerSerial devuelve el digest SHA-256 del certificado
// (Base64), el nombre del emisor y el serial decimal para XAdES.
func CertDigestAndIssuerSerial(cert *x509.Certificate) (digestB64, issuerName, serial string) {
	h := sha256.Sum256(cert.Raw)
	digestB64 = base64.StdEncoding.EncodeToString(h[:])
	issuerName = cert.Issuer.String()
	serial = cert.SerialNumber.String()
	return digestB64, issuerName, serial
}
