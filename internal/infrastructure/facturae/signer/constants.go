// Constantes para firma XAdES-EPES de documentos FacturaE.

package signer

// Política de firma FacturaE (obligatoria para XAdES-EPES). Los tres valores
// identifican la política oficial y se reproducen literalmente: nunca se
// recalculan en tiempo de ejecución.
const (
	SignaturePolicyURL = "http://www.facturae.es/politica_de_firma_formato_facturae/politica_de_firma_formato_facturae_v3_1.pdf"

	// SigPolicyHashDigest es el SHA-1 del PDF de la política (Base64).
	SigPolicyHashDigest = "Ohixl6upD6av8N7pEvDABhEL6hM="

	// AlgSHA1 es el algoritmo del hash de la política.
	AlgSHA1 = "http://www.w3.org/2000/09/xmldsig#sha1"
)

// Namespaces y algoritmos XMLDSig / XAdES.
const (
	NamespaceDS    = "http://www.w3.org/2000/09/xmldsig#"
	NamespaceXAdES = "http://uri.etsi.org/01903/v1.3.2#"

	AlgC14N            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgRSASHA256       = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgSHA256          = "http://www.w3.org/2001/04/xmlenc#sha256"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"

	// TypeSignedProperties marca la Reference a las propiedades firmadas XAdES.
	TypeSignedProperties = "http://uri.etsi.org/01903#SignedProperties"
)

// Umbral de aviso de caducidad próxima del certificado.
const ExpiryWarningDays = 30
