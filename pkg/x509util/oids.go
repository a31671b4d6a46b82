// Package x509util builds and parses the X.509 artifacts of the toolkit:
// distinguished names, signing requests, certificates and their extensions.
package x509util

import (
	"encoding/asn1"
)

// Name attribute OIDs.
var (
	OIDCountry            = asn1.ObjectIdentifier{2, 5, 4, 6}
	OIDState              = asn1.ObjectIdentifier{2, 5, 4, 8}
	OIDLocality           = asn1.ObjectIdentifier{2, 5, 4, 7}
	OIDOrganization       = asn1.ObjectIdentifier{2, 5, 4, 10}
	OIDOrganizationalUnit = asn1.ObjectIdentifier{2, 5, 4, 11}
	OIDCommonName         = asn1.ObjectIdentifier{2, 5, 4, 3}

	// PKCS#9 emailAddress
	OIDEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}
)

// Standard X.509 extension OIDs.
var (
	// Basic Constraints extension
	OIDExtBasicConstraints = asn1.ObjectIdentifier{2, 5, 29, 19}

	// Key Usage extension
	OIDExtKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 15}

	// Extended Key Usage extension
	OIDExtExtKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 37}

	// Subject Key Identifier extension
	OIDExtSubjectKeyId = asn1.ObjectIdentifier{2, 5, 29, 14}

	// Authority Key Identifier extension
	OIDExtAuthorityKeyId = asn1.ObjectIdentifier{2, 5, 29, 35}

	// Subject Alternative Name extension
	OIDExtSubjectAltName = asn1.ObjectIdentifier{2, 5, 29, 17}

	// Netscape comment, found on certificates from older OpenSSL CAs
	OIDExtNetscapeComment = asn1.ObjectIdentifier{2, 16, 840, 1, 113730, 1, 13}
)

// Extended Key Usage OIDs.
var (
	OIDExtKeyUsageServerAuth      = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 1}
	OIDExtKeyUsageClientAuth      = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 2}
	OIDExtKeyUsageCodeSigning     = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 3}
	OIDExtKeyUsageEmailProtection = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 4}
	OIDExtKeyUsageTimeStamping    = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 8}
	OIDExtKeyUsageOCSPSigning     = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 9}
)

// Extension short names, as OpenSSL prints them.
const (
	ExtBasicConstraints       = "basicConstraints"
	ExtKeyUsage               = "keyUsage"
	ExtExtendedKeyUsage       = "extendedKeyUsage"
	ExtSubjectKeyIdentifier   = "subjectKeyIdentifier"
	ExtAuthorityKeyIdentifier = "authorityKeyIdentifier"
	ExtSubjectAltName         = "subjectAltName"
	ExtNetscapeComment        = "nsComment"
)

var extensionNames = []struct {
	oid  asn1.ObjectIdentifier
	name string
}{
	{OIDExtBasicConstraints, ExtBasicConstraints},
	{OIDExtKeyUsage, ExtKeyUsage},
	{OIDExtExtKeyUsage, ExtExtendedKeyUsage},
	{OIDExtSubjectKeyId, ExtSubjectKeyIdentifier},
	{OIDExtAuthorityKeyId, ExtAuthorityKeyIdentifier},
	{OIDExtSubjectAltName, ExtSubjectAltName},
	{OIDExtNetscapeComment, ExtNetscapeComment},
}

// ExtensionName returns the short name for oid, or its dotted form.
func ExtensionName(oid asn1.ObjectIdentifier) string {
	for _, e := range extensionNames {
		if e.oid.Equal(oid) {
			return e.name
		}
	}
	return oid.String()
}

var extKeyUsageNames = []struct {
	oid  asn1.ObjectIdentifier
	name string
}{
	{OIDExtKeyUsageServerAuth, "TLS Web Server Authentication"},
	{OIDExtKeyUsageClientAuth, "TLS Web Client Authentication"},
	{OIDExtKeyUsageCodeSigning, "Code Signing"},
	{OIDExtKeyUsageEmailProtection, "E-mail Protection"},
	{OIDExtKeyUsageTimeStamping, "Time Stamping"},
	{OIDExtKeyUsageOCSPSigning, "OCSP Signing"},
}

func extKeyUsageName(oid asn1.ObjectIdentifier) string {
	for _, e := range extKeyUsageNames {
		if e.oid.Equal(oid) {
			return e.name
		}
	}
	return oid.String()
}

// keyUsageNames is indexed by KeyUsage bit position.
var keyUsageNames = []string{
	"Digital Signature",
	"Non Repudiation",
	"Key Encipherment",
	"Data Encipherment",
	"Key Agreement",
	"Certificate Sign",
	"CRL Sign",
	"Encipher Only",
	"Decipher Only",
}
