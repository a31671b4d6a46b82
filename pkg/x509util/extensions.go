package x509util

import (
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"net"
	"strings"

	"github.com/remiblancher/eassl/pkg/pki"
)

// Extension is a certificate extension with its value rendered the way
// OpenSSL prints it, e.g. "CA:FALSE" or "DNS:bar.com, DNS:foo.com".
type Extension struct {
	OID      asn1.ObjectIdentifier
	Name     string
	Critical bool
	Value    string
}

func (e Extension) String() string {
	if e.Critical {
		return fmt.Sprintf("%s (critical): %s", e.Name, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Value)
}

type basicConstraints struct {
	IsCA       bool `asn1:"optional"`
	MaxPathLen int  `asn1:"optional,default:-1"`
}

type authKeyID struct {
	KeyID []byte `asn1:"optional,tag:0"`
}

// Key usage bit strings. Bit 0 is the most significant bit of the first byte.
var (
	keyUsageLeaf = asn1.BitString{Bytes: []byte{0xA0}, BitLength: 3} // digitalSignature, keyEncipherment
	keyUsageCA   = asn1.BitString{Bytes: []byte{0x06}, BitLength: 7} // keyCertSign, cRLSign
)

// SubjectKeyID computes a key identifier from the public key: the first
// 160 bits of SHA-256 over the PKIX encoding.
func SubjectKeyID(pub crypto.PublicKey) ([]byte, error) {
	pubBytes, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	hash := sha256.Sum256(pubBytes)
	return hash[:20], nil
}

// policyExtensions returns the extensions for role in attach order:
// basicConstraints, keyUsage, extendedKeyUsage (leaf roles only),
// subjectKeyIdentifier, authorityKeyIdentifier (when issuerKeyID is set),
// subjectAltName (when altNames is non-empty).
func policyExtensions(role Role, pub crypto.PublicKey, issuerKeyID []byte, altNames []string) ([]pkix.Extension, error) {
	var exts []pkix.Extension
	add := func(oid asn1.ObjectIdentifier, critical bool, v interface{}) error {
		der, err := asn1.Marshal(v)
		if err != nil {
			return pki.NewError("encode "+ExtensionName(oid), pki.KindCrypto, err)
		}
		exts = append(exts, pkix.Extension{Id: oid, Critical: critical, Value: der})
		return nil
	}

	var err error
	switch role {
	case RoleCA:
		err = add(OIDExtBasicConstraints, true, basicConstraints{IsCA: true, MaxPathLen: -1})
		if err == nil {
			err = add(OIDExtKeyUsage, true, keyUsageCA)
		}
	case RoleServer:
		err = add(OIDExtBasicConstraints, false, basicConstraints{MaxPathLen: -1})
		if err == nil {
			err = add(OIDExtKeyUsage, true, keyUsageLeaf)
		}
		if err == nil {
			err = add(OIDExtExtKeyUsage, false, []asn1.ObjectIdentifier{OIDExtKeyUsageServerAuth})
		}
	case RoleClient:
		err = add(OIDExtBasicConstraints, false, basicConstraints{MaxPathLen: -1})
		if err == nil {
			err = add(OIDExtKeyUsage, true, keyUsageLeaf)
		}
		if err == nil {
			err = add(OIDExtExtKeyUsage, false, []asn1.ObjectIdentifier{
				OIDExtKeyUsageClientAuth, OIDExtKeyUsageEmailProtection,
			})
		}
	default:
		return nil, pki.NewError("extensions", pki.KindInvalidInput, fmt.Errorf("unknown role %q", role))
	}
	if err != nil {
		return nil, err
	}

	ski, err := SubjectKeyID(pub)
	if err != nil {
		return nil, pki.NewError("subject key id", pki.KindCrypto, err)
	}
	if err := add(OIDExtSubjectKeyId, false, ski); err != nil {
		return nil, err
	}

	if len(issuerKeyID) > 0 {
		if err := add(OIDExtAuthorityKeyId, false, authKeyID{KeyID: issuerKeyID}); err != nil {
			return nil, err
		}
	}

	if len(altNames) > 0 {
		raw := make([]asn1.RawValue, 0, len(altNames))
		for _, name := range altNames {
			raw = append(raw, asn1.RawValue{Tag: 2, Class: asn1.ClassContextSpecific, Bytes: []byte(name)})
		}
		if err := add(OIDExtSubjectAltName, false, raw); err != nil {
			return nil, err
		}
	}

	return exts, nil
}

// RenderExtension decodes ext into its display form. Values that cannot be
// decoded are shown as hex.
func RenderExtension(ext pkix.Extension) Extension {
	out := Extension{
		OID:      ext.Id,
		Name:     ExtensionName(ext.Id),
		Critical: ext.Critical,
	}
	value, err := renderValue(ext)
	if err != nil {
		value = hexColon(ext.Value)
	}
	out.Value = value
	return out
}

func renderValue(ext pkix.Extension) (string, error) {
	switch {
	case ext.Id.Equal(OIDExtBasicConstraints):
		var bc basicConstraints
		bc.MaxPathLen = -1
		if _, err := asn1.Unmarshal(ext.Value, &bc); err != nil {
			return "", err
		}
		s := "CA:FALSE"
		if bc.IsCA {
			s = "CA:TRUE"
		}
		if bc.MaxPathLen >= 0 {
			s += fmt.Sprintf(", pathlen:%d", bc.MaxPathLen)
		}
		return s, nil

	case ext.Id.Equal(OIDExtKeyUsage):
		var bits asn1.BitString
		if _, err := asn1.Unmarshal(ext.Value, &bits); err != nil {
			return "", err
		}
		var names []string
		for i, name := range keyUsageNames {
			if bits.At(i) == 1 {
				names = append(names, name)
			}
		}
		return strings.Join(names, ", "), nil

	case ext.Id.Equal(OIDExtExtKeyUsage):
		var oids []asn1.ObjectIdentifier
		if _, err := asn1.Unmarshal(ext.Value, &oids); err != nil {
			return "", err
		}
		names := make([]string, 0, len(oids))
		for _, oid := range oids {
			names = append(names, extKeyUsageName(oid))
		}
		return strings.Join(names, ", "), nil

	case ext.Id.Equal(OIDExtSubjectKeyId):
		var id []byte
		if _, err := asn1.Unmarshal(ext.Value, &id); err != nil {
			return "", err
		}
		return hexColon(id), nil

	case ext.Id.Equal(OIDExtAuthorityKeyId):
		var aki authKeyID
		if _, err := asn1.Unmarshal(ext.Value, &aki); err != nil {
			return "", err
		}
		return "keyid:" + hexColon(aki.KeyID), nil

	case ext.Id.Equal(OIDExtSubjectAltName):
		var raw []asn1.RawValue
		if _, err := asn1.Unmarshal(ext.Value, &raw); err != nil {
			return "", err
		}
		names := make([]string, 0, len(raw))
		for _, v := range raw {
			names = append(names, renderGeneralName(v))
		}
		return strings.Join(names, ", "), nil

	case ext.Id.Equal(OIDExtNetscapeComment):
		var comment string
		if _, err := asn1.UnmarshalWithParams(ext.Value, &comment, "ia5"); err != nil {
			return "", err
		}
		return comment, nil
	}
	return "", fmt.Errorf("unsupported extension %s", ext.Id)
}

func renderGeneralName(v asn1.RawValue) string {
	switch v.Tag {
	case 1:
		return "email:" + string(v.Bytes)
	case 2:
		return "DNS:" + string(v.Bytes)
	case 6:
		return "URI:" + string(v.Bytes)
	case 7:
		return "IP Address:" + net.IP(v.Bytes).String()
	default:
		return fmt.Sprintf("othername:<%d>", v.Tag)
	}
}

// hexColon formats b as uppercase hex pairs separated by colons.
func hexColon(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02X", c)
	}
	return strings.Join(parts, ":")
}
