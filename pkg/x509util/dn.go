package x509util

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"

	"github.com/remiblancher/eassl/pkg/pki"
)

// DistinguishedName is the subject or issuer identity of a request or
// certificate. Empty fields are omitted from both the rendered string and
// the DER encoding.
type DistinguishedName struct {
	Country            string `yaml:"country,omitempty"`
	State              string `yaml:"state,omitempty"`
	Locality           string `yaml:"locality,omitempty"`
	Organization       string `yaml:"organization,omitempty"`
	OrganizationalUnit string `yaml:"organizational_unit,omitempty"`
	CommonName         string `yaml:"common_name,omitempty"`
	Email              string `yaml:"email,omitempty" validate:"omitempty,email"`
}

type dnAttr struct {
	short string
	oid   asn1.ObjectIdentifier
	value string
}

// attrs lists the fields in rendering order: C, ST, L, O, OU, CN, emailAddress.
func (n DistinguishedName) attrs() []dnAttr {
	return []dnAttr{
		{"C", OIDCountry, n.Country},
		{"ST", OIDState, n.State},
		{"L", OIDLocality, n.Locality},
		{"O", OIDOrganization, n.Organization},
		{"OU", OIDOrganizationalUnit, n.OrganizationalUnit},
		{"CN", OIDCommonName, n.CommonName},
		{"emailAddress", OIDEmailAddress, n.Email},
	}
}

// String renders the name as /C=../ST=../CN=.. with absent fields skipped.
func (n DistinguishedName) String() string {
	var b strings.Builder
	for _, a := range n.attrs() {
		if a.value == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(a.short)
		b.WriteByte('=')
		b.WriteString(a.value)
	}
	return b.String()
}

// IsZero reports whether no field is set.
func (n DistinguishedName) IsZero() bool {
	return n == DistinguishedName{}
}

// RDNSequence returns the name as one single-valued RDN per present field,
// in rendering order.
func (n DistinguishedName) RDNSequence() pkix.RDNSequence {
	seq := pkix.RDNSequence{}
	for _, a := range n.attrs() {
		if a.value == "" {
			continue
		}
		var value interface{} = a.value
		if a.short == "emailAddress" {
			value = asn1.RawValue{Tag: asn1.TagIA5String, Bytes: []byte(a.value)}
		}
		seq = append(seq, []pkix.AttributeTypeAndValue{{Type: a.oid, Value: value}})
	}
	return seq
}

// DER returns the ASN.1 encoding used as RawSubject.
func (n DistinguishedName) DER() ([]byte, error) {
	der, err := asn1.Marshal(n.RDNSequence())
	if err != nil {
		return nil, pki.NewError("encode name", pki.KindFormat, err)
	}
	return der, nil
}

// NameFromPKIX extracts the supported attributes from a parsed name. When an
// attribute repeats, the first occurrence wins.
func NameFromPKIX(name pkix.Name) DistinguishedName {
	var dn DistinguishedName
	for _, atv := range name.Names {
		value, ok := atv.Value.(string)
		if !ok {
			continue
		}
		var field *string
		switch {
		case atv.Type.Equal(OIDCountry):
			field = &dn.Country
		case atv.Type.Equal(OIDState):
			field = &dn.State
		case atv.Type.Equal(OIDLocality):
			field = &dn.Locality
		case atv.Type.Equal(OIDOrganization):
			field = &dn.Organization
		case atv.Type.Equal(OIDOrganizationalUnit):
			field = &dn.OrganizationalUnit
		case atv.Type.Equal(OIDCommonName):
			field = &dn.CommonName
		case atv.Type.Equal(OIDEmailAddress):
			field = &dn.Email
		default:
			continue
		}
		if *field == "" {
			*field = value
		}
	}
	return dn
}

// ParseName parses the slash form produced by String, e.g.
// "/C=GB/O=Venda Ltd/CN=CA". Keys may appear in any order.
func ParseName(s string) (DistinguishedName, error) {
	var dn DistinguishedName
	s = strings.TrimSpace(s)
	if s == "" {
		return dn, nil
	}
	if !strings.HasPrefix(s, "/") {
		return dn, pki.NewError("parse name", pki.KindInvalidInput, fmt.Errorf("name %q must start with /", s))
	}

	for _, part := range strings.Split(s[1:], "/") {
		key, value, ok := strings.Cut(part, "=")
		if !ok || value == "" {
			return dn, pki.NewError("parse name", pki.KindInvalidInput, fmt.Errorf("malformed component %q", part))
		}
		switch key {
		case "C":
			dn.Country = value
		case "ST":
			dn.State = value
		case "L":
			dn.Locality = value
		case "O":
			dn.Organization = value
		case "OU":
			dn.OrganizationalUnit = value
		case "CN":
			dn.CommonName = value
		case "emailAddress", "email":
			dn.Email = value
		default:
			return dn, pki.NewError("parse name", pki.KindInvalidInput, fmt.Errorf("unknown attribute %q", key))
		}
	}
	return dn, nil
}
