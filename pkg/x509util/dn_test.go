package x509util

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remiblancher/eassl/pkg/pki"
)

func vendaName(cn string) DistinguishedName {
	return DistinguishedName{
		Country:            "GB",
		State:              "London",
		Locality:           "London",
		Organization:       "Venda Ltd",
		OrganizationalUnit: "Development",
		CommonName:         cn,
		Email:              "dev@venda.com",
	}
}

func TestU_DistinguishedName_String(t *testing.T) {
	tests := []struct {
		name     string
		dn       DistinguishedName
		expected string
	}{
		{
			name:     "[Unit] String: all fields",
			dn:       vendaName("foo.bar.com"),
			expected: "/C=GB/ST=London/L=London/O=Venda Ltd/OU=Development/CN=foo.bar.com/emailAddress=dev@venda.com",
		},
		{
			name:     "[Unit] String: common name only",
			dn:       DistinguishedName{CommonName: "CA"},
			expected: "/CN=CA",
		},
		{
			name:     "[Unit] String: fields set out of order render in fixed order",
			dn:       DistinguishedName{Email: "a@b.c", CommonName: "x", Country: "US"},
			expected: "/C=US/CN=x/emailAddress=a@b.c",
		},
		{
			name:     "[Unit] String: gaps are skipped",
			dn:       DistinguishedName{Country: "US", Organization: "Venda", OrganizationalUnit: "auto-CA", CommonName: "CA"},
			expected: "/C=US/O=Venda/OU=auto-CA/CN=CA",
		},
		{
			name:     "[Unit] String: empty",
			dn:       DistinguishedName{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.dn.String())
		})
	}
}

func TestU_DistinguishedName_RDNSequenceOrder(t *testing.T) {
	dn := vendaName("foo.bar.com")
	seq := dn.RDNSequence()
	require.Len(t, seq, 7)

	expected := []asn1.ObjectIdentifier{
		OIDCountry, OIDState, OIDLocality, OIDOrganization,
		OIDOrganizationalUnit, OIDCommonName, OIDEmailAddress,
	}
	for i, oid := range expected {
		require.Len(t, seq[i], 1)
		assert.True(t, seq[i][0].Type.Equal(oid), "position %d", i)
	}
	assert.Empty(t, DistinguishedName{}.RDNSequence())
}

func TestU_DistinguishedName_DERRoundTrip(t *testing.T) {
	dn := vendaName("foo.bar.com")
	der, err := dn.DER()
	require.NoError(t, err)

	var seq pkix.RDNSequence
	_, err = asn1.Unmarshal(der, &seq)
	require.NoError(t, err)

	var name pkix.Name
	name.FillFromRDNSequence(&seq)
	assert.Equal(t, dn, NameFromPKIX(name))
}

func TestU_NameFromPKIX_FirstWins(t *testing.T) {
	name := pkix.Name{Names: []pkix.AttributeTypeAndValue{
		{Type: OIDOrganizationalUnit, Value: "first"},
		{Type: OIDOrganizationalUnit, Value: "second"},
		{Type: asn1.ObjectIdentifier{2, 5, 4, 5}, Value: "serial-ignored"},
	}}
	assert.Equal(t, DistinguishedName{OrganizationalUnit: "first"}, NameFromPKIX(name))
}

func TestU_ParseName(t *testing.T) {
	dn, err := ParseName("/C=GB/ST=London/L=London/O=Venda Ltd/OU=Development/CN=CA/emailAddress=dev@venda.com")
	require.NoError(t, err)
	assert.Equal(t, vendaName("CA"), dn)

	dn, err = ParseName("/CN=x/C=US")
	require.NoError(t, err)
	assert.Equal(t, "/C=US/CN=x", dn.String())

	dn, err = ParseName("")
	require.NoError(t, err)
	assert.True(t, dn.IsZero())

	for _, bad := range []string{"CN=x", "/CN", "/CN=", "/XX=y"} {
		_, err := ParseName(bad)
		assert.True(t, pki.IsInvalidInput(err), bad)
	}
}
