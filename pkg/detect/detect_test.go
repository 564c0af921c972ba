package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectValidCardNumber(t *testing.T) {
	d := New()

	tests := []struct {
		name    string
		content string
	}{
		{"plain", "card 4111111111111111 charged"},
		{"space grouped", "card 4111 1111 1111 1111 charged"},
		{"dash grouped", "card 4111-1111-1111-1111 charged"},
		{"amex 15 digits", "card 378282246310005 charged"},
		{"13 digits", "card 4222222222222 charged"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := d.Detect(tt.content, []Regulation{RegulationPCIDSS})
			require.Len(t, findings, 1)
			f := findings[0]
			assert.Equal(t, KindCardNumber, f.Kind)
			assert.Equal(t, RegulationPCIDSS, f.Regulation)
			assert.Equal(t, 1.0, f.Confidence)
		})
	}
}

func TestDetectRejectsLuhnFailure(t *testing.T) {
	d := New()
	// Matches the digit-grouping pattern but fails the checksum. Not an
	// error, simply no finding.
	findings := d.Detect("card 4111 1111 1111 1112", []Regulation{RegulationPCIDSS})
	assert.Empty(t, findings)
}

func TestDetectMaskedCardIsCompliant(t *testing.T) {
	d := New()

	tests := []struct {
		name    string
		content string
	}{
		{"star masked", "card **** **** **** 1111"},
		{"star masked dashes", "card ****-****-****-1111"},
		{"x masked", "card XXXX XXXX XXXX 1111"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := d.Detect(tt.content, nil)
			assert.Empty(t, findings)
		})
	}
}

func TestDetectUnmaskedBesideMasked(t *testing.T) {
	d := New()
	// Only the masked span is excluded; the unmasked card is still found.
	findings := d.Detect("old **** **** **** 9999 replaced by 4111 1111 1111 1111", []Regulation{RegulationPCIDSS})
	require.Len(t, findings, 1)
	assert.Equal(t, "************1111", findings[0].MaskedValue)
}

func TestDetectCardMaskedValueKeepsLastFour(t *testing.T) {
	d := New()
	findings := d.Detect("4111111111111111", []Regulation{RegulationPCIDSS})
	require.Len(t, findings, 1)
	assert.Equal(t, "************1111", findings[0].MaskedValue)
}

func TestDetectGDPRPatterns(t *testing.T) {
	d := New()
	content := "contact jane.doe@example.com or 555-867-5309 from 192.168.1.50"
	findings := d.Detect(content, []Regulation{RegulationGDPR})
	require.Len(t, findings, 3)

	byKind := map[Kind]Finding{}
	for _, f := range findings {
		byKind[f.Kind] = f
	}
	assert.Equal(t, "j*******@example.com", byKind[KindEmail].MaskedValue)
	assert.Equal(t, "***-***-5309", byKind[KindPhone].MaskedValue)
	assert.Equal(t, "192.*.*.*", byKind[KindIPAddress].MaskedValue)
}

func TestDetectCCPAPatterns(t *testing.T) {
	d := New()
	findings := d.Detect("SSN 123-45-6789 license D1234567", []Regulation{RegulationCCPA})
	require.Len(t, findings, 2)

	byKind := map[Kind]Finding{}
	for _, f := range findings {
		byKind[f.Kind] = f
	}
	assert.Equal(t, "***-**-6789", byKind[KindNationalID].MaskedValue)
	assert.Equal(t, "D*******", byKind[KindDriversLicense].MaskedValue)
}

func TestDetectSSNIsNotAPhoneNumber(t *testing.T) {
	d := New()
	findings := d.Detect("SSN 123-45-6789", []Regulation{RegulationGDPR})
	assert.Empty(t, findings)
}

func TestDetectMultiRegulationUnion(t *testing.T) {
	d := New()
	content := "card 4111 1111 1111 1111 belongs to jane@example.com, SSN 123-45-6789"
	findings := d.Detect(content, nil)

	regs := map[Regulation]bool{}
	for _, f := range findings {
		regs[f.Regulation] = true
	}
	assert.True(t, regs[RegulationPCIDSS])
	assert.True(t, regs[RegulationGDPR])
	assert.True(t, regs[RegulationCCPA])
}

func TestDetectDeterministic(t *testing.T) {
	d := New()
	content := "card 4111 1111 1111 1111, jane@example.com, 10.0.0.1, SSN 123-45-6789"
	first := d.Detect(content, nil)
	second := d.Detect(content, nil)
	assert.Equal(t, first, second)
}

func TestDetectCleanContent(t *testing.T) {
	d := New()
	findings := d.Detect("nothing sensitive here, just an order confirmation", nil)
	assert.Empty(t, findings)
}

func TestLuhnValid(t *testing.T) {
	tests := []struct {
		digits string
		valid  bool
	}{
		{"4111111111111111", true},
		{"4111111111111112", false},
		{"378282246310005", true},
		{"4222222222222", true},
		{"0000000000000000", true},
		{"1234567812345678", false},
		{"", false},
		{"4111a11111111111", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, LuhnValid(tt.digits), "digits %q", tt.digits)
	}
}
