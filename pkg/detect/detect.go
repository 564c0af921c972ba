// Package detect scans textual content for regulated sensitive data.
//
// Detection is deterministic and side-effect free: the same content always
// yields the same findings, in the same order. Each regulation family owns
// its own rule set and matches independently, so one content item can
// produce findings under several regulations at once.
package detect

import (
	"regexp"
	"strings"
)

// Regulation identifies a regulation family whose rules the detector applies.
type Regulation string

const (
	RegulationPCIDSS Regulation = "PCI-DSS"
	RegulationGDPR   Regulation = "GDPR"
	RegulationCCPA   Regulation = "CCPA"
)

// AllRegulations lists every regulation family the detector supports.
func AllRegulations() []Regulation {
	return []Regulation{RegulationPCIDSS, RegulationGDPR, RegulationCCPA}
}

// Kind categorizes what a finding matched.
type Kind string

const (
	KindCardNumber     Kind = "card-number"
	KindNationalID     Kind = "national-id"
	KindEmail          Kind = "email"
	KindPhone          Kind = "phone"
	KindIPAddress      Kind = "ip-address"
	KindDriversLicense Kind = "drivers-license"
)

// Finding is one matched instance of regulated data. RawExcerpt is only
// valid during the detection step and must never be persisted unmasked;
// downstream consumers use MaskedValue.
type Finding struct {
	Kind        Kind       `json:"kind"`
	RawExcerpt  string     `json:"-"`
	MaskedValue string     `json:"masked_value"`
	Regulation  Regulation `json:"regulation"`
	Pattern     string     `json:"pattern"`
	Confidence  float64    `json:"confidence"`
}

// Detector holds the compiled rule sets. Safe for concurrent use.
type Detector struct {
	cardCandidate *regexp.Regexp
	maskedCard    *regexp.Regexp
	email         *regexp.Regexp
	phone         *regexp.Regexp
	ipv4          *regexp.Regexp
	ssn           *regexp.Regexp
	driversLic    *regexp.Regexp
}

// New returns a detector with all rule sets compiled.
func New() *Detector {
	return &Detector{
		// 13-19 digits with optional space/dash grouping separators.
		cardCandidate: regexp.MustCompile(`\b\d(?:[ -]?\d){12,18}\b`),
		// Literal mask characters replacing digit groups, last four visible.
		// Masked data is compliant by construction.
		maskedCard: regexp.MustCompile(`[*Xx]{4}[ -]?[*Xx]{4}[ -]?[*Xx]{4}[ -]?\d{4}`),
		email:      regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		phone:      regexp.MustCompile(`\b(?:\+?1[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`),
		ipv4:       regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		ssn:        regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		driversLic: regexp.MustCompile(`\b[A-Z]{1,2}\d{5,8}\b`),
	}
}

// Detect scans content and returns the union of findings across the given
// regulation families. An empty regulation set means all families.
func (d *Detector) Detect(content string, regs []Regulation) []Finding {
	if len(regs) == 0 {
		regs = AllRegulations()
	}

	findings := make([]Finding, 0)
	for _, reg := range regs {
		switch reg {
		case RegulationPCIDSS:
			findings = append(findings, d.detectCardNumbers(content)...)
		case RegulationGDPR:
			findings = append(findings, d.detectGDPR(content)...)
		case RegulationCCPA:
			findings = append(findings, d.detectCCPA(content)...)
		}
	}
	return findings
}

// detectCardNumbers finds unmasked payment card numbers. Masked spans are
// blanked out before candidate matching, so a masked card can never reach
// checksum validation. Candidates that fail the Luhn checksum are simply
// not findings.
func (d *Detector) detectCardNumbers(content string) []Finding {
	scannable := d.maskedCard.ReplaceAllStringFunc(content, func(m string) string {
		return strings.Repeat(" ", len(m))
	})

	var findings []Finding
	for _, candidate := range d.cardCandidate.FindAllString(scannable, -1) {
		digits := stripSeparators(candidate)
		if len(digits) < 13 || len(digits) > 19 {
			continue
		}
		if !LuhnValid(digits) {
			continue
		}
		findings = append(findings, Finding{
			Kind:        KindCardNumber,
			RawExcerpt:  candidate,
			MaskedValue: maskCardNumber(digits),
			Regulation:  RegulationPCIDSS,
			Pattern:     "card-number-luhn",
			Confidence:  1.0,
		})
	}
	return findings
}

func (d *Detector) detectGDPR(content string) []Finding {
	var findings []Finding
	for _, m := range d.email.FindAllString(content, -1) {
		findings = append(findings, Finding{
			Kind:        KindEmail,
			RawExcerpt:  m,
			MaskedValue: maskEmail(m),
			Regulation:  RegulationGDPR,
			Pattern:     "email-address",
			Confidence:  0.8,
		})
	}
	for _, m := range d.phone.FindAllString(content, -1) {
		// Phone and SSN share digit shapes; an SSN-formatted match is not
		// a phone number.
		if d.ssn.MatchString(m) {
			continue
		}
		findings = append(findings, Finding{
			Kind:        KindPhone,
			RawExcerpt:  m,
			MaskedValue: maskTrailing(m, 4),
			Regulation:  RegulationGDPR,
			Pattern:     "phone-number",
			Confidence:  0.8,
		})
	}
	for _, m := range d.ipv4.FindAllString(content, -1) {
		findings = append(findings, Finding{
			Kind:        KindIPAddress,
			RawExcerpt:  m,
			MaskedValue: maskIPv4(m),
			Regulation:  RegulationGDPR,
			Pattern:     "ipv4-address",
			Confidence:  0.8,
		})
	}
	return findings
}

func (d *Detector) detectCCPA(content string) []Finding {
	var findings []Finding
	for _, m := range d.ssn.FindAllString(content, -1) {
		findings = append(findings, Finding{
			Kind:        KindNationalID,
			RawExcerpt:  m,
			MaskedValue: "***-**-" + m[len(m)-4:],
			Regulation:  RegulationCCPA,
			Pattern:     "ssn",
			Confidence:  0.9,
		})
	}
	for _, m := range d.driversLic.FindAllString(content, -1) {
		findings = append(findings, Finding{
			Kind:        KindDriversLicense,
			RawExcerpt:  m,
			MaskedValue: m[:1] + strings.Repeat("*", len(m)-1),
			Regulation:  RegulationCCPA,
			Pattern:     "drivers-license",
			Confidence:  0.9,
		})
	}
	return findings
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, s)
}

// maskCardNumber keeps only the last four digits visible.
func maskCardNumber(digits string) string {
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}

func maskTrailing(s string, visible int) string {
	masked := []rune(s)
	digitsSeen := 0
	for i := len(masked) - 1; i >= 0; i-- {
		if masked[i] < '0' || masked[i] > '9' {
			continue
		}
		digitsSeen++
		if digitsSeen > visible {
			masked[i] = '*'
		}
	}
	return string(masked)
}

func maskEmail(addr string) string {
	at := strings.IndexByte(addr, '@')
	if at <= 1 {
		return "***" + addr[at:]
	}
	return addr[:1] + strings.Repeat("*", at-1) + addr[at:]
}

func maskIPv4(ip string) string {
	parts := strings.Split(ip, ".")
	return parts[0] + ".*.*.*"
}
