// Package classify turns detector findings into violation records.
//
// One violation is produced per distinct regulation represented among the
// findings, not per finding: multiple findings under the same regulation on
// the same input are merged into a single violation carrying the most
// severe classification.
package classify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-ledger/sentinel/pkg/detect"
)

// Severity classifies a violation. The order is total:
// Critical > High > Medium > Low.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Violation is an immutable record of a detected compliance violation.
type Violation struct {
	ViolationID     string            `json:"violation_id"`
	Regulation      detect.Regulation `json:"regulation"`
	ClauseReference string            `json:"clause_reference"`
	Severity        Severity          `json:"severity"`
	Description     string            `json:"description"`
	SourceType      string            `json:"source_type"`
	SourceID        string            `json:"source_id"`
	MaskedValue     string            `json:"detected_masked_value"`
	CreatedAt       time.Time         `json:"created_at"`
}

// severityTable is the fixed lookup keyed by (regulation, finding kind).
// Card numbers are always Critical; national identifiers High; contact
// identifiers Medium or High depending on regulation.
var severityTable = map[detect.Regulation]map[detect.Kind]Severity{
	detect.RegulationPCIDSS: {
		detect.KindCardNumber: SeverityCritical,
	},
	detect.RegulationGDPR: {
		detect.KindEmail:     SeverityHigh,
		detect.KindPhone:     SeverityHigh,
		detect.KindIPAddress: SeverityMedium,
	},
	detect.RegulationCCPA: {
		detect.KindNationalID:     SeverityHigh,
		detect.KindDriversLicense: SeverityMedium,
	},
}

var clauseTable = map[detect.Regulation]string{
	detect.RegulationPCIDSS: "Requirement 3.4",
	detect.RegulationGDPR:   "Article 32",
	detect.RegulationCCPA:   "Section 1798.150",
}

// SeverityFor returns the fixed severity for a (regulation, kind) pair,
// defaulting to Low for combinations outside the table.
func SeverityFor(reg detect.Regulation, kind detect.Kind) Severity {
	if kinds, ok := severityTable[reg]; ok {
		if sev, ok := kinds[kind]; ok {
			return sev
		}
	}
	return SeverityLow
}

// Classifier assigns violations from findings.
type Classifier struct {
	clock func() time.Time
}

// New returns a classifier using the wall clock.
func New() *Classifier {
	return &Classifier{clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (c *Classifier) WithClock(clock func() time.Time) *Classifier {
	c.clock = clock
	return c
}

// Classify merges findings by regulation and returns one violation per
// regulation, ordered by regulation name for determinism. No findings
// yields an empty list, not an error.
func (c *Classifier) Classify(findings []detect.Finding, sourceType, sourceID string) []Violation {
	if len(findings) == 0 {
		return []Violation{}
	}

	byReg := make(map[detect.Regulation][]detect.Finding)
	for _, f := range findings {
		byReg[f.Regulation] = append(byReg[f.Regulation], f)
	}

	regs := make([]detect.Regulation, 0, len(byReg))
	for reg := range byReg {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i] < regs[j] })

	now := c.clock().UTC()
	violations := make([]Violation, 0, len(regs))
	for _, reg := range regs {
		group := byReg[reg]

		severity := SeverityLow
		kinds := make([]string, 0, len(group))
		seenKinds := make(map[detect.Kind]bool)
		for _, f := range group {
			if s := SeverityFor(reg, f.Kind); s.AtLeast(severity) {
				severity = s
			}
			if !seenKinds[f.Kind] {
				seenKinds[f.Kind] = true
				kinds = append(kinds, string(f.Kind))
			}
		}

		violations = append(violations, Violation{
			ViolationID:     newViolationID(),
			Regulation:      reg,
			ClauseReference: clauseTable[reg],
			Severity:        severity,
			Description: fmt.Sprintf("%s data exposed in %s (%s)",
				strings.Join(kinds, ", "), sourceType, reg),
			SourceType:  sourceType,
			SourceID:    sourceID,
			MaskedValue: group[0].MaskedValue,
			CreatedAt:   now,
		})
	}
	return violations
}

// newViolationID returns a collision-resistant identifier. The format is an
// implementation detail, not a contract.
func newViolationID() string {
	return "VIOL-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:12])
}
