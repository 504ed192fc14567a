// Package models defines the data model shared by the QR validator, the
// PLC link, and the supervisor: batch identity, mould ranges, QR strings,
// and scan outcomes.
//
// These types mirror the entities in the supervisor's data model: a Batch
// pins a BatchId and Line to an ordered set of MouldRanges, and every scan
// produces exactly one Outcome.
package models

import (
	"fmt"
	"regexp"
	"strings"
)

// batchIDPattern matches a 10-character batch token: M V <X> <YY> <NNNNN>
// where <X> and <YY> are letters and <NNNNN> is five digits. It is the
// documented default for batch_format.batch_regex (spec 6.4); SetBatchIDPattern
// overrides it at startup from config.
var batchIDPattern = regexp.MustCompile(`^MV[A-Z][A-Z]{2}\d{5}$`)

// SetBatchIDPattern overrides the batch token pattern ParseBatchId enforces,
// per the operator-configurable batch_format.batch_regex (spec 6.4). It is
// meant to be called once at startup, before any batch is armed.
func SetBatchIDPattern(re *regexp.Regexp) {
	batchIDPattern = re
}

// BatchId is a case-normalized (upper) 10-character batch token.
type BatchId string

// ParseBatchId normalizes and validates a raw batch token.
func ParseBatchId(raw string) (BatchId, error) {
	norm := strings.ToUpper(strings.TrimSpace(raw))
	if !batchIDPattern.MatchString(norm) {
		return "", fmt.Errorf("models: invalid batch id %q", raw)
	}
	return BatchId(norm), nil
}

func (b BatchId) String() string { return string(b) }

// Line is a single uppercase letter identifying the production line.
// It occupies position 2 (1-indexed) of every QR scanned against a batch.
type Line byte

// ParseLine validates and normalizes a single-letter line identifier.
func ParseLine(raw string) (Line, error) {
	norm := strings.ToUpper(strings.TrimSpace(raw))
	if len(norm) != 1 || norm[0] < 'A' || norm[0] > 'Z' {
		return 0, fmt.Errorf("models: invalid line %q", raw)
	}
	return Line(norm[0]), nil
}

func (l Line) String() string { return string([]byte{byte(l)}) }

// QRLength is the fixed QR string length (batch_format.qr_length, spec 6.4),
// overridable at startup via SetQRLength. validator.Validate enforces the
// same value so the two packages never drift apart.
var QRLength = 14

// SetQRLength overrides QRLength from config. Meant to be called once at
// startup, before any batch is armed or QR validated.
func SetQRLength(n int) {
	QRLength = n
}

// MouldRange is an inclusive lexicographic interval of 14-character QR
// strings, tagged with the 3-character mould name it belongs to.
type MouldRange struct {
	Name  string
	Start string
	End   string
}

// validMouldName checks the 3-char alpha+2-alphanumeric mould name shape.
func validMouldName(name string) bool {
	if len(name) != 3 {
		return false
	}
	if !isAlpha(name[0]) {
		return false
	}
	return isAlnum(name[1]) && isAlnum(name[2])
}

func isAlpha(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isAlnum(c byte) bool { return isAlpha(c) || isDigit(c) }

func isAlnumString(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isAlnum(s[i]) {
			return false
		}
	}
	return true
}

// NewMouldRange validates and constructs a MouldRange for the given line.
//
// Per spec: qr_start <= qr_end lexicographically; qr_start[1]==qr_end[1]==line;
// qr_start[2:5]==qr_end[2:5]==name (0-indexed slice, i.e. positions 2,3,4).
func NewMouldRange(name, start, end string, line Line) (MouldRange, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	start = strings.ToUpper(strings.TrimSpace(start))
	end = strings.ToUpper(strings.TrimSpace(end))

	if !validMouldName(name) {
		return MouldRange{}, fmt.Errorf("models: invalid mould name %q", name)
	}
	if len(start) != QRLength || !isAlnumString(start) {
		return MouldRange{}, fmt.Errorf("models: invalid mould range start %q", start)
	}
	if len(end) != QRLength || !isAlnumString(end) {
		return MouldRange{}, fmt.Errorf("models: invalid mould range end %q", end)
	}
	if start > end {
		return MouldRange{}, fmt.Errorf("models: mould range start %q is after end %q", start, end)
	}
	if start[1] != byte(line) || end[1] != byte(line) {
		return MouldRange{}, fmt.Errorf("models: mould range line mismatch for %q", name)
	}
	if start[2:5] != name || end[2:5] != name {
		return MouldRange{}, fmt.Errorf("models: mould range name mismatch for %q", name)
	}
	return MouldRange{Name: name, Start: start, End: end}, nil
}

// Contains reports whether qr falls within the inclusive lexicographic range.
func (m MouldRange) Contains(qr string) bool {
	return m.Start <= qr && qr <= m.End
}

// Batch is the armed configuration a scanned QR is validated against: an id,
// a line, and an ordered, named set of mould ranges.
//
// Mould order matters: the validator walks ranges in insertion order and the
// first matching range wins, so Batch preserves the order moulds were added.
type Batch struct {
	ID     BatchId
	Line   Line
	moulds []MouldRange
	byName map[string]int
}

// NewBatch constructs an empty, armed batch shell for id/line. Use AddMould
// to populate its mould ranges before use.
func NewBatch(id BatchId, line Line) *Batch {
	return &Batch{ID: id, Line: line, byName: make(map[string]int)}
}

// AddMould appends a mould range, enforcing unique names and non-overlap
// with previously added ranges.
func (b *Batch) AddMould(mr MouldRange) error {
	if _, exists := b.byName[mr.Name]; exists {
		return fmt.Errorf("models: duplicate mould name %q in batch %s", mr.Name, b.ID)
	}
	for _, existing := range b.moulds {
		if rangesOverlap(existing, mr) {
			return fmt.Errorf("models: mould range %q overlaps %q in batch %s", mr.Name, existing.Name, b.ID)
		}
	}
	b.byName[mr.Name] = len(b.moulds)
	b.moulds = append(b.moulds, mr)
	return nil
}

func rangesOverlap(a, b MouldRange) bool {
	return a.Start <= b.End && b.Start <= a.End
}

// Moulds returns the mould ranges in insertion order. Callers must not
// mutate the returned slice.
func (b *Batch) Moulds() []MouldRange { return b.moulds }

// Validate checks the batch has at least one mould range, as required at
// arm-time.
func (b *Batch) Validate() error {
	if len(b.moulds) == 0 {
		return fmt.Errorf("models: batch %s has no mould ranges", b.ID)
	}
	return nil
}

// Outcome is one of the five validator outcomes.
type Outcome int

const (
	// OutcomeUnknown is the zero value and never returned by the validator.
	OutcomeUnknown Outcome = iota
	OutcomePass
	OutcomeDuplicate
	OutcomeInvalidFormat
	OutcomeLineMismatch
	OutcomeOutOfBatch
)

func (o Outcome) String() string {
	switch o {
	case OutcomePass:
		return "PASS"
	case OutcomeDuplicate:
		return "DUPLICATE"
	case OutcomeInvalidFormat:
		return "INVALID FORMAT"
	case OutcomeLineMismatch:
		return "LINE MISMATCH"
	case OutcomeOutOfBatch:
		return "OUT OF BATCH"
	default:
		return "UNKNOWN"
	}
}

// ResponseByte returns the outbound PLC byte for outcomes the validator can
// itself produce. It does not cover protocol-level bytes (Q, S, H, B, C, G)
// which are owned by the link/supervisor rather than the validator.
func (o Outcome) ResponseByte() byte {
	switch o {
	case OutcomePass:
		return 'A'
	case OutcomeDuplicate:
		return 'D'
	case OutcomeOutOfBatch:
		return 'R'
	case OutcomeLineMismatch:
		return 'L'
	case OutcomeInvalidFormat:
		return 'N'
	default:
		return 'S'
	}
}

// ScanResult is the outcome of a single validator invocation, plus the
// mould name when known.
type ScanResult struct {
	Outcome Outcome
	Mould   string // empty unless Outcome is PASS or DUPLICATE
}
