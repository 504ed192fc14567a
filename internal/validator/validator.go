// Package validator implements the QR validation algorithm: a pure function
// from (qr, batch, dup-check) to one of the five scan outcomes, ported from
// the SCANNER project's handle_qr_scan/validate_qr_format/validate_qr_match
// (original_source/SCANNER/logic.py).
package validator

import (
	"strings"

	"github.com/CK6170/cartridge-scan-supervisor/internal/models"
)

// DupCheck reports whether qr has already been recorded for the current
// batch. It is optional; a nil DupCheck means duplicates are never flagged
// (the PASS branch is always taken for a matching range).
type DupCheck func(qr string) bool

// Signals groups the fire-and-forget indicator calls the caller should issue
// after Validate returns, so the validator itself stays pure.
type Signals struct {
	Green  bool
	Yellow bool
	Red    bool
	Buzz   bool
}

// Validate runs the four-rule algorithm from spec section 4.3, in order:
//  1. length/alphanumeric check -> INVALID FORMAT
//  2. line check (position 1, 0-indexed) -> LINE MISMATCH
//  3. mould range membership, checked in insertion order; a dup-check hit on
//     a matching range -> DUPLICATE, otherwise -> PASS
//  4. no range matched -> OUT OF BATCH
//
// qr is uppercased before comparison; the caller's batch mould ranges are
// assumed already normalized (see models.NewMouldRange).
func Validate(qr string, batch *models.Batch, dup DupCheck) (models.ScanResult, Signals) {
	norm := strings.ToUpper(strings.TrimSpace(qr))

	if len(norm) != models.QRLength || !isAlnumString(norm) {
		return models.ScanResult{Outcome: models.OutcomeInvalidFormat}, Signals{Red: true, Buzz: true}
	}

	if Line(norm) != batch.Line {
		return models.ScanResult{Outcome: models.OutcomeLineMismatch}, Signals{Red: true, Buzz: true}
	}

	for _, mr := range batch.Moulds() {
		if mr.Contains(norm) {
			if dup != nil && dup(norm) {
				return models.ScanResult{Outcome: models.OutcomeDuplicate, Mould: mr.Name}, Signals{Yellow: true}
			}
			return models.ScanResult{Outcome: models.OutcomePass, Mould: mr.Name}, Signals{Green: true}
		}
	}

	return models.ScanResult{Outcome: models.OutcomeOutOfBatch}, Signals{Red: true, Buzz: true}
}

// Line extracts the line letter at position 1 (0-indexed) of a
// length-validated QR string.
func Line(qr string) models.Line {
	if len(qr) < 2 {
		return 0
	}
	return models.Line(qr[1])
}

func isAlnumString(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		alpha := (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
		digit := c >= '0' && c <= '9'
		if !alpha && !digit {
			return false
		}
	}
	return true
}
