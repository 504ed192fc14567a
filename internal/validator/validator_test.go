package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CK6170/cartridge-scan-supervisor/internal/models"
)

func mustBatch(t *testing.T) *models.Batch {
	t.Helper()
	line := models.Line('A')
	b := models.NewBatch("MVANC00001", line)
	mr, err := models.NewMouldRange("ANC", "1AANC000000001", "1AANC000099999", line)
	require.NoError(t, err)
	require.NoError(t, b.AddMould(mr))
	return b
}

func TestValidateInvalidFormatLength(t *testing.T) {
	b := mustBatch(t)

	result, sig := Validate("1AANC000123", b, nil) // 11 chars, too short
	assert.Equal(t, models.OutcomeInvalidFormat, result.Outcome)
	assert.True(t, sig.Red)
	assert.True(t, sig.Buzz)

	result, _ = Validate("1AANC0001234567", b, nil) // 15 chars
	assert.Equal(t, models.OutcomeInvalidFormat, result.Outcome)
}

func TestValidateInvalidFormatIllegalByteAtPositionZero(t *testing.T) {
	b := mustBatch(t)
	// Position 0 illegal, but otherwise 14 chars and the line check at
	// position 1 would pass if reached -- it must not be reached.
	result, _ := Validate("!AANC000012345", b, nil)
	assert.Equal(t, models.OutcomeInvalidFormat, result.Outcome)
}

func TestValidateLineMismatch(t *testing.T) {
	b := mustBatch(t)
	result, sig := Validate("1BANC000012345", b, nil)
	assert.Equal(t, models.OutcomeLineMismatch, result.Outcome)
	assert.True(t, sig.Red)
}

func TestValidatePassAtRangeBoundaries(t *testing.T) {
	b := mustBatch(t)

	result, sig := Validate("1AANC000000001", b, nil)
	assert.Equal(t, models.OutcomePass, result.Outcome)
	assert.Equal(t, "ANC", result.Mould)
	assert.True(t, sig.Green)

	result, _ = Validate("1AANC000099999", b, nil)
	assert.Equal(t, models.OutcomePass, result.Outcome)
}

func TestValidateOutOfBatch(t *testing.T) {
	b := mustBatch(t)
	result, sig := Validate("1AANC000100000", b, nil)
	assert.Equal(t, models.OutcomeOutOfBatch, result.Outcome)
	assert.True(t, sig.Red)
	assert.True(t, sig.Buzz)
}

func TestValidateDuplicate(t *testing.T) {
	b := mustBatch(t)
	seen := map[string]bool{"1AANC000012345": true}
	dup := func(qr string) bool { return seen[qr] }

	result, sig := Validate("1AANC000012345", b, dup)
	assert.Equal(t, models.OutcomeDuplicate, result.Outcome)
	assert.Equal(t, "ANC", result.Mould)
	assert.True(t, sig.Yellow)
}

func TestValidateIsDeterministic(t *testing.T) {
	b := mustBatch(t)
	r1, _ := Validate("1AANC000012345", b, nil)
	r2, _ := Validate("1AANC000012345", b, nil)
	assert.Equal(t, r1, r2)
}

func TestValidateTouchingRangesMatchOwnMould(t *testing.T) {
	line := models.Line('A')
	b := models.NewBatch("MVANC00001", line)
	first, err := models.NewMouldRange("AAA", "1AAAA000000000", "1AAAA000099999", line)
	require.NoError(t, err)
	second, err := models.NewMouldRange("BBB", "1ABBB000100000", "1ABBB000199999", line)
	require.NoError(t, err)
	require.NoError(t, b.AddMould(first))
	require.NoError(t, b.AddMould(second))

	result, _ := Validate("1ABBB000100000", b, nil)
	assert.Equal(t, models.OutcomePass, result.Outcome)
	assert.Equal(t, "BBB", result.Mould)
}
