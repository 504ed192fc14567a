// Package control is the small command surface the CLI operator console
// (cmd/supervisorctl) drives: arm, stop, reset-counters, reset-batch. It
// replaces the teacher's graphical batch-entry forms (out of scope per the
// system's purpose) with a plain-text batch specification read from a file
// whose path the operator types into the console.
package control

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/CK6170/cartridge-scan-supervisor/internal/models"
	"github.com/CK6170/cartridge-scan-supervisor/internal/supervisor"
)

// Controller wraps a *supervisor.Supervisor with the batch-spec parsing
// the operator console needs; it adds no state of its own.
type Controller struct {
	sup *supervisor.Supervisor
}

// New wraps sup.
func New(sup *supervisor.Supervisor) *Controller {
	return &Controller{sup: sup}
}

// Arm parses a batch specification and arms it, resetting the duplicate
// store first when resetDuplicates is true (the operator's explicit
// "clear this batch's history before arming" choice).
func (c *Controller) Arm(spec io.Reader, resetDuplicates bool) error {
	batch, err := ParseBatchSpec(spec)
	if err != nil {
		return err
	}
	return c.sup.Arm(batch, resetDuplicates)
}

// Stop halts the current batch.
func (c *Controller) Stop() { c.sup.Stop() }

// ResetCounters clears the soft scan counters only.
func (c *Controller) ResetCounters() { c.sup.ResetCounters() }

// ResetBatch clears the duplicate store for batchId, independent of the
// currently armed batch.
func (c *Controller) ResetBatch(batchId string) error {
	return c.sup.ResetBatch(batchId)
}

// ParseBatchSpec reads a batch specification in the form:
//
//	<BatchId> <Line>
//	<MouldName> <QRStart> <QREnd>
//	<MouldName> <QRStart> <QREnd>
//	...
//
// Blank lines and lines starting with '#' are ignored. This is the
// console's stand-in for the graphical batch-entry form the system's
// purpose explicitly excludes from the core.
func ParseBatchSpec(r io.Reader) (*models.Batch, error) {
	scanner := bufio.NewScanner(r)

	var header []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		header = strings.Fields(line)
		break
	}
	if len(header) != 2 {
		return nil, fmt.Errorf("control: batch spec header must be \"<BatchId> <Line>\", got %q", strings.Join(header, " "))
	}

	batchId, err := models.ParseBatchId(header[0])
	if err != nil {
		return nil, err
	}
	line, err := models.ParseLine(header[1])
	if err != nil {
		return nil, err
	}

	batch := models.NewBatch(batchId, line)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		fields := strings.Fields(raw)
		if len(fields) != 3 {
			return nil, fmt.Errorf("control: mould line must be \"<Name> <Start> <End>\", got %q", raw)
		}
		mr, err := models.NewMouldRange(fields[0], fields[1], fields[2], line)
		if err != nil {
			return nil, err
		}
		if err := batch.AddMould(mr); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("control: read batch spec: %w", err)
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	return batch, nil
}
