package supervisor

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/CK6170/cartridge-scan-supervisor/internal/models"
)

// BatchLog appends one CSV row per validator invocation to
// "<BatchId>.csv" under dir, header "Timestamp,BatchNumber,Mould,QRCode,Status"
// per spec section 6.3.
type BatchLog struct {
	f *os.File
	w *csv.Writer
}

// OpenBatchLog creates (or appends to) the CSV log for batchId under dir,
// writing the header only if the file is new.
func OpenBatchLog(dir string, batchId models.BatchId) (*BatchLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("supervisor: batch log dir: %w", err)
	}
	path := filepath.Join(dir, string(batchId)+".csv")
	isNew := true
	if st, err := os.Stat(path); err == nil && st.Size() > 0 {
		isNew = false
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("supervisor: open batch log: %w", err)
	}
	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write([]string{"Timestamp", "BatchNumber", "Mould", "QRCode", "Status"}); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("supervisor: write batch log header: %w", err)
		}
		w.Flush()
	}
	return &BatchLog{f: f, w: w}, nil
}

// Append writes one row and flushes immediately, since the supervisor has
// no other durability signal for this file between process restarts.
func (l *BatchLog) Append(batchId models.BatchId, mould, qr string, outcome models.Outcome) error {
	row := []string{
		time.Now().Format("2006-01-02 15:04:05"),
		string(batchId),
		mould,
		qr,
		outcome.String(),
	}
	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("supervisor: write batch log row: %w", err)
	}
	l.w.Flush()
	return l.w.Error()
}

// Close releases the underlying file.
func (l *BatchLog) Close() error {
	l.w.Flush()
	return l.f.Close()
}

// WriteSetupLog writes the per-batch setup CSV ("BatchNo,Line,MouldType,
// QR_Start,QR_End") to dir, one row per mould, per spec section 6.3.
func WriteSetupLog(dir string, batch *models.Batch) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("supervisor: setup log dir: %w", err)
	}
	path := filepath.Join(dir, string(batch.ID)+".csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("supervisor: create setup log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"BatchNo", "Line", "MouldType", "QR_Start", "QR_End"}); err != nil {
		return err
	}
	for _, mr := range batch.Moulds() {
		row := []string{string(batch.ID), batch.Line.String(), mr.Name, mr.Start, mr.End}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("supervisor: write setup log row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// RecoverySnapshot is the advisory JSON state written after every scan so an
// external UI can resume display state; the core never reads it back.
type RecoverySnapshot struct {
	BatchId   string    `json:"batch_id"`
	Line      string    `json:"line"`
	Accepted  int       `json:"accepted"`
	Duplicate int       `json:"duplicate"`
	Rejected  int       `json:"rejected"`
	Total     int       `json:"total"`
	LastQR    string    `json:"last_qr"`
	LastState string    `json:"last_status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WriteRecoverySnapshot overwrites path with snap, per spec's "JSON snapshot
// ... written after every scan, removed on clean stop."
func WriteRecoverySnapshot(path string, snap RecoverySnapshot) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("supervisor: recovery snapshot dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("supervisor: marshal recovery snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("supervisor: write recovery snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// RemoveRecoverySnapshot deletes path, ignoring a not-exist error, matching
// "removed on clean stop."
func RemoveRecoverySnapshot(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("supervisor: remove recovery snapshot: %w", err)
	}
	return nil
}
