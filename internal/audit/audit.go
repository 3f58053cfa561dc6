// Package audit implements the tamper-evident, hash-chained append-only
// audit log: a single writer that links each record to its predecessor by
// hash, an optional lock-step mirror file, an optional relational sink,
// and an offline verifier.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/viasnake/arbiter/internal/canonical"
)

// Record is the persisted shape of one audit entry. RecordHash is hashed
// as the empty string — the field must be present (not omitted) so the
// hash computed over it is reproducible by the verifier.
type Record struct {
	AuditID       string          `json:"audit_id"`
	TenantID      string          `json:"tenant_id"`
	CorrelationID string          `json:"correlation_id"`
	Action        string          `json:"action"`
	Result        string          `json:"result"`
	ReasonCode    string          `json:"reason_code"`
	TS            string          `json:"ts"`
	PlanID        string          `json:"plan_id,omitempty"`
	DecisionTrace json.RawMessage `json:"decision_trace,omitempty"`
	PrevHash      string          `json:"prev_hash"`
	RecordHash    string          `json:"record_hash"`
}

// RelationalSink optionally mirrors audit records into the embedded
// relational state-store backend, when one is configured.
type RelationalSink interface {
	InsertAuditRecord(ctx context.Context, rec Record) error
}

// Writer is the append-only chain writer. One Writer owns the main file
// (and optional mirror/relational sinks) for the lifetime of the server.
type Writer struct {
	mu sync.Mutex

	mainPath   string
	mainFile   *os.File
	mirrorPath string
	mirrorFile *os.File
	relational RelationalSink

	tip string
}

// NewWriter opens (creating if absent) mainPath and, if mirrorPath is
// non-empty, mirrorPath, and replays the main file to recover the chain
// tip. relational may be nil.
func NewWriter(mainPath, mirrorPath string, relational RelationalSink) (*Writer, error) {
	tip, err := readTip(mainPath)
	if err != nil {
		return nil, fmt.Errorf("audit: read tip: %w", err)
	}

	mainFile, err := os.OpenFile(mainPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open main file: %w", err)
	}

	w := &Writer{mainPath: mainPath, mainFile: mainFile, mirrorPath: mirrorPath, relational: relational, tip: tip}

	if mirrorPath != "" {
		mirrorFile, err := os.OpenFile(mirrorPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			mainFile.Close()
			return nil, fmt.Errorf("audit: open mirror file: %w", err)
		}
		w.mirrorFile = mirrorFile
	}
	return w, nil
}

func readTip(path string) (string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	var last Record
	found := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return "", fmt.Errorf("corrupt audit line: %w", err)
		}
		last = rec
		found = true
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}
	return last.RecordHash, nil
}

// Append links rec onto the chain, writes it to the main file (and mirror
// and relational sinks if configured), and returns the fully-populated
// record (with prev_hash/record_hash set). Write failures are returned
// verbatim for the caller to convert into internal.audit_write_failed —
// they are never swallowed.
func (w *Writer) Append(ctx context.Context, rec Record) (Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec.PrevHash = w.tip
	rec.RecordHash = ""
	hash, err := canonical.Fingerprint(rec)
	if err != nil {
		return Record{}, fmt.Errorf("audit: fingerprint record: %w", err)
	}
	rec.RecordHash = hash

	line, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("audit: encode record: %w", err)
	}
	line = append(line, '\n')

	if _, err := w.mainFile.Write(line); err != nil {
		return Record{}, fmt.Errorf("audit: write main file: %w", err)
	}
	if err := w.mainFile.Sync(); err != nil {
		return Record{}, fmt.Errorf("audit: sync main file: %w", err)
	}

	// The main file is now durably the record of truth for this hash
	// chain, so the tip advances here — before the mirror/relational
	// sinks are even attempted. A mirror or relational failure below
	// must never leave the main chain's own prev_hash linkage pointing
	// at a stale tip; a mirror that lags the main file by its final
	// record is tolerated by the verifier, unlike a forked main chain.
	w.tip = hash

	if w.mirrorFile != nil {
		if _, err := w.mirrorFile.Write(line); err != nil {
			return Record{}, fmt.Errorf("audit: write mirror file: %w", err)
		}
		if err := w.mirrorFile.Sync(); err != nil {
			return Record{}, fmt.Errorf("audit: sync mirror file: %w", err)
		}
	}

	if w.relational != nil {
		if err := w.relational.InsertAuditRecord(ctx, rec); err != nil {
			return Record{}, fmt.Errorf("audit: insert relational record: %w", err)
		}
	}

	return rec, nil
}

// Close releases the underlying file handles.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	if err := w.mainFile.Close(); err != nil {
		firstErr = err
	}
	if w.mirrorFile != nil {
		if err := w.mirrorFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
