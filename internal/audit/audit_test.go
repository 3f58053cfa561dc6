package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/viasnake/arbiter/internal/canonical"
)

func TestWriter_ChainIsContiguous(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	w, err := NewWriter(path, "", nil)
	require.NoError(t, err)
	defer w.Close()

	ctx := context.Background()
	r0, err := w.Append(ctx, Record{AuditID: "a0", TenantID: "t1", Action: "process_event", Result: "ok", ReasonCode: "request_generation", TS: "2026-01-01T00:00:00Z"})
	require.NoError(t, err)
	require.Empty(t, r0.PrevHash)
	require.NotEmpty(t, r0.RecordHash)

	r1, err := w.Append(ctx, Record{AuditID: "a1", TenantID: "t1", Action: "process_event", Result: "ok", ReasonCode: "send_message", TS: "2026-01-01T00:00:01Z"})
	require.NoError(t, err)
	require.Equal(t, r0.RecordHash, r1.PrevHash)

	result, err := VerifyFile(path, "")
	require.NoError(t, err)
	require.Equal(t, 2, result.RecordCount)
}

func TestWriter_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	ctx := context.Background()

	w, err := NewWriter(path, "", nil)
	require.NoError(t, err)
	r0, err := w.Append(ctx, Record{AuditID: "a0", TenantID: "t1", Action: "process_event", Result: "ok", ReasonCode: "x", TS: "2026-01-01T00:00:00Z"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := NewWriter(path, "", nil)
	require.NoError(t, err)
	defer w2.Close()
	r1, err := w2.Append(ctx, Record{AuditID: "a1", TenantID: "t1", Action: "process_event", Result: "ok", ReasonCode: "y", TS: "2026-01-01T00:00:01Z"})
	require.NoError(t, err)
	require.Equal(t, r0.RecordHash, r1.PrevHash, "tip must be recovered from the existing file on reopen")
}

func TestVerifyFile_DetectsTamperedLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	ctx := context.Background()

	w, err := NewWriter(path, "", nil)
	require.NoError(t, err)
	_, err = w.Append(ctx, Record{AuditID: "a0", TenantID: "t1", Action: "process_event", Result: "ok", ReasonCode: "x", TS: "2026-01-01T00:00:00Z"})
	require.NoError(t, err)
	_, err = w.Append(ctx, Record{AuditID: "a1", TenantID: "t1", Action: "process_event", Result: "ok", ReasonCode: "y", TS: "2026-01-01T00:00:01Z"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Mutate a field on line 2 without recomputing its hash.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := splitLines(raw)
	require.Len(t, lines, 2)

	var rec Record
	require.NoError(t, json.Unmarshal(lines[1], &rec))
	rec.ReasonCode = "tampered"
	tampered, err := json.Marshal(rec)
	require.NoError(t, err)
	lines[1] = tampered

	require.NoError(t, os.WriteFile(path, joinLines(lines), 0o644))

	_, err = VerifyFile(path, "")
	require.Error(t, err)
	var verr *VerifyError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, 2, verr.Line)
}

func TestVerifyFile_MirrorMismatchIsFatal(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "audit.jsonl")
	mirrorPath := filepath.Join(dir, "mirror.jsonl")
	ctx := context.Background()

	w, err := NewWriter(mainPath, mirrorPath, nil)
	require.NoError(t, err)
	_, err = w.Append(ctx, Record{AuditID: "a0", TenantID: "t1", Action: "process_event", Result: "ok", ReasonCode: "x", TS: "2026-01-01T00:00:00Z"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Corrupt the mirror only.
	raw, err := os.ReadFile(mirrorPath)
	require.NoError(t, err)
	var rec Record
	require.NoError(t, json.Unmarshal(raw[:len(raw)-1], &rec))
	rec.TenantID = "t2"
	// recompute so the mirror's own internal chain still verifies, only the
	// cross-file comparison should fail
	rec.RecordHash = ""
	rec.RecordHash, err = canonical.Fingerprint(rec)
	require.NoError(t, err)
	corrupted, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(mirrorPath, append(corrupted, '\n'), 0o644))

	_, err = VerifyFile(mainPath, mirrorPath)
	require.Error(t, err)
}

// TestWriter_MirrorFailureDoesNotForkMainChain guards against the tip
// advancing only after the mirror write succeeds: if the mirror write
// fails after the main file write has already been durably committed,
// the next Append must still chain onto the record that is physically
// last in the main file, not onto a stale pre-failure tip.
func TestWriter_MirrorFailureDoesNotForkMainChain(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "audit.jsonl")
	mirrorPath := filepath.Join(dir, "mirror.jsonl")
	ctx := context.Background()

	w, err := NewWriter(mainPath, mirrorPath, nil)
	require.NoError(t, err)

	r0, err := w.Append(ctx, Record{AuditID: "a0", TenantID: "t1", Action: "process_event", Result: "ok", ReasonCode: "x", TS: "2026-01-01T00:00:00Z"})
	require.NoError(t, err)

	// Force the next mirror write to fail while the main file stays healthy.
	require.NoError(t, w.mirrorFile.Close())
	_, err = w.Append(ctx, Record{AuditID: "a1", TenantID: "t1", Action: "process_event", Result: "ok", ReasonCode: "y", TS: "2026-01-01T00:00:01Z"})
	require.Error(t, err)

	// The main file committed a1 despite the mirror failure, so the tip
	// must have advanced to a1's hash, not stayed at a0's.
	require.NotEqual(t, r0.RecordHash, w.tip)

	// Repair the mirror path so Close doesn't also fail, then recover a
	// fresh writer from the main file alone and append once more.
	w.mirrorFile = nil
	require.NoError(t, w.mainFile.Close())

	w2, err := NewWriter(mainPath, "", nil)
	require.NoError(t, err)
	defer w2.Close()
	r2, err := w2.Append(ctx, Record{AuditID: "a2", TenantID: "t1", Action: "process_event", Result: "ok", ReasonCode: "z", TS: "2026-01-01T00:00:02Z"})
	require.NoError(t, err)

	result, err := VerifyFile(mainPath, "")
	require.NoError(t, err)
	require.Equal(t, 3, result.RecordCount, "main chain must have 3 contiguous records: a0, a1 (mirror failed but main succeeded), a2")
	require.NotEqual(t, r0.RecordHash, r2.PrevHash, "a2 must chain onto a1, not fork back onto a0")
}

func splitLines(raw []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range raw {
		if b == '\n' {
			lines = append(lines, raw[start:i])
			start = i + 1
		}
	}
	if start < len(raw) {
		lines = append(lines, raw[start:])
	}
	return lines
}

func joinLines(lines [][]byte) []byte {
	var out []byte
	for _, l := range lines {
		out = append(out, l...)
		out = append(out, '\n')
	}
	return out
}
