package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/viasnake/arbiter/internal/canonical"
)

// VerifyError describes a single chain-verification failure at a specific
// line (1-indexed) of the audit file.
type VerifyError struct {
	Line   int
	Reason string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("audit chain invalid at line %d: %s", e.Line, e.Reason)
}

// VerifyResult summarizes a successful verification run.
type VerifyResult struct {
	RecordCount int
}

// VerifyFile verifies mainPath's hash chain and, if mirrorPath is
// non-empty, independently verifies the mirror and requires it to match
// the main file record-for-record by record_hash. The mirror may lag the
// main file by its final record; any other count difference is fatal.
// Returns the number of verified main-file records, or the first error
// encountered.
func VerifyFile(mainPath, mirrorPath string) (VerifyResult, error) {
	mainRecords, err := readAndVerifyChain(mainPath)
	if err != nil {
		return VerifyResult{}, err
	}

	if mirrorPath != "" {
		mirrorRecords, err := readAndVerifyChain(mirrorPath)
		if err != nil {
			return VerifyResult{}, err
		}
		if len(mirrorRecords) != len(mainRecords) && len(mirrorRecords) != len(mainRecords)-1 {
			return VerifyResult{}, fmt.Errorf(
				"audit: mirror record count %d does not match main record count %d",
				len(mirrorRecords), len(mainRecords))
		}
		for i := range mirrorRecords {
			if mainRecords[i].RecordHash != mirrorRecords[i].RecordHash {
				return VerifyResult{}, &VerifyError{
					Line:   i + 1,
					Reason: fmt.Sprintf("mirror record_hash %q does not match main record_hash %q", mirrorRecords[i].RecordHash, mainRecords[i].RecordHash),
				}
			}
		}
	}

	return VerifyResult{RecordCount: len(mainRecords)}, nil
}

// readAndVerifyChain reads path line by line and checks: record 0 has
// prev_hash == ""; record[n].prev_hash == record[n-1].record_hash for
// n > 0; and record[n].record_hash == fingerprint(record[n] with
// record_hash cleared). Any single-byte mutation of a prior write is
// detected here.
func readAndVerifyChain(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	prevHash := ""
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &VerifyError{Line: lineNo, Reason: fmt.Sprintf("malformed JSON: %v", err)}
		}

		if lineNo == 1 {
			if rec.PrevHash != "" {
				return nil, &VerifyError{Line: lineNo, Reason: "first record must have empty prev_hash"}
			}
		} else if rec.PrevHash != prevHash {
			return nil, &VerifyError{Line: lineNo, Reason: fmt.Sprintf("prev_hash %q does not match previous record_hash %q", rec.PrevHash, prevHash)}
		}

		claimedHash := rec.RecordHash
		rec.RecordHash = ""
		recomputed, err := canonical.Fingerprint(rec)
		if err != nil {
			return nil, fmt.Errorf("audit: fingerprint line %d: %w", lineNo, err)
		}
		if recomputed != claimedHash {
			return nil, &VerifyError{Line: lineNo, Reason: fmt.Sprintf("record_hash %q does not match recomputed %q", claimedHash, recomputed)}
		}
		rec.RecordHash = claimedHash

		records = append(records, rec)
		prevHash = claimedHash
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan %s: %w", path, err)
	}
	return records, nil
}
