package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/viasnake/arbiter/internal/audit"
)

func runAuditVerifyCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("audit-verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("path", "", "path to the audit.jsonl file to verify")
	mirrorPath := fs.String("mirror-path", "", "optional path to the immutable mirror file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *path == "" {
		fmt.Fprintln(stderr, "audit-verify: --path is required")
		return 2
	}

	result, err := audit.VerifyFile(*path, *mirrorPath)
	if err != nil {
		fmt.Fprintf(stderr, "audit-verify: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "audit chain verified: %d records\n", result.RecordCount)
	return 0
}
