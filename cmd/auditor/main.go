// Package main is the entry point for the auditor CLI. The auditor scans an
// AWS account for IAM, S3, and EC2 misconfigurations, stores the findings in
// a local SQLite database, and alerts on critical issues.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
