package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-pilli/aws-security-auditor/internal/database"
	"github.com/m-pilli/aws-security-auditor/internal/models"
	"github.com/m-pilli/aws-security-auditor/internal/scan"
)

func storedFinding(id int64, service models.Service, severity models.Severity, risk int, findingType, resource string) *database.StoredFinding {
	return &database.StoredFinding{
		ID:     id,
		ScanID: 1,
		Finding: models.Finding{
			Service:     service,
			ResourceID:  resource,
			Type:        findingType,
			Severity:    severity,
			RiskScore:   risk,
			Description: findingType + " on " + resource,
		},
	}
}

func TestPrintScanSummary(t *testing.T) {
	result := &scan.Result{
		ScanID:   7,
		ScanType: models.ScanTypeAll,
		Duration: 1500 * time.Millisecond,
		Degraded: []models.Service{models.ServiceS3},
		Counts:   models.SeverityCounts{Critical: 2, High: 1, Low: 3},
	}

	var buf bytes.Buffer
	printScanSummary(&buf, result)

	out := buf.String()
	assert.Contains(t, out, "Scan #7 (all) completed in 1.5s")
	assert.Contains(t, out, "Degraded services: S3")
	assert.Contains(t, out, "Total Findings: 6")
	assert.Contains(t, out, "CRITICAL    2")
	assert.Contains(t, out, "LOW         3")
}

func TestPrintScanSummaryNoDegraded(t *testing.T) {
	var buf bytes.Buffer
	printScanSummary(&buf, &scan.Result{ScanID: 1, ScanType: models.ScanTypeIAM})
	assert.NotContains(t, buf.String(), "Degraded")
}

func TestPrintFindingsTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	printFindingsTable(&buf, nil)
	assert.Equal(t, "No findings.\n", buf.String())
}

func TestPrintFindingsTable(t *testing.T) {
	resolved := storedFinding(2, models.ServiceS3, models.SeverityHigh, 7, "Unencrypted Bucket", "logs-bucket")
	resolved.Resolved = true
	findings := []*database.StoredFinding{
		storedFinding(1, models.ServiceIAM, models.SeverityCritical, 10, "Root Account MFA Disabled", "root"),
		resolved,
	}

	var buf bytes.Buffer
	printFindingsTable(&buf, findings)

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "CRITICAL")
	assert.Contains(t, out, "Root Account MFA Disabled")
	assert.Contains(t, out, "logs-bucket (resolved)")

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	// Header, separator, and one line per finding.
	assert.Len(t, lines, 4)
}

func TestPrintStatistics(t *testing.T) {
	stats := &database.Statistics{
		TotalScans:     3,
		TotalFindings:  12,
		RecentFindings: 5,
		BySeverity:     map[models.Severity]int{models.SeverityCritical: 4},
		ByService:      map[models.Service]int{models.ServiceEC2: 8},
	}

	var buf bytes.Buffer
	printStatistics(&buf, stats)

	out := buf.String()
	assert.Contains(t, out, "Total Scans:      3")
	assert.Contains(t, out, "Open Findings:    12")
	assert.Contains(t, out, "Found This Week:  5")
	assert.Contains(t, out, "CRITICAL    4")
	assert.Contains(t, out, "EC2         8")
}

func TestPrintScanHistory(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(42 * time.Second)
	scans := []*database.Scan{
		{ID: 2, ScanType: models.ScanTypeAll, Status: database.ScanStatusCompleted, StartTime: start, EndTime: &end, FindingsCount: 9},
		{ID: 1, ScanType: models.ScanTypeIAM, Status: database.ScanStatusRunning, StartTime: start},
	}

	var buf bytes.Buffer
	printScanHistory(&buf, scans)

	out := buf.String()
	assert.Contains(t, out, "2025-06-01 12:00:00")
	assert.Contains(t, out, "42s")
	assert.Contains(t, out, "running")
	// Running scan has no duration yet.
	assert.Contains(t, out, "-")
}

func TestPrintScanHistoryEmpty(t *testing.T) {
	var buf bytes.Buffer
	printScanHistory(&buf, nil)
	assert.Equal(t, "No scans recorded.\n", buf.String())
}

func TestWriteReport(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)
	sc := &database.Scan{
		ID:        5,
		ScanType:  models.ScanTypeAll,
		Status:    database.ScanStatusCompleted,
		StartTime: start,
		EndTime:   &end,
		Counts:    models.SeverityCounts{Critical: 1, Medium: 1},
	}

	urgent := storedFinding(1, models.ServiceIAM, models.SeverityCritical, 10, "Root Account MFA Disabled", "root")
	urgent.Finding.Recommendation = "Enable MFA on the root account"
	routine := storedFinding(2, models.ServiceEC2, models.SeverityMedium, 5, "Public IP Address", "i-1234")
	findings := []*database.StoredFinding{urgent, routine}

	var buf bytes.Buffer
	writeReport(&buf, sc, findings, 7)

	out := buf.String()
	assert.Contains(t, out, "AWS Security Audit Report")
	assert.Contains(t, out, "Scan:     #5 (all)")
	assert.Contains(t, out, "Duration: 1m0s")
	assert.Contains(t, out, "High Risk Findings (risk score >= 7)")
	assert.Contains(t, out, "Root Account MFA Disabled")
	assert.Contains(t, out, "Recommendation: Enable MFA on the root account")

	// Only the critical finding clears the threshold; both appear in the
	// full table.
	highSection := out[strings.Index(out, "High Risk Findings"):strings.Index(out, "All Findings")]
	assert.NotContains(t, highSection, "Public IP Address")
	assert.Contains(t, out, "Public IP Address")
}

func TestScanCmdRejectsUnknownType(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"scan", "--type", "bogus"})
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown scan type")
}

func TestFindingsCmdRejectsUnknownSeverity(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"findings", "--severity", "bogus"})
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown severity")
}

func TestRootCmdSubcommands(t *testing.T) {
	root := newRootCmd()

	want := []string{"scan", "report", "findings", "resolve", "stats", "history"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}
