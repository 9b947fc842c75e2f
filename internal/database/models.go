package database

import (
	"time"

	"github.com/m-pilli/aws-security-auditor/internal/models"
)

// ScanStatus represents the lifecycle state of a scan record.
type ScanStatus string

// Scan statuses.
const (
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
)

// Scan is a persisted scan record.
type Scan struct {
	StartTime     time.Time
	EndTime       *time.Time
	ScanType      models.ScanType
	Status        ScanStatus
	Counts        models.SeverityCounts
	ID            int64
	FindingsCount int
}

// StoredFinding is a finding as persisted, with row identity and
// resolution state.
type StoredFinding struct {
	CreatedAt time.Time
	Finding   models.Finding
	ID        int64
	ScanID    int64
	Resolved  bool
}

// FindingFilter narrows GetFindings results. Nil fields match everything.
// Resolved findings are excluded unless IncludeResolved is set.
type FindingFilter struct {
	ScanID          *int64
	Service         *models.Service
	Severity        *models.Severity
	IncludeResolved bool
	Limit           int
}

// Statistics summarizes the stored scan history and open findings.
type Statistics struct {
	BySeverity     map[models.Severity]int
	ByService      map[models.Service]int
	TotalScans     int
	TotalFindings  int
	RecentFindings int
}
