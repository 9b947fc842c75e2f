// Package models contains the data structures shared by the checkers,
// orchestrator, findings store, and notifier.
package models

import "fmt"

// Service identifies the AWS service a finding belongs to.
type Service string

// Audited AWS services.
const (
	ServiceIAM Service = "IAM"
	ServiceS3  Service = "S3"
	ServiceEC2 Service = "EC2"
)

// Valid reports whether s is a known service.
func (s Service) Valid() bool {
	switch s {
	case ServiceIAM, ServiceS3, ServiceEC2:
		return true
	}
	return false
}

// ScanType selects which checkers a scan runs.
type ScanType string

// Scan types accepted by the orchestrator.
const (
	ScanTypeIAM ScanType = "iam"
	ScanTypeS3  ScanType = "s3"
	ScanTypeEC2 ScanType = "ec2"
	ScanTypeAll ScanType = "all"
)

// Valid reports whether t is a known scan type.
func (t ScanType) Valid() bool {
	switch t {
	case ScanTypeIAM, ScanTypeS3, ScanTypeEC2, ScanTypeAll:
		return true
	}
	return false
}

// Services expands the scan type to the checkers it covers, in the fixed
// reporting order iam, s3, ec2.
func (t ScanType) Services() []Service {
	switch t {
	case ScanTypeIAM:
		return []Service{ServiceIAM}
	case ScanTypeS3:
		return []Service{ServiceS3}
	case ScanTypeEC2:
		return []Service{ServiceEC2}
	case ScanTypeAll:
		return []Service{ServiceIAM, ServiceS3, ServiceEC2}
	}
	return nil
}

// Finding is one detected misconfiguration. Checkers produce findings with
// no identity; the findings store assigns IDs on persistence.
type Finding struct {
	Service        Service        `json:"service"`
	ResourceID     string         `json:"resource_id"`
	ResourceName   string         `json:"resource_name"`
	Type           string         `json:"finding_type"`
	Severity       Severity       `json:"severity"`
	RiskScore      int            `json:"risk_score"`
	Description    string         `json:"description"`
	Recommendation string         `json:"recommendation,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// Validate checks the finding invariants: known service and severity, a risk
// score between 0 and 10, and the required identifying fields.
func (f *Finding) Validate() error {
	if !f.Service.Valid() {
		return fmt.Errorf("finding has unknown service %q", f.Service)
	}
	if f.ResourceID == "" {
		return fmt.Errorf("finding missing required field: resource_id")
	}
	if f.Type == "" {
		return fmt.Errorf("finding missing required field: finding_type")
	}
	if !f.Severity.Valid() {
		return fmt.Errorf("finding has unknown severity %q", f.Severity)
	}
	if f.RiskScore < 0 || f.RiskScore > 10 {
		return fmt.Errorf("finding risk score %d out of range [0,10]", f.RiskScore)
	}
	if f.Description == "" {
		return fmt.Errorf("finding missing required field: description")
	}
	return nil
}

// DisplayName returns the human label for the finding's resource, falling
// back to the resource ID when no friendly name exists.
func (f *Finding) DisplayName() string {
	if f.ResourceName != "" {
		return f.ResourceName
	}
	return f.ResourceID
}
