package models

import "testing"

func validFinding() Finding {
	return Finding{
		Service:      ServiceEC2,
		ResourceID:   "sg-12345",
		ResourceName: "web-sg",
		Type:         "Security Group - SSH Open to Internet",
		Severity:     SeverityCritical,
		RiskScore:    9,
		Description:  "Security group web-sg allows SSH (port 22) from 0.0.0.0/0",
	}
}

func TestFindingValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Finding)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Finding) {}},
		{name: "unknown service", mutate: func(f *Finding) { f.Service = "RDS" }, wantErr: true},
		{name: "missing resource id", mutate: func(f *Finding) { f.ResourceID = "" }, wantErr: true},
		{name: "missing type", mutate: func(f *Finding) { f.Type = "" }, wantErr: true},
		{name: "unknown severity", mutate: func(f *Finding) { f.Severity = "urgent" }, wantErr: true},
		{name: "risk score too high", mutate: func(f *Finding) { f.RiskScore = 11 }, wantErr: true},
		{name: "negative risk score", mutate: func(f *Finding) { f.RiskScore = -1 }, wantErr: true},
		{name: "missing description", mutate: func(f *Finding) { f.Description = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validFinding()
			tt.mutate(&f)
			err := f.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFindingDisplayName(t *testing.T) {
	f := validFinding()
	if got := f.DisplayName(); got != "web-sg" {
		t.Errorf("DisplayName() = %q, want %q", got, "web-sg")
	}

	f.ResourceName = ""
	if got := f.DisplayName(); got != "sg-12345" {
		t.Errorf("DisplayName() = %q, want resource id fallback %q", got, "sg-12345")
	}
}

func TestScanTypeServices(t *testing.T) {
	tests := []struct {
		scanType ScanType
		want     []Service
	}{
		{ScanTypeIAM, []Service{ServiceIAM}},
		{ScanTypeS3, []Service{ServiceS3}},
		{ScanTypeEC2, []Service{ServiceEC2}},
		{ScanTypeAll, []Service{ServiceIAM, ServiceS3, ServiceEC2}},
		{ScanType("rds"), nil},
	}

	for _, tt := range tests {
		got := tt.scanType.Services()
		if len(got) != len(tt.want) {
			t.Errorf("%q.Services() = %v, want %v", tt.scanType, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%q.Services()[%d] = %v, want %v", tt.scanType, i, got[i], tt.want[i])
			}
		}
	}
}

func TestCountBySeverity(t *testing.T) {
	findings := []Finding{
		{Severity: SeverityCritical},
		{Severity: SeverityCritical},
		{Severity: SeverityHigh},
		{Severity: SeverityMedium},
		{Severity: SeverityLow},
	}

	counts := CountBySeverity(findings)
	if counts.Critical != 2 || counts.High != 1 || counts.Medium != 1 || counts.Low != 1 {
		t.Errorf("unexpected counts: %+v", counts)
	}
	if counts.Total() != 5 {
		t.Errorf("Total() = %d, want 5", counts.Total())
	}
}

func TestSeverityRankOrder(t *testing.T) {
	for i := 1; i < len(Severities); i++ {
		if Severities[i-1].Rank() >= Severities[i].Rank() {
			t.Errorf("severity %q should rank before %q", Severities[i-1], Severities[i])
		}
	}
}
