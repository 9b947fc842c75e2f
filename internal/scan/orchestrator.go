// Package scan coordinates checker execution and persists the results as a
// scan record with findings.
package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/m-pilli/aws-security-auditor/internal/checker"
	"github.com/m-pilli/aws-security-auditor/internal/models"
	"github.com/m-pilli/aws-security-auditor/internal/notify"
	"github.com/m-pilli/aws-security-auditor/pkg/logger"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	CreateScan(ctx context.Context, scanType models.ScanType) (int64, error)
	BatchInsertFindings(ctx context.Context, scanID int64, findings []models.Finding) error
	CompleteScan(ctx context.Context, scanID int64, counts models.SeverityCounts) error
	FailScan(ctx context.Context, scanID int64) error
}

// Result summarizes a finished scan.
type Result struct {
	ScanType models.ScanType
	Findings []models.Finding
	Degraded []models.Service
	Counts   models.SeverityCounts
	ScanID   int64
	Duration time.Duration
}

// Orchestrator runs checkers concurrently and persists their findings.
type Orchestrator struct {
	store        Store
	notifier     notify.Notifier
	log          logger.Logger
	checkers     []checker.Checker
	maxWorkers   int
	checkTimeout time.Duration
}

// NewOrchestrator creates an orchestrator over the given checkers.
func NewOrchestrator(store Store, notifier notify.Notifier, log logger.Logger, checkers ...checker.Checker) *Orchestrator {
	return &Orchestrator{
		store:        store,
		notifier:     notifier,
		log:          log,
		checkers:     checkers,
		maxWorkers:   3,
		checkTimeout: 10 * time.Minute,
	}
}

// SetMaxWorkers sets the maximum number of checkers running concurrently.
func (o *Orchestrator) SetMaxWorkers(n int) {
	if n < 1 {
		n = 1
	}
	o.maxWorkers = n
}

// SetCheckTimeout sets the timeout applied to each checker individually.
func (o *Orchestrator) SetCheckTimeout(timeout time.Duration) {
	o.checkTimeout = timeout
}

type serviceResult struct {
	err      error
	service  models.Service
	findings []models.Finding
}

// Run executes the checkers covered by scanType, persists the findings, and
// notifies. Checker errors degrade the result but do not fail the scan; the
// scan is marked failed only when persistence fails.
func (o *Orchestrator) Run(ctx context.Context, scanType models.ScanType) (*Result, error) {
	services := scanType.Services()
	if services == nil {
		return nil, fmt.Errorf("unknown scan type %q", scanType)
	}

	selected := o.selectCheckers(services)
	if len(selected) == 0 {
		return nil, fmt.Errorf("no checkers available for scan type %q", scanType)
	}

	scanID, err := o.store.CreateScan(ctx, scanType)
	if err != nil {
		return nil, fmt.Errorf("creating scan record: %w", err)
	}

	start := time.Now()
	o.log.Info("starting scan", "scan_id", scanID, "type", scanType)

	byService, degraded := o.runCheckers(ctx, selected)

	// Reassemble in the fixed service order so scans are deterministic
	// regardless of which checker finished first.
	var findings []models.Finding
	for _, service := range services {
		findings = append(findings, byService[service]...)
	}

	if err := o.store.BatchInsertFindings(ctx, scanID, findings); err != nil {
		o.failScan(ctx, scanID)
		return nil, fmt.Errorf("persisting findings: %w", err)
	}

	counts := models.CountBySeverity(findings)
	if err := o.store.CompleteScan(ctx, scanID, counts); err != nil {
		return nil, fmt.Errorf("completing scan: %w", err)
	}

	duration := time.Since(start)
	o.log.Info("scan completed",
		"scan_id", scanID,
		"type", scanType,
		"findings", len(findings),
		"critical", counts.Critical,
		"high", counts.High,
		"degraded_services", len(degraded),
		"duration", duration,
	)

	if o.notifier != nil {
		if err := o.notifier.Notify(ctx, findings); err != nil {
			// An undelivered alert must not fail a completed scan.
			o.log.Error("notification failed", "scan_id", scanID, "error", err)
		}
	}

	return &Result{
		ScanID:   scanID,
		ScanType: scanType,
		Findings: findings,
		Counts:   counts,
		Degraded: degraded,
		Duration: duration,
	}, nil
}

func (o *Orchestrator) selectCheckers(services []models.Service) []checker.Checker {
	wanted := make(map[models.Service]bool, len(services))
	for _, s := range services {
		wanted[s] = true
	}

	var selected []checker.Checker
	for _, c := range o.checkers {
		if wanted[c.Service()] {
			selected = append(selected, c)
		}
	}
	return selected
}

// runCheckers fans the checkers out over a bounded worker pool and gathers
// findings per service. Degraded lists the services whose checker reported
// an error.
func (o *Orchestrator) runCheckers(ctx context.Context, checkers []checker.Checker) (map[models.Service][]models.Finding, []models.Service) {
	jobs := make(chan checker.Checker, len(checkers))
	results := make(chan serviceResult, len(checkers))

	var wg sync.WaitGroup
	for i := 0; i < o.maxWorkers && i < len(checkers); i++ {
		wg.Add(1)
		go o.worker(ctx, &wg, jobs, results)
	}

	go func() {
		for _, c := range checkers {
			select {
			case jobs <- c:
			case <-ctx.Done():
				close(jobs)
				return
			}
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	byService := make(map[models.Service][]models.Finding, len(checkers))
	degradedSet := make(map[models.Service]bool)

	for result := range results {
		byService[result.service] = result.findings
		if result.err != nil {
			degradedSet[result.service] = true
		}
	}

	var degraded []models.Service
	for _, c := range checkers {
		if degradedSet[c.Service()] {
			degraded = append(degraded, c.Service())
		}
	}

	return byService, degraded
}

func (o *Orchestrator) worker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan checker.Checker, results chan<- serviceResult) {
	defer wg.Done()

	for c := range jobs {
		checkCtx, cancel := context.WithTimeout(ctx, o.checkTimeout)

		o.log.Info("running checker", "service", c.Service())
		findings, err := c.Run(checkCtx)

		cancel()

		if err != nil {
			o.log.Error("checker degraded", "service", c.Service(), "error", err)
		}

		select {
		case results <- serviceResult{service: c.Service(), findings: findings, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) failScan(ctx context.Context, scanID int64) {
	if err := o.store.FailScan(ctx, scanID); err != nil {
		o.log.Error("marking scan failed", "scan_id", scanID, "error", err)
	}
}
