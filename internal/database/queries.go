package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/m-pilli/aws-security-auditor/internal/models"
)

// ErrNotFound is returned when a scan or finding does not exist.
var ErrNotFound = errors.New("not found")

// CreateScan records the start of a scan and returns its ID.
func (db *DB) CreateScan(ctx context.Context, scanType models.ScanType) (int64, error) {
	if !scanType.Valid() {
		return 0, fmt.Errorf("invalid scan type %q", scanType)
	}

	query := `
		INSERT INTO scans (scan_type, start_time, status)
		VALUES (?, ?, ?)
	`

	result, err := db.ExecContext(ctx, query, scanType, time.Now().UTC(), ScanStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("inserting scan: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting last insert id: %w", err)
	}

	return id, nil
}

// CompleteScan marks a scan as completed and records its finding tallies.
func (db *DB) CompleteScan(ctx context.Context, scanID int64, counts models.SeverityCounts) error {
	query := `
		UPDATE scans
		SET status = ?, end_time = ?, findings_count = ?,
		    critical_count = ?, high_count = ?, medium_count = ?, low_count = ?
		WHERE id = ?
	`

	result, err := db.ExecContext(ctx, query,
		ScanStatusCompleted,
		time.Now().UTC(),
		counts.Total(),
		counts.Critical,
		counts.High,
		counts.Medium,
		counts.Low,
		scanID,
	)
	if err != nil {
		return fmt.Errorf("completing scan: %w", err)
	}

	return requireRowsAffected(result, scanID)
}

// FailScan marks a scan as failed without touching its tallies.
func (db *DB) FailScan(ctx context.Context, scanID int64) error {
	query := `
		UPDATE scans
		SET status = ?, end_time = ?
		WHERE id = ?
	`

	result, err := db.ExecContext(ctx, query, ScanStatusFailed, time.Now().UTC(), scanID)
	if err != nil {
		return fmt.Errorf("failing scan: %w", err)
	}

	return requireRowsAffected(result, scanID)
}

func requireRowsAffected(result sql.Result, scanID int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("scan %d: %w", scanID, ErrNotFound)
	}

	return nil
}

// AddFinding persists a single finding under the given scan.
func (db *DB) AddFinding(ctx context.Context, scanID int64, finding models.Finding) (int64, error) {
	if err := finding.Validate(); err != nil {
		return 0, fmt.Errorf("validating finding: %w", err)
	}

	detailsJSON, err := marshalDetails(finding.Details)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO findings (scan_id, service, resource_id, resource_name,
		                      finding_type, severity, risk_score, description,
		                      recommendation, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.ExecContext(ctx, query,
		scanID,
		finding.Service,
		finding.ResourceID,
		finding.ResourceName,
		finding.Type,
		finding.Severity,
		finding.RiskScore,
		finding.Description,
		finding.Recommendation,
		detailsJSON,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting finding: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting last insert id: %w", err)
	}

	return id, nil
}

// BatchInsertFindings inserts multiple findings for a scan efficiently.
func (db *DB) BatchInsertFindings(ctx context.Context, scanID int64, findings []models.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	// Chunked so very large scans stay under SQLite statement limits.
	const chunkSize = 500

	for i := 0; i < len(findings); i += chunkSize {
		end := i + chunkSize
		if end > len(findings) {
			end = len(findings)
		}

		if err := db.insertFindingChunk(ctx, scanID, findings[i:end]); err != nil {
			return fmt.Errorf("inserting chunk %d-%d: %w", i, end, err)
		}
	}

	return nil
}

func (db *DB) insertFindingChunk(ctx context.Context, scanID int64, findings []models.Finding) error {
	return db.InTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO findings (scan_id, service, resource_id, resource_name,
			                      finding_type, severity, risk_score, description,
			                      recommendation, details, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing statement: %w", err)
		}
		defer func() {
			_ = stmt.Close()
		}()

		now := time.Now().UTC()
		for _, finding := range findings {
			if err := finding.Validate(); err != nil {
				return fmt.Errorf("validating finding: %w", err)
			}

			detailsJSON, err := marshalDetails(finding.Details)
			if err != nil {
				return err
			}

			_, err = stmt.ExecContext(ctx,
				scanID,
				finding.Service,
				finding.ResourceID,
				finding.ResourceName,
				finding.Type,
				finding.Severity,
				finding.RiskScore,
				finding.Description,
				finding.Recommendation,
				detailsJSON,
				now,
			)
			if err != nil {
				return fmt.Errorf("inserting finding: %w", err)
			}
		}

		return nil
	})
}

func marshalDetails(details map[string]any) (any, error) {
	if details == nil {
		return nil, nil
	}

	data, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshaling details: %w", err)
	}

	return string(data), nil
}

// GetScan retrieves a scan by ID.
func (db *DB) GetScan(ctx context.Context, scanID int64) (*Scan, error) {
	query := `
		SELECT id, scan_type, start_time, end_time, status, findings_count,
		       critical_count, high_count, medium_count, low_count
		FROM scans
		WHERE id = ?
	`

	scan, err := scanScanRow(db.QueryRowContext(ctx, query, scanID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan %d: %w", scanID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying scan: %w", err)
	}

	return scan, nil
}

// GetLatestScan returns the most recent scan, optionally restricted to a
// scan type. An empty scan type matches any scan.
func (db *DB) GetLatestScan(ctx context.Context, scanType models.ScanType) (*Scan, error) {
	query := `
		SELECT id, scan_type, start_time, end_time, status, findings_count,
		       critical_count, high_count, medium_count, low_count
		FROM scans
	`
	var args []any
	if scanType != "" {
		query += ` WHERE scan_type = ?`
		args = append(args, scanType)
	}
	query += ` ORDER BY id DESC LIMIT 1`

	scan, err := scanScanRow(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest scan: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest scan: %w", err)
	}

	return scan, nil
}

// ListScans returns scans ordered most recent first. A limit of 0 returns
// all scans.
func (db *DB) ListScans(ctx context.Context, limit int) ([]*Scan, error) {
	query := `
		SELECT id, scan_type, start_time, end_time, status, findings_count,
		       critical_count, high_count, medium_count, low_count
		FROM scans
		ORDER BY id DESC
	`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying scans: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var scans []*Scan
	for rows.Next() {
		scan, err := scanScanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scan row: %w", err)
		}
		scans = append(scans, scan)
	}

	return scans, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScanRow(row rowScanner) (*Scan, error) {
	scan := &Scan{}
	var endTime sql.NullTime

	err := row.Scan(
		&scan.ID,
		&scan.ScanType,
		&scan.StartTime,
		&endTime,
		&scan.Status,
		&scan.FindingsCount,
		&scan.Counts.Critical,
		&scan.Counts.High,
		&scan.Counts.Medium,
		&scan.Counts.Low,
	)
	if err != nil {
		return nil, err
	}

	if endTime.Valid {
		t := endTime.Time
		scan.EndTime = &t
	}

	return scan, nil
}

// GetFindings returns findings matching the filter, highest risk first and
// newest first within equal risk.
func (db *DB) GetFindings(ctx context.Context, filter FindingFilter) ([]*StoredFinding, error) {
	query := `
		SELECT id, scan_id, service, resource_id, resource_name, finding_type,
		       severity, risk_score, description, recommendation, details,
		       created_at, resolved
		FROM findings
		WHERE 1=1
	`
	var args []any

	if filter.ScanID != nil {
		query += ` AND scan_id = ?`
		args = append(args, *filter.ScanID)
	}
	if filter.Service != nil {
		query += ` AND service = ?`
		args = append(args, *filter.Service)
	}
	if filter.Severity != nil {
		query += ` AND severity = ?`
		args = append(args, *filter.Severity)
	}
	if !filter.IncludeResolved {
		query += ` AND resolved = 0`
	}

	query += ` ORDER BY risk_score DESC, created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying findings: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var findings []*StoredFinding
	for rows.Next() {
		finding, err := scanFindingRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning finding row: %w", err)
		}
		findings = append(findings, finding)
	}

	return findings, rows.Err()
}

func scanFindingRow(row rowScanner) (*StoredFinding, error) {
	sf := &StoredFinding{}
	var resourceName, recommendation, details sql.NullString

	err := row.Scan(
		&sf.ID,
		&sf.ScanID,
		&sf.Finding.Service,
		&sf.Finding.ResourceID,
		&resourceName,
		&sf.Finding.Type,
		&sf.Finding.Severity,
		&sf.Finding.RiskScore,
		&sf.Finding.Description,
		&recommendation,
		&details,
		&sf.CreatedAt,
		&sf.Resolved,
	)
	if err != nil {
		return nil, err
	}

	sf.Finding.ResourceName = resourceName.String
	sf.Finding.Recommendation = recommendation.String

	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &sf.Finding.Details); err != nil {
			return nil, fmt.Errorf("unmarshaling details: %w", err)
		}
	}

	return sf, nil
}

// ResolveFinding marks a finding as resolved. Resolving an already resolved
// finding is a no-op.
func (db *DB) ResolveFinding(ctx context.Context, findingID int64) error {
	result, err := db.ExecContext(ctx, `UPDATE findings SET resolved = 1 WHERE id = ?`, findingID)
	if err != nil {
		return fmt.Errorf("resolving finding: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("finding %d: %w", findingID, ErrNotFound)
	}

	return nil
}

// GetStatistics summarizes scans and unresolved findings.
func (db *DB) GetStatistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		BySeverity: make(map[models.Severity]int),
		ByService:  make(map[models.Service]int),
	}

	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scans`).Scan(&stats.TotalScans); err != nil {
		return nil, fmt.Errorf("counting scans: %w", err)
	}

	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM findings WHERE resolved = 0`).Scan(&stats.TotalFindings); err != nil {
		return nil, fmt.Errorf("counting findings: %w", err)
	}

	if err := db.countGroups(ctx,
		`SELECT severity, COUNT(*) FROM findings WHERE resolved = 0 GROUP BY severity`,
		func(key string, count int) {
			stats.BySeverity[models.Severity(key)] = count
		},
	); err != nil {
		return nil, fmt.Errorf("counting by severity: %w", err)
	}

	if err := db.countGroups(ctx,
		`SELECT service, COUNT(*) FROM findings WHERE resolved = 0 GROUP BY service`,
		func(key string, count int) {
			stats.ByService[models.Service(key)] = count
		},
	); err != nil {
		return nil, fmt.Errorf("counting by service: %w", err)
	}

	recentQuery := `
		SELECT COUNT(*) FROM findings
		WHERE resolved = 0 AND datetime(created_at) >= datetime('now', '-7 days')
	`
	if err := db.QueryRowContext(ctx, recentQuery).Scan(&stats.RecentFindings); err != nil {
		return nil, fmt.Errorf("counting recent findings: %w", err)
	}

	return stats, nil
}

func (db *DB) countGroups(ctx context.Context, query string, record func(key string, count int)) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		record(key, count)
	}

	return rows.Err()
}
