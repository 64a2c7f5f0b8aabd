package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/gtm-intel/backend/internal/research"
	"github.com/gtm-intel/backend/internal/storage/models"
	"github.com/gtm-intel/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err = db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err = db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS research_jobs (
		id TEXT PRIMARY KEY,
		goal TEXT NOT NULL,
		search_depth TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		iteration_count INTEGER DEFAULT 0,
		entity_count INTEGER DEFAULT 0,
		finding_count INTEGER DEFAULT 0,
		coverage_score REAL DEFAULT 0,
		quality_score REAL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON research_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_created ON research_jobs(created_at);

	CREATE TABLE IF NOT EXISTS research_entities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		name TEXT NOT NULL,
		domain TEXT NOT NULL,
		source_url TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (job_id) REFERENCES research_jobs(id) ON DELETE CASCADE,
		UNIQUE (job_id, domain)
	);
	CREATE INDEX IF NOT EXISTS idx_entities_job ON research_entities(job_id);

	CREATE TABLE IF NOT EXISTS research_findings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		domain TEXT NOT NULL,
		confidence_score REAL,
		evidence_count INTEGER,
		signal_count INTEGER,
		judgement_json TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (job_id) REFERENCES research_jobs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_findings_job ON research_findings(job_id);

	CREATE TABLE IF NOT EXISTS quality_reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		coverage_score REAL,
		quality_score REAL,
		report_json TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (job_id) REFERENCES research_jobs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_reports_job ON quality_reports(job_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("Database schema initialized")
	return nil
}

func (c *Client) SaveJob(job *models.ResearchJob) error {
	_, err := c.db.Exec(`
		INSERT INTO research_jobs (id, goal, search_depth, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.Goal, job.SearchDepth, job.Status,
		job.CreatedAt.Unix(), job.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (c *Client) UpdateJobStatus(jobID, status, errMsg string) error {
	_, err := c.db.Exec(`
		UPDATE research_jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, time.Now().Unix(), jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

// SaveResult persists the final state of a finished job in one
// transaction. Callers treat this as a fire-and-forget side channel:
// errors are logged, never surfaced to the pipeline.
func (c *Client) SaveResult(jobID, status, errMsg string, st *research.State) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()

	coverage, quality := 0.0, 0.0
	if st.Quality != nil {
		coverage = st.Quality.CoverageScore
		quality = st.Quality.QualityScore
	}

	if _, err := tx.Exec(`
		UPDATE research_jobs
		SET status = ?, error = ?, iteration_count = ?, entity_count = ?,
		    finding_count = ?, coverage_score = ?, quality_score = ?,
		    updated_at = ?, completed_at = ?
		WHERE id = ?`,
		status, errMsg, st.Iteration, len(st.Entities), len(st.Findings),
		coverage, quality, now, now, jobID,
	); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	for _, e := range st.Entities {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO research_entities (job_id, name, domain, source_url, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			jobID, e.Name, e.Domain, e.SourceURL, now,
		); err != nil {
			return fmt.Errorf("failed to save entity %s: %w", e.Domain, err)
		}
	}

	for _, f := range st.Findings {
		judgement, err := json.Marshal(f.Judgement)
		if err != nil {
			judgement = []byte("{}")
		}
		if _, err := tx.Exec(`
			INSERT INTO research_findings (job_id, domain, confidence_score, evidence_count, signal_count, judgement_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			jobID, f.Domain, f.ConfidenceScore, f.EvidenceCount, f.SignalCount, string(judgement), now,
		); err != nil {
			return fmt.Errorf("failed to save finding %s: %w", f.Domain, err)
		}
	}

	if st.Quality != nil {
		report, err := json.Marshal(st.Quality)
		if err != nil {
			report = []byte("{}")
		}
		if _, err := tx.Exec(`
			INSERT INTO quality_reports (job_id, iteration, coverage_score, quality_score, report_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			jobID, st.Iteration, coverage, quality, string(report), now,
		); err != nil {
			return fmt.Errorf("failed to save quality report: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	logger.Debug("Job result persisted",
		zap.String("job_id", jobID),
		zap.Int("entities", len(st.Entities)),
		zap.Int("findings", len(st.Findings)),
	)
	return nil
}

func (c *Client) GetJob(jobID string) (*models.ResearchJob, error) {
	row := c.db.QueryRow(`
		SELECT id, goal, search_depth, status, COALESCE(error, ''),
		       iteration_count, entity_count, finding_count,
		       coverage_score, quality_score, created_at, updated_at, completed_at
		FROM research_jobs WHERE id = ?`, jobID)

	var job models.ResearchJob
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64

	err := row.Scan(&job.ID, &job.Goal, &job.SearchDepth, &job.Status, &job.Error,
		&job.IterationCount, &job.EntityCount, &job.FindingCount,
		&job.CoverageScore, &job.QualityScore, &createdAt, &updatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.CreatedAt = time.Unix(createdAt, 0)
	job.UpdatedAt = time.Unix(updatedAt, 0)
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		job.CompletedAt = &t
	}

	return &job, nil
}

func (c *Client) ListJobs(limit int) ([]models.ResearchJob, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := c.db.Query(`
		SELECT id, goal, search_depth, status, COALESCE(error, ''),
		       iteration_count, entity_count, finding_count,
		       coverage_score, quality_score, created_at, updated_at
		FROM research_jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.ResearchJob
	for rows.Next() {
		var job models.ResearchJob
		var createdAt, updatedAt int64
		if err := rows.Scan(&job.ID, &job.Goal, &job.SearchDepth, &job.Status, &job.Error,
			&job.IterationCount, &job.EntityCount, &job.FindingCount,
			&job.CoverageScore, &job.QualityScore, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		job.CreatedAt = time.Unix(createdAt, 0)
		job.UpdatedAt = time.Unix(updatedAt, 0)
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

func (c *Client) GetEntities(jobID string) ([]models.ResearchEntity, error) {
	rows, err := c.db.Query(`
		SELECT id, job_id, name, domain, COALESCE(source_url, ''), created_at
		FROM research_entities WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get entities: %w", err)
	}
	defer rows.Close()

	var entities []models.ResearchEntity
	for rows.Next() {
		var e models.ResearchEntity
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.JobID, &e.Name, &e.Domain, &e.SourceURL, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		entities = append(entities, e)
	}

	return entities, rows.Err()
}

// GetQualityReports returns one row per finished pass that produced a
// quality report, oldest first.
func (c *Client) GetQualityReports(jobID string) ([]models.QualityReportRecord, error) {
	rows, err := c.db.Query(`
		SELECT id, job_id, iteration, coverage_score, quality_score,
		       COALESCE(report_json, '{}'), created_at
		FROM quality_reports WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get quality reports: %w", err)
	}
	defer rows.Close()

	var reports []models.QualityReportRecord
	for rows.Next() {
		var r models.QualityReportRecord
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.JobID, &r.Iteration, &r.CoverageScore,
			&r.QualityScore, &r.ReportJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan quality report: %w", err)
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		reports = append(reports, r)
	}

	return reports, rows.Err()
}

func (c *Client) GetFindings(jobID string) ([]models.ResearchFinding, error) {
	rows, err := c.db.Query(`
		SELECT id, job_id, domain, confidence_score, evidence_count, signal_count,
		       COALESCE(judgement_json, '{}'), created_at
		FROM research_findings WHERE job_id = ? ORDER BY confidence_score DESC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get findings: %w", err)
	}
	defer rows.Close()

	var findings []models.ResearchFinding
	for rows.Next() {
		var f models.ResearchFinding
		var createdAt int64
		if err := rows.Scan(&f.ID, &f.JobID, &f.Domain, &f.ConfidenceScore,
			&f.EvidenceCount, &f.SignalCount, &f.JudgementJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		f.CreatedAt = time.Unix(createdAt, 0)
		findings = append(findings, f)
	}

	return findings, rows.Err()
}
