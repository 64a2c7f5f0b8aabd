package models

import "time"

type ResearchJob struct {
	ID             string
	Goal           string
	SearchDepth    string
	Status         string
	Error          string
	IterationCount int
	EntityCount    int
	FindingCount   int
	CoverageScore  float64
	QualityScore   float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

type ResearchEntity struct {
	ID        int
	JobID     string
	Name      string
	Domain    string
	SourceURL string
	CreatedAt time.Time
}

type ResearchFinding struct {
	ID              int
	JobID           string
	Domain          string
	ConfidenceScore float64
	EvidenceCount   int
	SignalCount     int
	JudgementJSON   string
	CreatedAt       time.Time
}

type QualityReportRecord struct {
	ID            int
	JobID         string
	Iteration     int
	CoverageScore float64
	QualityScore  float64
	ReportJSON    string
	CreatedAt     time.Time
}
