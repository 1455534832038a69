package domain

import "time"

// CharacterDescriptor identifies one character to onboard.
type CharacterDescriptor struct {
	Name string `json:"name"`
}

// BulkLoadRequest is the shape the surrounding API layer submits. Zero
// BatchSize/MaxConcurrent fall back to configured defaults.
type BulkLoadRequest struct {
	Characters    []CharacterDescriptor `json:"characters"`
	Server        string                `json:"server"`
	World         string                `json:"world"`
	BatchSize     int                   `json:"batch_size"`
	MaxConcurrent int                   `json:"max_concurrent"`
}

// BulkLoadOptions tunes a bulk load run.
type BulkLoadOptions struct {
	BatchSize            int
	MaxConcurrent        int
	DelayBetweenBatches  time.Duration
	DelayBetweenRequests time.Duration
	MaxRetries           int
	RetryDelay           time.Duration
}

// BulkLoadReport aggregates one bulk load run. Errors holds at most the
// first few failure messages; Failed counts all of them.
type BulkLoadReport struct {
	TotalProcessed int           `json:"total_processed"`
	Successful     int           `json:"successful"`
	Failed         int           `json:"failed"`
	Skipped        int           `json:"skipped"`
	Duration       time.Duration `json:"duration"`
	Errors         []string      `json:"errors"`
}

// RecoveryReport is the structured end-of-run report of one scheduler pass.
type RecoveryReport struct {
	Processed        int
	Succeeded        int
	Failed           int
	Deactivated      int
	Failures         []string
	NewlyDeactivated []string
	Duration         time.Duration
	StartedAt        time.Time
}

// SchedulerStatus is the introspection surface exposed to the service layer.
type SchedulerStatus struct {
	Running bool       `json:"running"`
	LastRun *time.Time `json:"last_run"`
	NextRun *time.Time `json:"next_run"`
	JobList []string   `json:"job_list"`
}
