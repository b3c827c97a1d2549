// Package leads defines core types shared across subsystems.
package leads

import "time"

// JobKind identifies which queue a job belongs to.
type JobKind string

// Job kinds; each kind has its own single-flight queue.
const (
	KindScrape JobKind = "scrape"
	KindVerify JobKind = "verification"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the status is a final state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ScrapeParameters describes a browser-scrape job payload.
type ScrapeParameters struct {
	TargetURL string `json:"target_url"`
	Pages     int    `json:"pages"`
	ProfileID string `json:"profile_id,omitempty"`
	Enrich    bool   `json:"enrich,omitempty"`
}

// VerifyParameters describes an email-verification job payload.
type VerifyParameters struct {
	Emails []string `json:"emails"`
}

// Progress tracks processed/total counts for a running job.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// Job represents the metadata persisted for each submitted request.
type Job struct {
	ID        string            `json:"id"`
	OwnerID   string            `json:"owner_id"`
	Kind      JobKind           `json:"kind"`
	Status    JobStatus         `json:"status"`
	Submitted time.Time         `json:"submitted_at"`
	Started   *time.Time        `json:"started_at,omitempty"`
	Finished  *time.Time        `json:"finished_at,omitempty"`
	ErrorText string            `json:"error_text,omitempty"`
	Scrape    *ScrapeParameters `json:"scrape,omitempty"`
	Verify    *VerifyParameters `json:"verify,omitempty"`
	Progress  Progress          `json:"progress"`
	ResultURI string            `json:"result_uri,omitempty"`
}

// Lead is one extracted contact row persisted per scrape job.
type Lead struct {
	JobID       string    `json:"job_id"`
	Name        string    `json:"name"`
	Title       string    `json:"title"`
	Company     string    `json:"company"`
	CompanyURL  string    `json:"company_url,omitempty"`
	CompanyInfo string    `json:"company_info,omitempty"`
	Email       string    `json:"email"`
	LinkedIn    string    `json:"linkedin,omitempty"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

// Classification is the normalized verdict for a verified email.
type Classification string

// Classifications mapped from the provider's ok/ko/mb codes.
const (
	ClassValid    Classification = "valid"
	ClassInvalid  Classification = "invalid"
	ClassCatchall Classification = "catchall"
	ClassUnknown  Classification = "unknown"
)

// VerificationResult is persisted per verified email.
type VerificationResult struct {
	JobID          string         `json:"job_id"`
	Email          string         `json:"email"`
	Classification Classification `json:"classification"`
	ProviderCode   string         `json:"provider_code,omitempty"`
	CheckedAt      time.Time      `json:"checked_at"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	OwnerID   string
	Kind      JobKind
	Attempt   int
	Submitted int64
}

// QueueSnapshot reports the live state of one queue.
type QueueSnapshot struct {
	Name        string `json:"name"`
	Running     bool   `json:"running"`
	Processing  bool   `json:"processing"`
	ActiveJobID string `json:"active_job_id,omitempty"`
	Depth       int    `json:"depth"`
}

// RunOutcome summarizes one runner execution.
type RunOutcome struct {
	Processed int
	Total     int
	Cancelled bool
}

// CompletionEvent is published when a job reaches a terminal state.
type CompletionEvent struct {
	JobID      string    `json:"job_id"`
	OwnerID    string    `json:"owner_id"`
	Kind       JobKind   `json:"kind"`
	Status     JobStatus `json:"status"`
	Processed  int       `json:"processed"`
	Total      int       `json:"total"`
	FinishedAt time.Time `json:"finished_at"`
}

// Role is the authorization level of a user.
type Role string

// Roles returned by the Authorizer.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)
