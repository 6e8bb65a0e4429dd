package experiment

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of an experiment run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusFinished  RunStatus = "finished"
	RunStatusFailed    RunStatus = "failed"
	RunStatusScheduled RunStatus = "scheduled"
	RunStatusKilled    RunStatus = "killed"
)

// RunStatuses lists every valid run status.
var RunStatuses = []RunStatus{
	RunStatusRunning,
	RunStatusFinished,
	RunStatusFailed,
	RunStatusScheduled,
	RunStatusKilled,
}

// ParseRunStatus returns the RunStatus matching the given lower-cased
// literal, or false if it is not one of the fixed set.
func ParseRunStatus(s string) (RunStatus, bool) {
	for _, status := range RunStatuses {
		if string(status) == s {
			return status, true
		}
	}
	return "", false
}

// LifecycleStage qualifies experiments and runs as active or deleted.
type LifecycleStage string

const (
	LifecycleStageActive  LifecycleStage = "active"
	LifecycleStageDeleted LifecycleStage = "deleted"
)

// Experiment is an experiment as stored by the platform.
type Experiment struct {
	ID               int        `json:"experimentId"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	ArtifactLocation string     `json:"artifactLocation"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastUpdatedAt    time.Time  `json:"lastUpdatedAt"`
	DeletedAt        *time.Time `json:"deletedAt,omitempty"`
}

// Run is a single execution of an experiment.
type Run struct {
	ID               uuid.UUID  `json:"runId"`
	RunNumber        int        `json:"runNumber"`
	Name             string     `json:"name"`
	ParentRunID      *uuid.UUID `json:"parentRunId,omitempty"`
	ExperimentID     int        `json:"experimentId"`
	ArtifactLocation string     `json:"artifactLocation"`
	Status           RunStatus  `json:"status"`
	StartedAt        time.Time  `json:"startedAt"`
	EndedAt          *time.Time `json:"endedAt,omitempty"`
	DeletedAt        *time.Time `json:"deletedAt,omitempty"`
	Tags             []Tag      `json:"tags"`
	Params           []Param    `json:"params"`
	Metrics          []Metric   `json:"metrics"`
}

// Metric is one logged value of a named metric.
type Metric struct {
	Key       string    `json:"key"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Step      int       `json:"step"`
}

// Param is a logged hyperparameter. Params are write-once per run.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Tag is an arbitrary key/value annotation on a run.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Page describes one window of a paginated listing.
type Page struct {
	Start int `json:"start"`
	Limit int `json:"limit"`
}

// Pagination carries the cursors around the current page. Previous and Next
// are nil at the edges of the result set.
type Pagination struct {
	Start    int   `json:"start"`
	Size     int   `json:"size"`
	Previous *Page `json:"previous,omitempty"`
	Next     *Page `json:"next,omitempty"`
}

// QueryRunsResponse is one page of runs matching a query.
type QueryRunsResponse struct {
	Runs       []Run
	Pagination Pagination
}

// DeleteRunsResponse reports the outcome of a bulk run deletion. Runs that
// were already deleted are conflicted rather than failed.
type DeleteRunsResponse struct {
	DeletedRunIDs    []uuid.UUID `json:"deletedRunIds"`
	ConflictedRunIDs []uuid.UUID `json:"conflictedRunIds"`
}

// RestoreRunsResponse reports the outcome of a bulk run restoration.
type RestoreRunsResponse struct {
	RestoredRunIDs   []uuid.UUID `json:"restoredRunIds"`
	ConflictedRunIDs []uuid.UUID `json:"conflictedRunIds"`
}
