// Package tracking defines the client-side experiment tracking domain
// model and the Store contract the bridge implements. The types mirror the
// entities a generic tracking client exchanges with its backing store;
// timestamps are epoch milliseconds throughout.
package tracking

import "fmt"

// ViewType qualifies which experiments or runs a listing should include.
type ViewType int

const (
	ViewTypeActiveOnly ViewType = iota + 1
	ViewTypeDeletedOnly
	ViewTypeAll
)

// LifecycleStage marks an entity as active or soft-deleted.
type LifecycleStage string

const (
	LifecycleStageActive  LifecycleStage = "active"
	LifecycleStageDeleted LifecycleStage = "deleted"
)

// RunStatus is the tracking-side run state vocabulary.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusFinished  RunStatus = "FINISHED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusScheduled RunStatus = "SCHEDULED"
	RunStatusKilled    RunStatus = "KILLED"
)

// Well-known tag keys with meaning to tracking clients.
const (
	TagRunName     = "mlflow.runName"
	TagParentRunID = "mlflow.parentRunId"
)

// Experiment is a named collection of runs.
type Experiment struct {
	ExperimentID     string
	Name             string
	ArtifactLocation string
	LifecycleStage   LifecycleStage
}

// ExperimentTag annotates an experiment.
type ExperimentTag struct {
	Key   string
	Value string
}

// RunInfo is the metadata of a run.
type RunInfo struct {
	RunID          string
	ExperimentID   string
	UserID         string
	Status         RunStatus
	StartTime      int64
	EndTime        *int64
	LifecycleStage LifecycleStage
	ArtifactURI    string
}

// RunData holds the values logged against a run.
type RunData struct {
	Metrics []Metric
	Params  []Param
	Tags    []RunTag
}

// Run pairs a run's metadata with its logged data.
type Run struct {
	Info RunInfo
	Data RunData
}

// Metric is one logged value of a named metric.
type Metric struct {
	Key       string
	Value     float64
	Timestamp int64
	Step      int
}

// Param is a logged hyperparameter.
type Param struct {
	Key   string
	Value string
}

// RunTag annotates a run.
type RunTag struct {
	Key   string
	Value string
}

// FileInfo describes one artifact below a run's artifact root. FileSize is
// nil for directories.
type FileInfo struct {
	Path     string
	IsDir    bool
	FileSize *int64
}

// Error is the store-level failure type surfaced to tracking clients. All
// backend and validation failures are mapped into it.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Errorf builds a store Error from a format string.
func Errorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}
