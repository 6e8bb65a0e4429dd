package tracking

import "context"

// Store is the persistence contract a tracking client programs against.
// Implementations translate these operations onto a concrete backend.
type Store interface {
	// ListExperiments returns the experiments visible under the view type.
	ListExperiments(ctx context.Context, viewType ViewType) ([]Experiment, error)

	// CreateExperiment creates a named experiment and returns its ID. An
	// empty artifactLocation leaves the location backend-assigned.
	CreateExperiment(ctx context.Context, name, artifactLocation string) (string, error)

	// GetExperiment fetches one experiment by ID.
	GetExperiment(ctx context.Context, experimentID string) (Experiment, error)

	// DeleteExperiment soft-deletes an experiment.
	DeleteExperiment(ctx context.Context, experimentID string) error

	// RestoreExperiment restores a soft-deleted experiment.
	RestoreExperiment(ctx context.Context, experimentID string) error

	// RenameExperiment updates an experiment's name. The new name must be
	// unique within the project.
	RenameExperiment(ctx context.Context, experimentID, newName string) error

	// GetRun fetches a run with all of its logged data.
	GetRun(ctx context.Context, runID string) (Run, error)

	// CreateRun starts a new run under an experiment. The run name and
	// parent run ID are recovered from the well-known tags when present.
	CreateRun(ctx context.Context, experimentID, userID string, startTime int64, tags []RunTag) (Run, error)

	// UpdateRunInfo updates a run's status and/or end time; nil fields are
	// left unchanged.
	UpdateRunInfo(ctx context.Context, runID string, status *RunStatus, endTime *int64) (RunInfo, error)

	// DeleteRun soft-deletes a run.
	DeleteRun(ctx context.Context, runID string) error

	// RestoreRun restores a soft-deleted run.
	RestoreRun(ctx context.Context, runID string) error

	// GetMetricHistory returns every logged value of one metric, in order.
	GetMetricHistory(ctx context.Context, runID, metricKey string) ([]Metric, error)

	// SearchRuns returns the runs in the given experiments matching the
	// filter string, up to maxResults.
	SearchRuns(ctx context.Context, experimentIDs []string, filterString string, viewType ViewType, maxResults int) ([]Run, error)

	// LogBatch logs metrics, params and tags against a run in one call.
	LogBatch(ctx context.Context, runID string, metrics []Metric, params []Param, tags []RunTag) error

	// SetExperimentTag sets a tag on an experiment.
	SetExperimentTag(ctx context.Context, experimentID string, tag ExperimentTag) error
}
