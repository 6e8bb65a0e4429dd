// Package store implements the tracking Store contract on top of the
// platform experiment service. It owns URI validation, entity conversion
// in both directions and error translation; everything it sends or
// receives goes through the experiment client.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/facultyai/mlflow-faculty/config"
	"github.com/facultyai/mlflow-faculty/experiment"
	"github.com/facultyai/mlflow-faculty/filter"
	"github.com/facultyai/mlflow-faculty/internal/rest"
	"github.com/facultyai/mlflow-faculty/tracking"
)

// Scheme is the store URI scheme handled by this package.
const Scheme = "faculty"

// experimentAPI is the slice of the experiment client the store uses.
type experimentAPI interface {
	List(ctx context.Context, projectID uuid.UUID, stage *experiment.LifecycleStage) ([]experiment.Experiment, error)
	Create(ctx context.Context, projectID uuid.UUID, name, artifactLocation string) (experiment.Experiment, error)
	Get(ctx context.Context, projectID uuid.UUID, experimentID int) (experiment.Experiment, error)
	Update(ctx context.Context, projectID uuid.UUID, experimentID int, name string) error
	Delete(ctx context.Context, projectID uuid.UUID, experimentID int) error
	Restore(ctx context.Context, projectID uuid.UUID, experimentID int) error
	CreateRun(ctx context.Context, projectID uuid.UUID, experimentID int, name string, startedAt time.Time, parentRunID *uuid.UUID, tags []experiment.Tag) (experiment.Run, error)
	GetRun(ctx context.Context, projectID, runID uuid.UUID) (experiment.Run, error)
	UpdateRunInfo(ctx context.Context, projectID, runID uuid.UUID, status *experiment.RunStatus, endedAt *time.Time) (experiment.Run, error)
	QueryRuns(ctx context.Context, projectID uuid.UUID, f experiment.Filter, page *experiment.Page) (experiment.QueryRunsResponse, error)
	DeleteRuns(ctx context.Context, projectID uuid.UUID, runIDs []uuid.UUID) (experiment.DeleteRunsResponse, error)
	RestoreRuns(ctx context.Context, projectID uuid.UUID, runIDs []uuid.UUID) (experiment.RestoreRunsResponse, error)
	GetMetricHistory(ctx context.Context, projectID, runID uuid.UUID, key string) ([]experiment.Metric, error)
	LogRunData(ctx context.Context, projectID, runID uuid.UUID, metrics []experiment.Metric, params []experiment.Param, tags []experiment.Tag) error
}

// RestStore persists tracking data through the platform REST API. It is
// stateless apart from its project scope and client; methods are safe for
// concurrent use.
type RestStore struct {
	projectID uuid.UUID
	client    experimentAPI
}

var _ tracking.Store = (*RestStore)(nil)

// NewRestStore builds a store for a 'faculty:/<project-id>' URI using the
// ambient credential profile.
func NewRestStore(storeURI string) (*RestStore, error) {
	projectID, err := ParseStoreURI(storeURI)
	if err != nil {
		return nil, err
	}

	profile, err := config.Load()
	if err != nil {
		return nil, err
	}
	tokens := rest.NewCredentialsTokenSource(profile)
	client := experiment.NewClient(profile.ServiceURL("experiment"), tokens)

	return &RestStore{projectID: projectID, client: client}, nil
}

// ParseStoreURI extracts the project ID from a store URI, rejecting wrong
// schemes, a non-empty netloc and non-UUID paths.
func ParseStoreURI(storeURI string) (uuid.UUID, error) {
	parsed, err := url.Parse(storeURI)
	if err != nil || parsed.Scheme != Scheme {
		return uuid.Nil, fmt.Errorf("not a %s URI: %s", Scheme, storeURI)
	}
	if parsed.Host != "" {
		return uuid.Nil, fmt.Errorf(
			"invalid URI %s. Netloc is reserved. Did you mean '%s:%s%s'",
			storeURI, Scheme, parsed.Host, parsed.Path)
	}

	cleaned := parsed.Path
	if cleaned == "" {
		cleaned = parsed.Opaque
	}
	cleaned = strings.Trim(cleaned, "/")

	projectID, err := uuid.Parse(cleaned)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s in given URI %s is not a valid UUID", cleaned, storeURI)
	}
	return projectID, nil
}

// ListExperiments returns the project's experiments under the view type.
func (s *RestStore) ListExperiments(ctx context.Context, viewType tracking.ViewType) ([]tracking.Experiment, error) {
	stage, err := viewTypeToLifecycleStage(viewType)
	if err != nil {
		return nil, err
	}

	experiments, err := s.client.List(ctx, s.projectID, stage)
	if err != nil {
		return nil, errorToTracking(err)
	}

	out := make([]tracking.Experiment, 0, len(experiments))
	for _, exp := range experiments {
		out = append(out, experimentToTracking(exp))
	}
	return out, nil
}

// CreateExperiment creates a named experiment and returns its ID.
func (s *RestStore) CreateExperiment(ctx context.Context, name, artifactLocation string) (string, error) {
	created, err := s.client.Create(ctx, s.projectID, name, artifactLocation)
	var conflict *experiment.NameConflictError
	if errors.As(err, &conflict) {
		return "", tracking.Errorf("%s", conflict.Error())
	}
	if err != nil {
		return "", errorToTracking(err)
	}
	return strconv.Itoa(created.ID), nil
}

// GetExperiment fetches one experiment by its tracking-side ID.
func (s *RestStore) GetExperiment(ctx context.Context, experimentID string) (tracking.Experiment, error) {
	id, err := parseExperimentID(experimentID)
	if err != nil {
		return tracking.Experiment{}, err
	}
	exp, err := s.client.Get(ctx, s.projectID, id)
	if err != nil {
		return tracking.Experiment{}, errorToTracking(err)
	}
	return experimentToTracking(exp), nil
}

// DeleteExperiment soft-deletes an experiment.
func (s *RestStore) DeleteExperiment(ctx context.Context, experimentID string) error {
	id, err := parseExperimentID(experimentID)
	if err != nil {
		return err
	}
	return errorToTracking(s.client.Delete(ctx, s.projectID, id))
}

// RestoreExperiment restores a soft-deleted experiment.
func (s *RestStore) RestoreExperiment(ctx context.Context, experimentID string) error {
	id, err := parseExperimentID(experimentID)
	if err != nil {
		return err
	}
	return errorToTracking(s.client.Restore(ctx, s.projectID, id))
}

// RenameExperiment updates an experiment's name.
func (s *RestStore) RenameExperiment(ctx context.Context, experimentID, newName string) error {
	id, err := parseExperimentID(experimentID)
	if err != nil {
		return err
	}
	err = s.client.Update(ctx, s.projectID, id, newName)
	var conflict *experiment.NameConflictError
	if errors.As(err, &conflict) {
		return tracking.Errorf("%s", conflict.Error())
	}
	return errorToTracking(err)
}

// GetRun fetches a run with its logged data.
func (s *RestStore) GetRun(ctx context.Context, runID string) (tracking.Run, error) {
	id, err := parseRunID(runID)
	if err != nil {
		return tracking.Run{}, err
	}
	run, err := s.client.GetRun(ctx, s.projectID, id)
	if err != nil {
		return tracking.Run{}, errorToTracking(err)
	}
	return runToTracking(run), nil
}

// CreateRun starts a run, recovering the run name and parent run ID from
// the well-known tags for clients that only set them there.
func (s *RestStore) CreateRun(ctx context.Context, experimentID, userID string, startTime int64, tags []tracking.RunTag) (tracking.Run, error) {
	expID, err := parseExperimentID(experimentID)
	if err != nil {
		return tracking.Run{}, err
	}

	tagValues := make(map[string]string, len(tags))
	platformTags := make([]experiment.Tag, 0, len(tags))
	for _, tag := range tags {
		tagValues[tag.Key] = tag.Value
		platformTags = append(platformTags, tagFromTracking(tag))
	}

	runName := tagValues[tracking.TagRunName]

	var parentRunID *uuid.UUID
	if raw := tagValues[tracking.TagParentRunID]; raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return tracking.Run{}, tracking.Errorf("invalid parent run ID %q", raw)
		}
		parentRunID = &parsed
	}

	run, err := s.client.CreateRun(
		ctx, s.projectID, expID, runName, timestampToTime(startTime), parentRunID, platformTags)
	var deleted *experiment.DeletedError
	if errors.As(err, &deleted) {
		return tracking.Run{}, tracking.Errorf(
			"experiment %d is deleted. To create runs for this experiment, first restore it",
			deleted.ExperimentID)
	}
	if err != nil {
		return tracking.Run{}, errorToTracking(err)
	}
	return runToTracking(run), nil
}

// UpdateRunInfo patches a run's status and end time.
func (s *RestStore) UpdateRunInfo(ctx context.Context, runID string, status *tracking.RunStatus, endTime *int64) (tracking.RunInfo, error) {
	id, err := parseRunID(runID)
	if err != nil {
		return tracking.RunInfo{}, err
	}

	var platformStatus *experiment.RunStatus
	if status != nil {
		converted, err := runStatusFromTracking(*status)
		if err != nil {
			return tracking.RunInfo{}, err
		}
		platformStatus = &converted
	}
	var endedAt *time.Time
	if endTime != nil {
		t := timestampToTime(*endTime)
		endedAt = &t
	}

	run, err := s.client.UpdateRunInfo(ctx, s.projectID, id, platformStatus, endedAt)
	if err != nil {
		return tracking.RunInfo{}, errorToTracking(err)
	}
	return runToTracking(run).Info, nil
}

// DeleteRun soft-deletes a run, distinguishing already-deleted from
// missing runs.
func (s *RestStore) DeleteRun(ctx context.Context, runID string) error {
	id, err := parseRunID(runID)
	if err != nil {
		return err
	}

	resp, err := s.client.DeleteRuns(ctx, s.projectID, []uuid.UUID{id})
	if err != nil {
		return errorToTracking(err)
	}

	switch {
	case containsID(resp.DeletedRunIDs, id):
		return nil
	case containsID(resp.ConflictedRunIDs, id):
		return tracking.Errorf("could not delete already-deleted run %s", hexID(id))
	default:
		return tracking.Errorf("could not delete non-existent run %s", hexID(id))
	}
}

// RestoreRun restores a run, distinguishing already-active from missing
// runs.
func (s *RestStore) RestoreRun(ctx context.Context, runID string) error {
	id, err := parseRunID(runID)
	if err != nil {
		return err
	}

	resp, err := s.client.RestoreRuns(ctx, s.projectID, []uuid.UUID{id})
	if err != nil {
		return errorToTracking(err)
	}

	switch {
	case containsID(resp.RestoredRunIDs, id):
		return nil
	case containsID(resp.ConflictedRunIDs, id):
		return tracking.Errorf("could not restore already-active run %s", hexID(id))
	default:
		return tracking.Errorf("could not restore non-existent run %s", hexID(id))
	}
}

// GetMetricHistory returns every logged value of one metric.
func (s *RestStore) GetMetricHistory(ctx context.Context, runID, metricKey string) ([]tracking.Metric, error) {
	id, err := parseRunID(runID)
	if err != nil {
		return nil, err
	}

	history, err := s.client.GetMetricHistory(ctx, s.projectID, id, metricKey)
	if err != nil {
		return nil, errorToTracking(err)
	}

	out := make([]tracking.Metric, 0, len(history))
	for _, m := range history {
		out = append(out, metricToTracking(m))
	}
	return out, nil
}

// SearchRuns returns runs matching the filter string within the given
// experiments, paging through the query endpoint until maxResults runs are
// collected or the result set ends. maxResults <= 0 means unbounded.
func (s *RestStore) SearchRuns(ctx context.Context, experimentIDs []string, filterString string, viewType tracking.ViewType, maxResults int) ([]tracking.Run, error) {
	f, err := filter.BuildSearchRunsFilter(experimentIDs, filterString, viewType)
	if errors.Is(err, filter.ErrMatchesNothing) {
		return []tracking.Run{}, nil
	}
	if err != nil {
		return nil, tracking.Errorf("%s", err.Error())
	}

	var runs []tracking.Run
	var page *experiment.Page
	for {
		resp, err := s.client.QueryRuns(ctx, s.projectID, f, page)
		if err != nil {
			return nil, errorToTracking(err)
		}
		for _, run := range resp.Runs {
			runs = append(runs, runToTracking(run))
			if maxResults > 0 && len(runs) == maxResults {
				return runs, nil
			}
		}
		if resp.Pagination.Next == nil {
			return runs, nil
		}
		page = resp.Pagination.Next
	}
}

// LogBatch logs metrics, params and tags against a run in one request.
func (s *RestStore) LogBatch(ctx context.Context, runID string, metrics []tracking.Metric, params []tracking.Param, tags []tracking.RunTag) error {
	id, err := parseRunID(runID)
	if err != nil {
		return err
	}

	platformMetrics := make([]experiment.Metric, 0, len(metrics))
	for _, m := range metrics {
		platformMetrics = append(platformMetrics, metricFromTracking(m))
	}
	platformParams := make([]experiment.Param, 0, len(params))
	for _, p := range params {
		platformParams = append(platformParams, paramFromTracking(p))
	}
	platformTags := make([]experiment.Tag, 0, len(tags))
	for _, t := range tags {
		platformTags = append(platformTags, tagFromTracking(t))
	}

	err = s.client.LogRunData(ctx, s.projectID, id, platformMetrics, platformParams, platformTags)
	var conflict *experiment.ParamConflictError
	if errors.As(err, &conflict) {
		return tracking.Errorf("conflicting param keys: %v", conflict.ConflictingParams)
	}
	return errorToTracking(err)
}

// SetExperimentTag is not supported by the platform.
func (s *RestStore) SetExperimentTag(ctx context.Context, experimentID string, tag tracking.ExperimentTag) error {
	return tracking.Errorf("experiment tags are not supported")
}

func parseExperimentID(experimentID string) (int, error) {
	id, err := strconv.Atoi(experimentID)
	if err != nil {
		return 0, tracking.Errorf("invalid experiment ID %q", experimentID)
	}
	return id, nil
}

// parseRunID accepts both canonical and dashless UUID forms; tracking
// clients conventionally use the dashless form.
func parseRunID(runID string) (uuid.UUID, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return uuid.Nil, tracking.Errorf("invalid run ID %q", runID)
	}
	return id, nil
}

// hexID renders a UUID in the dashless form tracking clients use.
func hexID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
