package experiment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fastjson"

	"github.com/facultyai/mlflow-faculty/internal/rest"
)

// HTTPError is re-exported so callers can match transport failures without
// importing the internal plumbing.
type HTTPError = rest.HTTPError

// Error codes the experiment service uses for conflict responses.
const (
	codeNameConflict      = "experiment_name_conflict"
	codeExperimentDeleted = "experiment_deleted"
	codeParamConflict     = "conflicting_params"
)

// NameConflictError reports an attempt to create or rename an experiment to
// a name already in use.
type NameConflictError struct {
	Name string
}

func (e *NameConflictError) Error() string {
	return fmt.Sprintf("an experiment with name %q already exists", e.Name)
}

// DeletedError reports an attempt to act on a soft-deleted experiment.
type DeletedError struct {
	ExperimentID int
}

func (e *DeletedError) Error() string {
	return fmt.Sprintf("experiment %d is deleted", e.ExperimentID)
}

// ParamConflictError reports params rejected because they were already
// logged with different values.
type ParamConflictError struct {
	ConflictingParams []string
}

func (e *ParamConflictError) Error() string {
	return fmt.Sprintf("conflicting param keys: %v", e.ConflictingParams)
}

// Client calls the experiment service of one platform deployment. All
// methods are scoped to a project and safe for concurrent use.
type Client struct {
	rest    *rest.Client
	parsers fastjson.ParserPool
}

// NewClient builds an experiment client for the service at baseURL.
func NewClient(baseURL string, tokens rest.TokenSource) *Client {
	return &Client{rest: rest.NewClient(baseURL, tokens)}
}

// List returns the project's experiments, optionally restricted to one
// lifecycle stage.
func (c *Client) List(ctx context.Context, projectID uuid.UUID, stage *LifecycleStage) ([]Experiment, error) {
	var query url.Values
	if stage != nil {
		query = url.Values{"lifecycleStage": []string{string(*stage)}}
	}
	var experiments []Experiment
	path := fmt.Sprintf("/project/%s/experiment", projectID)
	if err := c.rest.Do(ctx, http.MethodGet, path, query, nil, &experiments); err != nil {
		return nil, err
	}
	return experiments, nil
}

// Create creates a named experiment. An empty artifactLocation lets the
// platform assign one. Name collisions return *NameConflictError.
func (c *Client) Create(ctx context.Context, projectID uuid.UUID, name, artifactLocation string) (Experiment, error) {
	body := map[string]any{"name": name, "description": ""}
	if artifactLocation != "" {
		body["artifactLocation"] = artifactLocation
	}

	var created Experiment
	path := fmt.Sprintf("/project/%s/experiment", projectID)
	err := c.rest.Do(ctx, http.MethodPost, path, nil, body, &created)
	if isErrorCode(err, codeNameConflict) {
		return Experiment{}, &NameConflictError{Name: name}
	}
	if err != nil {
		return Experiment{}, err
	}
	return created, nil
}

// Get fetches one experiment.
func (c *Client) Get(ctx context.Context, projectID uuid.UUID, experimentID int) (Experiment, error) {
	var exp Experiment
	path := fmt.Sprintf("/project/%s/experiment/%d", projectID, experimentID)
	if err := c.rest.Do(ctx, http.MethodGet, path, nil, nil, &exp); err != nil {
		return Experiment{}, err
	}
	return exp, nil
}

// Update renames an experiment. Name collisions return *NameConflictError.
func (c *Client) Update(ctx context.Context, projectID uuid.UUID, experimentID int, name string) error {
	path := fmt.Sprintf("/project/%s/experiment/%d", projectID, experimentID)
	err := c.rest.Do(ctx, http.MethodPatch, path, nil, map[string]any{"name": name}, nil)
	if isErrorCode(err, codeNameConflict) {
		return &NameConflictError{Name: name}
	}
	return err
}

// Delete soft-deletes an experiment.
func (c *Client) Delete(ctx context.Context, projectID uuid.UUID, experimentID int) error {
	path := fmt.Sprintf("/project/%s/experiment/%d", projectID, experimentID)
	return c.rest.Do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// Restore restores a soft-deleted experiment.
func (c *Client) Restore(ctx context.Context, projectID uuid.UUID, experimentID int) error {
	path := fmt.Sprintf("/project/%s/experiment/%d/restore", projectID, experimentID)
	return c.rest.Do(ctx, http.MethodPut, path, nil, nil, nil)
}

// CreateRun starts a run under an experiment. Acting on a deleted
// experiment returns *DeletedError.
func (c *Client) CreateRun(
	ctx context.Context,
	projectID uuid.UUID,
	experimentID int,
	name string,
	startedAt time.Time,
	parentRunID *uuid.UUID,
	tags []Tag,
) (Run, error) {
	if tags == nil {
		tags = []Tag{}
	}
	body := map[string]any{
		"name":      name,
		"startedAt": startedAt.UTC().Format(time.RFC3339Nano),
		"tags":      tags,
	}
	if parentRunID != nil {
		body["parentRunId"] = parentRunID.String()
	}

	var run Run
	path := fmt.Sprintf("/project/%s/experiment/%d/run", projectID, experimentID)
	respBody, err := c.rest.DoRaw(ctx, http.MethodPost, path, nil, body, &run)
	if isErrorCode(err, codeExperimentDeleted) {
		return Run{}, &DeletedError{ExperimentID: c.intField(respBody, "experimentId")}
	}
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

// GetRun fetches one run with its logged data.
func (c *Client) GetRun(ctx context.Context, projectID, runID uuid.UUID) (Run, error) {
	var run Run
	path := fmt.Sprintf("/project/%s/run/%s", projectID, runID)
	if err := c.rest.Do(ctx, http.MethodGet, path, nil, nil, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// UpdateRunInfo patches a run's status and end time; nil fields are left
// unchanged.
func (c *Client) UpdateRunInfo(ctx context.Context, projectID, runID uuid.UUID, status *RunStatus, endedAt *time.Time) (Run, error) {
	body := map[string]any{}
	if status != nil {
		body["status"] = *status
	}
	if endedAt != nil {
		body["endedAt"] = endedAt.UTC().Format(time.RFC3339Nano)
	}

	var run Run
	path := fmt.Sprintf("/project/%s/run/%s/info", projectID, runID)
	if err := c.rest.Do(ctx, http.MethodPatch, path, nil, body, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// QueryRuns returns one page of runs matching the filter. A nil filter
// matches every run; a nil page uses the service's default window. The
// response is parsed without intermediate allocation since search is the
// high-volume path.
func (c *Client) QueryRuns(ctx context.Context, projectID uuid.UUID, f Filter, page *Page) (QueryRunsResponse, error) {
	body := map[string]any{}
	if f != nil {
		body["filter"] = f
	}
	if page != nil {
		body["page"] = page
	}

	path := fmt.Sprintf("/project/%s/runs/query", projectID)
	respBody, err := c.rest.DoRaw(ctx, http.MethodPost, path, nil, body, nil)
	if err != nil {
		return QueryRunsResponse{}, err
	}
	return c.parseQueryRunsResponse(respBody)
}

// DeleteRuns soft-deletes runs in bulk, reporting per-run outcomes.
func (c *Client) DeleteRuns(ctx context.Context, projectID uuid.UUID, runIDs []uuid.UUID) (DeleteRunsResponse, error) {
	var resp DeleteRunsResponse
	path := fmt.Sprintf("/project/%s/runs/delete", projectID)
	body := map[string]any{"runIds": runIDs}
	if err := c.rest.Do(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return DeleteRunsResponse{}, err
	}
	return resp, nil
}

// RestoreRuns restores runs in bulk, reporting per-run outcomes.
func (c *Client) RestoreRuns(ctx context.Context, projectID uuid.UUID, runIDs []uuid.UUID) (RestoreRunsResponse, error) {
	var resp RestoreRunsResponse
	path := fmt.Sprintf("/project/%s/runs/restore", projectID)
	body := map[string]any{"runIds": runIDs}
	if err := c.rest.Do(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return RestoreRunsResponse{}, err
	}
	return resp, nil
}

// GetMetricHistory returns every logged value of one metric in step order.
func (c *Client) GetMetricHistory(ctx context.Context, projectID, runID uuid.UUID, key string) ([]Metric, error) {
	var resp struct {
		History []Metric `json:"history"`
	}
	path := fmt.Sprintf("/project/%s/run/%s/metric/%s/history", projectID, runID, url.PathEscape(key))
	if err := c.rest.Do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

// LogRunData logs metrics, params and tags against a run in one call.
// Params already logged with different values return *ParamConflictError.
func (c *Client) LogRunData(ctx context.Context, projectID, runID uuid.UUID, metrics []Metric, params []Param, tags []Tag) error {
	if len(metrics) == 0 && len(params) == 0 && len(tags) == 0 {
		return nil
	}
	body := map[string]any{}
	if len(metrics) > 0 {
		body["metrics"] = metrics
	}
	if len(params) > 0 {
		body["params"] = params
	}
	if len(tags) > 0 {
		body["tags"] = tags
	}

	path := fmt.Sprintf("/project/%s/run/%s/data", projectID, runID)
	respBody, err := c.rest.DoRaw(ctx, http.MethodPatch, path, nil, body, nil)
	if isErrorCode(err, codeParamConflict) {
		return &ParamConflictError{ConflictingParams: c.stringArrayField(respBody, "parameterKeys")}
	}
	return err
}

func isErrorCode(err error, code string) bool {
	var httpErr *rest.HTTPError
	return errors.As(err, &httpErr) && httpErr.Code == code
}

func (c *Client) intField(body []byte, field string) int {
	p := c.parsers.Get()
	defer c.parsers.Put(p)
	v, err := p.ParseBytes(body)
	if err != nil {
		return 0
	}
	return v.GetInt(field)
}

func (c *Client) stringArrayField(body []byte, field string) []string {
	p := c.parsers.Get()
	defer c.parsers.Put(p)
	v, err := p.ParseBytes(body)
	if err != nil {
		return nil
	}
	var out []string
	for _, item := range v.GetArray(field) {
		out = append(out, string(item.GetStringBytes()))
	}
	return out
}
