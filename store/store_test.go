package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/facultyai/mlflow-faculty/experiment"
	"github.com/facultyai/mlflow-faculty/tracking"
)

var (
	testProjectID = uuid.MustParse("b3f0e2b6-0000-4a70-a7a2-2b8d2b6a1f2c")
	testRunUUID   = uuid.MustParse("02a23c82-7b23-4d68-ab1d-b3f0e2b6ac98")
)

// fakeClient records calls and plays back canned responses. Only the
// fields a test sets are consulted.
type fakeClient struct {
	experiments []experiment.Experiment
	exp         experiment.Experiment
	run         experiment.Run
	pages       []experiment.QueryRunsResponse
	deleteResp  experiment.DeleteRunsResponse
	restoreResp experiment.RestoreRunsResponse
	history     []experiment.Metric
	err         error

	createRunName   string
	createRunParent *uuid.UUID
	createRunTags   []experiment.Tag
	queryFilters    []experiment.Filter
	queryPages      []*experiment.Page
	loggedMetrics   []experiment.Metric
	loggedParams    []experiment.Param
	loggedTags      []experiment.Tag
	renamedTo       string
}

func (f *fakeClient) List(ctx context.Context, projectID uuid.UUID, stage *experiment.LifecycleStage) ([]experiment.Experiment, error) {
	return f.experiments, f.err
}

func (f *fakeClient) Create(ctx context.Context, projectID uuid.UUID, name, artifactLocation string) (experiment.Experiment, error) {
	return f.exp, f.err
}

func (f *fakeClient) Get(ctx context.Context, projectID uuid.UUID, experimentID int) (experiment.Experiment, error) {
	return f.exp, f.err
}

func (f *fakeClient) Update(ctx context.Context, projectID uuid.UUID, experimentID int, name string) error {
	f.renamedTo = name
	return f.err
}

func (f *fakeClient) Delete(ctx context.Context, projectID uuid.UUID, experimentID int) error {
	return f.err
}

func (f *fakeClient) Restore(ctx context.Context, projectID uuid.UUID, experimentID int) error {
	return f.err
}

func (f *fakeClient) CreateRun(ctx context.Context, projectID uuid.UUID, experimentID int, name string, startedAt time.Time, parentRunID *uuid.UUID, tags []experiment.Tag) (experiment.Run, error) {
	f.createRunName = name
	f.createRunParent = parentRunID
	f.createRunTags = tags
	return f.run, f.err
}

func (f *fakeClient) GetRun(ctx context.Context, projectID, runID uuid.UUID) (experiment.Run, error) {
	return f.run, f.err
}

func (f *fakeClient) UpdateRunInfo(ctx context.Context, projectID, runID uuid.UUID, status *experiment.RunStatus, endedAt *time.Time) (experiment.Run, error) {
	return f.run, f.err
}

func (f *fakeClient) QueryRuns(ctx context.Context, projectID uuid.UUID, filter experiment.Filter, page *experiment.Page) (experiment.QueryRunsResponse, error) {
	f.queryFilters = append(f.queryFilters, filter)
	f.queryPages = append(f.queryPages, page)
	if f.err != nil {
		return experiment.QueryRunsResponse{}, f.err
	}
	resp := f.pages[0]
	f.pages = f.pages[1:]
	return resp, nil
}

func (f *fakeClient) DeleteRuns(ctx context.Context, projectID uuid.UUID, runIDs []uuid.UUID) (experiment.DeleteRunsResponse, error) {
	return f.deleteResp, f.err
}

func (f *fakeClient) RestoreRuns(ctx context.Context, projectID uuid.UUID, runIDs []uuid.UUID) (experiment.RestoreRunsResponse, error) {
	return f.restoreResp, f.err
}

func (f *fakeClient) GetMetricHistory(ctx context.Context, projectID, runID uuid.UUID, key string) ([]experiment.Metric, error) {
	return f.history, f.err
}

func (f *fakeClient) LogRunData(ctx context.Context, projectID, runID uuid.UUID, metrics []experiment.Metric, params []experiment.Param, tags []experiment.Tag) error {
	f.loggedMetrics = metrics
	f.loggedParams = params
	f.loggedTags = tags
	return f.err
}

func newTestStore(client *fakeClient) *RestStore {
	return &RestStore{projectID: testProjectID, client: client}
}

func sampleRun() experiment.Run {
	return experiment.Run{
		ID:           testRunUUID,
		RunNumber:    3,
		Name:         "my run",
		ExperimentID: 7,
		Status:       experiment.RunStatusRunning,
		StartedAt:    time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC),
		Tags:         []experiment.Tag{{Key: "env", Value: "prod"}},
	}
}

func TestParseStoreURI(t *testing.T) {
	tests := []struct {
		name string
		uri  string
	}{
		{"plain", "faculty:" + testProjectID.String()},
		{"single slash", "faculty:/" + testProjectID.String()},
		{"triple slash", "faculty:///" + testProjectID.String()},
		{"trailing slash", "faculty:/" + testProjectID.String() + "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseStoreURI(tt.uri)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id != testProjectID {
				t.Errorf("project ID = %v, want %v", id, testProjectID)
			}
		})
	}
}

func TestParseStoreURIErrors(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		message string
	}{
		{"wrong scheme", "invalid-scheme:/" + testProjectID.String(), "not a faculty URI"},
		{
			"netloc",
			"faculty://" + testProjectID.String(),
			"Did you mean 'faculty:" + testProjectID.String() + "'",
		},
		{"not a uuid", "faculty:/invalid-uuid", "is not a valid UUID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStoreURI(tt.uri)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.message)
			}
		})
	}
}

func TestListExperiments(t *testing.T) {
	deletedAt := time.Date(2021, 3, 3, 12, 0, 0, 0, time.UTC)
	client := &fakeClient{experiments: []experiment.Experiment{
		{ID: 3, Name: "first", ArtifactLocation: "faculty-datasets:/x/3"},
		{ID: 4, Name: "second", DeletedAt: &deletedAt},
	}}

	experiments, err := newTestStore(client).ListExperiments(context.Background(), tracking.ViewTypeAll)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(experiments) != 2 {
		t.Fatalf("expected 2 experiments, got %d", len(experiments))
	}
	if experiments[0].ExperimentID != "3" || experiments[0].LifecycleStage != tracking.LifecycleStageActive {
		t.Errorf("unexpected first experiment %+v", experiments[0])
	}
	if experiments[1].LifecycleStage != tracking.LifecycleStageDeleted {
		t.Errorf("unexpected second experiment %+v", experiments[1])
	}
}

func TestGetRunConversion(t *testing.T) {
	client := &fakeClient{run: sampleRun()}

	run, err := newTestStore(client).GetRun(context.Background(), testRunUUID.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantID := strings.ReplaceAll(testRunUUID.String(), "-", "")
	if run.Info.RunID != wantID {
		t.Errorf("run ID = %q, want %q", run.Info.RunID, wantID)
	}
	if run.Info.ExperimentID != "7" || run.Info.Status != tracking.RunStatusRunning {
		t.Errorf("unexpected info %+v", run.Info)
	}
	if run.Info.StartTime != 1614600000000 {
		t.Errorf("start time = %d", run.Info.StartTime)
	}

	// The run name surfaces as a well-known tag.
	var nameTag string
	for _, tag := range run.Data.Tags {
		if tag.Key == tracking.TagRunName {
			nameTag = tag.Value
		}
	}
	if nameTag != "my run" {
		t.Errorf("run name tag = %q", nameTag)
	}
}

func TestGetRunInvalidID(t *testing.T) {
	_, err := newTestStore(&fakeClient{}).GetRun(context.Background(), "not-a-uuid")
	if err == nil || !strings.Contains(err.Error(), "invalid run ID") {
		t.Errorf("got %v, want invalid run ID error", err)
	}
}

func TestCreateRunRecoversTags(t *testing.T) {
	parent := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	client := &fakeClient{run: sampleRun()}

	_, err := newTestStore(client).CreateRun(
		context.Background(), "7", "", 1614600000000,
		[]tracking.RunTag{
			{Key: tracking.TagRunName, Value: "tagged name"},
			{Key: tracking.TagParentRunID, Value: parent.String()},
			{Key: "custom", Value: "x"},
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if client.createRunName != "tagged name" {
		t.Errorf("run name = %q, want value of the name tag", client.createRunName)
	}
	if client.createRunParent == nil || *client.createRunParent != parent {
		t.Errorf("parent run ID = %v, want %v", client.createRunParent, parent)
	}
	if len(client.createRunTags) != 3 {
		t.Errorf("tags forwarded = %d, want all 3", len(client.createRunTags))
	}
}

func TestDeleteRunOutcomes(t *testing.T) {
	hexID := strings.ReplaceAll(testRunUUID.String(), "-", "")

	tests := []struct {
		name    string
		resp    experiment.DeleteRunsResponse
		message string
	}{
		{
			name: "deleted",
			resp: experiment.DeleteRunsResponse{DeletedRunIDs: []uuid.UUID{testRunUUID}},
		},
		{
			name:    "already deleted",
			resp:    experiment.DeleteRunsResponse{ConflictedRunIDs: []uuid.UUID{testRunUUID}},
			message: "could not delete already-deleted run " + hexID,
		},
		{
			name:    "non-existent",
			resp:    experiment.DeleteRunsResponse{},
			message: "could not delete non-existent run " + hexID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{deleteResp: tt.resp}
			err := newTestStore(client).DeleteRun(context.Background(), testRunUUID.String())

			if tt.message == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.message {
				t.Errorf("got %v, want %q", err, tt.message)
			}
		})
	}
}

func TestRestoreRunOutcomes(t *testing.T) {
	hexID := strings.ReplaceAll(testRunUUID.String(), "-", "")

	tests := []struct {
		name    string
		resp    experiment.RestoreRunsResponse
		message string
	}{
		{
			name: "restored",
			resp: experiment.RestoreRunsResponse{RestoredRunIDs: []uuid.UUID{testRunUUID}},
		},
		{
			name:    "already active",
			resp:    experiment.RestoreRunsResponse{ConflictedRunIDs: []uuid.UUID{testRunUUID}},
			message: "could not restore already-active run " + hexID,
		},
		{
			name:    "non-existent",
			resp:    experiment.RestoreRunsResponse{},
			message: "could not restore non-existent run " + hexID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{restoreResp: tt.resp}
			err := newTestStore(client).RestoreRun(context.Background(), testRunUUID.String())

			if tt.message == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.message {
				t.Errorf("got %v, want %q", err, tt.message)
			}
		})
	}
}

func TestSearchRunsPaging(t *testing.T) {
	next := experiment.Page{Start: 1, Limit: 1}
	client := &fakeClient{pages: []experiment.QueryRunsResponse{
		{
			Runs:       []experiment.Run{sampleRun()},
			Pagination: experiment.Pagination{Next: &next},
		},
		{
			Runs: []experiment.Run{sampleRun()},
		},
	}}

	runs, err := newTestStore(client).SearchRuns(
		context.Background(), nil, "", tracking.ViewTypeAll, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}
	if len(client.queryPages) != 2 {
		t.Fatalf("expected 2 queries, got %d", len(client.queryPages))
	}
	if client.queryPages[0] != nil {
		t.Errorf("first page = %+v, want nil", client.queryPages[0])
	}
	if client.queryPages[1] == nil || *client.queryPages[1] != next {
		t.Errorf("second page = %+v, want %+v", client.queryPages[1], next)
	}
}

func TestSearchRunsMaxResults(t *testing.T) {
	next := experiment.Page{Start: 1, Limit: 1}
	client := &fakeClient{pages: []experiment.QueryRunsResponse{
		{
			Runs:       []experiment.Run{sampleRun(), sampleRun()},
			Pagination: experiment.Pagination{Next: &next},
		},
	}}

	runs, err := newTestStore(client).SearchRuns(
		context.Background(), nil, "", tracking.ViewTypeAll, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}
	if len(client.queryPages) != 1 {
		t.Errorf("expected paging to stop at max results, got %d queries", len(client.queryPages))
	}
}

func TestSearchRunsEmptyExperimentList(t *testing.T) {
	client := &fakeClient{}

	runs, err := newTestStore(client).SearchRuns(
		context.Background(), []string{}, "", tracking.ViewTypeAll, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs))
	}
	if len(client.queryPages) != 0 {
		t.Error("expected no query for an empty experiment list")
	}
}

func TestSearchRunsInvalidFilter(t *testing.T) {
	_, err := newTestStore(&fakeClient{}).SearchRuns(
		context.Background(), nil, "unknown.a = 'x'", tracking.ViewTypeAll, 0)
	if err == nil || !strings.Contains(err.Error(), "invalid identifier") {
		t.Errorf("got %v, want invalid identifier error", err)
	}
}

func TestSearchRunsForwardsFilter(t *testing.T) {
	client := &fakeClient{pages: []experiment.QueryRunsResponse{{}}}

	_, err := newTestStore(client).SearchRuns(
		context.Background(), []string{"7"}, "metric.accuracy > 0.9", tracking.ViewTypeActiveOnly, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.queryFilters) != 1 {
		t.Fatalf("expected 1 query, got %d", len(client.queryFilters))
	}
	compound, ok := client.queryFilters[0].(experiment.CompoundFilter)
	if !ok || compound.Operator != experiment.LogicalAnd || len(compound.Conditions) != 3 {
		t.Errorf("unexpected filter %#v", client.queryFilters[0])
	}
}

func TestLogBatchConversion(t *testing.T) {
	client := &fakeClient{}

	err := newTestStore(client).LogBatch(
		context.Background(), testRunUUID.String(),
		[]tracking.Metric{{Key: "accuracy", Value: 0.9, Timestamp: 1614600000000, Step: 2}},
		[]tracking.Param{{Key: "alpha", Value: "0.1"}},
		[]tracking.RunTag{{Key: "env", Value: "prod"}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.loggedMetrics) != 1 {
		t.Fatalf("metrics logged = %d", len(client.loggedMetrics))
	}
	m := client.loggedMetrics[0]
	if m.Key != "accuracy" || m.Value != 0.9 || m.Step != 2 {
		t.Errorf("unexpected metric %+v", m)
	}
	if !m.Timestamp.Equal(time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", m.Timestamp)
	}
	if len(client.loggedParams) != 1 || client.loggedParams[0].Key != "alpha" {
		t.Errorf("params = %+v", client.loggedParams)
	}
	if len(client.loggedTags) != 1 || client.loggedTags[0].Value != "prod" {
		t.Errorf("tags = %+v", client.loggedTags)
	}
}

func TestSetExperimentTagUnsupported(t *testing.T) {
	err := newTestStore(&fakeClient{}).SetExperimentTag(
		context.Background(), "7", tracking.ExperimentTag{Key: "k", Value: "v"})
	if err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Errorf("got %v, want unsupported error", err)
	}
}

func TestInvalidExperimentID(t *testing.T) {
	_, err := newTestStore(&fakeClient{}).GetExperiment(context.Background(), "not-a-number")
	if err == nil || !strings.Contains(err.Error(), "invalid experiment ID") {
		t.Errorf("got %v, want invalid experiment ID error", err)
	}
}
