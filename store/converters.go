package store

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/facultyai/mlflow-faculty/experiment"
	"github.com/facultyai/mlflow-faculty/objects"
	"github.com/facultyai/mlflow-faculty/tracking"
)

var statusToTracking = map[experiment.RunStatus]tracking.RunStatus{
	experiment.RunStatusRunning:   tracking.RunStatusRunning,
	experiment.RunStatusFinished:  tracking.RunStatusFinished,
	experiment.RunStatusFailed:    tracking.RunStatusFailed,
	experiment.RunStatusScheduled: tracking.RunStatusScheduled,
	experiment.RunStatusKilled:    tracking.RunStatusKilled,
}

var statusFromTracking = map[tracking.RunStatus]experiment.RunStatus{
	tracking.RunStatusRunning:   experiment.RunStatusRunning,
	tracking.RunStatusFinished:  experiment.RunStatusFinished,
	tracking.RunStatusFailed:    experiment.RunStatusFailed,
	tracking.RunStatusScheduled: experiment.RunStatusScheduled,
	tracking.RunStatusKilled:    experiment.RunStatusKilled,
}

func runStatusToTracking(status experiment.RunStatus) tracking.RunStatus {
	if mapped, ok := statusToTracking[status]; ok {
		return mapped
	}
	// Unknown statuses pass through upper-cased rather than failing a
	// whole run conversion.
	return tracking.RunStatus(strings.ToUpper(string(status)))
}

func runStatusFromTracking(status tracking.RunStatus) (experiment.RunStatus, error) {
	if mapped, ok := statusFromTracking[status]; ok {
		return mapped, nil
	}
	return "", tracking.Errorf("invalid run status %q", string(status))
}

func viewTypeToLifecycleStage(viewType tracking.ViewType) (*experiment.LifecycleStage, error) {
	switch viewType {
	case tracking.ViewTypeActiveOnly:
		stage := experiment.LifecycleStageActive
		return &stage, nil
	case tracking.ViewTypeDeletedOnly:
		stage := experiment.LifecycleStageDeleted
		return &stage, nil
	case tracking.ViewTypeAll:
		return nil, nil
	default:
		return nil, tracking.Errorf("invalid view type %d", viewType)
	}
}

// timestampToTime converts tracking epoch milliseconds to UTC time.
func timestampToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// timeToTimestamp converts a platform time to tracking epoch milliseconds.
func timeToTimestamp(t time.Time) int64 {
	return t.UnixMilli()
}

func experimentToTracking(exp experiment.Experiment) tracking.Experiment {
	stage := tracking.LifecycleStageActive
	if exp.DeletedAt != nil {
		stage = tracking.LifecycleStageDeleted
	}
	return tracking.Experiment{
		ExperimentID:     strconv.Itoa(exp.ID),
		Name:             exp.Name,
		ArtifactLocation: exp.ArtifactLocation,
		LifecycleStage:   stage,
	}
}

// runToTracking converts a platform run, surfacing the run name and parent
// run ID as well-known tags when they are not already tagged.
func runToTracking(run experiment.Run) tracking.Run {
	stage := tracking.LifecycleStageActive
	if run.DeletedAt != nil {
		stage = tracking.LifecycleStageDeleted
	}

	var endTime *int64
	if run.EndedAt != nil {
		ms := timeToTimestamp(*run.EndedAt)
		endTime = &ms
	}

	tagged := make(map[string]bool, len(run.Tags))
	tags := make([]tracking.RunTag, 0, len(run.Tags)+2)
	for _, tag := range run.Tags {
		tagged[tag.Key] = true
		tags = append(tags, tracking.RunTag{Key: tag.Key, Value: tag.Value})
	}
	if !tagged[tracking.TagRunName] && run.Name != "" {
		tags = append(tags, tracking.RunTag{Key: tracking.TagRunName, Value: run.Name})
	}
	if !tagged[tracking.TagParentRunID] && run.ParentRunID != nil {
		tags = append(tags, tracking.RunTag{
			Key:   tracking.TagParentRunID,
			Value: hexID(*run.ParentRunID),
		})
	}

	params := make([]tracking.Param, 0, len(run.Params))
	for _, p := range run.Params {
		params = append(params, tracking.Param{Key: p.Key, Value: p.Value})
	}
	metrics := make([]tracking.Metric, 0, len(run.Metrics))
	for _, m := range run.Metrics {
		metrics = append(metrics, metricToTracking(m))
	}

	return tracking.Run{
		Info: tracking.RunInfo{
			RunID:          hexID(run.ID),
			ExperimentID:   strconv.Itoa(run.ExperimentID),
			UserID:         "",
			Status:         runStatusToTracking(run.Status),
			StartTime:      timeToTimestamp(run.StartedAt),
			EndTime:        endTime,
			LifecycleStage: stage,
			ArtifactURI:    run.ArtifactLocation,
		},
		Data: tracking.RunData{
			Metrics: metrics,
			Params:  params,
			Tags:    tags,
		},
	}
}

func metricToTracking(m experiment.Metric) tracking.Metric {
	return tracking.Metric{
		Key:       m.Key,
		Value:     m.Value,
		Timestamp: timeToTimestamp(m.Timestamp),
		Step:      m.Step,
	}
}

func metricFromTracking(m tracking.Metric) experiment.Metric {
	return experiment.Metric{
		Key:       m.Key,
		Value:     m.Value,
		Timestamp: timestampToTime(m.Timestamp),
		Step:      m.Step,
	}
}

func paramFromTracking(p tracking.Param) experiment.Param {
	return experiment.Param{Key: p.Key, Value: p.Value}
}

func tagFromTracking(t tracking.RunTag) experiment.Tag {
	return experiment.Tag{Key: t.Key, Value: t.Value}
}

// ObjectToFileInfo maps a stored object to a tracking FileInfo with a path
// relative to the artifact root. Objects outside the root are an error.
func ObjectToFileInfo(obj objects.Object, artifactRoot string) (tracking.FileInfo, error) {
	absRoot := path.Join("/", artifactRoot)
	absPath := path.Join("/", obj.Path)

	if absPath != absRoot && !strings.HasPrefix(absPath, absRoot+"/") {
		return tracking.FileInfo{}, fmt.Errorf(
			"the path of a listed object (%s) does not begin with the specified artifact path (%s)",
			absPath, absRoot)
	}

	relative := strings.TrimPrefix(strings.TrimPrefix(absPath, absRoot), "/")
	if relative == "" {
		relative = "/"
	}

	isDir := strings.HasSuffix(obj.Path, "/")
	info := tracking.FileInfo{Path: relative, IsDir: isDir}
	if !isDir {
		size := obj.Size
		info.FileSize = &size
	}
	return info, nil
}

// errorToTracking maps client failures onto the store error type the
// tracking client surfaces to users.
func errorToTracking(err error) error {
	if err == nil {
		return nil
	}

	var httpErr *experiment.HTTPError
	if errors.As(err, &httpErr) {
		return tracking.Errorf("%s", httpErr.Error())
	}
	return tracking.Errorf("%s", err.Error())
}
