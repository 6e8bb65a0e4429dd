package experiment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fastjson"
)

// parseQueryRunsResponse decodes one page of query results.
func (c *Client) parseQueryRunsResponse(body []byte) (QueryRunsResponse, error) {
	p := c.parsers.Get()
	defer c.parsers.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return QueryRunsResponse{}, fmt.Errorf("decoding query response: %w", err)
	}

	var resp QueryRunsResponse
	for _, rv := range v.GetArray("runs") {
		run, err := parseRun(rv)
		if err != nil {
			return QueryRunsResponse{}, err
		}
		resp.Runs = append(resp.Runs, run)
	}

	pg := v.Get("pagination")
	if pg != nil {
		resp.Pagination.Start = pg.GetInt("start")
		resp.Pagination.Size = pg.GetInt("size")
		resp.Pagination.Previous = parsePage(pg.Get("previous"))
		resp.Pagination.Next = parsePage(pg.Get("next"))
	}
	return resp, nil
}

func parsePage(v *fastjson.Value) *Page {
	if v == nil || v.Type() == fastjson.TypeNull {
		return nil
	}
	return &Page{Start: v.GetInt("start"), Limit: v.GetInt("limit")}
}

func parseRun(v *fastjson.Value) (Run, error) {
	run := Run{
		RunNumber:        v.GetInt("runNumber"),
		Name:             string(v.GetStringBytes("name")),
		ExperimentID:     v.GetInt("experimentId"),
		ArtifactLocation: string(v.GetStringBytes("artifactLocation")),
		Status:           RunStatus(v.GetStringBytes("status")),
	}

	id, err := uuid.ParseBytes(v.GetStringBytes("runId"))
	if err != nil {
		return Run{}, fmt.Errorf("decoding run ID: %w", err)
	}
	run.ID = id

	if raw := v.GetStringBytes("parentRunId"); len(raw) > 0 {
		parentID, err := uuid.ParseBytes(raw)
		if err != nil {
			return Run{}, fmt.Errorf("decoding parent run ID: %w", err)
		}
		run.ParentRunID = &parentID
	}

	startedAt, err := parseTime(v.GetStringBytes("startedAt"))
	if err != nil {
		return Run{}, err
	}
	if startedAt != nil {
		run.StartedAt = *startedAt
	}
	if run.EndedAt, err = parseTime(v.GetStringBytes("endedAt")); err != nil {
		return Run{}, err
	}
	if run.DeletedAt, err = parseTime(v.GetStringBytes("deletedAt")); err != nil {
		return Run{}, err
	}

	for _, tv := range v.GetArray("tags") {
		run.Tags = append(run.Tags, Tag{
			Key:   string(tv.GetStringBytes("key")),
			Value: string(tv.GetStringBytes("value")),
		})
	}
	for _, pv := range v.GetArray("params") {
		run.Params = append(run.Params, Param{
			Key:   string(pv.GetStringBytes("key")),
			Value: string(pv.GetStringBytes("value")),
		})
	}
	for _, mv := range v.GetArray("metrics") {
		ts, err := parseTime(mv.GetStringBytes("timestamp"))
		if err != nil {
			return Run{}, err
		}
		metric := Metric{
			Key:   string(mv.GetStringBytes("key")),
			Value: mv.GetFloat64("value"),
			Step:  mv.GetInt("step"),
		}
		if ts != nil {
			metric.Timestamp = *ts
		}
		run.Metrics = append(run.Metrics, metric)
	}

	return run, nil
}

func parseTime(raw []byte) (*time.Time, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding timestamp %q: %w", raw, err)
	}
	return &t, nil
}
