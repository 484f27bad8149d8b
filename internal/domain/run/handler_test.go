package run

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

const runPayload = `{
	"rows": [{"ou": "OU1", "date": "2024-01-10", "val": "120"}],
	"config": {
		"program": "prog1",
		"orgUnitColumn": "ou",
		"stages": [{
			"stage": "stage1",
			"repeatable": true,
			"createEvents": true,
			"eventDateColumn": "date",
			"dataElements": {"de1": {"value": "val"}},
			"definitions": {"de1": {"id": "de1", "valueType": "NUMBER"}}
		}]
	}
}`

func setupHandler() (*echo.Echo, *fakeRepo) {
	repo := &fakeRepo{}
	h := NewHandler(testService(repo))
	e := echo.New()
	h.RegisterRoutes(e.Group("/api"))
	return e, repo
}

func TestHandler_CreateRun(t *testing.T) {
	e, repo := setupHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(runPayload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Run struct {
			ID      string  `json:"id"`
			Program string  `json:"program"`
			Summary Summary `json:"summary"`
		} `json:"run"`
		Bundle struct {
			Events []json.RawMessage `json:"events"`
		} `json:"bundle"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Run.Program != "prog1" {
		t.Errorf("expected program prog1, got %s", resp.Run.Program)
	}
	if resp.Run.Summary.Events != 1 {
		t.Errorf("expected 1 event in summary, got %+v", resp.Run.Summary)
	}
	if len(resp.Bundle.Events) != 1 {
		t.Errorf("expected 1 event in bundle, got %d", len(resp.Bundle.Events))
	}
	if len(repo.runs) != 1 {
		t.Errorf("expected run to be persisted, got %d", len(repo.runs))
	}
}

func TestHandler_CreateRun_InvalidPayload(t *testing.T) {
	e, _ := setupHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"rows": []}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_PreviewRun(t *testing.T) {
	e, repo := setupHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/runs/preview", strings.NewReader(runPayload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(repo.runs) != 0 {
		t.Errorf("preview must not persist runs, got %d", len(repo.runs))
	}
}

func TestHandler_GetRun_InvalidID(t *testing.T) {
	e, _ := setupHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/runs/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_GetRun_NotFound(t *testing.T) {
	e, _ := setupHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/runs/6dfe7a02-9ab3-44be-b85c-4be7c9a600b7", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_ListRuns(t *testing.T) {
	e, _ := setupHandler()

	create := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(runPayload))
	create.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	e.ServeHTTP(httptest.NewRecorder(), create)

	req := httptest.NewRequest(http.MethodGet, "/api/runs?program=prog1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Data  []json.RawMessage `json:"data"`
		Total int               `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 1 || len(resp.Data) != 1 {
		t.Errorf("expected 1 run, got total=%d len=%d", resp.Total, len(resp.Data))
	}
}
