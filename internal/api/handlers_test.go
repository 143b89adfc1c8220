package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/batch"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/evaluation"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/quota"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/storage"
)

type fakeOrchestrator struct {
	summary  *batch.Summary
	source   string
	month    string
	index    int
	size     int
	auto     bool
	explicit []storage.Student
}

func (f *fakeOrchestrator) RunBatch(ctx context.Context, source, month string, batchIndex, batchSize int) (*batch.Summary, error) {
	f.source, f.month, f.index, f.size = source, month, batchIndex, batchSize
	return f.summary, nil
}

func (f *fakeOrchestrator) RunStudents(ctx context.Context, source, month string, students []storage.Student) (*batch.Summary, error) {
	f.source, f.month, f.explicit = source, month, students
	return f.summary, nil
}

func (f *fakeOrchestrator) RunAuto(ctx context.Context, source, month string) (*batch.Summary, error) {
	f.auto = true
	f.source, f.month = source, month
	return f.summary, nil
}

type fakeRubric struct {
	report *evaluation.Report
	rows   []storage.EvaluationRow
}

func (f *fakeRubric) EvaluateMonth(ctx context.Context, month string, studentIDs []string) (*evaluation.Report, error) {
	return f.report, nil
}

func (f *fakeRubric) History(month string) ([]storage.EvaluationRow, error) {
	return f.rows, nil
}

type fakeTracker struct{}

func (fakeTracker) GetStatus(p quota.Provider) (quota.Status, error) {
	if p != quota.ProviderYouTube && p != quota.ProviderX {
		return quota.Status{}, quota.ErrUnknownProvider
	}
	return quota.Status{Provider: p, Period: "2025-07-15", UsableLimit: 9000, Remaining: 8500}, nil
}

func (fakeTracker) EstimateCapacity(p quota.Provider, n int) (quota.Capacity, error) {
	return quota.Capacity{Provider: p, Remaining: 8500, PerStudentUnits: 121, MaxStudents: 70, CanProceed: true}, nil
}

type fakeRoster struct{ students []storage.Student }

func (f fakeRoster) ListStudents(status string) ([]storage.Student, error) {
	return f.students, nil
}

func (f fakeRoster) GetStudent(id string) (storage.Student, error) {
	for _, st := range f.students {
		if st.ID == id {
			return st, nil
		}
	}
	return storage.Student{}, storage.ErrNotFound
}

func newTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	if deps.Token == "" {
		deps.Token = "test-token"
	}
	srv := httptest.NewServer(NewHandler(deps))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func TestHealthNoAuth(t *testing.T) {
	srv := newTestServer(t, Deps{})
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 without auth", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, Deps{Students: fakeRoster{}})
	resp, err := http.Get(srv.URL + "/students")
	if err != nil {
		t.Fatalf("GET /students: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without token", resp.StatusCode)
	}
}

func TestListStudents(t *testing.T) {
	srv := newTestServer(t, Deps{Students: fakeRoster{students: []storage.Student{
		{ID: "VS2024-001", Name: "蒼井ひなた", Status: "active"},
	}}})
	resp := doJSON(t, http.MethodGet, srv.URL+"/students", "")
	defer resp.Body.Close()

	var body struct {
		Count    int               `json:"count"`
		Students []storage.Student `json:"students"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body.Count != 1 || body.Students[0].ID != "VS2024-001" {
		t.Errorf("body = %+v", body)
	}
}

func TestQuotaStatus(t *testing.T) {
	srv := newTestServer(t, Deps{Tracker: fakeTracker{}})

	resp := doJSON(t, http.MethodGet, srv.URL+"/quota/youtube", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status   quota.Status   `json:"status"`
		Capacity quota.Capacity `json:"capacity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body.Status.Remaining != 8500 || body.Capacity.MaxStudents != 70 {
		t.Errorf("body = %+v", body)
	}

	bad := doJSON(t, http.MethodGet, srv.URL+"/quota/tiktok", "")
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown provider status = %d, want 400", bad.StatusCode)
	}
}

func TestEvaluateSourcePartialFailureIs200(t *testing.T) {
	orch := &fakeOrchestrator{summary: &batch.Summary{
		Source: "youtube", Month: "2025-07",
		SuccessCount: 3, ErrorCount: 2, SkippedCount: 1,
		HasNextBatch: true, NextBatchIndex: 1,
		Errors: []string{"星野かける(VS2024-003): connection reset"},
	}}
	srv := newTestServer(t, Deps{Orchestrator: orch})

	resp := doJSON(t, http.MethodPost, srv.URL+"/evaluate/youtube",
		`{"month":"2025-07","batchIndex":0,"batchSize":50}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 despite per-student errors", resp.StatusCode)
	}

	var sum batch.Summary
	if err := json.NewDecoder(resp.Body).Decode(&sum); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if sum.SuccessCount != 3 || sum.ErrorCount != 2 || sum.SkippedCount != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if len(sum.Errors) != 1 || !strings.Contains(sum.Errors[0], "VS2024-003") {
		t.Errorf("Errors = %v", sum.Errors)
	}
	if orch.source != "youtube" || orch.index != 0 || orch.size != 50 {
		t.Errorf("orchestrator got %s/%d/%d", orch.source, orch.index, orch.size)
	}
}

func TestEvaluateSourceExplicitStudents(t *testing.T) {
	orch := &fakeOrchestrator{summary: &batch.Summary{Source: "x", Month: "2025-07", SuccessCount: 2}}
	roster := fakeRoster{students: []storage.Student{
		{ID: "VS2024-001", Name: "星野ひかり", XUsername: "hikari_v"},
		{ID: "VS2024-002", Name: "月城れん", XUsername: "ren_moon"},
	}}
	srv := newTestServer(t, Deps{Orchestrator: orch, Students: roster})

	resp := doJSON(t, http.MethodPost, srv.URL+"/evaluate/x",
		`{"month":"2025-07","studentIds":["VS2024-002","VS2024-001"]}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(orch.explicit) != 2 || orch.explicit[0].ID != "VS2024-002" {
		t.Errorf("explicit students = %+v", orch.explicit)
	}

	bad := doJSON(t, http.MethodPost, srv.URL+"/evaluate/x",
		`{"month":"2025-07","studentIds":["VS2099-999"]}`)
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown student status = %d, want 400", bad.StatusCode)
	}
}

func TestEvaluateSourceBadMonth(t *testing.T) {
	srv := newTestServer(t, Deps{Orchestrator: &fakeOrchestrator{}})
	resp := doJSON(t, http.MethodPost, srv.URL+"/evaluate/x", `{"month":"July 2025"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a malformed month", resp.StatusCode)
	}
}

func TestEvaluateSourceAuto(t *testing.T) {
	orch := &fakeOrchestrator{summary: &batch.Summary{Source: "x", Month: "2025-07", SuccessCount: 120}}
	srv := newTestServer(t, Deps{Orchestrator: orch})

	resp := doJSON(t, http.MethodPost, srv.URL+"/evaluate/x/auto", `{"month":"2025-07"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !orch.auto {
		t.Error("auto mode not invoked")
	}
}

func TestEvaluateRubric(t *testing.T) {
	rub := &fakeRubric{report: &evaluation.Report{
		Month: "2025-07", SuccessCount: 2, Errors: []string{},
	}}
	srv := newTestServer(t, Deps{Rubric: rub})

	resp := doJSON(t, http.MethodPost, srv.URL+"/evaluate", `{"month":"2025-07"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var report evaluation.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if report.SuccessCount != 2 {
		t.Errorf("report = %+v", report)
	}
}

func TestEvaluationHistory(t *testing.T) {
	rub := &fakeRubric{rows: []storage.EvaluationRow{{Month: "2025-07", StudentID: "VS2024-001", Overall: "A"}}}
	srv := newTestServer(t, Deps{Rubric: rub})

	resp := doJSON(t, http.MethodGet, srv.URL+"/evaluate/history?month=2025-07", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body.Count != 1 {
		t.Errorf("count = %d, want 1", body.Count)
	}
}
