// Package api exposes the evaluation engine over HTTP for the scheduler
// and the staff CLI. Batch endpoints report partial failure inside a 200
// body; an error status means the request itself was unusable.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/batch"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/evaluation"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/quota"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/storage"
)

const maxRequestBodySize = 1 << 20

var monthRe = regexp.MustCompile(`^\d{4}-\d{2}$`)

// Orchestrator runs metric-collection batches.
type Orchestrator interface {
	RunBatch(ctx context.Context, source, month string, batchIndex, batchSize int) (*batch.Summary, error)
	RunStudents(ctx context.Context, source, month string, students []storage.Student) (*batch.Summary, error)
	RunAuto(ctx context.Context, source, month string) (*batch.Summary, error)
}

// RubricService runs and reads monthly rubric evaluations.
type RubricService interface {
	EvaluateMonth(ctx context.Context, month string, studentIDs []string) (*evaluation.Report, error)
	History(month string) ([]storage.EvaluationRow, error)
}

// QuotaTracker reads provider budget state.
type QuotaTracker interface {
	GetStatus(provider quota.Provider) (quota.Status, error)
	EstimateCapacity(provider quota.Provider, studentCount int) (quota.Capacity, error)
}

// StudentLister reads the roster.
type StudentLister interface {
	ListStudents(status string) ([]storage.Student, error)
	GetStudent(id string) (storage.Student, error)
}

// Deps wires the handlers to the engine.
type Deps struct {
	Students     StudentLister
	Orchestrator Orchestrator
	Rubric       RubricService
	Tracker      QuotaTracker
	Token        string
}

// NewHandler builds the HTTP surface.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/students", handleListStudents(deps))
		r.Get("/quota/{provider}", handleQuotaStatus(deps))
		r.Post("/evaluate", handleEvaluateRubric(deps))
		r.Get("/evaluate/history", handleEvaluationHistory(deps))
		r.Post("/evaluate/{source}", handleEvaluateSource(deps))
		r.Post("/evaluate/{source}/auto", handleEvaluateSourceAuto(deps))
	})
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleListStudents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if status == "" {
			status = "active"
		}
		students, err := deps.Students.ListStudents(status)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing students: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count":    len(students),
			"students": students,
		})
	}
}

func handleQuotaStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := quota.Provider(chi.URLParam(r, "provider"))
		status, err := deps.Tracker.GetStatus(provider)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		capacity, err := deps.Tracker.EstimateCapacity(provider, 0)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   status,
			"capacity": capacity,
		})
	}
}

type evaluateRubricRequest struct {
	Month      string   `json:"month"`
	StudentIDs []string `json:"studentIds"`
}

func handleEvaluateRubric(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req evaluateRubricRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !monthRe.MatchString(req.Month) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "month must be YYYY-MM")
			return
		}

		report, err := deps.Rubric.EvaluateMonth(r.Context(), req.Month, req.StudentIDs)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "evaluation failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func handleEvaluationHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		month := r.URL.Query().Get("month")
		if !monthRe.MatchString(month) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "month must be YYYY-MM")
			return
		}
		rows, err := deps.Rubric.History(month)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading history: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"month":       month,
			"count":       len(rows),
			"evaluations": rows,
		})
	}
}

type evaluateSourceRequest struct {
	Month      string   `json:"month"`
	StudentIDs []string `json:"studentIds"`
	BatchIndex int      `json:"batchIndex"`
	BatchSize  int      `json:"batchSize"`
}

func handleEvaluateSource(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		source := chi.URLParam(r, "source")
		var req evaluateSourceRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !monthRe.MatchString(req.Month) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "month must be YYYY-MM")
			return
		}

		// An explicit student list bypasses batch windowing.
		if len(req.StudentIDs) > 0 {
			students := make([]storage.Student, 0, len(req.StudentIDs))
			for _, id := range req.StudentIDs {
				st, err := deps.Students.GetStudent(id)
				if err != nil {
					httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown student %q", id)
					return
				}
				students = append(students, st)
			}
			summary, err := deps.Orchestrator.RunStudents(r.Context(), source, req.Month, students)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			writeJSON(w, http.StatusOK, summary)
			return
		}

		summary, err := deps.Orchestrator.RunBatch(r.Context(), source, req.Month, req.BatchIndex, req.BatchSize)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func handleEvaluateSourceAuto(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		source := chi.URLParam(r, "source")
		var req evaluateSourceRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !monthRe.MatchString(req.Month) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "month must be YYYY-MM")
			return
		}

		summary, err := deps.Orchestrator.RunAuto(r.Context(), source, req.Month)
		if err != nil {
			// A cancelled cooldown still produced partial results.
			if summary != nil && summary.ProcessedCount > 0 {
				writeJSON(w, http.StatusOK, summary)
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
