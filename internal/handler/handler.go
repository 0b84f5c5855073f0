package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/amello/sheetgrader/internal/grading"
	"github.com/amello/sheetgrader/internal/model"
	"github.com/amello/sheetgrader/internal/store"
)

// maxSheetBytes bounds uploaded answer-sheet photos.
const maxSheetBytes = 20 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	grading *grading.Service
}

// New creates a new Handler.
func New(s *store.Store, svc *grading.Service) *Handler {
	return &Handler{store: s, grading: svc}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Post("/api/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireGrader)

		r.Post("/api/logout", h.handleLogout)
		r.Post("/api/sheets/grade", h.handleGradeSheet)
		r.Get("/api/results", h.handleListResults)
		r.Get("/api/results/{resultID}", h.handleGetResult)
		r.Post("/api/results/{resultID}/corrections", h.handleRecordCorrection)
		r.Get("/api/results/{resultID}/corrections", h.handleListCorrections)
		r.Post("/api/results/{resultID}/recalculate", h.handleRecalculate)

		r.With(requireRole(model.RoleAdmin)).Post("/api/graders", h.handleCreateGrader)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type gradeResponse struct {
	ResultID string            `json:"result_id,omitempty"`
	Saved    bool              `json:"saved"`
	Grade    model.GradeResult `json:"grade"`
}

// handleGradeSheet accepts a multipart upload with the sheet photo under the
// "sheet" field, plus optional release_id, test_id, student_id and save form
// values.
func (h *Handler) handleGradeSheet(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxSheetBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, _, err := r.FormFile("sheet")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing sheet file")
		return
	}
	defer file.Close()
	image, err := io.ReadAll(io.LimitReader(file, maxSheetBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read sheet file")
		return
	}

	releaseID := r.FormValue("release_id")
	testID := r.FormValue("test_id")

	grade, err := h.grading.GradeSheetImage(r.Context(), image, releaseID, testID)
	if err != nil {
		switch {
		case errors.Is(err, grading.ErrReleaseNotFound),
			errors.Is(err, grading.ErrTestIDNotFound),
			errors.Is(err, grading.ErrTestNotFound):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			slog.Error("sheet extraction failed", "error", err)
			writeError(w, http.StatusBadGateway, "sheet extraction failed")
		}
		return
	}

	resp := gradeResponse{Grade: *grade}
	if r.FormValue("save") == "true" {
		var studentID *string
		if sid := r.FormValue("student_id"); sid != "" {
			studentID = &sid
		}
		result, err := h.grading.SaveResult(*grade, studentID)
		if err != nil {
			slog.Error("failed to save result", "test_id", grade.TestID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save result")
			return
		}
		resp.ResultID = result.ID
		resp.Saved = true
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.store.ListResults()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []model.TestResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) handleGetResult(w http.ResponseWriter, r *http.Request) {
	view, err := h.store.GetResultView(chi.URLParam(r, "resultID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if view == nil {
		writeError(w, http.StatusNotFound, "result not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type correctionRequest struct {
	QuestionID       string  `json:"question_id"`
	NewOptionID      string  `json:"new_option_id"`
	PreviousOptionID *string `json:"previous_option_id,omitempty"`
	Reason           string  `json:"reason"`
}

func (h *Handler) handleRecordCorrection(w http.ResponseWriter, r *http.Request) {
	resultID := chi.URLParam(r, "resultID")

	var req correctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.QuestionID == "" || req.NewOptionID == "" {
		writeError(w, http.StatusBadRequest, "question_id and new_option_id are required")
		return
	}

	grader := model.GraderFromContext(r.Context())
	if grader == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	err := h.grading.RecordCorrection(resultID, req.QuestionID, req.NewOptionID,
		req.PreviousOptionID, req.Reason, grader.Username)
	if err != nil {
		switch {
		case errors.Is(err, grading.ErrResultNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, grading.ErrReasonRequired),
			errors.Is(err, grading.ErrOptionNotFound):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			slog.Error("failed to record correction", "result_id", resultID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to record correction")
		}
		return
	}

	view, err := h.store.GetResultView(resultID)
	if err != nil || view == nil {
		writeError(w, http.StatusInternalServerError, "failed to load corrected result")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleListCorrections(w http.ResponseWriter, r *http.Request) {
	resultID := chi.URLParam(r, "resultID")

	result, err := h.store.GetResult(resultID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if result == nil {
		writeError(w, http.StatusNotFound, "result not found")
		return
	}

	logs, err := h.store.CorrectionsForResult(resultID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if logs == nil {
		logs = []model.CorrectionLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	resultID := chi.URLParam(r, "resultID")

	err := h.grading.RecalculateScore(resultID)
	if err != nil {
		if errors.Is(err, grading.ErrResultNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		slog.Error("failed to recalculate score", "result_id", resultID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to recalculate score")
		return
	}

	result, err := h.store.GetResult(resultID)
	if err != nil || result == nil {
		writeError(w, http.StatusInternalServerError, "failed to load result")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
