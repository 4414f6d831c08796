package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"facedetect/internal/logger"
	"facedetect/internal/model"
	"facedetect/internal/repository"
)

// RunDetail is a run with its detections.
type RunDetail struct {
	model.Run
	LabelCounts map[string]int          `json:"label_counts"`
	Detections  []model.DetectionRecord `json:"detections"`
}

// GetRunsHandler returns the run history, newest first.
// Query: mode, state, limit (default 50), page (default 1).
func GetRunsHandler(runRepo repository.RunRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 50)

		runs, err := runRepo.GetAll(&model.RunFilter{
			Mode:   q.Get("mode"),
			State:  q.Get("state"),
			Limit:  limit,
			Offset: (page - 1) * limit,
		})
		if err != nil {
			logger.Error("Error querying runs from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []model.Run{}
		}

		writeJSON(w, logger, map[string]interface{}{
			"runs":  runs,
			"page":  page,
			"limit": limit,
		})
	}
}

// GetRunHandler returns one run with its detections. Query: id.
func GetRunHandler(runRepo repository.RunRepository, detectionRepo repository.DetectionRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid run id", http.StatusBadRequest)
			return
		}

		run, err := runRepo.GetByID(id)
		if err != nil {
			logger.Error("Error getting run %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if run == nil {
			http.NotFound(w, r)
			return
		}

		detections, err := detectionRepo.GetByRunID(id)
		if err != nil {
			logger.Error("Error getting detections for run %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		counts, err := detectionRepo.CountLabelsByRunID(id)
		if err != nil {
			logger.Error("Error counting labels for run %d: %v", id, err)
			counts = map[string]int{}
		}
		if detections == nil {
			detections = []model.DetectionRecord{}
		}

		writeJSON(w, logger, RunDetail{Run: *run, LabelCounts: counts, Detections: detections})
	}
}

// GetStatsHandler returns totals over all runs.
func GetStatsHandler(runRepo repository.RunRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := runRepo.GetStats()
		if err != nil {
			logger.Error("Error getting stats: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, logger, stats)
	}
}

// DeleteRunHandler removes a run and its detections. Query: id.
func DeleteRunHandler(runRepo repository.RunRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete && r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid run id", http.StatusBadRequest)
			return
		}
		if err := runRepo.Delete(id); err != nil {
			logger.Error("Error deleting run %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		logger.Info("Deleted run %d", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, logger *logger.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding response: %v", err)
	}
}

// atoiDefault parses a positive integer, falling back to def.
func atoiDefault(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return def
}
