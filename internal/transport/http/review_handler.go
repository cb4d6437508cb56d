package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"english-battle-service/internal/app"
	"english-battle-service/internal/domain"
)

// ReviewHandler exposes the spaced-repetition engine over plain JSON.
type ReviewHandler struct {
	service *app.ReviewService
}

func NewReviewHandler(service *app.ReviewService) *ReviewHandler {
	return &ReviewHandler{service: service}
}

type reviewRequest struct {
	UserID  string `json:"userId"`
	WordID  string `json:"wordId"`
	Quality int    `json:"quality"`
}

// ProcessReview applies one recall-quality score to a record.
func (h *ReviewHandler) ProcessReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.WordID == "" {
		http.Error(w, "missing userId or wordId", http.StatusBadRequest)
		return
	}

	record, err := h.service.ProcessReview(r.Context(), req.UserID, req.WordID, req.Quality)
	switch {
	case errors.Is(err, domain.ErrInvalidQuality):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, domain.ErrReviewConflict):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(record)
}

// DueWords lists records due for review, hardest first.
func (h *ReviewHandler) DueWords(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := h.service.DueWords(r.Context(), userID, limit)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []domain.ReviewRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}
