package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/reckonhq/reckon/internal/common"
	"github.com/reckonhq/reckon/internal/engine"
	"github.com/reckonhq/reckon/internal/learner"
	"github.com/reckonhq/reckon/internal/model"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createTransactionRequest struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Type        string  `json:"transaction_type"`
	Date        string  `json:"date"`
	Amount      float64 `json:"amount"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeServiceError(w, common.ValidationError("date must be YYYY-MM-DD: %v", err))
		return
	}

	txn := &model.Transaction{
		ID:                  req.ID,
		UserID:              requestUser(r),
		Description:         req.Description,
		OriginalDescription: req.Description,
		Type:                req.Type,
		Date:                date,
		Amount:              req.Amount,
		Status:              model.StatusPending,
	}
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}

	if err := s.store.CreateTransaction(r.Context(), txn); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

type categorizeRequest struct {
	Limit int `json:"limit"`
}

// handleCategorize queues a batch run and returns immediately. Progress
// is durable, so the client polls the progress endpoint rather than
// holding the request open.
func (s *Server) handleCategorize(w http.ResponseWriter, r *http.Request) {
	var req categorizeRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeServiceError(w, err)
			return
		}
	}

	userID := requestUser(r)
	queued, err := s.store.CountPendingTransactions(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	jobID := uuid.NewString()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		stats, err := s.engine.Run(ctx, engine.RunOptions{
			JobID:  jobID,
			UserID: userID,
			Limit:  req.Limit,
		})
		if err != nil {
			slog.Error("Categorization run failed", "job_id", jobID, "error", err)
			return
		}
		slog.Info("Categorization run finished",
			"job_id", stats.JobID,
			"claimed", stats.Claimed,
			"categorized", stats.Categorized,
			"needs_review", stats.NeedsReview,
			"failed", stats.Failed)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": "categorization started",
		"job_id":  jobID,
		"queued":  queued,
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.engine.Progress(r.Context(), requestUser(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

type feedbackRequest struct {
	SubcategoryID  *int64 `json:"subcategory_id"`
	CategoryID     int64  `json:"category_id"`
	ApplyToSimilar bool   `json:"apply_to_similar"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	if req.CategoryID == 0 {
		writeServiceError(w, common.ValidationError("category_id is required"))
		return
	}

	result, err := s.learner.Apply(r.Context(), requestUser(r), mux.Vars(r)["id"], learner.Feedback{
		CategoryID:     req.CategoryID,
		SubcategoryID:  req.SubcategoryID,
		ApplyToSimilar: req.ApplyToSimilar,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"transaction":     result.Transaction,
		"similar_updated": result.SimilarUpdated,
		"similar_ids":     result.SimilarIDs,
	})
}

type createInvoiceRequest struct {
	ID          string  `json:"id"`
	VendorName  string  `json:"vendor_name"`
	InvoiceDate string  `json:"invoice_date"`
	TotalAmount float64 `json:"total_amount"`
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	invoiceDate, err := time.Parse("2006-01-02", req.InvoiceDate)
	if err != nil {
		writeServiceError(w, common.ValidationError("invoice_date must be YYYY-MM-DD: %v", err))
		return
	}

	invoice := &model.Invoice{
		ID:          req.ID,
		UserID:      requestUser(r),
		VendorName:  req.VendorName,
		TotalAmount: req.TotalAmount,
		InvoiceDate: invoiceDate,
	}
	if invoice.ID == "" {
		invoice.ID = uuid.NewString()
	}

	if err := s.store.CreateInvoice(r.Context(), invoice); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, invoice)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := s.reconcile.Suggestions(r.Context(), requestUser(r), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

type linkRequest struct {
	TransactionID string `json:"transaction_id"`
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	if req.TransactionID == "" {
		writeServiceError(w, common.ValidationError("transaction_id is required"))
		return
	}

	invoice, err := s.reconcile.Link(r.Context(), requestUser(r), mux.Vars(r)["id"], req.TransactionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (s *Server) handleUnlink(w http.ResponseWriter, r *http.Request) {
	invoice, err := s.reconcile.Unlink(r.Context(), requestUser(r), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.GetRules(r.Context(), requestUser(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

type createCategoryRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req createCategoryRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	if req.Name == "" {
		writeServiceError(w, common.ValidationError("name is required"))
		return
	}

	category := &model.Category{
		Name:        req.Name,
		Description: req.Description,
		Keywords:    req.Keywords,
	}
	if err := s.store.CreateCategory(r.Context(), category); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, category)
}

type createSubcategoryRequest struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
}

func (s *Server) handleCreateSubcategory(w http.ResponseWriter, r *http.Request) {
	var req createSubcategoryRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	if req.Name == "" {
		writeServiceError(w, common.ValidationError("name is required"))
		return
	}

	categoryID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeServiceError(w, common.ValidationError("category id must be numeric"))
		return
	}
	if _, err := s.store.GetCategoryByID(r.Context(), categoryID); err != nil {
		writeServiceError(w, err)
		return
	}

	subcategory := &model.Subcategory{
		CategoryID: categoryID,
		Name:       req.Name,
		Keywords:   req.Keywords,
	}
	if err := s.store.CreateSubcategory(r.Context(), subcategory); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, subcategory)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.GetCategories(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	subcategories := make(map[int64][]model.Subcategory, len(categories))
	for _, category := range categories {
		subs, err := s.store.GetSubcategories(r.Context(), category.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		subcategories[category.ID] = subs
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"categories":    categories,
		"subcategories": subcategories,
	})
}
