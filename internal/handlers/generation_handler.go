package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jankos/backend/internal/gemini"
	"github.com/jankos/backend/internal/services"
)

type GenerationHandler struct {
	service   *services.GenerationService
	wallet    *services.WalletService
	validator *services.ValidationHelper
}

func NewGenerationHandler(service *services.GenerationService, wallet *services.WalletService) *GenerationHandler {
	return &GenerationHandler{
		service:   service,
		wallet:    wallet,
		validator: services.NewValidationHelper(),
	}
}

// GenerateThumbnails runs a thumbnail batch
// @Summary Generate thumbnails
// @Description Generate 1-4 thumbnail variations; failed units are refunded individually
// @Tags generation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.ThumbnailRequest true "Thumbnail request"
// @Success 200 {object} services.ThumbnailResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /generate/thumbnails [post]
func (h *GenerationHandler) GenerateThumbnails(w http.ResponseWriter, r *http.Request) {
	userID := services.RequestUserID(r)
	if userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req services.ThumbnailRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.RunThumbnail(r.Context(), userID, req)
	if err != nil {
		h.writeGenerationError(w, userID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// GenerateViralIdeas runs trend-grounded concept generation
// @Summary Generate viral video ideas
// @Description Generate viral video concepts grounded in current web trends
// @Tags generation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.ViralRequest true "Viral ideas request"
// @Success 200 {object} services.ViralResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /generate/viral-ideas [post]
func (h *GenerationHandler) GenerateViralIdeas(w http.ResponseWriter, r *http.Request) {
	userID := services.RequestUserID(r)
	if userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req services.ViralRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.RunViral(r.Context(), userID, req)
	if err != nil {
		h.writeGenerationError(w, userID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// GenerateKeywords runs SEO keyword research
// @Summary Generate SEO keywords
// @Description Generate keyword concepts with title suggestions for a niche
// @Tags generation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.KeywordsRequest true "Keywords request"
// @Success 200 {object} services.KeywordsResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /generate/keywords [post]
func (h *GenerationHandler) GenerateKeywords(w http.ResponseWriter, r *http.Request) {
	userID := services.RequestUserID(r)
	if userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req services.KeywordsRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.RunKeywords(r.Context(), userID, req)
	if err != nil {
		h.writeGenerationError(w, userID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// ListProjects lists the caller's unexpired projects
// @Summary List projects
// @Description List the caller's generation projects, newest first; entries expire after 15 days
// @Tags generation
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Project
// @Failure 401 {object} services.ErrorResponse
// @Router /projects [get]
func (h *GenerationHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	userID := services.RequestUserID(r)
	if userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	projects, err := h.service.ListProjects(userID)
	if err != nil {
		log.Printf("[GENERATION] Failed to list projects for %s: %v", userID, err)
		services.SendErrorResponse(w, "Failed to load projects", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(projects)
}

// GetProject returns one project by id
// @Summary Get project
// @Tags generation
// @Produce json
// @Security BearerAuth
// @Param id path string true "Project ID"
// @Success 200 {object} models.Project
// @Failure 404 {object} services.ErrorResponse
// @Router /projects/{id} [get]
func (h *GenerationHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	userID := services.RequestUserID(r)
	if userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	project, err := h.service.GetProject(userID, chi.URLParam(r, "id"))
	if errors.Is(err, services.ErrProjectNotFound) {
		services.SendErrorResponse(w, "Project not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[GENERATION] Failed to load project for %s: %v", userID, err)
		services.SendErrorResponse(w, "Failed to load project", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(project)
}

func (h *GenerationHandler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 10_485_760) // reference images arrive as base64
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := h.validator.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

// writeGenerationError maps orchestration failures. Insufficient credits
// reports the current balance so the client can show a top-up prompt.
func (h *GenerationHandler) writeGenerationError(w http.ResponseWriter, userID string, err error) {
	if errors.Is(err, services.ErrInsufficientCredits) {
		balance, balErr := h.wallet.GetBalance(userID)
		if balErr != nil {
			log.Printf("[GENERATION] Balance lookup failed for %s: %v", userID, balErr)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   "Insufficient credits",
			"balance": balance,
		})
		return
	}

	var apiErr *gemini.APIError
	if errors.As(err, &apiErr) {
		log.Printf("[GENERATION] Upstream model error for %s: %v", userID, apiErr)
		services.SendErrorResponse(w, apiErr.UserMessage(), http.StatusBadGateway, nil)
		return
	}

	log.Printf("[GENERATION] Generation failed for %s: %v", userID, err)
	services.SendErrorResponse(w, "Generation failed", http.StatusInternalServerError, nil)
}
