package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jankos/backend/internal/config"
	"github.com/jankos/backend/internal/gemini"
	"github.com/jankos/backend/internal/models"
	"github.com/lib/pq"
)

var ErrProjectNotFound = errors.New("project not found")

// Generator is the slice of the Gemini client the orchestrator needs.
type Generator interface {
	GenerateImage(ctx context.Context, prompt string, refs []gemini.ImageInput) (*gemini.ImageResult, error)
	GenerateGrounded(ctx context.Context, system, prompt string) (string, []gemini.GroundingChunk, error)
	GenerateJSON(ctx context.Context, system, prompt string) (string, error)
}

// ArtifactUploader persists one generated image and returns a public URL.
type ArtifactUploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// GenerationService coordinates one generation request end to end:
// reserve credits, create the project, run the units, refund failed units,
// settle the project's terminal status. Units run sequentially; there is
// no cancellation once the reservation succeeds.
type GenerationService struct {
	db       *sql.DB
	wallet   *WalletService
	gen      Generator
	uploader ArtifactUploader // nil means inline data URLs instead of hosted URLs
	pricing  *config.PricingConfig
}

func NewGenerationService(db *sql.DB, wallet *WalletService, gen Generator, uploader ArtifactUploader, pricing *config.PricingConfig) *GenerationService {
	return &GenerationService{
		db:       db,
		wallet:   wallet,
		gen:      gen,
		uploader: uploader,
		pricing:  pricing,
	}
}

// ImageRef is a reference image attached to a thumbnail request.
type ImageRef struct {
	Data    string `json:"data" validate:"required"` // base64 payload
	Mime    string `json:"mime" validate:"required"`
	Emotion string `json:"emotion,omitempty"`
	Style   string `json:"style,omitempty"`
}

// ThumbnailRequest is one dashboard thumbnail generation submission.
type ThumbnailRequest struct {
	Name          string     `json:"name"`
	Description   string     `json:"description" validate:"required"`
	Title         string     `json:"title"`
	Emotion       string     `json:"emotion"`
	Style         string     `json:"style"`
	TextIntensity string     `json:"textIntensity"`
	ImageSize     string     `json:"imageSize"`
	Count         int        `json:"count" validate:"required,min=1,max=4"`
	ActorImages   []ImageRef `json:"actorImages" validate:"dive"`
	ObjectImages  []ImageRef `json:"objectImages" validate:"dive"`
}

// ThumbnailResult summarizes one finished thumbnail run.
type ThumbnailResult struct {
	ProjectID       string   `json:"projectId"`
	Status          string   `json:"status"`
	ImageURLs       []string `json:"imageUrls"`
	Hosted          bool     `json:"hosted"` // false means inline data URLs
	Succeeded       int      `json:"succeeded"`
	Failed          int      `json:"failed"`
	UnitErrors      []string `json:"unitErrors,omitempty"`
	CreditsCharged  int64    `json:"creditsCharged"`
	CreditsRefunded int64    `json:"creditsRefunded"`
	Summary         string   `json:"summary"`
}

// ViralRequest is one viral-ideas submission.
type ViralRequest struct {
	Niche       string `json:"niche" validate:"required"`
	ChannelName string `json:"channelName" validate:"required"`
	Audience    string `json:"audience" validate:"required"`
}

// ViralConcept is one validated or rejected video idea.
type ViralConcept struct {
	Title           string `json:"title"`
	SourceTrend     string `json:"sourceTrend"`
	NicheAdaptation string `json:"nicheAdaptation"`
	SaturationNote  string `json:"saturationNote"`
	ViralityScore   int    `json:"viralityScore"`
	Rationale       string `json:"rationale"`
	Status          string `json:"status"` // validated or rejected
}

// ViralResult is the payload returned to the dashboard.
type ViralResult struct {
	ProjectID       string                  `json:"projectId"`
	Concepts        []ViralConcept          `json:"concepts"`
	GroundingChunks []gemini.GroundingChunk `json:"groundingChunks,omitempty"`
	CreditsCharged  int64                   `json:"creditsCharged"`
}

// KeywordsRequest is one SEO keyword strategy submission.
type KeywordsRequest struct {
	Niche string `json:"niche" validate:"required"`
}

// KeywordTitles carries the three title variants per keyword.
type KeywordTitles struct {
	Educational  string `json:"educational"`
	Curiosity    string `json:"curiosity"`
	Storytelling string `json:"storytelling"`
}

// KeywordConcept is one keyword opportunity.
type KeywordConcept struct {
	Keyword             string        `json:"keyword"`
	MonthlySearchVolume int           `json:"monthlySearchVolume"`
	Intent              string        `json:"intent"`
	Titles              KeywordTitles `json:"titles"`
	ViralPotential      string        `json:"viralPotential"` // low, medium, high
}

// KeywordsResult is the payload returned to the dashboard.
type KeywordsResult struct {
	ProjectID      string           `json:"projectId"`
	Concepts       []KeywordConcept `json:"concepts"`
	CreditsCharged int64            `json:"creditsCharged"`
}

// RunThumbnail executes a multi-unit thumbnail batch. Failed units are
// refunded one unit at a time and do not abort the batch; the project
// completes if at least one unit succeeded.
func (s *GenerationService) RunThumbnail(ctx context.Context, profileID string, req ThumbnailRequest) (*ThumbnailResult, error) {
	unitCost := s.pricing.ThumbnailCost
	totalCost := unitCost * int64(req.Count)

	if err := s.wallet.Reserve(profileID, totalCost, fmt.Sprintf("Thumbnail generation x%d", req.Count)); err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = req.Title
	}
	projectID, err := s.createProject(profileID, models.ProjectKindThumbnail, name, req.Description, totalCost)
	if err != nil {
		// The reservation already happened; hand the credits back rather
		// than leaving them charged against a request that never ran.
		if refundErr := s.wallet.Refund(profileID, totalCost, "Thumbnail generation aborted (refunded)"); refundErr != nil {
			log.Printf("[GENERATION] Refund after project-create failure also failed for %s: %v", profileID, refundErr)
		}
		return nil, err
	}

	prompt := buildThumbnailPrompt(req)
	refs := collectRefs(req)

	var (
		urls       []string
		unitErrors []string
		refunded   int64
	)
	for i := 0; i < req.Count; i++ {
		image, genErr := s.gen.GenerateImage(ctx, prompt, refs)
		if genErr == nil {
			url, upErr := s.storeImage(ctx, image)
			if upErr == nil {
				if err := s.appendResultURL(projectID, url); err != nil {
					log.Printf("[GENERATION] Failed to append result URL to project %s: %v", projectID, err)
				}
				urls = append(urls, url)
				continue
			}
			genErr = upErr
		}

		// One unit failed: refund exactly that unit and keep going.
		unitErrors = append(unitErrors, userFacingMessage(genErr))
		log.Printf("[GENERATION] Thumbnail unit %d/%d failed for project %s: %v", i+1, req.Count, projectID, genErr)
		if refundErr := s.wallet.Refund(profileID, unitCost, "Thumbnail unit failed (refunded)"); refundErr != nil {
			log.Printf("[GENERATION] Unit refund failed for %s: %v", profileID, refundErr)
		} else {
			refunded += unitCost
		}
	}

	succeeded := len(urls)
	failed := req.Count - succeeded
	status := models.ProjectCompleted
	if succeeded == 0 {
		status = models.ProjectFailed
	}
	summary := fmt.Sprintf("%d thumbnail(s) generated", succeeded)
	if failed > 0 {
		summary = fmt.Sprintf("%d succeeded, %d failed (refunded)", succeeded, failed)
	}

	if err := s.settleProject(projectID, status, summary, nil, refunded); err != nil {
		log.Printf("[GENERATION] Failed to settle project %s: %v", projectID, err)
	}

	return &ThumbnailResult{
		ProjectID:       projectID,
		Status:          status,
		ImageURLs:       urls,
		Hosted:          s.uploader != nil,
		Succeeded:       succeeded,
		Failed:          failed,
		UnitErrors:      unitErrors,
		CreditsCharged:  totalCost,
		CreditsRefunded: refunded,
		Summary:         summary,
	}, nil
}

// RunViral executes a single-unit viral ideas batch. Any failure refunds
// the whole reservation.
func (s *GenerationService) RunViral(ctx context.Context, profileID string, req ViralRequest) (*ViralResult, error) {
	cost := s.pricing.ViralCost

	if err := s.wallet.Reserve(profileID, cost, fmt.Sprintf("Viral ideas for %s", req.Niche)); err != nil {
		return nil, err
	}

	projectID, err := s.createProject(profileID, models.ProjectKindViral, fmt.Sprintf("Viral ideas: %s", req.Niche), req.Niche, cost)
	if err != nil {
		if refundErr := s.wallet.Refund(profileID, cost, "Viral ideas aborted (refunded)"); refundErr != nil {
			log.Printf("[GENERATION] Refund after project-create failure also failed for %s: %v", profileID, refundErr)
		}
		return nil, err
	}

	system := "You are a YouTube growth strategist. Research current trends with web search and respond with strict JSON only: " +
		`{"concepts":[{"title":...,"sourceTrend":...,"nicheAdaptation":...,"saturationNote":...,"viralityScore":0-100,"rationale":...,"status":"validated"|"rejected"}]}`
	prompt := fmt.Sprintf("Niche: %s\nChannel: %s\nTarget audience: %s\nPropose 5 video concepts adapted from currently trending formats.",
		req.Niche, req.ChannelName, req.Audience)

	text, chunks, genErr := s.gen.GenerateGrounded(ctx, system, prompt)
	var concepts []ViralConcept
	if genErr == nil {
		concepts, genErr = parseViralConcepts(text)
	}
	if genErr != nil {
		s.failSingleUnit(profileID, projectID, cost, "Viral ideas generation failed (refunded)", genErr)
		return nil, genErr
	}

	payload, _ := json.Marshal(map[string]any{"concepts": concepts, "groundingChunks": chunks})
	summary := fmt.Sprintf("%d viral video ideas generated", len(concepts))
	if err := s.settleProject(projectID, models.ProjectCompleted, summary, payload, 0); err != nil {
		log.Printf("[GENERATION] Failed to settle project %s: %v", projectID, err)
	}

	return &ViralResult{
		ProjectID:       projectID,
		Concepts:        concepts,
		GroundingChunks: chunks,
		CreditsCharged:  cost,
	}, nil
}

// RunKeywords executes a single-unit SEO keyword batch. Any failure
// refunds the whole reservation.
func (s *GenerationService) RunKeywords(ctx context.Context, profileID string, req KeywordsRequest) (*KeywordsResult, error) {
	cost := s.pricing.KeywordsCost

	if err := s.wallet.Reserve(profileID, cost, fmt.Sprintf("SEO keywords for %s", req.Niche)); err != nil {
		return nil, err
	}

	projectID, err := s.createProject(profileID, models.ProjectKindSEO, fmt.Sprintf("SEO keywords: %s", req.Niche), req.Niche, cost)
	if err != nil {
		if refundErr := s.wallet.Refund(profileID, cost, "SEO keywords aborted (refunded)"); refundErr != nil {
			log.Printf("[GENERATION] Refund after project-create failure also failed for %s: %v", profileID, refundErr)
		}
		return nil, err
	}

	system := "You are a YouTube SEO strategist. Respond with strict JSON only: " +
		`{"concepts":[{"keyword":...,"monthlySearchVolume":int,"intent":...,"titles":{"educational":...,"curiosity":...,"storytelling":...},"viralPotential":"low"|"medium"|"high"}]}`
	prompt := fmt.Sprintf("Niche: %s\nProduce 10 keyword opportunities with realistic monthly search volume estimates.", req.Niche)

	text, genErr := s.gen.GenerateJSON(ctx, system, prompt)
	var concepts []KeywordConcept
	if genErr == nil {
		concepts, genErr = parseKeywordConcepts(text)
	}
	if genErr != nil {
		s.failSingleUnit(profileID, projectID, cost, "SEO keywords generation failed (refunded)", genErr)
		return nil, genErr
	}

	payload, _ := json.Marshal(map[string]any{"concepts": concepts})
	summary := fmt.Sprintf("%d keyword opportunities generated", len(concepts))
	if err := s.settleProject(projectID, models.ProjectCompleted, summary, payload, 0); err != nil {
		log.Printf("[GENERATION] Failed to settle project %s: %v", projectID, err)
	}

	return &KeywordsResult{
		ProjectID:      projectID,
		Concepts:       concepts,
		CreditsCharged: cost,
	}, nil
}

// ListProjects returns the caller's non-expired projects, newest first.
func (s *GenerationService) ListProjects(profileID string) ([]models.Project, error) {
	rows, err := s.db.Query(`
		SELECT id, profile_id, kind, name, prompt, status, result_urls, result_json, summary,
		       credits_charged, credits_refunded, created_at, expires_at
		FROM projects
		WHERE profile_id = $1 AND expires_at > NOW()
		ORDER BY created_at DESC`,
		profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// GetProject fetches one project owned by the caller.
func (s *GenerationService) GetProject(profileID, projectID string) (*models.Project, error) {
	row := s.db.QueryRow(`
		SELECT id, profile_id, kind, name, prompt, status, result_urls, result_json, summary,
		       credits_charged, credits_refunded, created_at, expires_at
		FROM projects
		WHERE id = $1 AND profile_id = $2`,
		projectID, profileID)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, ErrProjectNotFound
	}
	return p, err
}

func (s *GenerationService) createProject(profileID, kind, name, prompt string, cost int64) (string, error) {
	projectID := uuid.NewString()
	now := time.Now()
	_, err := s.db.Exec(`
		INSERT INTO projects (id, profile_id, kind, name, prompt, status, credits_charged, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		projectID, profileID, kind, name, prompt, models.ProjectGenerating, cost, now, now.Add(models.ProjectTTL))
	if err != nil {
		return "", fmt.Errorf("create project: %w", err)
	}
	return projectID, nil
}

func (s *GenerationService) appendResultURL(projectID, url string) error {
	_, err := s.db.Exec(`UPDATE projects SET result_urls = array_append(result_urls, $1) WHERE id = $2`, url, projectID)
	return err
}

func (s *GenerationService) settleProject(projectID, status, summary string, resultJSON []byte, refunded int64) error {
	_, err := s.db.Exec(`
		UPDATE projects
		SET status = $1, summary = $2, result_json = COALESCE($3, result_json), credits_refunded = $4
		WHERE id = $5`,
		status, summary, resultJSON, refunded, projectID)
	return err
}

func (s *GenerationService) failSingleUnit(profileID, projectID string, cost int64, description string, genErr error) {
	log.Printf("[GENERATION] Project %s failed: %v", projectID, genErr)
	if err := s.settleProject(projectID, models.ProjectFailed, "generation failed (refunded)", nil, cost); err != nil {
		log.Printf("[GENERATION] Failed to settle project %s: %v", projectID, err)
	}
	if err := s.wallet.Refund(profileID, cost, description); err != nil {
		log.Printf("[GENERATION] Refund failed for %s: %v", profileID, err)
	}
}

func (s *GenerationService) storeImage(ctx context.Context, image *gemini.ImageResult) (string, error) {
	if s.uploader == nil {
		return "data:" + image.MimeType + ";base64," + base64.StdEncoding.EncodeToString(image.Data), nil
	}
	return s.uploader.Upload(ctx, image.Data, image.MimeType)
}

func buildThumbnailPrompt(req ThumbnailRequest) string {
	var sb strings.Builder
	sb.WriteString("Design a click-optimized YouTube thumbnail. ")
	sb.WriteString("Scene: " + req.Description + ". ")
	if req.Title != "" {
		sb.WriteString("Video title: " + req.Title + ". ")
	}
	if req.Emotion != "" {
		sb.WriteString("Dominant emotion: " + req.Emotion + ". ")
	}
	if req.Style != "" {
		sb.WriteString("Visual style: " + req.Style + ". ")
	}
	switch req.TextIntensity {
	case "none":
		sb.WriteString("No overlay text. ")
	case "subtle":
		sb.WriteString("Minimal overlay text, 1-2 words. ")
	case "bold":
		sb.WriteString("Large high-contrast overlay text. ")
	}
	if req.ImageSize != "" {
		sb.WriteString("Output size: " + req.ImageSize + ". ")
	}
	if len(req.ActorImages) > 0 {
		sb.WriteString("Feature the person from the attached reference photo(s)")
		if e := req.ActorImages[0].Emotion; e != "" {
			sb.WriteString(" showing a " + e + " expression")
		}
		sb.WriteString(". ")
	}
	if len(req.ObjectImages) > 0 {
		sb.WriteString("Include the attached object reference(s) prominently. ")
	}
	return sb.String()
}

func collectRefs(req ThumbnailRequest) []gemini.ImageInput {
	var refs []gemini.ImageInput
	for _, img := range req.ActorImages {
		refs = append(refs, gemini.ImageInput{Data: img.Data, Mime: img.Mime})
	}
	for _, img := range req.ObjectImages {
		refs = append(refs, gemini.ImageInput{Data: img.Data, Mime: img.Mime})
	}
	return refs
}

func parseViralConcepts(text string) ([]ViralConcept, error) {
	var envelope struct {
		Concepts []ViralConcept `json:"concepts"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &envelope); err != nil {
		return nil, &gemini.APIError{Kind: gemini.KindUnknown, Message: fmt.Sprintf("model returned malformed JSON: %v", err)}
	}
	if len(envelope.Concepts) == 0 {
		return nil, &gemini.APIError{Kind: gemini.KindUnknown, Message: "model returned no concepts"}
	}
	for i := range envelope.Concepts {
		if envelope.Concepts[i].Status != "rejected" {
			envelope.Concepts[i].Status = "validated"
		}
		if envelope.Concepts[i].ViralityScore < 0 {
			envelope.Concepts[i].ViralityScore = 0
		}
		if envelope.Concepts[i].ViralityScore > 100 {
			envelope.Concepts[i].ViralityScore = 100
		}
	}
	return envelope.Concepts, nil
}

func parseKeywordConcepts(text string) ([]KeywordConcept, error) {
	var envelope struct {
		Concepts []KeywordConcept `json:"concepts"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &envelope); err != nil {
		return nil, &gemini.APIError{Kind: gemini.KindUnknown, Message: fmt.Sprintf("model returned malformed JSON: %v", err)}
	}
	if len(envelope.Concepts) == 0 {
		return nil, &gemini.APIError{Kind: gemini.KindUnknown, Message: "model returned no concepts"}
	}
	for i := range envelope.Concepts {
		switch envelope.Concepts[i].ViralPotential {
		case "low", "medium", "high":
		default:
			envelope.Concepts[i].ViralPotential = "medium"
		}
	}
	return envelope.Concepts, nil
}

// stripCodeFence removes a leading/trailing markdown fence some models
// wrap around JSON despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// userFacingMessage converts any generation error into banner text.
func userFacingMessage(err error) string {
	var apiErr *gemini.APIError
	if errors.As(err, &apiErr) {
		return apiErr.UserMessage()
	}
	return "Generation failed unexpectedly. Your credits for this attempt were refunded."
}

func scanProject(row interface{ Scan(...any) error }) (*models.Project, error) {
	var p models.Project
	var resultJSON []byte
	err := row.Scan(&p.ID, &p.ProfileID, &p.Kind, &p.Name, &p.Prompt, &p.Status,
		pq.Array(&p.ResultURLs), &resultJSON, &p.Summary,
		&p.CreditsCharged, &p.CreditsRefunded, &p.CreatedAt, &p.ExpiresAt)
	if err != nil {
		return nil, err
	}
	p.ResultJSON = resultJSON
	return &p, nil
}
