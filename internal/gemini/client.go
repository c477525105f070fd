package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client is a thin REST client for the Gemini generateContent API. One
// instance is shared by all requests.
type Client struct {
	apiKey     string
	baseURL    string
	textModel  string
	imageModel string
	httpClient *http.Client
	log        *slog.Logger
}

type Config struct {
	APIKey     string
	BaseURL    string
	TextModel  string
	ImageModel string
	Timeout    time.Duration
}

// ImageInput is a caller-supplied reference image (base64 payload + mime).
type ImageInput struct {
	Data string
	Mime string
}

// ImageResult is one generated image, decoded from the model's inline data.
type ImageResult struct {
	Data     []byte
	MimeType string
}

// GroundingChunk is one web source the model grounded its answer on.
type GroundingChunk struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	textModel := cfg.TextModel
	if textModel == "" {
		textModel = "gemini-2.5-flash"
	}
	imageModel := cfg.ImageModel
	if imageModel == "" {
		imageModel = "gemini-2.5-flash-image"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		textModel:  textModel,
		imageModel: imageModel,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Wire types for generateContent.

type requestBody struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	Tools             []tool            `json:"tools,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature        *float64 `json:"temperature,omitempty"`
	ResponseMimeType   string   `json:"responseMimeType,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type tool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type responseBody struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason      string `json:"finishReason"`
		GroundingMetadata *struct {
			GroundingChunks []struct {
				Web *struct {
					URI   string `json:"uri"`
					Title string `json:"title"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// GenerateImage produces one image from a prompt plus optional reference
// images. The model returns inline base64 data which is decoded here.
func (c *Client) GenerateImage(ctx context.Context, prompt string, refs []ImageInput) (*ImageResult, error) {
	parts := []part{{Text: prompt}}
	for _, ref := range refs {
		parts = append(parts, part{InlineData: &inlineData{MimeType: ref.Mime, Data: ref.Data}})
	}

	body := requestBody{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"IMAGE", "TEXT"},
		},
	}

	resp, err := c.post(ctx, c.imageModel, body)
	if err != nil {
		return nil, err
	}

	for _, p := range resp.Candidates[0].Content.Parts {
		if p.InlineData == nil {
			continue
		}
		raw, decodeErr := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if decodeErr != nil {
			return nil, &APIError{Kind: KindUnknown, Message: fmt.Sprintf("decode inline image: %v", decodeErr)}
		}
		return &ImageResult{Data: raw, MimeType: p.InlineData.MimeType}, nil
	}
	return nil, &APIError{Kind: KindUnknown, Message: "no image in model response"}
}

// GenerateGrounded runs a search-grounded text generation and returns the
// raw text plus the web sources from grounding metadata.
func (c *Client) GenerateGrounded(ctx context.Context, system, prompt string) (string, []GroundingChunk, error) {
	body := requestBody{
		Contents:          []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		SystemInstruction: &content{Parts: []part{{Text: system}}},
		Tools:             []tool{{GoogleSearch: &struct{}{}}},
	}

	resp, err := c.post(ctx, c.textModel, body)
	if err != nil {
		return "", nil, err
	}

	text := collectText(resp)
	if text == "" {
		return "", nil, &APIError{Kind: KindUnknown, Message: "empty model response"}
	}

	var chunks []GroundingChunk
	if gm := resp.Candidates[0].GroundingMetadata; gm != nil {
		for _, chunk := range gm.GroundingChunks {
			if chunk.Web != nil && chunk.Web.URI != "" {
				chunks = append(chunks, GroundingChunk{URI: chunk.Web.URI, Title: chunk.Web.Title})
			}
		}
	}
	return text, chunks, nil
}

// GenerateJSON runs a text generation constrained to a JSON response.
func (c *Client) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	body := requestBody{
		Contents:          []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		SystemInstruction: &content{Parts: []part{{Text: system}}},
		GenerationConfig:  &generationConfig{ResponseMimeType: "application/json"},
	}

	resp, err := c.post(ctx, c.textModel, body)
	if err != nil {
		return "", err
	}

	text := collectText(resp)
	if text == "" {
		return "", &APIError{Kind: KindUnknown, Message: "empty model response"}
	}
	return text, nil
}

func (c *Client) post(ctx context.Context, model string, body requestBody) (*responseBody, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &APIError{Kind: KindUnknown, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &APIError{Kind: KindUnknown, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}

	if resp.StatusCode != http.StatusOK {
		if c.log != nil {
			c.log.Error("gemini request failed", "model", model, "status", resp.StatusCode, "body", truncate(string(raw)))
		}
		return nil, classifyStatus(resp.StatusCode, string(raw))
	}

	var parsed responseBody
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &APIError{Kind: KindUnknown, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if parsed.Error != nil {
		return nil, classifyStatus(parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		reason := ""
		if len(parsed.Candidates) > 0 {
			reason = parsed.Candidates[0].FinishReason
		}
		if strings.Contains(reason, "SAFETY") || strings.Contains(reason, "PROHIBITED") {
			return nil, &APIError{Kind: KindInvalidInput, Message: "response blocked: " + reason}
		}
		return nil, &APIError{Kind: KindUnknown, Message: "no candidates in model response"}
	}

	if c.log != nil {
		c.log.Info("gemini request completed", "model", model, "elapsed", time.Since(start).String())
	}
	return &parsed, nil
}

func collectText(resp *responseBody) string {
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return strings.TrimSpace(sb.String())
}
