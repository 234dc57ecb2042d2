// Package gemini 对接 Google 生成式服务：分镜脚本、构思、生图、改图、对话与视频。
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"StoryboardStudio-server/logger"
	"StoryboardStudio-server/models"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

const (
	DefaultEndpoint = "https://generativelanguage.googleapis.com/"

	notFoundMessage = "Requested entity was not found"
	fallbackReply   = "Could not process."
	defaultSource   = "Source"
	roleUser        = "user"
)

type Options struct {
	APIKey        string
	Endpoint      string
	TextModel     string
	ImageModel    string
	ProImageModel string
	VideoModel    string
	ChatModel     string

	RequestTimeout  time.Duration
	PollInterval    time.Duration
	PollMaxAttempts int

	HTTPClient *http.Client
}

// Client 线程安全；SetAPIKey 之后的请求使用新凭证
type Client struct {
	opts Options
	http *http.Client
	log  *logrus.Entry

	mu  sync.RWMutex
	key string
	ai  *genai.Client
}

func New(ctx context.Context, o Options) (*Client, error) {
	if o.Endpoint == "" {
		o.Endpoint = DefaultEndpoint
	}
	if !strings.HasSuffix(o.Endpoint, "/") {
		o.Endpoint += "/"
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 2 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.PollMaxAttempts <= 0 {
		o.PollMaxAttempts = 60
	}
	c := &Client{opts: o, http: o.HTTPClient, log: logger.Get("gemini")}
	if c.http == nil {
		c.http = &http.Client{Timeout: o.RequestTimeout}
	}
	if o.APIKey != "" {
		ai, err := c.newGenAI(ctx, o.APIKey)
		if err != nil {
			return nil, err
		}
		c.key, c.ai = o.APIKey, ai
	}
	return c, nil
}

func (c *Client) newGenAI(ctx context.Context, key string) (*genai.Client, error) {
	ai, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      key,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  c.http,
		HTTPOptions: genai.HTTPOptions{BaseURL: c.opts.Endpoint},
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return ai, nil
}

func (c *Client) SetAPIKey(key string) {
	ai, err := c.newGenAI(context.Background(), key)
	if err != nil {
		c.log.WithError(err).Error("更新凭证失败")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key, c.ai = key, ai
}

func (c *Client) credentials() (*genai.Client, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ai == nil || c.key == "" {
		return nil, "", fmt.Errorf("%w: no api key configured", models.ErrAuthorizationMissing)
	}
	return c.ai, c.key, nil
}

func (c *Client) generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	ai, _, err := c.credentials()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := ai.Models.GenerateContent(ctx, model, contents, cfg)
	log := c.log.WithFields(logrus.Fields{"model": model, "elapsed": time.Since(start).Round(time.Millisecond)})
	if err != nil {
		err = classify(err)
		log.WithError(err).Warn("生成请求失败")
		return nil, err
	}
	log.Debug("生成请求完成")
	return resp, nil
}

func apiError(err error) (genai.APIError, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return *p, true
	}
	return genai.APIError{}, false
}

// classify 把底层错误归入三类：凭证、超时、其余生成失败
func classify(err error) error {
	var uerr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &uerr) && uerr.Timeout()) {
		return fmt.Errorf("%w: %v", models.ErrTimeoutExceeded, err)
	}
	if aerr, ok := apiError(err); ok {
		return classifyStatus(aerr.Code, aerr.Message, err)
	}
	return fmt.Errorf("%w: %v", models.ErrGenerationFailure, err)
}

func classifyStatus(code int, msg string, err error) error {
	if authStatus(code, msg) {
		return fmt.Errorf("%w: %v", models.ErrAuthorizationMissing, err)
	}
	if code == http.StatusGatewayTimeout || code == http.StatusRequestTimeout {
		return fmt.Errorf("%w: %v", models.ErrTimeoutExceeded, err)
	}
	return fmt.Errorf("%w: %v", models.ErrGenerationFailure, err)
}

func authStatus(code int, body string) bool {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return true
	case strings.Contains(body, notFoundMessage):
		return true
	case code == http.StatusBadRequest && strings.Contains(body, "API key not valid"):
		return true
	}
	return false
}

func textContent(role, text string) *genai.Content {
	return &genai.Content{Role: role, Parts: []*genai.Part{{Text: text}}}
}

func inlinePart(a models.Artifact) *genai.Part {
	mime := a.MimeType
	if mime == "" {
		mime = models.DefaultImageMimeType
	}
	return &genai.Part{InlineData: &genai.Blob{MIMEType: mime, Data: a.Data}}
}

func candidateParts(resp *genai.GenerateContentResponse) []*genai.Part {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return nil
	}
	return resp.Candidates[0].Content.Parts
}

func responseText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, p := range candidateParts(resp) {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func firstImage(resp *genai.GenerateContentResponse) (models.Artifact, error) {
	for _, p := range candidateParts(resp) {
		if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
			continue
		}
		mime := p.InlineData.MIMEType
		if mime == "" {
			mime = models.DefaultImageMimeType
		}
		return models.Artifact{MimeType: mime, Data: p.InlineData.Data}, nil
	}
	return models.Artifact{}, fmt.Errorf("%w: no image returned", models.ErrGenerationFailure)
}

// cleanJSON 去掉模型偶尔包裹的 markdown 代码块
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func decodeJSON(resp *genai.GenerateContentResponse, v interface{}) error {
	raw := cleanJSON(responseText(resp))
	if raw == "" {
		return fmt.Errorf("%w: empty response", models.ErrGenerationFailure)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: parse response JSON: %v", models.ErrGenerationFailure, err)
	}
	return nil
}

func jsonConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
}

// ---------------------------------------------------------------------------
// 文本
// ---------------------------------------------------------------------------

type storyboardJSON struct {
	Title       string `json:"title"`
	Theme       string `json:"theme"`
	VisualStyle string `json:"visualStyle"`
	Shots       []struct {
		ShotNumber        int    `json:"shotNumber"`
		ShotType          string `json:"shotType"`
		Description       string `json:"description"`
		VisualPrompt      string `json:"visualPrompt"`
		Dialogue          string `json:"dialogue"`
		CharacterInvolved string `json:"characterInvolved"`
	} `json:"shots"`
}

func (c *Client) GenerateStoryboard(ctx context.Context, req models.StoryboardRequest) (models.StoryboardScript, error) {
	resp, err := c.generate(ctx, c.opts.TextModel, []*genai.Content{textContent(roleUser, storyboardPrompt(req))}, jsonConfig())
	if err != nil {
		return models.StoryboardScript{}, err
	}
	var raw storyboardJSON
	if err := decodeJSON(resp, &raw); err != nil {
		return models.StoryboardScript{}, err
	}
	if len(raw.Shots) == 0 {
		return models.StoryboardScript{}, fmt.Errorf("%w: storyboard has no shots", models.ErrGenerationFailure)
	}
	script := models.StoryboardScript{Title: raw.Title, Theme: raw.Theme}
	for i, s := range raw.Shots {
		n := s.ShotNumber
		if n == 0 {
			n = i + 1
		}
		script.Shots = append(script.Shots, models.Shot{
			SequenceNumber:       n,
			ShotType:             s.ShotType,
			NarrativeDescription: s.Description,
			Dialogue:             s.Dialogue,
			VisualPrompt:         s.VisualPrompt,
			AssignedCharacterID:  s.CharacterInvolved,
		})
	}
	return script, nil
}

func (c *Client) RefineConcept(ctx context.Context, in models.ConceptInputs, lang models.Language) (models.StoryConcept, error) {
	resp, err := c.generate(ctx, c.opts.TextModel, []*genai.Content{textContent(roleUser, conceptPrompt(in, lang))}, jsonConfig())
	if err != nil {
		return models.StoryConcept{}, err
	}
	var concept models.StoryConcept
	if err := decodeJSON(resp, &concept); err != nil {
		return models.StoryConcept{}, err
	}
	if concept.Title == "" || concept.Premise == "" {
		return models.StoryConcept{}, fmt.Errorf("%w: concept missing title or premise", models.ErrGenerationFailure)
	}
	return concept, nil
}

// Chat 启用搜索工具，来源链接写入 Citations
func (c *Client) Chat(ctx context.Context, message string, history []models.ChatMessage) (models.ChatMessage, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		contents = append(contents, textContent(string(m.Role), m.Text))
	}
	contents = append(contents, textContent(roleUser, message))

	resp, err := c.generate(ctx, c.opts.ChatModel, contents, &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	})
	if err != nil {
		return models.ChatMessage{}, err
	}

	reply := models.ChatMessage{Role: models.ChatRoleModel, Text: responseText(resp)}
	if reply.Text == "" {
		reply.Text = fallbackReply
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil && resp.Candidates[0].GroundingMetadata != nil {
		for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
			if chunk == nil || chunk.Web == nil {
				continue
			}
			title := chunk.Web.Title
			if title == "" {
				title = defaultSource
			}
			reply.Citations = append(reply.Citations, models.Citation{Title: title, URI: chunk.Web.URI})
		}
	}
	return reply, nil
}

// ---------------------------------------------------------------------------
// 图片
// ---------------------------------------------------------------------------

// imageModel 1K 用快速模型，2K/4K 用 pro 模型
func (c *Client) imageModel(size models.ImageSize) string {
	if size != "" && size != models.ImageSize1K && c.opts.ProImageModel != "" {
		return c.opts.ProImageModel
	}
	return c.opts.ImageModel
}

func (c *Client) GenerateShotImage(ctx context.Context, req models.ImageRequest) (models.Artifact, error) {
	parts := make([]*genai.Part, 0, len(req.Parts))
	for _, p := range req.Parts {
		if p.Image != nil {
			parts = append(parts, inlinePart(*p.Image))
			continue
		}
		parts = append(parts, &genai.Part{Text: p.Text})
	}
	resp, err := c.generate(ctx, c.imageModel(req.ImageSize), []*genai.Content{{Role: roleUser, Parts: parts}}, nil)
	if err != nil {
		return models.Artifact{}, err
	}
	return firstImage(resp)
}

func (c *Client) GenerateCharacterReference(ctx context.Context, ch models.CharacterProfile, style models.VisualStyle) (models.Artifact, error) {
	resp, err := c.generate(ctx, c.opts.ImageModel, []*genai.Content{textContent(roleUser, characterSheetPrompt(ch, style))}, nil)
	if err != nil {
		return models.Artifact{}, err
	}
	return firstImage(resp)
}

func (c *Client) EditImage(ctx context.Context, img models.Artifact, instruction string) (models.Artifact, error) {
	resp, err := c.generate(ctx, c.opts.ImageModel, []*genai.Content{{
		Role:  roleUser,
		Parts: []*genai.Part{inlinePart(img), {Text: editPrompt(instruction)}},
	}}, nil)
	if err != nil {
		return models.Artifact{}, err
	}
	return firstImage(resp)
}
