package aiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"stockwatch_backend/models"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
)

// Client talks to an OpenAI-protocol compatible chat completion endpoint.
type Client struct {
	http    *resty.Client
	baseURL string
	apiKey  string
	model   string
}

// New creates a client for the given provider. model may be overridden
// per call via ChatWithModel.
func New(baseURL, apiKey, model string) *Client {
	return &Client{
		http: resty.New().
			SetTimeout(60 * time.Second).
			SetHeader("Content-Type", "application/json"),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   model,
	}
}

// Model returns the default model reference.
func (c *Client) Model() string {
	return c.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends one system+user exchange using the default model.
func (c *Client) Chat(ctx context.Context, systemPrompt, userContent string) (string, error) {
	return c.ChatWithModel(ctx, c.model, systemPrompt, userContent)
}

// ChatWithModel sends one system+user exchange with an explicit model ref.
func (c *Client) ChatWithModel(ctx context.Context, model, systemPrompt, userContent string) (string, error) {
	if model == "" {
		model = c.model
	}
	req := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		Temperature: 0.4,
	}

	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.apiKey).
		SetBody(req).
		SetResult(&out).
		Post(c.baseURL + "/chat/completions")
	if err != nil {
		return "", fmt.Errorf("ai request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("ai request failed: status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.Error != nil {
		return "", fmt.Errorf("ai request failed: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("ai request returned no choices")
	}
	if out.Usage.TotalTokens > 0 {
		log.Debugf("ai tokens used: %d", out.Usage.TotalTokens)
	}
	return out.Choices[0].Message.Content, nil
}

// ActionResult is the structured recommendation parsed from a model reply.
type ActionResult struct {
	Action      models.SuggestionAction `json:"action"`
	ActionLabel string                  `json:"action_label"`
	Signal      string                  `json:"signal"`
	Reason      string                  `json:"reason"`
	ShouldAlert bool                    `json:"-"`
}

var jsonObjectRe = regexp.MustCompile(`\{[\s\S]*\}`)

// ParseAction extracts a structured action from a model reply. Prefers a
// JSON object (optionally inside a fenced code block); falls back to a
// conservative "watch" when nothing parseable is present.
func ParseAction(content string) ActionResult {
	result := ActionResult{
		Action:      models.ActionWatch,
		ActionLabel: "watch",
	}

	raw := stripFences(content)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		if m := jsonObjectRe.FindString(raw); m != "" {
			_ = json.Unmarshal([]byte(m), &obj)
		}
	}
	if obj == nil {
		return result
	}

	getStr := func(key string) string {
		var s string
		if v, ok := obj[key]; ok {
			_ = json.Unmarshal(v, &s)
		}
		return strings.TrimSpace(s)
	}

	if action := getStr("action"); action != "" {
		result.Action = models.SuggestionAction(action)
	}
	if label := getStr("action_label"); label != "" {
		result.ActionLabel = truncate(label, 20)
	}
	result.Signal = truncate(getStr("signal"), 60)
	result.Reason = truncate(getStr("reason"), 160)
	result.ShouldAlert = models.AlertActions[result.Action]
	return result
}

// ParseBatchActions extracts per-instrument actions from a batch reply: one
// JSON object keyed by instrument key. Keys whose values do not decode are
// dropped; a reply with no parseable object yields an empty map.
func ParseBatchActions(content string) map[string]ActionResult {
	raw := stripFences(content)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		if m := jsonObjectRe.FindString(raw); m != "" {
			_ = json.Unmarshal([]byte(m), &obj)
		}
	}

	results := make(map[string]ActionResult, len(obj))
	for key, rawEntry := range obj {
		var entry struct {
			Action      string `json:"action"`
			ActionLabel string `json:"action_label"`
			Signal      string `json:"signal"`
			Reason      string `json:"reason"`
		}
		if err := json.Unmarshal(rawEntry, &entry); err != nil || entry.Action == "" {
			continue
		}
		res := ActionResult{
			Action:      models.SuggestionAction(entry.Action),
			ActionLabel: truncate(entry.ActionLabel, 20),
			Signal:      truncate(entry.Signal, 60),
			Reason:      truncate(entry.Reason, 160),
		}
		if res.ActionLabel == "" {
			res.ActionLabel = entry.Action
		}
		res.ShouldAlert = models.AlertActions[res.Action]
		results[key] = res
	}
	return results
}

// stripFences removes a surrounding ```json fenced block, if any.
func stripFences(content string) string {
	raw := strings.TrimSpace(content)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	lines := strings.Split(raw, "\n")
	if len(lines) >= 3 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		raw = strings.Join(lines[1:len(lines)-1], "\n")
		raw = strings.TrimSpace(strings.TrimPrefix(raw, "json"))
	}
	return raw
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
