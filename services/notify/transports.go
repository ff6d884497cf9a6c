package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"stockwatch_backend/models"

	"github.com/go-resty/resty/v2"
)

// Sender delivers one message through one channel's transport.
type Sender interface {
	Send(ctx context.Context, channel *models.NotifyChannel, title, body string) error
}

// HTTPSender sends through the public transport APIs. Secrets come from the
// channel configuration and never leave it.
type HTTPSender struct {
	http *resty.Client
}

// NewHTTPSender creates a sender with a bounded per-call timeout.
func NewHTTPSender() *HTTPSender {
	return &HTTPSender{
		http: resty.New().SetTimeout(30 * time.Second),
	}
}

// Send dispatches to the channel's transport by type.
func (s *HTTPSender) Send(ctx context.Context, channel *models.NotifyChannel, title, body string) error {
	cfg := channel.ParsedConfig()
	switch channel.Type {
	case models.ChannelTelegram:
		return s.sendTelegram(ctx, cfg, title, body)
	case models.ChannelWecom:
		return s.sendWecom(ctx, cfg, title, body)
	case models.ChannelBark:
		return s.sendBark(ctx, cfg, title, body)
	case models.ChannelServerChan:
		return s.sendServerChan(ctx, cfg, title, body)
	}
	return fmt.Errorf("unsupported channel type: %s", channel.Type)
}

func (s *HTTPSender) sendTelegram(ctx context.Context, cfg map[string]string, title, body string) error {
	botToken := cfg["bot_token"]
	chatID := cfg["chat_id"]
	if botToken == "" || chatID == "" {
		return fmt.Errorf("telegram requires bot_token and chat_id")
	}

	text := body
	if title != "" {
		text = "*" + title + "*\n\n" + body
	}

	var out struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id":    chatID,
			"text":       text,
			"parse_mode": "Markdown",
		}).
		SetResult(&out).
		Post(fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", botToken))
	if err != nil {
		return err
	}
	if resp.IsError() || !out.OK {
		return fmt.Errorf("telegram send failed: %s", firstNonEmpty(out.Description, resp.Status()))
	}
	return nil
}

func (s *HTTPSender) sendWecom(ctx context.Context, cfg map[string]string, title, body string) error {
	key := cfg["webhook_key"]
	if key == "" {
		return fmt.Errorf("wecom requires webhook_key")
	}

	text := body
	if title != "" {
		text = "## " + title + "\n\n" + body
	}

	var out struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"msgtype":  "markdown",
			"markdown": map[string]string{"content": text},
		}).
		SetResult(&out).
		Post("https://qyapi.weixin.qq.com/cgi-bin/webhook/send?key=" + url.QueryEscape(key))
	if err != nil {
		return err
	}
	if resp.IsError() || out.ErrCode != 0 {
		return fmt.Errorf("wecom send failed: %s", firstNonEmpty(out.ErrMsg, resp.Status()))
	}
	return nil
}

func (s *HTTPSender) sendBark(ctx context.Context, cfg map[string]string, title, body string) error {
	deviceKey := cfg["device_key"]
	if deviceKey == "" {
		return fmt.Errorf("bark requires device_key")
	}
	server := strings.TrimRight(cfg["server_url"], "/")
	if server == "" {
		server = "https://api.day.app"
	}

	var out struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"title": title,
			"body":  body,
		}).
		SetResult(&out).
		Post(fmt.Sprintf("%s/%s", server, deviceKey))
	if err != nil {
		return err
	}
	if resp.IsError() || out.Code != 200 {
		return fmt.Errorf("bark send failed: %s", firstNonEmpty(out.Message, resp.Status()))
	}
	return nil
}

func (s *HTTPSender) sendServerChan(ctx context.Context, cfg map[string]string, title, body string) error {
	sendKey := cfg["sendkey"]
	if sendKey == "" {
		return fmt.Errorf("serverchan requires sendkey")
	}
	if title == "" {
		title = "Notification"
	}

	var out struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"title": title,
			"desp":  body,
		}).
		SetResult(&out).
		Post(fmt.Sprintf("https://sctapi.ftqq.com/%s.send", sendKey))
	if err != nil {
		return err
	}
	if resp.IsError() || out.Code != 0 {
		return fmt.Errorf("serverchan send failed: %s", firstNonEmpty(out.Message, resp.Status()))
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return "unknown error"
}
