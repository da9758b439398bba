package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notification 封装一次回填运行的摘要。
type Notification struct {
	RunID          string
	Shard          string
	WindowStart    time.Time
	WindowEnd      time.Time
	Processed      int
	Skipped        int
	Failed         int
	TotalInserted  int
	TotalFailed    int
	TotalSkipped   int
	Interrupted    bool
	CheckpointPath string
	Duration       time.Duration
	Channels       []string
	AdditionalMsg  string
}

// Notifier 定义通知输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 通知器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "notify_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("run_id", note.RunID).
		Bool("interrupted", note.Interrupted).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("运行摘要已发送 (Telegram)")
	return nil
}

// RenderMessage formats a summary as plain text.
func RenderMessage(note Notification) string {
	status := "complete"
	if note.Interrupted {
		status = "interrupted"
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Price Backfill] %s\n", status))
	if note.RunID != "" {
		builder.WriteString(fmt.Sprintf("Run: %s\n", note.RunID))
	}
	if note.Shard != "" {
		builder.WriteString(fmt.Sprintf("Shard: %s\n", note.Shard))
	}
	if !note.WindowStart.IsZero() {
		builder.WriteString(fmt.Sprintf("Window: %s .. %s\n", note.WindowStart.Format("2006-01-02"), note.WindowEnd.Format("2006-01-02")))
	}
	builder.WriteString(fmt.Sprintf("This run: %d processed, %d skipped, %d failed\n", note.Processed, note.Skipped, note.Failed))
	builder.WriteString(fmt.Sprintf("Totals: %d rows inserted, %d failed, %d skipped\n", note.TotalInserted, note.TotalFailed, note.TotalSkipped))
	if note.Duration > 0 {
		builder.WriteString(fmt.Sprintf("Duration: %s\n", note.Duration.Round(time.Second)))
	}
	if note.CheckpointPath != "" {
		builder.WriteString(fmt.Sprintf("Checkpoint: %s\n", note.CheckpointPath))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
