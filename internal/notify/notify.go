// Package notify forwards terminal job events to a Telegram chat. It rides
// the same event topics the websocket feed uses, so a job reports its end
// state exactly once no matter how many sinks listen.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/nats-io/nats.go"

	"github.com/chorale-dev/chorale/internal/config"
	"github.com/chorale-dev/chorale/internal/natsbus"
	"github.com/chorale-dev/chorale/internal/status"
)

const telegramMessageLimit = 4096

type Notifier struct {
	bot    *telego.Bot
	nats   *natsbus.Client
	chatID int64
}

// New builds a notifier for the configured chat. The caller decides whether
// notifications are enabled; token and chat id must both be set here.
func New(cfg config.NotifyConfig, bus *natsbus.Bus) (*Notifier, error) {
	bot, err := telego.NewBot(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	client, err := natsbus.NewClient(bus)
	if err != nil {
		return nil, fmt.Errorf("notifier bus client: %w", err)
	}

	return &Notifier{bot: bot, nats: client, chatID: cfg.ChatID}, nil
}

// Start forwards terminal events until ctx is cancelled.
func (n *Notifier) Start(ctx context.Context) error {
	sub, err := n.nats.Subscribe(natsbus.TopicEventsJobs, func(msg *nats.Msg) {
		text, ok := renderEvent(msg.Data)
		if !ok {
			return
		}
		if err := n.send(ctx, text); err != nil {
			slog.Error("telegram notification failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe job events: %w", err)
	}

	slog.Info("notifier started", "chat_id", n.chatID)
	<-ctx.Done()
	_ = sub.Unsubscribe()
	n.nats.Close()
	return nil
}

func (n *Notifier) send(ctx context.Context, text string) error {
	for _, chunk := range chunkMessage(text, telegramMessageLimit) {
		if _, err := n.bot.SendMessage(ctx, tu.Message(tu.ID(n.chatID), chunk)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// renderEvent turns a raw bus payload into a notification line. Only
// terminal stages produce output.
func renderEvent(data []byte) (string, bool) {
	var ev status.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.Warn("invalid event payload", "error", err)
		return "", false
	}

	switch ev.Stage {
	case status.StageComplete:
		return fmt.Sprintf("✅ job %s complete (tenant %s)", ev.JobID, ev.TenantID), true
	case status.StageError:
		return fmt.Sprintf("❌ job %s failed (tenant %s)\n%s", ev.JobID, ev.TenantID, ev.Message), true
	case status.StageCancelled:
		return fmt.Sprintf("🚫 job %s cancelled (tenant %s)", ev.JobID, ev.TenantID), true
	}
	return "", false
}

// chunkMessage splits text into pieces under Telegram's message size limit,
// preferring newline boundaries.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}
