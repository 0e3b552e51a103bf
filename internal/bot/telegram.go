// Package bot adapts the Telegram transport to the session client contract
// and turns qualifying inbound messages into pipeline invocations.
package bot

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/persona-relay/internal/session"
	"go.uber.org/zap"
)

// TelegramClient implements session.Client over the Bot API long-poll
// stream. Telegram's token auth has no scan step, so the client reports
// Authenticated and Ready as soon as the update channel is up; the QR
// states remain reachable only through other transports.
type TelegramClient struct {
	api    *tgbotapi.BotAPI
	logger *zap.Logger
}

func NewTelegramClient(token string, logger *zap.Logger) (*TelegramClient, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return &TelegramClient{api: api, logger: logger}, nil
}

func (c *TelegramClient) Start(ctx context.Context) (<-chan session.Event, error) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := c.api.GetUpdatesChan(u)
	events := make(chan session.Event, 16)

	go func() {
		defer close(events)

		events <- session.Event{Type: session.EventAuthenticated}
		events <- session.Event{Type: session.EventReady}

		for {
			select {
			case <-ctx.Done():
				events <- session.Event{Type: session.EventDisconnected, Reason: "SHUTDOWN"}
				return
			case update, ok := <-updates:
				if !ok {
					events <- session.Event{Type: session.EventDisconnected, Reason: "STREAM_CLOSED"}
					return
				}
				if update.Message == nil {
					continue
				}
				msg := update.Message
				content := msg.Text
				if msg.Caption != "" {
					content = msg.Caption
				}
				events <- session.Event{
					Type: session.EventMessage,
					Message: &session.InboundMessage{
						Address:     strconv.FormatInt(msg.Chat.ID, 10),
						DisplayName: displayName(msg),
						Body:        content,
						FromSelf:    msg.From != nil && msg.From.ID == c.api.Self.ID,
					},
				}
			}
		}
	}()
	return events, nil
}

func (c *TelegramClient) Send(address, text string) error {
	chatID, err := strconv.ParseInt(address, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat address %q: %w", address, err)
	}
	if _, err := c.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (c *TelegramClient) Destroy(wipeCredentials bool) error {
	c.api.StopReceivingUpdates()
	// Token credentials live in config, not on disk; nothing to wipe.
	_ = wipeCredentials
	return nil
}

func displayName(msg *tgbotapi.Message) string {
	if msg.From == nil {
		return ""
	}
	name := msg.From.FirstName
	if msg.From.LastName != "" {
		name += " " + msg.From.LastName
	}
	if name == "" {
		name = msg.From.UserName
	}
	return name
}
