// Package telegram delivers notifications through the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tb "gopkg.in/telebot.v4"

	logx "feeflow/pkg/logx"
)

// Sender implements notify.Sender over a Telegram bot. Recipients are
// chat IDs encoded as decimal strings.
type Sender struct {
	bot *tb.Bot
	log logx.Logger
}

func New(token string, log logx.Logger) (*Sender, error) {
	bot, err := tb.NewBot(tb.Settings{
		Token:  token,
		Poller: &tb.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	return &Sender{bot: bot, log: log}, nil
}

func (s *Sender) Send(ctx context.Context, recipient, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram recipient %q: %w", recipient, err)
	}
	if _, err := s.bot.Send(&tb.Chat{ID: chatID}, message); err != nil {
		s.log.Debug("telegram send failed",
			logx.String("recipient", recipient),
			logx.Err(err))
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
