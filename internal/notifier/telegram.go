// Package notifier отправляет исходящие сообщения в Telegram: уведомления
// курьерам о новых заказах и пересылку обращений в чат поддержки.
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"go.uber.org/zap"

	"github.com/temirlan-k/water-microservice/internal/model"
)

const sendTimeout = 5 * time.Second

// TelegramNotifier отправляет сообщения через Bot API. Доставка не
// отслеживается: неудачная отправка логируется и не влияет на операцию.
type TelegramNotifier struct {
	api           *gotgbot.Bot
	logger        *zap.Logger
	supportChatID int64
}

// NewTelegramNotifier создаёт нотификатор с указанным токеном бота.
func NewTelegramNotifier(token string, supportChatID int64, logger *zap.Logger) (*TelegramNotifier, error) {
	api, err := gotgbot.NewBot(token, nil)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &TelegramNotifier{
		api:           api,
		logger:        logger,
		supportChatID: supportChatID,
	}, nil
}

// NotifyNewOrder отправляет курьеру сообщение о закреплённом за ним заказе.
func (n *TelegramNotifier) NotifyNewOrder(ctx context.Context, courierID int64, order model.Order, client model.User) error {
	text := fmt.Sprintf(
		"📦 Новый заказ!\n"+
			"Заказ №%d\n"+
			"Адрес доставки: %s\n"+
			"Телефон клиента: %s\n\n"+
			"После доставки отсканируйте QR-код клиента для подтверждения.",
		order.ID, client.Address, client.Phone,
	)

	if err := n.send(ctx, courierID, text); err != nil {
		n.logger.Warn("courier notification failed",
			zap.Int64("courierID", courierID),
			zap.Int64("orderID", order.ID),
			zap.Error(err),
		)
		return err
	}

	return nil
}

// ForwardSupportMessage пересылает текст обращения в чат поддержки.
func (n *TelegramNotifier) ForwardSupportMessage(ctx context.Context, fromID int64, text string) error {
	msg := fmt.Sprintf("📨 Обращение от %d:\n%s", fromID, text)

	if err := n.send(ctx, n.supportChatID, msg); err != nil {
		n.logger.Warn("support forward failed",
			zap.Int64("fromID", fromID),
			zap.Error(err),
		)
		return err
	}

	return nil
}

func (n *TelegramNotifier) send(ctx context.Context, chatID int64, text string) error {
	timeout := sendTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	_, err := n.api.SendMessage(chatID, text, &gotgbot.SendMessageOpts{
		RequestOpts: &gotgbot.RequestOpts{Timeout: timeout},
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}
