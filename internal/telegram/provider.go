package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/npezzotti/kite-relay/internal/server"
	"github.com/npezzotti/kite-relay/internal/types"
)

const ProviderId types.ProviderId = "tg"

// Bot is the subset of the Bot API the provider calls. *telego.Bot
// implements it.
type Bot interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	EditMessageText(ctx context.Context, params *telego.EditMessageTextParams) (*telego.Message, error)
	EditMessageCaption(ctx context.Context, params *telego.EditMessageCaptionParams) (*telego.Message, error)
	DeleteMessage(ctx context.Context, params *telego.DeleteMessageParams) error
	SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error)
	SendDocument(ctx context.Context, params *telego.SendDocumentParams) (*telego.Message, error)
	PinChatMessage(ctx context.Context, params *telego.PinChatMessageParams) error
	UnpinChatMessage(ctx context.Context, params *telego.UnpinChatMessageParams) error
	GetFile(ctx context.Context, params *telego.GetFileParams) (*telego.File, error)
	FileDownloadURL(filepath string) string
	SetWebhook(ctx context.Context, params *telego.SetWebhookParams) error
}

// Provider routes payloads to Telegram chats. Routes are tg:<chat id> and
// message ids are Telegram message ids, both in base 36.
type Provider struct {
	log     *slog.Logger
	bot     Bot
	handler server.CommandHandler
}

func NewBot(token string) (*telego.Bot, error) {
	return telego.NewBot(token, telego.WithDiscardLogger())
}

func NewProvider(logger *slog.Logger, bot Bot, handler server.CommandHandler) *Provider {
	return &Provider{
		log:     logger,
		bot:     bot,
		handler: handler,
	}
}

func (p *Provider) Id() types.ProviderId {
	return ProviderId
}

func (p *Provider) Send(ctx context.Context, route types.Route, payload types.Payload) (types.Payload, error) {
	chatId, err := toLong(route.Raw)
	if err != nil {
		return nil, types.Validationf("Invalid telegram route %s", route)
	}
	chat := tu.ID(chatId)

	switch pl := payload.(type) {
	case types.SendText:
		if pl.Mode == types.ModeEdited {
			return nil, p.editText(ctx, chat, pl.Id, pl.Text)
		}
		msg, err := p.bot.SendMessage(ctx, &telego.SendMessageParams{ChatID: chat, Text: pl.Text})
		return ack(pl.Id, msg, err)
	case types.SendBinary:
		if pl.Mode == types.ModeEdited {
			return nil, p.editCaption(ctx, chat, pl.Id, pl.Text)
		}
		return p.sendBinary(ctx, chat, pl)
	case types.DeleteMessage:
		id, err := toInt(pl.Id)
		if err != nil {
			return nil, types.Validationf("Invalid telegram message id %s", pl.Id)
		}
		return nil, apiError(p.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{ChatID: chat, MessageID: id}))
	case types.Notification:
		_, err := p.bot.SendMessage(ctx, &telego.SendMessageParams{ChatID: chat, Text: pl.String()})
		return nil, apiError(err)
	case types.Error:
		_, err := p.bot.SendMessage(ctx, &telego.SendMessageParams{ChatID: chat, Text: pl.String()})
		return nil, apiError(err)
	case types.Ack:
		return nil, nil
	}

	return nil, types.Routingf("Unsupported payload %T", payload)
}

func (p *Provider) editText(ctx context.Context, chat telego.ChatID, messageId, text string) error {
	id, err := toInt(messageId)
	if err != nil {
		return types.Validationf("Invalid telegram message id %s", messageId)
	}
	_, err = p.bot.EditMessageText(ctx, &telego.EditMessageTextParams{ChatID: chat, MessageID: id, Text: text})
	return apiError(err)
}

func (p *Provider) editCaption(ctx context.Context, chat telego.ChatID, messageId, caption string) error {
	id, err := toInt(messageId)
	if err != nil {
		return types.Validationf("Invalid telegram message id %s", messageId)
	}
	_, err = p.bot.EditMessageCaption(ctx, &telego.EditMessageCaptionParams{ChatID: chat, MessageID: id, Caption: caption})
	return apiError(err)
}

func (p *Provider) sendBinary(ctx context.Context, chat telego.ChatID, pl types.SendBinary) (types.Payload, error) {
	file := tu.FileFromURL(pl.URI)
	if strings.HasPrefix(pl.FileType, "image/") {
		msg, err := p.bot.SendPhoto(ctx, &telego.SendPhotoParams{ChatID: chat, Photo: file, Caption: pl.Text})
		return ack(pl.Id, msg, err)
	}
	msg, err := p.bot.SendDocument(ctx, &telego.SendDocumentParams{ChatID: chat, Document: file, Caption: pl.Text})
	return ack(pl.Id, msg, err)
}

// Pin pins a message in the chat behind route without notifying members.
func (p *Provider) Pin(ctx context.Context, route types.Route, messageId string) error {
	chatId, msgId, err := parseIds(route, messageId)
	if err != nil {
		return err
	}
	return apiError(p.bot.PinChatMessage(ctx, &telego.PinChatMessageParams{
		ChatID:              tu.ID(chatId),
		MessageID:           msgId,
		DisableNotification: true,
	}))
}

func (p *Provider) Unpin(ctx context.Context, route types.Route, messageId string) error {
	chatId, msgId, err := parseIds(route, messageId)
	if err != nil {
		return err
	}
	return apiError(p.bot.UnpinChatMessage(ctx, &telego.UnpinChatMessageParams{
		ChatID:    tu.ID(chatId),
		MessageID: msgId,
	}))
}

// SetWebhook registers url with Telegram. Updates are signed with secret
// when it is not empty.
func (p *Provider) SetWebhook(ctx context.Context, url, secret string) error {
	p.log.Info("registering telegram webhook", "url", url)
	return p.bot.SetWebhook(ctx, &telego.SetWebhookParams{URL: url, SecretToken: secret})
}

func ack(messageId string, msg *telego.Message, err error) (types.Payload, error) {
	if err != nil {
		return nil, apiError(err)
	}
	return types.Ack{
		MessageId:         messageId,
		OverrideMessageId: fromLong(int64(msg.MessageID)),
		Timestamp:         time.Unix(msg.Date, 0).UTC(),
	}, nil
}

func apiError(err error) error {
	if err == nil {
		return nil
	}
	return types.WrapRouting(err, "%s connector error", ProviderId)
}

func parseIds(route types.Route, messageId string) (int64, int, error) {
	chatId, err := toLong(route.Raw)
	if err != nil {
		return 0, 0, types.Validationf("Invalid telegram route %s", route)
	}
	msgId, err := toInt(messageId)
	if err != nil {
		return 0, 0, types.Validationf("Invalid telegram message id %s", messageId)
	}
	return chatId, msgId, nil
}

// Telegram ids are rendered as unsigned base 36 so that negative group ids
// still make valid hashtags.
func fromLong(id int64) string {
	return strconv.FormatUint(uint64(id), 36)
}

func toLong(s string) (int64, error) {
	u, err := strconv.ParseUint(s, 36, 64)
	if err != nil {
		return 0, fmt.Errorf("parse id %q: %w", s, err)
	}
	return int64(u), nil
}

func toInt(s string) (int, error) {
	id, err := toLong(s)
	if err != nil {
		return 0, err
	}
	return int(id), nil
}
