package telegram

import (
	"context"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/mymmrac/telego"
	"github.com/npezzotti/kite-relay/internal/types"
	"golang.org/x/text/language"
)

const (
	entityBotCommand = "bot_command"
	entityHashtag    = "hashtag"

	statusLeft   = "left"
	statusKicked = "kicked"

	photoFileName = "image.jpg"
	photoMimeType = "image/jpeg"
)

// HandleUpdate turns one update into a command, runs it and answers the
// originating chat with the resulting notification or error.
func (p *Provider) HandleUpdate(ctx context.Context, u telego.Update) {
	if u.MyChatMember != nil {
		p.onMembershipChange(ctx, u.MyChatMember)
		return
	}

	msg, edited := updateMessage(u)
	if msg == nil {
		p.log.Debug("unhandled update", "update_id", u.UpdateID)
		return
	}
	origin := types.NewRoute(ProviderId, fromLong(msg.Chat.ID))

	cmd, err := p.toCommand(ctx, msg, edited)
	if err != nil {
		p.reply(ctx, origin, types.ErrorPayload(err))
		return
	}
	if cmd == nil {
		return
	}

	resp, err := p.handler.Handle(ctx, cmd)
	if err != nil {
		p.log.Debug("command failed", "route", origin.String(), "error", err)
		p.reply(ctx, origin, types.ErrorPayload(err))
		return
	}
	if resp == nil {
		return
	}
	if _, ok := resp.(types.Ack); ok {
		return
	}
	p.reply(ctx, origin, resp)
}

func (p *Provider) reply(ctx context.Context, route types.Route, payload types.Payload) {
	if _, err := p.Send(ctx, route, payload); err != nil {
		p.log.Error("failed to reply", "route", route.String(), "error", err)
	}
}

func (p *Provider) onMembershipChange(ctx context.Context, m *telego.ChatMemberUpdated) {
	origin := types.NewRoute(ProviderId, fromLong(m.Chat.ID))
	oldStatus := m.OldChatMember.MemberStatus()
	newStatus := m.NewChatMember.MemberStatus()

	switch {
	case isGone(newStatus) && !isGone(oldStatus):
		p.log.Debug("bot removed from chat", "route", origin.String())
		_, err := p.handler.Handle(ctx, types.ExecuteCommand{
			Origin:   origin,
			Locale:   language.English,
			MemberId: origin.Raw,
			Command:  "drop",
		})
		if err != nil && !types.IsNotFound(err) {
			p.log.Error("failed to drop channel of removed bot", "route", origin.String(), "error", err)
		}
	case isGone(oldStatus) && !isGone(newStatus):
		bot := m.NewChatMember.MemberUser()
		p.reply(ctx, origin, types.Info("You successfully added %s", bot.Username))
	}
}

func isGone(status string) bool {
	return status == statusLeft || status == statusKicked
}

func updateMessage(u telego.Update) (*telego.Message, bool) {
	switch {
	case u.Message != nil:
		return u.Message, false
	case u.ChannelPost != nil:
		return u.ChannelPost, false
	case u.EditedMessage != nil:
		return u.EditedMessage, true
	case u.EditedChannelPost != nil:
		return u.EditedChannelPost, true
	}
	return nil, false
}

// toCommand returns nil for service messages that need no routing.
func (p *Provider) toCommand(ctx context.Context, msg *telego.Message, edited bool) (types.Command, error) {
	origin := types.NewRoute(ProviderId, fromLong(msg.Chat.ID))
	memberId := origin.Raw
	locale := userLocale(msg.From)

	if isCommand(msg) {
		command, args, ok := types.ParseCommandLine(msg.Text)
		if !ok {
			return nil, types.Validationf("Unsupported command %s", msg.Text)
		}
		return types.ExecuteCommand{
			Origin:     origin,
			Locale:     locale,
			MemberId:   memberId,
			MemberName: senderName(msg),
			Command:    command,
			Args:       args,
		}, nil
	}

	if msg.GroupChatCreated || msg.LeftChatMember != nil || len(msg.NewChatMembers) > 0 {
		return nil, nil
	}

	payload, err := p.toPayload(ctx, msg, edited)
	if err != nil {
		return nil, err
	}

	return types.RouteMessage{
		Origin:   origin,
		MemberId: memberId,
		Locale:   locale,
		Payload:  payload,
		ToMember: replyToMember(msg.ReplyToMessage),
	}, nil
}

func (p *Provider) toPayload(ctx context.Context, msg *telego.Message, edited bool) (types.MessagePayload, error) {
	text := types.SendText{
		MessageMeta: types.MessageMeta{
			Id:        fromLong(int64(msg.MessageID)),
			Timestamp: time.Unix(msg.Date, 0).UTC(),
		},
		Mode: types.ModeNew,
	}
	if edited {
		text.Mode = types.ModeEdited
	}

	switch {
	case msg.Document != nil:
		text.Text = msg.Caption
		uri, err := p.fileURL(ctx, msg.Document.FileID)
		if err != nil {
			return nil, err
		}
		return types.SendBinary{
			SendText: text,
			URI:      uri,
			FileName: msg.Document.FileName,
			FileType: msg.Document.MimeType,
			FileSize: int64(msg.Document.FileSize),
		}, nil
	case len(msg.Photo) > 0:
		text.Text = msg.Caption
		photo := largestPhoto(msg.Photo)
		uri, err := p.fileURL(ctx, photo.FileID)
		if err != nil {
			return nil, err
		}
		return types.SendBinary{
			SendText: text,
			URI:      uri,
			FileName: photoFileName,
			FileType: photoMimeType,
			FileSize: int64(photo.FileSize),
		}, nil
	case msg.Text != "":
		text.Text = msg.Text
		return text, nil
	}

	return nil, types.Validationf("Unsupported message type")
}

func (p *Provider) fileURL(ctx context.Context, fileId string) (string, error) {
	file, err := p.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileId})
	if err != nil {
		return "", types.WrapRouting(err, "Unable to resolve telegram file")
	}
	return p.bot.FileDownloadURL(file.FilePath), nil
}

func largestPhoto(photos []telego.PhotoSize) telego.PhotoSize {
	largest := photos[0]
	for _, ph := range photos[1:] {
		if ph.FileSize > largest.FileSize {
			largest = ph
		}
	}
	return largest
}

func isCommand(msg *telego.Message) bool {
	return len(msg.Entities) > 0 && msg.Entities[0].Type == entityBotCommand && msg.Entities[0].Offset == 0
}

// replyToMember extracts the member id from the "#id" tag of the message
// being replied to.
func replyToMember(replyTo *telego.Message) string {
	if replyTo == nil {
		return ""
	}
	text, entities := replyTo.Text, replyTo.Entities
	if text == "" {
		text, entities = replyTo.Caption, replyTo.CaptionEntities
	}
	for _, e := range entities {
		if e.Type == entityHashtag {
			return strings.TrimPrefix(entityText(text, e), "#")
		}
	}
	return ""
}

// entityText slices text by an entity. Entity offsets count UTF-16 code
// units.
func entityText(text string, e telego.MessageEntity) string {
	units := utf16.Encode([]rune(text))
	end := e.Offset + e.Length
	if e.Offset < 0 || end > len(units) || e.Offset > end {
		return ""
	}
	return string(utf16.Decode(units[e.Offset:end]))
}

func senderName(msg *telego.Message) string {
	if msg.From == nil {
		return msg.Chat.Title
	}
	name := strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	if name == "" {
		return msg.From.Username
	}
	return name
}

func userLocale(u *telego.User) language.Tag {
	if u == nil || u.LanguageCode == "" {
		return language.English
	}
	tag, err := language.Parse(u.LanguageCode)
	if err != nil {
		return language.English
	}
	return tag
}
