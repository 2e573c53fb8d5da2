package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/npezzotti/kite-relay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func commandMessage(chat int64, text string) *telego.Message {
	return &telego.Message{
		MessageID: 10,
		Date:      1700000000,
		Chat:      telego.Chat{ID: chat, Type: "private"},
		From:      &telego.User{ID: chat, FirstName: "Alice", LastName: "Smith", LanguageCode: "uk"},
		Text:      text,
		Entities:  []telego.MessageEntity{{Type: entityBotCommand, Offset: 0, Length: len("/join")}},
	}
}

func TestHandleUpdate_Command(t *testing.T) {
	p, bot, handler := newTestProvider(t)

	handler.On("Handle", mock.Anything, types.ExecuteCommand{
		Origin:     route(userChat),
		Locale:     language.MustParse("uk"),
		MemberId:   fromLong(userChat),
		MemberName: "Alice Smith",
		Command:    "join",
		Args:       "support_team_1",
	}).Return(types.Info("You joined channel %s", "support_team_1"), nil)
	bot.On("SendMessage", mock.Anything, &telego.SendMessageParams{
		ChatID: tu.ID(userChat),
		Text:   "✅ You joined channel support_team_1",
	}).Return(&telego.Message{MessageID: 11}, nil)

	p.HandleUpdate(context.Background(), telego.Update{Message: commandMessage(userChat, "/join support_team_1")})
}

func TestHandleUpdate_CommandError(t *testing.T) {
	p, bot, handler := newTestProvider(t)

	handler.On("Handle", mock.Anything, mock.Anything).
		Return(nil, types.NotFoundf("Channel not found: %s", "nope_nope"))
	bot.On("SendMessage", mock.Anything, &telego.SendMessageParams{
		ChatID: tu.ID(userChat),
		Text:   "⛔ (404) Channel not found: nope_nope",
	}).Return(&telego.Message{MessageID: 11}, nil)

	p.HandleUpdate(context.Background(), telego.Update{Message: commandMessage(userChat, "/join nope_nope")})
}

func TestHandleUpdate_ReplyToTag(t *testing.T) {
	p, _, handler := newTestProvider(t)

	var got types.RouteMessage
	handler.On("Handle", mock.Anything, mock.AnythingOfType("types.RouteMessage")).
		Run(func(args mock.Arguments) { got = args.Get(1).(types.RouteMessage) }).
		Return(nil, nil)

	// the tag follows an emoji, which takes two UTF-16 code units
	tagged := "📎 #abc12 Bob\nhello"
	p.HandleUpdate(context.Background(), telego.Update{Message: &telego.Message{
		MessageID: 99,
		Date:      1700000000,
		Chat:      telego.Chat{ID: groupChat, Type: "supergroup", Title: "Support"},
		From:      &telego.User{ID: 5, Username: "host"},
		Text:      "on it",
		ReplyToMessage: &telego.Message{
			MessageID: 98,
			Text:      tagged,
			Entities:  []telego.MessageEntity{{Type: entityHashtag, Offset: 3, Length: 6}},
		},
	}})

	assert.Equal(t, route(groupChat), got.Origin)
	assert.Equal(t, fromLong(groupChat), got.MemberId)
	assert.Equal(t, "abc12", got.ToMember)
	text, ok := got.Payload.(types.SendText)
	require.True(t, ok)
	assert.Equal(t, fromLong(99), text.Id)
	assert.Equal(t, "on it", text.Text)
	assert.Equal(t, types.ModeNew, text.Mode)
}

func TestHandleUpdate_EditedMessage(t *testing.T) {
	p, _, handler := newTestProvider(t)

	var got types.RouteMessage
	handler.On("Handle", mock.Anything, mock.AnythingOfType("types.RouteMessage")).
		Run(func(args mock.Arguments) { got = args.Get(1).(types.RouteMessage) }).
		Return(types.Ack{MessageId: fromLong(12)}, nil)

	p.HandleUpdate(context.Background(), telego.Update{EditedMessage: &telego.Message{
		MessageID: 12,
		Chat:      telego.Chat{ID: userChat},
		Text:      "typo fixed",
	}})

	text, ok := got.Payload.(types.SendText)
	require.True(t, ok)
	assert.Equal(t, types.ModeEdited, text.Mode)
	assert.Empty(t, got.ToMember)
}

func TestHandleUpdate_Photo(t *testing.T) {
	p, bot, handler := newTestProvider(t)

	bot.On("GetFile", mock.Anything, &telego.GetFileParams{FileID: "big"}).
		Return(&telego.File{FilePath: "photos/big.jpg"}, nil)
	bot.On("FileDownloadURL", "photos/big.jpg").Return("https://api.telegram.org/file/bot/photos/big.jpg")

	var got types.RouteMessage
	handler.On("Handle", mock.Anything, mock.AnythingOfType("types.RouteMessage")).
		Run(func(args mock.Arguments) { got = args.Get(1).(types.RouteMessage) }).
		Return(nil, nil)

	p.HandleUpdate(context.Background(), telego.Update{Message: &telego.Message{
		MessageID: 13,
		Chat:      telego.Chat{ID: userChat},
		Caption:   "screenshot",
		Photo: []telego.PhotoSize{
			{FileID: "small", FileSize: 100},
			{FileID: "big", FileSize: 1000},
		},
	}})

	bin, ok := got.Payload.(types.SendBinary)
	require.True(t, ok)
	assert.Equal(t, "https://api.telegram.org/file/bot/photos/big.jpg", bin.URI)
	assert.Equal(t, "screenshot", bin.Text)
	assert.Equal(t, photoMimeType, bin.FileType)
	assert.Equal(t, int64(1000), bin.FileSize)
}

func TestHandleUpdate_ServiceMessage(t *testing.T) {
	p, _, handler := newTestProvider(t)

	p.HandleUpdate(context.Background(), telego.Update{Message: &telego.Message{
		Chat:           telego.Chat{ID: groupChat},
		NewChatMembers: []telego.User{{ID: 7}},
	}})
	p.HandleUpdate(context.Background(), telego.Update{UpdateID: 1})

	handler.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
}

func TestHandleUpdate_BotRemoved(t *testing.T) {
	p, _, handler := newTestProvider(t)

	handler.On("Handle", mock.Anything, types.ExecuteCommand{
		Origin:   route(groupChat),
		Locale:   language.English,
		MemberId: fromLong(groupChat),
		Command:  "drop",
	}).Return(nil, types.NotFoundf("You don't host any channels to drop"))

	p.HandleUpdate(context.Background(), telego.Update{MyChatMember: &telego.ChatMemberUpdated{
		Chat:          telego.Chat{ID: groupChat},
		OldChatMember: &telego.ChatMemberMember{Status: "member"},
		NewChatMember: &telego.ChatMemberBanned{Status: "kicked"},
	}})
}

func Test_entityText(t *testing.T) {
	text := "привіт #x7 😀 #tag"
	assert.Equal(t, "#x7", entityText(text, telego.MessageEntity{Offset: 7, Length: 3}))
	assert.Equal(t, "#tag", entityText(text, telego.MessageEntity{Offset: 14, Length: 4}))
	assert.Empty(t, entityText(text, telego.MessageEntity{Offset: 14, Length: 40}))
}

func TestWebhook(t *testing.T) {
	p, _, handler := newTestProvider(t)
	wh := NewWebhook(p, "s3cret")

	body, err := json.Marshal(telego.Update{Message: &telego.Message{
		MessageID: 3,
		Chat:      telego.Chat{ID: userChat},
		Text:      "hi",
	}})
	require.NoError(t, err)

	t.Run("rejects missing secret", func(t *testing.T) {
		rr := httptest.NewRecorder()
		wh.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/tg", bytes.NewReader(body)))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("rejects malformed update", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/tg", bytes.NewReader([]byte("{")))
		req.Header.Set(secretTokenHeader, "s3cret")
		rr := httptest.NewRecorder()
		wh.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("handles update", func(t *testing.T) {
		handler.On("Handle", mock.Anything, mock.AnythingOfType("types.RouteMessage")).Return(nil, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/tg", bytes.NewReader(body))
		req.Header.Set(secretTokenHeader, "s3cret")
		rr := httptest.NewRecorder()
		wh.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}
