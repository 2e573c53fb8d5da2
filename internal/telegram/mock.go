package telegram

import (
	"context"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/mock"
)

type MockBot struct {
	mock.Mock
}

func (m *MockBot) message(args mock.Arguments) (*telego.Message, error) {
	msg, _ := args.Get(0).(*telego.Message)
	return msg, args.Error(1)
}

func (m *MockBot) SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	return m.message(m.Called(ctx, params))
}

func (m *MockBot) EditMessageText(ctx context.Context, params *telego.EditMessageTextParams) (*telego.Message, error) {
	return m.message(m.Called(ctx, params))
}

func (m *MockBot) EditMessageCaption(ctx context.Context, params *telego.EditMessageCaptionParams) (*telego.Message, error) {
	return m.message(m.Called(ctx, params))
}

func (m *MockBot) DeleteMessage(ctx context.Context, params *telego.DeleteMessageParams) error {
	return m.Called(ctx, params).Error(0)
}

func (m *MockBot) SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error) {
	return m.message(m.Called(ctx, params))
}

func (m *MockBot) SendDocument(ctx context.Context, params *telego.SendDocumentParams) (*telego.Message, error) {
	return m.message(m.Called(ctx, params))
}

func (m *MockBot) PinChatMessage(ctx context.Context, params *telego.PinChatMessageParams) error {
	return m.Called(ctx, params).Error(0)
}

func (m *MockBot) UnpinChatMessage(ctx context.Context, params *telego.UnpinChatMessageParams) error {
	return m.Called(ctx, params).Error(0)
}

func (m *MockBot) GetFile(ctx context.Context, params *telego.GetFileParams) (*telego.File, error) {
	args := m.Called(ctx, params)
	file, _ := args.Get(0).(*telego.File)
	return file, args.Error(1)
}

func (m *MockBot) FileDownloadURL(filepath string) string {
	return m.Called(filepath).String(0)
}

func (m *MockBot) SetWebhook(ctx context.Context, params *telego.SetWebhookParams) error {
	return m.Called(ctx, params).Error(0)
}
