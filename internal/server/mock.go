package server

import (
	"context"

	"github.com/npezzotti/kite-relay/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockProvider struct {
	mock.Mock
	ProviderId types.ProviderId
}

func (m *MockProvider) Id() types.ProviderId {
	return m.ProviderId
}

func (m *MockProvider) Send(ctx context.Context, route types.Route, payload types.Payload) (types.Payload, error) {
	args := m.Called(ctx, route, payload)
	resp, _ := args.Get(0).(types.Payload)
	return resp, args.Error(1)
}

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, route types.Route, payload types.Payload) (types.Payload, error) {
	args := m.Called(ctx, route, payload)
	resp, _ := args.Get(0).(types.Payload)
	return resp, args.Error(1)
}

type MockCommandHandler struct {
	mock.Mock
}

func (m *MockCommandHandler) Handle(ctx context.Context, cmd types.Command) (types.Payload, error) {
	args := m.Called(ctx, cmd)
	resp, _ := args.Get(0).(types.Payload)
	return resp, args.Error(1)
}
