package database

import (
	"context"

	"github.com/npezzotti/kite-relay/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockKiteRepository struct {
	mock.Mock
}

func (m *MockKiteRepository) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockKiteRepository) GetChannel(ctx context.Context, name string) (types.Channel, error) {
	args := m.Called(name)
	return args.Get(0).(types.Channel), args.Error(1)
}
func (m *MockKiteRepository) GetChannelName(ctx context.Context, hostId string) (string, error) {
	args := m.Called(hostId)
	return args.String(0), args.Error(1)
}
func (m *MockKiteRepository) CreateChannel(ctx context.Context, channel types.Channel) error {
	args := m.Called(channel)
	return args.Error(0)
}
func (m *MockKiteRepository) UpdateChannel(ctx context.Context, name string, fn func(types.Channel) (types.Channel, error)) (types.Channel, error) {
	args := m.Called(name, fn)
	return args.Get(0).(types.Channel), args.Error(1)
}
func (m *MockKiteRepository) DeleteChannel(ctx context.Context, name string) error {
	args := m.Called(name)
	return args.Error(0)
}
func (m *MockKiteRepository) GetMember(ctx context.Context, id types.MemberId) (types.Member, error) {
	args := m.Called(id)
	return args.Get(0).(types.Member), args.Error(1)
}
func (m *MockKiteRepository) CreateMember(ctx context.Context, member types.Member) error {
	args := m.Called(member)
	return args.Error(0)
}
func (m *MockKiteRepository) UpdateMember(ctx context.Context, id types.MemberId, fn func(types.Member) (types.Member, error)) (types.Member, error) {
	args := m.Called(id, fn)
	return args.Get(0).(types.Member), args.Error(1)
}
func (m *MockKiteRepository) DeleteMember(ctx context.Context, id types.MemberId) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockKiteRepository) DeleteChannelMembers(ctx context.Context, channelName string) error {
	args := m.Called(channelName)
	return args.Error(0)
}
func (m *MockKiteRepository) GetConnection(ctx context.Context, route types.Route) (types.Connection, error) {
	args := m.Called(route)
	if conn, ok := args.Get(0).(types.Connection); ok {
		return conn, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockKiteRepository) PutConnection(ctx context.Context, conn types.Connection) error {
	args := m.Called(conn)
	return args.Error(0)
}
func (m *MockKiteRepository) DeleteConnection(ctx context.Context, route types.Route) error {
	args := m.Called(route)
	return args.Error(0)
}
func (m *MockKiteRepository) DeleteChannelConnections(ctx context.Context, channelName string) error {
	args := m.Called(channelName)
	return args.Error(0)
}
func (m *MockKiteRepository) AppendMessage(ctx context.Context, msg HistoryMessage) error {
	args := m.Called(msg)
	return args.Error(0)
}
func (m *MockKiteRepository) FindMessage(ctx context.Context, member types.MemberId, messageId string) (HistoryMessage, error) {
	args := m.Called(member, messageId)
	return args.Get(0).(HistoryMessage), args.Error(1)
}
func (m *MockKiteRepository) FindMessages(ctx context.Context, q HistoryQuery) ([]HistoryMessage, error) {
	args := m.Called(q)
	return args.Get(0).([]HistoryMessage), args.Error(1)
}
func (m *MockKiteRepository) UpdateMessage(ctx context.Context, member types.MemberId, messageId string, payload types.MessagePayload) error {
	args := m.Called(member, messageId, payload)
	return args.Error(0)
}
func (m *MockKiteRepository) DeleteMessage(ctx context.Context, member types.MemberId, messageId string) error {
	args := m.Called(member, messageId)
	return args.Error(0)
}
func (m *MockKiteRepository) DeleteMemberMessages(ctx context.Context, member types.MemberId) error {
	args := m.Called(member)
	return args.Error(0)
}
func (m *MockKiteRepository) DeleteChannelMessages(ctx context.Context, channelName string) error {
	args := m.Called(channelName)
	return args.Error(0)
}
func (m *MockKiteRepository) AddUnansweredMessage(ctx context.Context, member types.MemberId, messageId string) error {
	args := m.Called(member, messageId)
	return args.Error(0)
}
func (m *MockKiteRepository) UnansweredMessage(ctx context.Context, member types.MemberId) (string, error) {
	args := m.Called(member)
	return args.String(0), args.Error(1)
}
func (m *MockKiteRepository) DeleteUnansweredMessage(ctx context.Context, member types.MemberId) error {
	args := m.Called(member)
	return args.Error(0)
}
func (m *MockKiteRepository) DeleteUnansweredMessages(ctx context.Context, channelName string) error {
	args := m.Called(channelName)
	return args.Error(0)
}

type MockIdMapper struct {
	mock.Mock
}

func (m *MockIdMapper) FindIdMapping(ctx context.Context, from types.MemberId, originId string, destination types.ProviderId) (IdMapping, error) {
	args := m.Called(from, originId, destination)
	return args.Get(0).(IdMapping), args.Error(1)
}
func (m *MockIdMapper) AppendIdMapping(ctx context.Context, mapping IdMapping) (IdMapping, error) {
	args := m.Called(mapping)
	return args.Get(0).(IdMapping), args.Error(1)
}
func (m *MockIdMapper) DeleteIdMapping(ctx context.Context, from types.MemberId, originId string, destination types.ProviderId) error {
	args := m.Called(from, originId, destination)
	return args.Error(0)
}
