package database

import (
	"context"
	"errors"

	"github.com/npezzotti/kite-relay/internal/types"
)

var ErrNotFound = errors.New("not found")

type Channels interface {
	GetChannel(ctx context.Context, name string) (types.Channel, error)
	GetChannelName(ctx context.Context, hostId string) (string, error)
	// CreateChannel fails with a Conflict when the name is taken or the
	// host already hosts a channel. The check and insert are atomic.
	CreateChannel(ctx context.Context, channel types.Channel) error
	UpdateChannel(ctx context.Context, name string, fn func(types.Channel) (types.Channel, error)) (types.Channel, error)
	DeleteChannel(ctx context.Context, name string) error
}

type Members interface {
	GetMember(ctx context.Context, id types.MemberId) (types.Member, error)
	CreateMember(ctx context.Context, member types.Member) error
	UpdateMember(ctx context.Context, id types.MemberId, fn func(types.Member) (types.Member, error)) (types.Member, error)
	DeleteMember(ctx context.Context, id types.MemberId) error
	DeleteChannelMembers(ctx context.Context, channelName string) error
}

type Connections interface {
	GetConnection(ctx context.Context, route types.Route) (types.Connection, error)
	PutConnection(ctx context.Context, conn types.Connection) error
	DeleteConnection(ctx context.Context, route types.Route) error
	DeleteChannelConnections(ctx context.Context, channelName string) error
}

type History interface {
	AppendMessage(ctx context.Context, msg HistoryMessage) error
	FindMessage(ctx context.Context, member types.MemberId, messageId string) (HistoryMessage, error)
	FindMessages(ctx context.Context, q HistoryQuery) ([]HistoryMessage, error)
	UpdateMessage(ctx context.Context, member types.MemberId, messageId string, payload types.MessagePayload) error
	DeleteMessage(ctx context.Context, member types.MemberId, messageId string) error
	DeleteMemberMessages(ctx context.Context, member types.MemberId) error
	DeleteChannelMessages(ctx context.Context, channelName string) error
}

type MessageIdMapper interface {
	FindIdMapping(ctx context.Context, from types.MemberId, originId string, destination types.ProviderId) (IdMapping, error)
	AppendIdMapping(ctx context.Context, mapping IdMapping) (IdMapping, error)
	DeleteIdMapping(ctx context.Context, from types.MemberId, originId string, destination types.ProviderId) error
}

type UnansweredMessages interface {
	AddUnansweredMessage(ctx context.Context, member types.MemberId, messageId string) error
	UnansweredMessage(ctx context.Context, member types.MemberId) (string, error)
	DeleteUnansweredMessage(ctx context.Context, member types.MemberId) error
	DeleteUnansweredMessages(ctx context.Context, channelName string) error
}

// KiteRepository is the full set of stores a deployment provides.
type KiteRepository interface {
	Channels
	Members
	Connections
	History
	UnansweredMessages
	Ping(ctx context.Context) error
}
