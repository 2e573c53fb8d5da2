package event

import (
	"github.com/npezzotti/kite-relay/internal/types"
)

// Event is a domain event published after a routing or lifecycle decision.
// The set of implementations is closed.
type Event interface {
	Name() string
	isEvent()
}

type ChannelCreated struct {
	Channel types.Channel
}

type ChannelUpdated struct {
	Before  types.Channel
	Channel types.Channel
}

type ChannelDropped struct {
	ChannelName string
}

type MemberCreated struct {
	Member types.Member
}

type MemberConnected struct {
	MemberId types.MemberId
	Route    types.Route
}

type MemberDisconnected struct {
	MemberId types.MemberId
	Route    types.Route
}

type MemberDeleted struct {
	MemberId types.MemberId
}

// MessageRouted reports one routed message. Responses holds an entry for
// every route that acknowledged delivery. Echo is the acknowledgement of
// the tagged copy reposted to the channel for host messages, if any.
type MessageRouted struct {
	Channel   types.Channel
	Member    types.Member
	Direction types.Direction
	Request   types.MessagePayload
	Responses map[types.Route]types.Payload
	Echo      *types.Ack
}

// Ack returns the acknowledgement a route returned, if any.
func (e MessageRouted) Ack(route types.Route) (types.Ack, bool) {
	ack, ok := e.Responses[route].(types.Ack)
	return ack, ok
}

func (ChannelCreated) Name() string     { return "channel.created" }
func (ChannelUpdated) Name() string     { return "channel.updated" }
func (ChannelDropped) Name() string     { return "channel.dropped" }
func (MemberCreated) Name() string      { return "member.created" }
func (MemberConnected) Name() string    { return "member.connected" }
func (MemberDisconnected) Name() string { return "member.disconnected" }
func (MemberDeleted) Name() string      { return "member.deleted" }
func (MessageRouted) Name() string      { return "message.routed" }

func (ChannelCreated) isEvent()     {}
func (ChannelUpdated) isEvent()     {}
func (ChannelDropped) isEvent()     {}
func (MemberCreated) isEvent()      {}
func (MemberConnected) isEvent()    {}
func (MemberDisconnected) isEvent() {}
func (MemberDeleted) isEvent()      {}
func (MessageRouted) isEvent()      {}
