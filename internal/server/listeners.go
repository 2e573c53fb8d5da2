package server

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/npezzotti/kite-relay/internal/database"
	"github.com/npezzotti/kite-relay/internal/event"
	"github.com/npezzotti/kite-relay/internal/types"
)

// HistoryListener keeps each member's message log in step with routed
// messages.
type HistoryListener struct {
	log     *slog.Logger
	history database.History
}

func NewHistoryListener(logger *slog.Logger, history database.History) *HistoryListener {
	return &HistoryListener{log: logger, history: history}
}

func (l *HistoryListener) Handle(ctx context.Context, e event.Event) error {
	switch ev := e.(type) {
	case event.MessageRouted:
		return l.onMessageRouted(ctx, ev)
	case event.MemberDeleted:
		return l.history.DeleteMemberMessages(ctx, ev.MemberId)
	case event.ChannelDropped:
		return l.history.DeleteChannelMessages(ctx, ev.ChannelName)
	}
	return nil
}

func (l *HistoryListener) onMessageRouted(ctx context.Context, e event.MessageRouted) error {
	id := e.Request.Meta().Id
	switch {
	case types.IsNew(e.Request):
		return l.history.AppendMessage(ctx, database.HistoryMessage{
			MemberId:  e.Member.Id,
			Payload:   e.Request,
			Direction: e.Direction,
		})
	case types.IsEdited(e.Request):
		err := l.history.UpdateMessage(ctx, e.Member.Id, id, e.Request)
		if errors.Is(err, database.ErrNotFound) {
			l.log.Debug("edited message not in history", "member", e.Member.Id, "message_id", id)
			return nil
		}
		return err
	}

	if _, ok := e.Request.(types.DeleteMessage); ok {
		err := l.history.DeleteMessage(ctx, e.Member.Id, id)
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// UnansweredListener pins the first message of a member the host has not
// yet answered, and unpins it once the host replies.
type UnansweredListener struct {
	log    *slog.Logger
	pins   database.UnansweredMessages
	router *Router
}

func NewUnansweredListener(logger *slog.Logger, pins database.UnansweredMessages, router *Router) *UnansweredListener {
	return &UnansweredListener{log: logger, pins: pins, router: router}
}

func (l *UnansweredListener) Handle(ctx context.Context, e event.Event) error {
	switch ev := e.(type) {
	case event.MessageRouted:
		if ev.Direction == types.ToChannel {
			return l.pin(ctx, ev)
		}
		return l.unpin(ctx, ev)
	case event.MemberDeleted:
		return ignoreNotFound(l.pins.DeleteUnansweredMessage(ctx, ev.MemberId))
	case event.ChannelDropped:
		return l.pins.DeleteUnansweredMessages(ctx, ev.ChannelName)
	}
	return nil
}

func (l *UnansweredListener) pin(ctx context.Context, e event.MessageRouted) error {
	if !types.IsNew(e.Request) {
		return nil
	}
	if _, err := l.pins.UnansweredMessage(ctx, e.Member.Id); err == nil {
		return nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return err
	}

	// the channel's copy carries the id its provider assigned
	messageId := e.Request.Meta().Id
	if ack, ok := e.Ack(e.Channel.DefaultRoute); ok && ack.OverrideMessageId != "" {
		messageId = ack.OverrideMessageId
	}
	if err := l.pins.AddUnansweredMessage(ctx, e.Member.Id, messageId); err != nil {
		return err
	}

	if pinner, ok := l.router.Pinner(e.Channel.DefaultRoute.Provider); ok {
		return pinner.Pin(ctx, e.Channel.DefaultRoute, messageId)
	}
	return nil
}

func (l *UnansweredListener) unpin(ctx context.Context, e event.MessageRouted) error {
	messageId, err := l.pins.UnansweredMessage(ctx, e.Member.Id)
	if err != nil {
		return ignoreNotFound(err)
	}
	if err := l.pins.DeleteUnansweredMessage(ctx, e.Member.Id); err != nil {
		return ignoreNotFound(err)
	}

	if pinner, ok := l.router.Pinner(e.Channel.DefaultRoute.Provider); ok {
		return pinner.Unpin(ctx, e.Channel.DefaultRoute, messageId)
	}
	return nil
}

// IdMappingListener records, for every delivered NEW message, the id the
// destination provider assigned, so later edits and deletes can address
// the destination copy.
type IdMappingListener struct {
	log    *slog.Logger
	mapper database.MessageIdMapper
}

func NewIdMappingListener(logger *slog.Logger, mapper database.MessageIdMapper) *IdMappingListener {
	return &IdMappingListener{log: logger, mapper: mapper}
}

func (l *IdMappingListener) Handle(ctx context.Context, e event.Event) error {
	ev, ok := e.(event.MessageRouted)
	if !ok {
		return nil
	}

	from, to := ev.Member.Id, ev.Channel.HostMemberId()
	if ev.Direction == types.FromChannel {
		from, to = to, from
	}

	if _, ok := ev.Request.(types.DeleteMessage); ok {
		for _, route := range l.destinations(ev) {
			if err := ignoreNotFound(l.mapper.DeleteIdMapping(ctx, from, ev.Request.Meta().Id, route.Provider)); err != nil {
				return err
			}
		}
		return nil
	}
	if !types.IsNew(ev.Request) {
		return nil
	}

	originIds := []string{ev.Request.Meta().Id}
	if ev.Echo != nil && ev.Echo.OverrideMessageId != "" {
		// the host sees and edits the tagged copy, not its original
		originIds = append(originIds, ev.Echo.OverrideMessageId)
	}

	for route, resp := range ev.Responses {
		ack, ok := resp.(types.Ack)
		if !ok || ack.OverrideMessageId == "" {
			continue
		}
		for _, originId := range originIds {
			if _, err := l.mapper.AppendIdMapping(ctx, database.IdMapping{
				From:                from,
				DestinationProvider: route.Provider,
				OriginId:            originId,
				To:                  to,
				DestinationId:       ack.OverrideMessageId,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *IdMappingListener) destinations(e event.MessageRouted) []types.Route {
	if e.Direction == types.ToChannel {
		return []types.Route{e.Channel.DefaultRoute}
	}
	return e.Member.Routes
}

// MembershipListener removes members and connections that outlive their
// route or channel.
type MembershipListener struct {
	log   *slog.Logger
	store Store
}

func NewMembershipListener(logger *slog.Logger, store Store) *MembershipListener {
	return &MembershipListener{log: logger, store: store}
}

func (l *MembershipListener) Handle(ctx context.Context, e event.Event) error {
	switch ev := e.(type) {
	case event.MemberDisconnected:
		return l.onDisconnected(ctx, ev)
	case event.ChannelDropped:
		if err := l.store.DeleteChannelConnections(ctx, ev.ChannelName); err != nil {
			return err
		}
		return l.store.DeleteChannelMembers(ctx, ev.ChannelName)
	}
	return nil
}

func (l *MembershipListener) onDisconnected(ctx context.Context, e event.MemberDisconnected) error {
	if err := ignoreNotFound(l.store.DeleteConnection(ctx, e.Route)); err != nil {
		return err
	}
	_, err := l.store.UpdateMember(ctx, e.MemberId, func(m types.Member) (types.Member, error) {
		return m.WithoutRoute(e.Route), nil
	})
	return ignoreNotFound(err)
}

// HistoryResender replays the latest messages of a member to a route it
// reconnects on. Replay is limited to the given providers, or any provider
// when none are given. History keeps member messages as they were tagged
// for the channel, so only providers that render the tag belong here.
type HistoryResender struct {
	log       *slog.Logger
	history   database.History
	router    Sender
	limit     int
	providers []types.ProviderId
}

const resendLimit = 10

func NewHistoryResender(logger *slog.Logger, history database.History, router Sender, providers ...types.ProviderId) *HistoryResender {
	return &HistoryResender{log: logger, history: history, router: router, limit: resendLimit, providers: providers}
}

func (r *HistoryResender) Handle(ctx context.Context, e event.Event) error {
	ev, ok := e.(event.MemberConnected)
	if !ok {
		return nil
	}
	if len(r.providers) > 0 && !slices.Contains(r.providers, ev.Route.Provider) {
		return nil
	}

	messages, err := r.history.FindMessages(ctx, database.HistoryQuery{
		MemberId: ev.MemberId,
		From:     types.Now(),
		Lookup:   database.LookupBefore,
		Limit:    r.limit,
	})
	if err != nil {
		return err
	}
	slices.Reverse(messages)

	for _, msg := range messages {
		if _, ok := msg.Payload.(types.DeleteMessage); ok {
			continue
		}
		if _, err := r.router.Send(ctx, ev.Route, msg.Payload); err != nil {
			r.log.Warn("unable to resend history message", "member", ev.MemberId, "route", ev.Route, "message_id", msg.Payload.Meta().Id, "error", err)
		}
	}
	return nil
}

// Subscribe registers every listener on d.
func Subscribe(d *event.Dispatcher, history *HistoryListener, pins *UnansweredListener, ids *IdMappingListener, membership *MembershipListener, resender *HistoryResender) {
	d.Subscribe("membership", membership.Handle)
	d.Subscribe("history", history.Handle)
	d.Subscribe("unanswered", pins.Handle)
	if ids != nil {
		d.Subscribe("id-mapping", ids.Handle)
	}
	d.Subscribe("history-resender", resender.Handle)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	return err
}
