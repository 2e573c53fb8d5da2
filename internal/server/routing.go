package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/npezzotti/kite-relay/internal/database"
	"github.com/npezzotti/kite-relay/internal/event"
	"github.com/npezzotti/kite-relay/internal/stats"
	"github.com/npezzotti/kite-relay/internal/types"
	"golang.org/x/sync/errgroup"
)

// Store is the part of the repository the services read and write
// synchronously. History and pins are maintained by listeners.
type Store interface {
	database.Channels
	database.Members
	database.Connections
}

// RoutingService relays messages between a channel's host and its members.
type RoutingService struct {
	log         *slog.Logger
	router      Sender
	store       Store
	events      event.Publisher
	stats       stats.StatsProvider
	idMapper    database.MessageIdMapper
	singleRoute bool
}

type RoutingOption func(*RoutingService)

// WithIdMapper translates message ids of edits and deletes to the ids the
// destination provider assigned.
func WithIdMapper(m database.MessageIdMapper) RoutingOption {
	return func(s *RoutingService) {
		s.idMapper = m
	}
}

// WithSingleRouteDelivery delivers host messages only to the member's
// most recently connected route.
func WithSingleRouteDelivery() RoutingOption {
	return func(s *RoutingService) {
		s.singleRoute = true
	}
}

func NewRoutingService(logger *slog.Logger, router Sender, store Store, events event.Publisher, su stats.StatsProvider, opts ...RoutingOption) *RoutingService {
	s := &RoutingService{
		log:    logger,
		router: router,
		store:  store,
		events: events,
		stats:  su,
	}
	for _, opt := range opts {
		opt(s)
	}

	su.RegisterMetric(stats.MessagesToChannel)
	su.RegisterMetric(stats.MessagesFromChannel)
	su.RegisterMetric(stats.RoutingErrors)
	return s
}

// Route resolves the origin of msg and relays it. Messages from routes
// with no connection are ignored and return nil.
func (s *RoutingService) Route(ctx context.Context, msg types.RouteMessage) (types.Payload, error) {
	if err := types.ValidateCommand(msg); err != nil {
		return nil, err
	}

	conn, err := s.store.GetConnection(ctx, msg.Origin)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.log.Debug("ignoring message from unconnected route", "route", msg.Origin)
			return nil, nil
		}
		return nil, storeError(err, "get connection")
	}

	switch c := conn.(type) {
	case types.ChannelConnection:
		return s.fromChannel(ctx, c, msg)
	case types.MemberConnection:
		return s.fromMember(ctx, c, msg)
	}
	return nil, nil
}

func (s *RoutingService) fromMember(ctx context.Context, conn types.MemberConnection, msg types.RouteMessage) (types.Payload, error) {
	if conn.MemberId.Raw != msg.MemberId {
		return nil, types.Conflictf("You need to /join <channel>")
	}

	member, err := s.store.GetMember(ctx, conn.MemberId)
	if err != nil {
		return nil, notFoundAs(err, "Member not found: %s", conn.MemberId)
	}
	channel, err := s.store.GetChannel(ctx, member.Id.Channel)
	if err != nil {
		return nil, notFoundAs(err, "Channel not found: %s", member.Id.Channel)
	}

	payload := tagged(msg.Payload, member)
	ack, err := s.SendToRoute(ctx, member.Id, channel.DefaultRoute, payload)
	if err != nil {
		s.stats.Incr(stats.RoutingErrors)
		return nil, err
	}
	s.stats.Incr(stats.MessagesToChannel)

	responses := make(map[types.Route]types.Payload, 1)
	if ack != nil {
		responses[channel.DefaultRoute] = ack
	}

	channel = s.updatePeer(ctx, channel, member.Id)
	s.events.Publish(ctx, event.MessageRouted{
		Channel:   channel,
		Member:    member,
		Direction: types.ToChannel,
		Request:   payload,
		Responses: responses,
	})
	return ack, nil
}

func (s *RoutingService) fromChannel(ctx context.Context, conn types.ChannelConnection, msg types.RouteMessage) (types.Payload, error) {
	channel, err := s.store.GetChannel(ctx, conn.ChannelName)
	if err != nil {
		return nil, notFoundAs(err, "Channel not found: %s", conn.ChannelName)
	}

	var target types.MemberId
	switch {
	case msg.ToMember != "":
		target = types.NewMemberId(channel.Name, msg.ToMember)
	case channel.PeerMember != nil:
		target = *channel.PeerMember
	default:
		return nil, types.NotFoundf("Unknown peer")
	}

	member, err := s.store.GetMember(ctx, target)
	if err != nil {
		return nil, notFoundAs(err, "Member not found: %s", target)
	}
	if !member.Online() {
		return types.Warn("%s is offline", member.UserName), nil
	}

	responses, err := s.SendToMember(ctx, channel.HostMemberId(), member, msg.Payload)
	if err != nil {
		s.stats.Incr(stats.RoutingErrors)
		return nil, err
	}
	s.stats.Incr(stats.MessagesFromChannel)

	channel = s.updatePeer(ctx, channel, member.Id)

	echo, echoErr := s.echo(ctx, channel, member, msg.Payload)
	s.events.Publish(ctx, event.MessageRouted{
		Channel:   channel,
		Member:    member,
		Direction: types.FromChannel,
		Request:   msg.Payload,
		Responses: responses,
		Echo:      echo,
	})
	return nil, echoErr
}

// echo replaces the host's own message with a copy tagged with the
// recipient, so the host chat shows who each reply went to.
func (s *RoutingService) echo(ctx context.Context, channel types.Channel, member types.Member, payload types.MessagePayload) (*types.Ack, error) {
	if !types.IsNew(payload) {
		return nil, nil
	}

	del := types.NewDeleteMessage(payload.Meta().Id, types.Now())
	if _, err := s.router.Send(ctx, channel.DefaultRoute, del); err != nil {
		return nil, err
	}
	resp, err := s.router.Send(ctx, channel.DefaultRoute, tagged(payload, member))
	if err != nil {
		return nil, err
	}
	if ack, ok := resp.(types.Ack); ok {
		return &ack, nil
	}
	return nil, nil
}

// SendToMember fans payload out to the member's routes concurrently. The
// returned map holds the Ack of every route that returned one. It fails
// only when no route took the message; partial failures are logged.
func (s *RoutingService) SendToMember(ctx context.Context, from types.MemberId, member types.Member, payload types.MessagePayload) (map[types.Route]types.Payload, error) {
	var (
		mu        sync.Mutex
		g         errgroup.Group
		errs      *multierror.Error
		responses = make(map[types.Route]types.Payload)
	)

	routes := s.deliveryRoutes(member)
	for _, route := range routes {
		g.Go(func() error {
			resp, err := s.SendToRoute(ctx, from, route, payload)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", route, err))
				return nil
			}
			if resp != nil {
				responses[route] = resp
			}
			return nil
		})
	}
	_ = g.Wait()

	err := errs.ErrorOrNil()
	if err == nil {
		return responses, nil
	}
	if len(errs.Errors) == len(routes) {
		if len(errs.Errors) == 1 {
			return nil, errors.Unwrap(errs.Errors[0])
		}
		return nil, types.WrapRouting(err, "Unable to deliver message to %s", member.UserName)
	}
	s.log.Warn("partial delivery to member", "member", member.Id, "error", err)
	return responses, nil
}

func (s *RoutingService) deliveryRoutes(member types.Member) []types.Route {
	if s.singleRoute {
		if route, ok := member.LatestRoute(); ok {
			return []types.Route{route}
		}
		return nil
	}
	return member.Routes
}

// SendToRoute delivers payload to a single route. Edits and deletes are
// addressed with the id the destination provider assigned when the
// original was delivered.
func (s *RoutingService) SendToRoute(ctx context.Context, from types.MemberId, route types.Route, payload types.Payload) (types.Payload, error) {
	if mp, ok := payload.(types.MessagePayload); ok && s.idMapper != nil && needsTranslation(mp) {
		mapping, err := s.idMapper.FindIdMapping(ctx, from, mp.Meta().Id, route.Provider)
		switch {
		case err == nil:
			payload = types.WithMessageId(mp, mapping.DestinationId)
		case !errors.Is(err, database.ErrNotFound):
			s.log.Warn("unable to look up message id mapping", "from", from, "message_id", mp.Meta().Id, "error", err)
		}
	}
	return s.router.Send(ctx, route, payload)
}

// SendToChannel delivers a notification or message to the channel host.
func (s *RoutingService) SendToChannel(ctx context.Context, channel types.Channel, payload types.Payload) (types.Payload, error) {
	return s.router.Send(ctx, channel.DefaultRoute, payload)
}

// updatePeer records id as the channel's peer. Failures are logged, the
// message has already been delivered.
func (s *RoutingService) updatePeer(ctx context.Context, channel types.Channel, id types.MemberId) types.Channel {
	if channel.PeerMember != nil && *channel.PeerMember == id {
		return channel
	}
	updated, err := s.store.UpdateChannel(ctx, channel.Name, func(ch types.Channel) (types.Channel, error) {
		return ch.WithPeer(id), nil
	})
	if err != nil {
		s.log.Warn("unable to update channel peer", "channel", channel.Name, "peer", id, "error", err)
		return channel.WithPeer(id)
	}
	return updated
}

func needsTranslation(p types.MessagePayload) bool {
	if _, ok := p.(types.DeleteMessage); ok {
		return true
	}
	return types.IsEdited(p)
}

func memberTag(member types.Member) string {
	return fmt.Sprintf("#%s %s\n", member.Id.Raw, member.UserName)
}

// tagged prefixes text and binary payloads with the member's tag. Deletes
// pass through untouched.
func tagged(p types.MessagePayload, member types.Member) types.MessagePayload {
	tag := memberTag(member)
	switch v := p.(type) {
	case types.SendText:
		if strings.HasPrefix(v.Text, tag) {
			return v
		}
		return v.WithText(tag + v.Text)
	case types.SendBinary:
		if strings.HasPrefix(v.Text, tag) {
			return v
		}
		return v.WithText(tag + v.Text)
	}
	return p
}

func notFoundAs(err error, format string, args ...any) error {
	if errors.Is(err, database.ErrNotFound) {
		return types.NotFoundf(format, args...)
	}
	return storeError(err, "lookup")
}

// storeError passes KiteErrors through and wraps anything else.
func storeError(err error, op string) error {
	if _, ok := types.AsKiteError(err); ok {
		return err
	}
	return &types.KiteError{Kind: types.KindKite, Message: "Storage failure during " + op, Err: err}
}
