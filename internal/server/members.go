package server

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/npezzotti/kite-relay/internal/database"
	"github.com/npezzotti/kite-relay/internal/event"
	"github.com/npezzotti/kite-relay/internal/l10n"
	"github.com/npezzotti/kite-relay/internal/stats"
	"github.com/npezzotti/kite-relay/internal/types"
	"golang.org/x/text/language"
)

// MemberService executes the membership commands: hosting and dropping
// channels, joining and leaving them.
type MemberService struct {
	log       *slog.Logger
	routing   *RoutingService
	store     Store
	events    event.Publisher
	stats     stats.StatsProvider
	catalog   *l10n.Catalog
	widgetURL url.URL
}

func NewMemberService(logger *slog.Logger, routing *RoutingService, store Store, events event.Publisher, su stats.StatsProvider, catalog *l10n.Catalog, widgetURL url.URL) *MemberService {
	su.RegisterMetric(stats.CommandsExecuted)
	return &MemberService{
		log:       logger,
		routing:   routing,
		store:     store,
		events:    events,
		stats:     su,
		catalog:   catalog,
		widgetURL: widgetURL,
	}
}

// Execute runs a single command. A nil payload means there is nothing to
// reply to the origin.
func (s *MemberService) Execute(ctx context.Context, cmd types.ExecuteCommand) (types.Payload, error) {
	if err := types.ValidateCommand(cmd); err != nil {
		return nil, err
	}

	name := strings.TrimPrefix(cmd.Command, "/")
	s.log.Debug("executing command", "command", name, "origin", cmd.Origin, "member", cmd.MemberId)
	s.stats.Incr(stats.CommandsExecuted)

	switch name {
	case "help":
		return types.Plain(s.catalog.Text(cmd.Locale, l10n.KeyHelp)), nil
	case "info":
		return s.Info(ctx, cmd.Origin, cmd.MemberId, cmd.Locale)
	case "host":
		return s.Host(ctx, cmd.Args, cmd.MemberId, cmd.MemberName, cmd.Origin)
	case "join":
		return s.Join(ctx, types.NewMemberId(cmd.Args, cmd.MemberId), cmd.MemberName, cmd.Origin)
	case "leave":
		return s.Leave(ctx, cmd.Origin, cmd.MemberId)
	case "drop":
		return s.Drop(ctx, cmd.MemberId)
	case "start", "startgroup":
		return s.start(ctx, cmd)
	}
	return nil, types.Validationf("Unsupported command /%s", name)
}

// start handles deep links: "host__<name>", "join__<name>" and
// "join__<name>__<rawId>". Any other argument joins the named channel.
func (s *MemberService) start(ctx context.Context, cmd types.ExecuteCommand) (types.Payload, error) {
	if cmd.Args == "" {
		return types.Plain(s.catalog.Text(cmd.Locale, l10n.KeyHelp)), nil
	}

	parts := strings.SplitN(cmd.Args, "__", 3)
	switch {
	case parts[0] == "host" && len(parts) >= 2:
		return s.Host(ctx, parts[1], cmd.MemberId, cmd.MemberName, cmd.Origin)
	case parts[0] == "join" && len(parts) == 3:
		id := types.NewMemberId(parts[1], parts[2])
		if _, err := s.Join(ctx, id, cmd.MemberName, cmd.Origin); err != nil {
			return nil, err
		}
		return types.Info("You joined channel %s", id.Channel), nil
	case parts[0] == "join" && len(parts) == 2:
		return s.Join(ctx, types.NewMemberId(parts[1], cmd.MemberId), cmd.MemberName, cmd.Origin)
	}
	return s.Join(ctx, types.NewMemberId(cmd.Args, cmd.MemberId), cmd.MemberName, cmd.Origin)
}

// Host creates channelName hosted by hostId, or moves the default route of
// the channel hostId already hosts under that name.
func (s *MemberService) Host(ctx context.Context, channelName, hostId, title string, origin types.Route) (types.Payload, error) {
	if err := types.ValidateChannelName(channelName); err != nil {
		return nil, err
	}

	hosted, err := s.store.GetChannelName(ctx, hostId)
	switch {
	case err == nil && hosted != channelName:
		return nil, types.Conflictf("You cannot host more than one channel")
	case err != nil && !errors.Is(err, database.ErrNotFound):
		return nil, storeError(err, "host")
	}

	existing, err := s.store.GetChannel(ctx, channelName)
	if err == nil {
		if existing.HostId != hostId {
			return nil, types.Conflictf("Channel name is already taken")
		}
		return s.rehost(ctx, existing, origin)
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, storeError(err, "host")
	}

	channel := types.Channel{Name: channelName, HostId: hostId, DefaultRoute: origin}
	if err := s.store.CreateChannel(ctx, channel); err != nil {
		return nil, storeError(err, "host")
	}

	host := types.NewMember(channel.HostMemberId(), title, origin)
	if err := s.store.CreateMember(ctx, host); err != nil {
		if !types.IsConflict(err) {
			return nil, storeError(err, "host")
		}
		if _, err := s.store.UpdateMember(ctx, host.Id, func(m types.Member) (types.Member, error) {
			return m.WithRoute(origin), nil
		}); err != nil {
			return nil, storeError(err, "host")
		}
	}
	if err := s.store.PutConnection(ctx, types.ChannelConnection{Origin: origin, ChannelName: channelName}); err != nil {
		return nil, storeError(err, "host")
	}

	s.log.Info("channel created", "channel", channelName, "host", hostId, "route", origin)
	s.events.Publish(ctx, event.ChannelCreated{Channel: channel})
	return s.createdNotice(channelName), nil
}

func (s *MemberService) rehost(ctx context.Context, existing types.Channel, origin types.Route) (types.Payload, error) {
	if existing.DefaultRoute == origin {
		return s.createdNotice(existing.Name), nil
	}

	updated, err := s.store.UpdateChannel(ctx, existing.Name, func(ch types.Channel) (types.Channel, error) {
		if ch.HostId != existing.HostId {
			return ch, types.Conflictf("Channel name is already taken")
		}
		return ch.WithDefaultRoute(origin), nil
	})
	if err != nil {
		return nil, storeError(err, "host")
	}

	if err := s.store.PutConnection(ctx, types.ChannelConnection{Origin: origin, ChannelName: updated.Name}); err != nil {
		return nil, storeError(err, "host")
	}
	if err := s.store.DeleteConnection(ctx, existing.DefaultRoute); err != nil && !errors.Is(err, database.ErrNotFound) {
		s.log.Warn("unable to remove previous channel route", "channel", existing.Name, "route", existing.DefaultRoute, "error", err)
	}
	if _, err := s.store.UpdateMember(ctx, updated.HostMemberId(), func(m types.Member) (types.Member, error) {
		return m.WithoutRoute(existing.DefaultRoute).WithRoute(origin), nil
	}); err != nil && !errors.Is(err, database.ErrNotFound) {
		s.log.Warn("unable to update host routes", "channel", existing.Name, "error", err)
	}

	s.log.Info("channel default route changed", "channel", updated.Name, "from", existing.DefaultRoute, "to", origin)
	s.events.Publish(ctx, event.ChannelUpdated{Before: existing, Channel: updated})
	return types.Info("Messages for channel %s will be sent here from now on", updated.Name), nil
}

func (s *MemberService) createdNotice(channelName string) types.Notification {
	return types.Info("Created channel %s. Use URL %s to configure k1te chat frontend", channelName, s.ChannelURL(channelName))
}

// ChannelURL is the widget endpoint members of channelName connect to.
func (s *MemberService) ChannelURL(channelName string) string {
	u := s.widgetURL
	u.RawQuery = url.Values{"c": []string{channelName}}.Encode()
	return u.String()
}

// Drop removes the channel hostId hosts. Its members, connections, history
// and pins are purged by the ChannelDropped listeners.
func (s *MemberService) Drop(ctx context.Context, hostId string) (types.Payload, error) {
	name, err := s.store.GetChannelName(ctx, hostId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, types.NotFoundf("You don't host any channels to drop")
		}
		return nil, storeError(err, "drop")
	}
	if err := s.store.DeleteChannel(ctx, name); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, types.NotFoundf("You don't host any channels to drop")
		}
		return nil, storeError(err, "drop")
	}

	s.log.Info("channel dropped", "channel", name, "host", hostId)
	s.events.Publish(ctx, event.ChannelDropped{ChannelName: name})
	return types.Info("You dropped channel %s", name), nil
}

// Join connects origin to the member id. An existing member gains the
// route and gets no reply; a new member is announced to the host.
func (s *MemberService) Join(ctx context.Context, id types.MemberId, memberName string, origin types.Route) (types.Payload, error) {
	if err := types.ValidateChannelName(id.Channel); err != nil {
		return nil, err
	}

	channel, err := s.store.GetChannel(ctx, id.Channel)
	if err != nil {
		return nil, notFoundAs(err, "Channel not found: %s", id.Channel)
	}
	if id.Raw == channel.HostId {
		return nil, types.Validationf("You are the host of the channel %s", channel.Name)
	}

	_, err = s.store.GetMember(ctx, id)
	switch {
	case err == nil:
		return nil, s.reconnect(ctx, id, origin)
	case !errors.Is(err, database.ErrNotFound):
		return nil, storeError(err, "join")
	}

	if memberName == "" {
		memberName = id.Raw
	}
	member := types.NewMember(id, memberName, origin)
	if err := s.store.CreateMember(ctx, member); err != nil {
		if types.IsConflict(err) {
			return nil, s.reconnect(ctx, id, origin)
		}
		return nil, storeError(err, "join")
	}
	if err := s.store.PutConnection(ctx, types.MemberConnection{Origin: origin, MemberId: id}); err != nil {
		return nil, storeError(err, "join")
	}

	s.log.Info("member joined", "member", id, "route", origin)
	s.events.Publish(ctx, event.MemberCreated{Member: member})
	if _, err := s.routing.SendToChannel(ctx, channel, types.Info("%s joined channel %s", memberName, channel.Name)); err != nil {
		s.log.Warn("unable to notify host of new member", "channel", channel.Name, "error", err)
	}
	return types.Info("You joined channel %s", channel.Name), nil
}

func (s *MemberService) reconnect(ctx context.Context, id types.MemberId, origin types.Route) error {
	var displaced types.Route
	if _, err := s.store.UpdateMember(ctx, id, func(m types.Member) (types.Member, error) {
		displaced = types.Route{}
		if prev, ok := m.RouteTo(origin.Provider); ok && prev != origin {
			displaced = prev
		}
		return m.WithRoute(origin), nil
	}); err != nil {
		return notFoundAs(err, "Member not found: %s", id)
	}
	if !displaced.IsZero() {
		if err := s.releaseRoute(ctx, id, displaced); err != nil {
			return storeError(err, "join")
		}
	}
	if err := s.store.PutConnection(ctx, types.MemberConnection{Origin: origin, MemberId: id}); err != nil {
		return storeError(err, "join")
	}

	s.log.Debug("member reconnected", "member", id, "route", origin)
	s.events.Publish(ctx, event.MemberConnected{MemberId: id, Route: origin})
	return nil
}

// releaseRoute deletes the connection of a route the member no longer
// holds, unless the route has since been bound to someone else.
func (s *MemberService) releaseRoute(ctx context.Context, id types.MemberId, route types.Route) error {
	conn, err := s.store.GetConnection(ctx, route)
	if err != nil {
		return ignoreNotFound(err)
	}
	if mc, ok := conn.(types.MemberConnection); !ok || mc.MemberId != id {
		return nil
	}
	return ignoreNotFound(s.store.DeleteConnection(ctx, route))
}

// Leave removes the member connected on origin from its channel.
func (s *MemberService) Leave(ctx context.Context, origin types.Route, rawId string) (types.Payload, error) {
	conn, err := s.store.GetConnection(ctx, origin)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return types.Warn("You are not joined to any channel"), nil
		}
		return nil, storeError(err, "leave")
	}

	var id types.MemberId
	switch c := conn.(type) {
	case types.ChannelConnection:
		return nil, types.Validationf("Host cannot leave, use /drop")
	case types.MemberConnection:
		id = c.MemberId
	}
	if id.Raw != rawId {
		return nil, types.Conflictf("You need to /join <channel>")
	}

	member, err := s.store.GetMember(ctx, id)
	switch {
	case err == nil:
		for _, route := range member.Routes {
			if err := s.store.DeleteConnection(ctx, route); err != nil && !errors.Is(err, database.ErrNotFound) {
				s.log.Warn("unable to remove member connection", "member", id, "route", route, "error", err)
			}
		}
	case errors.Is(err, database.ErrNotFound):
		member = types.NewMember(id, id.Raw)
	default:
		return nil, storeError(err, "leave")
	}
	if err := s.store.DeleteConnection(ctx, origin); err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, storeError(err, "leave")
	}
	if err := s.store.DeleteMember(ctx, id); err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, storeError(err, "leave")
	}

	s.log.Info("member left", "member", id)
	s.events.Publish(ctx, event.MemberDeleted{MemberId: id})
	if channel, err := s.store.GetChannel(ctx, id.Channel); err == nil {
		if _, err := s.routing.SendToChannel(ctx, channel, types.Info("#%s left channel %s", id.Raw, channel.Name)); err != nil {
			s.log.Warn("unable to notify host of leaving member", "channel", channel.Name, "error", err)
		}
	}
	return types.Info("You left channel %s", id.Channel), nil
}

// Info describes the caller's role for the route they wrote from.
func (s *MemberService) Info(ctx context.Context, origin types.Route, rawId string, locale language.Tag) (types.Payload, error) {
	name, err := s.store.GetChannelName(ctx, rawId)
	switch {
	case err == nil:
		return types.Info("You are the host of the channel %s", name), nil
	case !errors.Is(err, database.ErrNotFound):
		return nil, storeError(err, "info")
	}

	conn, err := s.store.GetConnection(ctx, origin)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, storeError(err, "info")
	}
	switch c := conn.(type) {
	case types.ChannelConnection:
		return types.Info("You can respond to messages in the channel %s", c.ChannelName), nil
	case types.MemberConnection:
		if c.MemberId.Raw == rawId {
			return types.Info("You are the member of the channel %s", c.MemberId.Channel), nil
		}
	}
	return types.Info("%s", s.catalog.Text(locale, l10n.KeyAnonymousInfo)), nil
}
