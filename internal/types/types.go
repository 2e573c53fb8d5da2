package types

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// ProviderId names a registered RoutingProvider, e.g. "ws" or "tg".
type ProviderId string

type Route struct {
	Provider ProviderId `json:"provider"`
	Raw      string     `json:"raw"`
}

func NewRoute(provider ProviderId, raw string) Route {
	return Route{Provider: provider, Raw: raw}
}

// ParseRoute splits s on the first ':' into provider and raw id.
func ParseRoute(s string) (Route, error) {
	provider, raw, ok := strings.Cut(s, ":")
	if !ok || provider == "" {
		return Route{}, Validationf("invalid route %q", s)
	}
	return Route{Provider: ProviderId(provider), Raw: raw}, nil
}

func (r Route) String() string {
	return string(r.Provider) + ":" + r.Raw
}

func (r Route) IsZero() bool {
	return r.Provider == "" && r.Raw == ""
}

func (r Route) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Route) UnmarshalText(text []byte) error {
	parsed, err := ParseRoute(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

type MemberId struct {
	Channel string `json:"channel"`
	Raw     string `json:"raw"`
}

func NewMemberId(channel, raw string) MemberId {
	return MemberId{Channel: channel, Raw: raw}
}

func (id MemberId) String() string {
	return id.Channel + "#" + id.Raw
}

// Member is a participant of one channel. Routes holds at most one route
// per provider, in the order they were connected. Values are never
// mutated in place; WithRoute and WithoutRoute return copies.
type Member struct {
	Id       MemberId `json:"id"`
	UserName string   `json:"user_name"`
	Routes   []Route  `json:"routes"`
}

func NewMember(id MemberId, userName string, routes ...Route) Member {
	m := Member{Id: id, UserName: userName, Routes: []Route{}}
	for _, r := range routes {
		m = m.WithRoute(r)
	}
	return m
}

func (m Member) RouteTo(provider ProviderId) (Route, bool) {
	for _, r := range m.Routes {
		if r.Provider == provider {
			return r, true
		}
	}
	return Route{}, false
}

func (m Member) HasRoute(route Route) bool {
	return slices.Contains(m.Routes, route)
}

func (m Member) Online() bool {
	return len(m.Routes) > 0
}

// WithRoute returns a copy holding route, replacing any prior route to the
// same provider. It returns m unchanged when route is already present.
func (m Member) WithRoute(route Route) Member {
	if m.HasRoute(route) {
		return m
	}
	routes := make([]Route, 0, len(m.Routes)+1)
	for _, r := range m.Routes {
		if r.Provider != route.Provider {
			routes = append(routes, r)
		}
	}
	m.Routes = append(routes, route)
	return m
}

func (m Member) WithoutRoute(route Route) Member {
	if !m.HasRoute(route) {
		return m
	}
	routes := make([]Route, 0, len(m.Routes))
	for _, r := range m.Routes {
		if r != route {
			routes = append(routes, r)
		}
	}
	m.Routes = routes
	return m
}

// LatestRoute returns the most recently connected route.
func (m Member) LatestRoute() (Route, bool) {
	if len(m.Routes) == 0 {
		return Route{}, false
	}
	return m.Routes[len(m.Routes)-1], true
}

type Channel struct {
	Name         string    `json:"name"`
	HostId       string    `json:"host_id"`
	DefaultRoute Route     `json:"default_route"`
	ChatBot      *Route    `json:"chat_bot,omitempty"`
	PeerMember   *MemberId `json:"peer_member,omitempty"`
}

func (c Channel) HostMemberId() MemberId {
	return NewMemberId(c.Name, c.HostId)
}

func (c Channel) WithDefaultRoute(route Route) Channel {
	c.DefaultRoute = route
	return c
}

func (c Channel) WithPeer(id MemberId) Channel {
	c.PeerMember = &id
	return c
}

func (c Channel) String() string {
	return fmt.Sprintf("channel %s (host %s via %s)", c.Name, c.HostId, c.DefaultRoute)
}

// Connection binds an inbound route either to a channel (the host side)
// or to a single member. The set of implementations is closed.
type Connection interface {
	Route() Route
	isConnection()
}

type ChannelConnection struct {
	Origin      Route  `json:"route"`
	ChannelName string `json:"channel_name"`
}

func (c ChannelConnection) Route() Route { return c.Origin }
func (ChannelConnection) isConnection()  {}

type MemberConnection struct {
	Origin   Route    `json:"route"`
	MemberId MemberId `json:"member_id"`
}

func (c MemberConnection) Route() Route { return c.Origin }
func (MemberConnection) isConnection()  {}

// Direction of a routed message relative to the channel.
type Direction string

const (
	ToChannel   Direction = "TO_CHANNEL"
	FromChannel Direction = "FROM_CHANNEL"
)
