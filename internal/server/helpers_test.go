package server

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/kite-relay/internal/database"
	"github.com/npezzotti/kite-relay/internal/event"
	"github.com/npezzotti/kite-relay/internal/l10n"
	"github.com/npezzotti/kite-relay/internal/stats"
	"github.com/npezzotti/kite-relay/internal/testutil"
	"github.com/npezzotti/kite-relay/internal/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testChannel = "support_team_1"

type sent struct {
	route   types.Route
	payload types.Payload
}

// fakeProvider records every send. With acks set it answers NEW messages
// with an Ack carrying a provider assigned id.
type fakeProvider struct {
	id   types.ProviderId
	acks bool

	mu   sync.Mutex
	sent []sent
	fail map[types.Route]error
	next int
}

func newFakeProvider(id types.ProviderId, acks bool) *fakeProvider {
	return &fakeProvider{id: id, acks: acks, fail: make(map[types.Route]error)}
}

func (p *fakeProvider) Id() types.ProviderId { return p.id }

func (p *fakeProvider) Send(_ context.Context, route types.Route, payload types.Payload) (types.Payload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[route]; err != nil {
		return nil, err
	}
	p.sent = append(p.sent, sent{route: route, payload: payload})

	if mp, ok := payload.(types.MessagePayload); ok && p.acks && types.IsNew(mp) {
		p.next++
		return types.Ack{
			OverrideMessageId: fmt.Sprintf("%s-%d", p.id, p.next),
			MessageId:         mp.Meta().Id,
			Timestamp:         types.Now(),
		}, nil
	}
	return nil, nil
}

func (p *fakeProvider) failRoute(route types.Route, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail[route] = err
}

func (p *fakeProvider) sentTo(route types.Route) []types.Payload {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []types.Payload
	for _, s := range p.sent {
		if s.route == route {
			out = append(out, s.payload)
		}
	}
	return out
}

func (p *fakeProvider) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = nil
}

type pinningProvider struct {
	*fakeProvider
	pinMu  sync.Mutex
	pins   []string
	unpins []string
}

func newPinningProvider(id types.ProviderId) *pinningProvider {
	return &pinningProvider{fakeProvider: newFakeProvider(id, true)}
}

func (p *pinningProvider) Pin(_ context.Context, _ types.Route, messageId string) error {
	p.pinMu.Lock()
	defer p.pinMu.Unlock()
	p.pins = append(p.pins, messageId)
	return nil
}

func (p *pinningProvider) Unpin(_ context.Context, _ types.Route, messageId string) error {
	p.pinMu.Lock()
	defer p.pinMu.Unlock()
	p.unpins = append(p.unpins, messageId)
	return nil
}

type testEnv struct {
	repo    *database.MemoryRepository
	mapper  *database.MemoryIdMapper
	events  *event.Dispatcher
	router  *Router
	tg      *pinningProvider
	ws      *fakeProvider
	routing *RoutingService
	members *MemberService
}

func newTestStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return()
	su.On("Incr", mock.Anything).Return()
	return su
}

func newTestEnv(t *testing.T, opts ...RoutingOption) *testEnv {
	logger := testutil.TestLogger(t)
	env := &testEnv{
		repo:   database.NewMemoryRepository(),
		mapper: database.NewMemoryIdMapper(time.Hour),
		events: event.NewDispatcher(logger),
		tg:     newPinningProvider("tg"),
		ws:     newFakeProvider("ws", false),
	}
	env.router = NewRouter(logger, env.tg, env.ws)

	su := newTestStats()
	opts = append([]RoutingOption{WithIdMapper(env.mapper)}, opts...)
	env.routing = NewRoutingService(logger, env.router, env.repo, env.events, su, opts...)

	catalog, err := l10n.Load()
	require.NoError(t, err)
	env.members = NewMemberService(logger, env.routing, env.repo, env.events, su, catalog,
		url.URL{Scheme: "wss", Host: "kite.example", Path: "/ws"})

	Subscribe(env.events,
		NewHistoryListener(logger, env.repo),
		NewUnansweredListener(logger, env.repo, env.router),
		NewIdMappingListener(logger, env.mapper),
		NewMembershipListener(logger, env.repo),
		NewHistoryResender(logger, env.repo, env.router, "tg"),
	)
	return env
}

var (
	hostRoute  = types.NewRoute("tg", "h1")
	aliceWs    = types.NewRoute("ws", "a")
	aliceTg    = types.NewRoute("tg", "u1")
	aliceId    = types.NewMemberId(testChannel, "u1")
	hostMember = types.NewMemberId(testChannel, "h1")
)

func (env *testEnv) command(t *testing.T, origin types.Route, memberId, name, line string) (types.Payload, error) {
	t.Helper()
	command, args, ok := types.ParseCommandLine(line)
	require.True(t, ok, "expected %q to be a command", line)
	return env.members.Execute(context.Background(), types.ExecuteCommand{
		Origin:     origin,
		MemberId:   memberId,
		MemberName: name,
		Command:    command,
		Args:       args,
	})
}

func (env *testEnv) send(origin types.Route, memberId string, payload types.MessagePayload, toMember string) (types.Payload, error) {
	return env.routing.Route(context.Background(), types.RouteMessage{
		Origin:   origin,
		MemberId: memberId,
		Payload:  payload,
		ToMember: toMember,
	})
}

// hostAndJoin sets up a channel hosted on tg:h1 with Alice joined on ws:a.
func (env *testEnv) hostAndJoin(t *testing.T) {
	t.Helper()
	_, err := env.command(t, hostRoute, "h1", "Support", "/host "+testChannel)
	require.NoError(t, err)
	_, err = env.command(t, aliceWs, "u1", "Alice", "/join "+testChannel)
	require.NoError(t, err)
	env.tg.reset()
	env.ws.reset()
}

func text(p types.Payload) string {
	switch v := p.(type) {
	case types.SendText:
		return v.Text
	case types.SendBinary:
		return v.Text
	case types.Notification:
		return v.String()
	}
	return fmt.Sprintf("%T", p)
}
