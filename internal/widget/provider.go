package widget

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/kite-relay/internal/event"
	"github.com/npezzotti/kite-relay/internal/server"
	"github.com/npezzotti/kite-relay/internal/stats"
	"github.com/npezzotti/kite-relay/internal/types"
	"github.com/oklog/ulid/v2"
	"github.com/teris-io/shortid"
	"golang.org/x/text/language"
)

const ProviderId types.ProviderId = "ws"

// Provider delivers payloads to browser widgets over websockets and turns
// widget frames into commands.
type Provider struct {
	log            *slog.Logger
	handler        server.CommandHandler
	events         event.Publisher
	tokens         *TokenIssuer
	stats          stats.StatsProvider
	allowedOrigins []string

	mu      sync.RWMutex
	clients map[string]*Client
	wg      sync.WaitGroup
}

func NewProvider(logger *slog.Logger, handler server.CommandHandler, events event.Publisher, tokens *TokenIssuer,
	su stats.StatsProvider, allowedOrigins []string) *Provider {
	su.RegisterMetric(stats.WidgetConnections)
	return &Provider{
		log:            logger,
		handler:        handler,
		events:         events,
		tokens:         tokens,
		stats:          su,
		allowedOrigins: allowedOrigins,
		clients:        make(map[string]*Client),
	}
}

func (p *Provider) Id() types.ProviderId {
	return ProviderId
}

// Send queues payload for the socket behind route. Widgets assign no ids of
// their own, so no acknowledgement is returned.
func (p *Provider) Send(ctx context.Context, route types.Route, payload types.Payload) (types.Payload, error) {
	p.mu.RLock()
	c, ok := p.clients[route.Raw]
	p.mu.RUnlock()
	if !ok {
		return nil, types.Routingf("Widget connection %s is closed", route)
	}

	frame, ok := toFrame(payload)
	if !ok {
		return nil, types.Validationf("Unsupported payload for widget")
	}

	if !c.queueMessage(frame) {
		return nil, types.Routingf("Widget connection %s is not accepting messages", route)
	}

	return nil, nil
}

func (p *Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(p.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.log.Error("error upgrading connection", "error", err)
		return
	}

	route := types.NewRoute(ProviderId, uuid.NewString())
	c := NewClient(route, conn, p, p.log)
	p.register(c)

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		c.Write()
	}()
	go func() {
		defer p.wg.Done()
		c.Read(context.WithoutCancel(r.Context()))
	}()
}

func (p *Provider) register(c *Client) {
	p.mu.Lock()
	p.clients[c.route.Raw] = c
	p.mu.Unlock()

	p.stats.Incr(stats.WidgetConnections)
	p.log.Debug("widget connected", "route", c.route.String())
}

func (p *Provider) unregister(c *Client) {
	p.mu.Lock()
	_, ok := p.clients[c.route.Raw]
	delete(p.clients, c.route.Raw)
	p.mu.Unlock()
	if !ok {
		return
	}

	p.stats.Decr(stats.WidgetConnections)
	if id, joined := c.Member(); joined {
		p.events.Publish(context.Background(), event.MemberDisconnected{MemberId: id, Route: c.route})
	}
	p.log.Debug("widget disconnected", "route", c.route.String())
}

// Shutdown closes every socket and waits for the pumps to exit.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.RLock()
	for _, c := range p.clients {
		c.stopClient()
	}
	p.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) handleFrame(ctx context.Context, c *Client, f *ClientFrame) {
	switch {
	case f.Join != nil:
		p.join(ctx, c, f)
	case f.Text != nil:
		p.route(ctx, c, f.Id, types.SendText{
			MessageMeta: meta(f.Text.MessageId, f),
			Text:        f.Text.Text,
			Mode:        mode(f.Text.Edited),
		})
	case f.Binary != nil:
		b := f.Binary
		p.route(ctx, c, f.Id, types.SendBinary{
			SendText: types.SendText{
				MessageMeta: meta(b.MessageId, f),
				Text:        b.Text.Text,
				Mode:        mode(b.Edited),
			},
			URI:      b.URI,
			FileName: b.FileName,
			FileType: b.FileType,
			FileSize: b.FileSize,
		})
	case f.Delete != nil:
		if f.Delete.MessageId == "" {
			c.queueMessage(ErrInvalidFrame(f.Id))
			return
		}
		p.route(ctx, c, f.Id, types.NewDeleteMessage(f.Delete.MessageId, timestamp(f)))
	case f.Command != nil:
		p.command(ctx, c, f)
	case f.Ping != nil:
		c.queueMessage(NoErrOK(f.Id, nil))
	default:
		c.queueMessage(ErrInvalidFrame(f.Id))
	}
}

func (p *Provider) join(ctx context.Context, c *Client, f *ClientFrame) {
	raw := p.memberRaw(c, f.Join)
	resp, err := p.handler.Handle(ctx, types.ExecuteCommand{
		Origin:     c.route,
		Locale:     language.English,
		MemberId:   raw,
		MemberName: f.Join.UserName,
		Command:    "join",
		Args:       f.Join.Channel,
	})
	if err != nil {
		c.queueMessage(ErrResponse(f.Id, err))
		return
	}

	id := types.NewMemberId(f.Join.Channel, raw)
	c.setMember(id)

	token, err := p.tokens.Issue(id)
	if err != nil {
		p.log.Error("failed to issue member token", "member", id.String(), "error", err)
		c.queueMessage(ErrResponse(f.Id, types.Kitef("Unable to issue member token")))
		return
	}

	c.queueMessage(NoErrOK(f.Id, map[string]any{
		"member_id": raw,
		"token":     token,
	}))
	// a reconnecting member gets no notification
	if resp == nil {
		return
	}
	if frame, ok := toFrame(resp); ok {
		c.queueMessage(frame)
	}
}

// memberRaw reuses the member id of a valid token for the same channel and
// assigns a fresh anonymous id otherwise.
func (p *Provider) memberRaw(c *Client, j *Join) string {
	if j.Token != "" {
		id, err := p.tokens.Verify(j.Token)
		if err == nil && id.Channel == j.Channel {
			return id.Raw
		}
		c.log.Debug("ignoring member token", "error", err)
	}
	if id, ok := c.Member(); ok && id.Channel == j.Channel {
		return id.Raw
	}

	raw, err := shortid.Generate()
	if err != nil {
		return uuid.NewString()
	}
	return raw
}

func (p *Provider) route(ctx context.Context, c *Client, frameId string, payload types.MessagePayload) {
	id, ok := c.Member()
	if !ok {
		c.queueMessage(ErrNotJoined(frameId))
		return
	}

	resp, err := p.handler.Handle(ctx, types.RouteMessage{
		Origin:   c.route,
		MemberId: id.Raw,
		Locale:   language.English,
		Payload:  payload,
	})
	if err != nil {
		c.queueMessage(ErrResponse(frameId, err))
		return
	}

	data := map[string]any{"message_id": payload.Meta().Id}
	if ack, ok := resp.(types.Ack); ok && ack.OverrideMessageId != "" {
		data["override_message_id"] = ack.OverrideMessageId
	}
	c.queueMessage(NoErrOK(frameId, data))
}

func (p *Provider) command(ctx context.Context, c *Client, f *ClientFrame) {
	cmd, args, ok := types.ParseCommandLine(f.Command.Line)
	if !ok {
		c.queueMessage(ErrInvalidFrame(f.Id))
		return
	}

	raw := c.route.Raw
	if id, joined := c.Member(); joined {
		raw = id.Raw
	}

	resp, err := p.handler.Handle(ctx, types.ExecuteCommand{
		Origin:   c.route,
		Locale:   language.English,
		MemberId: raw,
		Command:  cmd,
		Args:     args,
	})
	if err != nil {
		c.queueMessage(ErrResponse(f.Id, err))
		return
	}

	c.queueMessage(NoErrOK(f.Id, nil))
	if resp == nil {
		return
	}
	if frame, ok := toFrame(resp); ok {
		c.queueMessage(frame)
	}
}

func meta(id string, f *ClientFrame) types.MessageMeta {
	if id == "" {
		id = ulid.Make().String()
	}
	return types.MessageMeta{Id: id, Timestamp: timestamp(f)}
}

func timestamp(f *ClientFrame) time.Time {
	if f.Timestamp.IsZero() {
		return types.Now()
	}
	return f.Timestamp.UTC()
}
