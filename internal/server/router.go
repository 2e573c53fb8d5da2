package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/npezzotti/kite-relay/internal/types"
)

// RoutingProvider delivers payloads to routes of a single transport. Send
// returns an Ack when the transport assigned its own id to the delivered
// message, otherwise nil.
type RoutingProvider interface {
	Id() types.ProviderId
	Send(ctx context.Context, route types.Route, payload types.Payload) (types.Payload, error)
}

// Pinner is implemented by providers able to pin a message in a chat.
type Pinner interface {
	Pin(ctx context.Context, route types.Route, messageId string) error
	Unpin(ctx context.Context, route types.Route, messageId string) error
}

type Sender interface {
	Send(ctx context.Context, route types.Route, payload types.Payload) (types.Payload, error)
}

// Router dispatches a send to the provider registered for the route's
// provider id.
type Router struct {
	log       *slog.Logger
	mu        sync.RWMutex
	providers map[types.ProviderId]RoutingProvider
}

func NewRouter(logger *slog.Logger, providers ...RoutingProvider) *Router {
	r := &Router{
		log:       logger,
		providers: make(map[types.ProviderId]RoutingProvider, len(providers)),
	}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds a provider, replacing any provider with the same id.
func (r *Router) Register(p RoutingProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Id()] = p
	r.log.Debug("registered routing provider", "provider", p.Id())
}

func (r *Router) Provider(id types.ProviderId) (RoutingProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// Pinner returns the provider for id when it supports pinning.
func (r *Router) Pinner(id types.ProviderId) (Pinner, bool) {
	p, ok := r.Provider(id)
	if !ok {
		return nil, false
	}
	pinner, ok := p.(Pinner)
	return pinner, ok
}

func (r *Router) Send(ctx context.Context, route types.Route, payload types.Payload) (types.Payload, error) {
	p, ok := r.Provider(route.Provider)
	if !ok {
		return nil, types.NotFoundf("Unsupported route provider: %s", route.Provider)
	}

	resp, err := p.Send(ctx, route, payload)
	if err != nil {
		if _, ok := types.AsKiteError(err); ok {
			return nil, err
		}
		return nil, types.WrapRouting(err, "Unable to deliver message to %s", route)
	}
	return resp, nil
}
