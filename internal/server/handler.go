package server

import (
	"context"

	"github.com/npezzotti/kite-relay/internal/types"
)

// CommandHandler is what provider adapters hand decoded commands to.
type CommandHandler interface {
	Handle(ctx context.Context, cmd types.Command) (types.Payload, error)
}

// Kite executes commands against the member and routing services.
type Kite struct {
	members *MemberService
	routing *RoutingService
}

func NewKite(members *MemberService, routing *RoutingService) *Kite {
	return &Kite{members: members, routing: routing}
}

func (k *Kite) Handle(ctx context.Context, cmd types.Command) (types.Payload, error) {
	switch c := cmd.(type) {
	case types.ExecuteCommand:
		return k.members.Execute(ctx, c)
	case types.RouteMessage:
		return k.routing.Route(ctx, c)
	}
	return nil, types.Validationf("Unsupported command")
}
