package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/kite-relay/internal/database"
	"github.com/npezzotti/kite-relay/internal/event"
	"github.com/npezzotti/kite-relay/internal/testutil"
	"github.com/npezzotti/kite-relay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestHistoryResender(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryRepository()
	base := types.Now().Add(-time.Hour)

	for i, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, repo.AppendMessage(ctx, database.HistoryMessage{
			MemberId:  aliceId,
			Payload:   types.NewText(id, "text "+id, base.Add(time.Duration(i)*time.Minute)),
			Direction: types.ToChannel,
		}))
	}
	require.NoError(t, repo.AppendMessage(ctx, database.HistoryMessage{
		MemberId:  aliceId,
		Payload:   types.NewDeleteMessage("m0", base.Add(5*time.Minute)),
		Direction: types.FromChannel,
	}))

	sender := &MockSender{}
	var order []string
	sender.On("Send", mock.Anything, aliceTg, mock.AnythingOfType("types.SendText")).
		Run(func(args mock.Arguments) {
			order = append(order, args.Get(2).(types.SendText).Id)
		}).
		Return(nil, nil)

	r := NewHistoryResender(testutil.TestLogger(t), repo, sender)
	r.limit = 2
	require.NoError(t, r.Handle(ctx, event.MemberConnected{MemberId: aliceId, Route: aliceTg}))

	// the two newest entries are m3 and the delete, which is skipped
	assert.Equal(t, []string{"m3"}, order)

	order = nil
	r.limit = resendLimit
	require.NoError(t, r.Handle(ctx, event.MemberConnected{MemberId: aliceId, Route: aliceTg}))
	assert.Equal(t, []string{"m1", "m2", "m3"}, order, "expected chronological order")
}

func TestHistoryResender_Providers(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryRepository()
	require.NoError(t, repo.AppendMessage(ctx, database.HistoryMessage{
		MemberId:  aliceId,
		Payload:   types.NewText("m1", "#u1 Alice\nhello", types.Now().Add(-time.Minute)),
		Direction: types.ToChannel,
	}))

	sender := &MockSender{}
	sender.On("Send", mock.Anything, aliceTg, mock.AnythingOfType("types.SendText")).Return(nil, nil).Once()

	r := NewHistoryResender(testutil.TestLogger(t), repo, sender, "tg")
	require.NoError(t, r.Handle(ctx, event.MemberConnected{MemberId: aliceId, Route: aliceWs}))
	sender.AssertNotCalled(t, "Send", mock.Anything, aliceWs, mock.Anything)

	require.NoError(t, r.Handle(ctx, event.MemberConnected{MemberId: aliceId, Route: aliceTg}))
	sender.AssertExpectations(t)
}

func TestHistoryResender_SendFailureContinues(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryRepository()
	for _, id := range []string{"m1", "m2"} {
		require.NoError(t, repo.AppendMessage(ctx, database.HistoryMessage{
			MemberId: aliceId,
			Payload:  types.NewText(id, id, types.Now().Add(-time.Minute)),
		}))
	}

	sender := &MockSender{}
	sender.On("Send", mock.Anything, aliceTg, mock.Anything).Return(nil, errors.New("blocked")).Twice()

	r := NewHistoryResender(testutil.TestLogger(t), repo, sender)
	assert.NoError(t, r.Handle(ctx, event.MemberConnected{MemberId: aliceId, Route: aliceTg}))
	sender.AssertExpectations(t)
}

func TestMembershipListener_Disconnected(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryRepository()
	require.NoError(t, repo.CreateMember(ctx, types.NewMember(aliceId, "Alice", aliceWs, aliceTg)))
	require.NoError(t, repo.PutConnection(ctx, types.MemberConnection{Origin: aliceWs, MemberId: aliceId}))

	l := NewMembershipListener(testutil.TestLogger(t), repo)
	require.NoError(t, l.Handle(ctx, event.MemberDisconnected{MemberId: aliceId, Route: aliceWs}))

	m, err := repo.GetMember(ctx, aliceId)
	require.NoError(t, err)
	assert.Equal(t, []types.Route{aliceTg}, m.Routes)
	_, err = repo.GetConnection(ctx, aliceWs)
	assert.ErrorIs(t, err, database.ErrNotFound)

	// a member that already left
	assert.NoError(t, l.Handle(ctx, event.MemberDisconnected{MemberId: types.NewMemberId(testChannel, "gone"), Route: aliceWs}))
}

func TestIdMappingListener_SkipsNonAcks(t *testing.T) {
	ctx := context.Background()
	mapper := database.NewMemoryIdMapper(time.Hour)
	l := NewIdMappingListener(testutil.TestLogger(t), mapper)

	channel := types.Channel{Name: testChannel, HostId: "h1", DefaultRoute: hostRoute}
	member := types.NewMember(aliceId, "Alice", aliceWs)
	err := l.Handle(ctx, event.MessageRouted{
		Channel:   channel,
		Member:    member,
		Direction: types.FromChannel,
		Request:   types.NewText("100", "hi", types.Now()),
		Responses: map[types.Route]types.Payload{aliceWs: types.Notification{Text: "x"}},
	})
	require.NoError(t, err)

	_, err = mapper.FindIdMapping(ctx, hostMember, "100", "ws")
	assert.ErrorIs(t, err, database.ErrNotFound)
}
