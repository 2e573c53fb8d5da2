package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/npezzotti/kite-relay/internal/types"
)

const (
	selectChannelQuery = "SELECT name, host_id, default_route, chat_bot, peer_raw_id FROM channels"
	selectMemberQuery  = "SELECT channel_name, raw_id, user_name, routes FROM members"
	selectHistoryQuery = "SELECT channel_name, member_raw_id, direction, kind, payload FROM history"

	channelsHostConstraint = "channels_host_id_key"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (types.Channel, error) {
	var (
		ch           types.Channel
		defaultRoute string
		chatBot      sql.NullString
		peer         sql.NullString
	)
	if err := row.Scan(&ch.Name, &ch.HostId, &defaultRoute, &chatBot, &peer); err != nil {
		return types.Channel{}, notFound(err)
	}

	route, err := types.ParseRoute(defaultRoute)
	if err != nil {
		return types.Channel{}, fmt.Errorf("channel %s default route: %w", ch.Name, err)
	}
	ch.DefaultRoute = route

	if chatBot.Valid {
		bot, err := types.ParseRoute(chatBot.String)
		if err != nil {
			return types.Channel{}, fmt.Errorf("channel %s chat bot: %w", ch.Name, err)
		}
		ch.ChatBot = &bot
	}
	if peer.Valid {
		ch = ch.WithPeer(types.NewMemberId(ch.Name, peer.String))
	}
	return ch, nil
}

func channelArgs(ch types.Channel) []any {
	var chatBot, peer sql.NullString
	if ch.ChatBot != nil {
		chatBot = sql.NullString{String: ch.ChatBot.String(), Valid: true}
	}
	if ch.PeerMember != nil {
		peer = sql.NullString{String: ch.PeerMember.Raw, Valid: true}
	}
	return []any{ch.Name, ch.HostId, ch.DefaultRoute.String(), chatBot, peer}
}

func (db *PgKiteRepository) GetChannel(ctx context.Context, name string) (types.Channel, error) {
	row := db.conn.QueryRowContext(ctx, selectChannelQuery+" WHERE name = $1", name)
	return scanChannel(row)
}

func (db *PgKiteRepository) GetChannelName(ctx context.Context, hostId string) (string, error) {
	var name string
	err := db.conn.QueryRowContext(ctx, "SELECT name FROM channels WHERE host_id = $1", hostId).Scan(&name)
	return name, notFound(err)
}

func (db *PgKiteRepository) CreateChannel(ctx context.Context, channel types.Channel) error {
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO channels (name, host_id, default_route, chat_bot, peer_raw_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $6)",
		append(channelArgs(channel), now)...,
	)
	if constraint, ok := uniqueConstraint(err); ok {
		if constraint == channelsHostConstraint {
			return types.Conflictf("You cannot host more than one channel")
		}
		return types.Conflictf("Channel name is already taken")
	}
	return err
}

func (db *PgKiteRepository) UpdateChannel(ctx context.Context, name string, fn func(types.Channel) (types.Channel, error)) (types.Channel, error) {
	var updated types.Channel
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, selectChannelQuery+" WHERE name = $1 FOR UPDATE", name)
		ch, err := scanChannel(row)
		if err != nil {
			return err
		}

		updated, err = fn(ch)
		if err != nil {
			return err
		}
		if updated.Name != name || updated.HostId != ch.HostId {
			return types.Validationf("channel name and host cannot change")
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE channels SET default_route = $3, chat_bot = $4, peer_raw_id = $5, updated_at = $6 "+
				"WHERE name = $1 AND host_id = $2",
			append(channelArgs(updated), time.Now().UTC())...,
		)
		return err
	})
	if err != nil {
		return types.Channel{}, err
	}
	return updated, nil
}

func (db *PgKiteRepository) DeleteChannel(ctx context.Context, name string) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM channels WHERE name = $1", name)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMember(row rowScanner) (types.Member, error) {
	var (
		id       types.MemberId
		userName string
		routes   pq.StringArray
	)
	if err := row.Scan(&id.Channel, &id.Raw, &userName, &routes); err != nil {
		return types.Member{}, notFound(err)
	}

	m := types.NewMember(id, userName)
	for _, s := range routes {
		r, err := types.ParseRoute(s)
		if err != nil {
			return types.Member{}, fmt.Errorf("member %s route: %w", id, err)
		}
		m = m.WithRoute(r)
	}
	return m, nil
}

func routeStrings(routes []types.Route) pq.StringArray {
	s := make(pq.StringArray, 0, len(routes))
	for _, r := range routes {
		s = append(s, r.String())
	}
	return s
}

func (db *PgKiteRepository) GetMember(ctx context.Context, id types.MemberId) (types.Member, error) {
	row := db.conn.QueryRowContext(ctx, selectMemberQuery+" WHERE channel_name = $1 AND raw_id = $2", id.Channel, id.Raw)
	return scanMember(row)
}

func (db *PgKiteRepository) CreateMember(ctx context.Context, member types.Member) error {
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO members (channel_name, raw_id, user_name, routes, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5)",
		member.Id.Channel,
		member.Id.Raw,
		member.UserName,
		routeStrings(member.Routes),
		now,
	)
	if _, ok := uniqueConstraint(err); ok {
		return types.Conflictf("Member already exists: %s", member.Id)
	}
	return err
}

func (db *PgKiteRepository) UpdateMember(ctx context.Context, id types.MemberId, fn func(types.Member) (types.Member, error)) (types.Member, error) {
	var updated types.Member
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			selectMemberQuery+" WHERE channel_name = $1 AND raw_id = $2 FOR UPDATE",
			id.Channel,
			id.Raw,
		)
		m, err := scanMember(row)
		if err != nil {
			return err
		}

		updated, err = fn(m)
		if err != nil {
			return err
		}
		if updated.Id != id {
			return types.Validationf("member id cannot change")
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE members SET user_name = $3, routes = $4, updated_at = $5 "+
				"WHERE channel_name = $1 AND raw_id = $2",
			id.Channel,
			id.Raw,
			updated.UserName,
			routeStrings(updated.Routes),
			time.Now().UTC(),
		)
		return err
	})
	if err != nil {
		return types.Member{}, err
	}
	return updated, nil
}

func (db *PgKiteRepository) DeleteMember(ctx context.Context, id types.MemberId) error {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM members WHERE channel_name = $1 AND raw_id = $2",
		id.Channel,
		id.Raw,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (db *PgKiteRepository) DeleteChannelMembers(ctx context.Context, channelName string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM members WHERE channel_name = $1", channelName)
	return err
}

func (db *PgKiteRepository) GetConnection(ctx context.Context, route types.Route) (types.Connection, error) {
	var (
		channelName string
		memberRawId sql.NullString
	)
	err := db.conn.QueryRowContext(ctx,
		"SELECT channel_name, member_raw_id FROM connections WHERE route = $1",
		route.String(),
	).Scan(&channelName, &memberRawId)
	if err != nil {
		return nil, notFound(err)
	}

	if memberRawId.Valid {
		return types.MemberConnection{Origin: route, MemberId: types.NewMemberId(channelName, memberRawId.String)}, nil
	}
	return types.ChannelConnection{Origin: route, ChannelName: channelName}, nil
}

func (db *PgKiteRepository) PutConnection(ctx context.Context, conn types.Connection) error {
	var (
		channelName string
		memberRawId sql.NullString
	)
	switch c := conn.(type) {
	case types.ChannelConnection:
		channelName = c.ChannelName
	case types.MemberConnection:
		channelName = c.MemberId.Channel
		memberRawId = sql.NullString{String: c.MemberId.Raw, Valid: true}
	default:
		return fmt.Errorf("unsupported connection %T", conn)
	}

	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO connections (route, channel_name, member_raw_id, created_at) VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (route) DO UPDATE SET channel_name = EXCLUDED.channel_name, "+
			"member_raw_id = EXCLUDED.member_raw_id, created_at = EXCLUDED.created_at",
		conn.Route().String(),
		channelName,
		memberRawId,
		time.Now().UTC(),
	)
	return err
}

func (db *PgKiteRepository) DeleteConnection(ctx context.Context, route types.Route) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM connections WHERE route = $1", route.String())
	return err
}

func (db *PgKiteRepository) DeleteChannelConnections(ctx context.Context, channelName string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM connections WHERE channel_name = $1", channelName)
	return err
}

func scanHistoryMessage(row rowScanner) (HistoryMessage, error) {
	var (
		msg       HistoryMessage
		direction string
		kind      string
		payload   []byte
	)
	if err := row.Scan(&msg.MemberId.Channel, &msg.MemberId.Raw, &direction, &kind, &payload); err != nil {
		return HistoryMessage{}, notFound(err)
	}

	p, err := decodePayload(kind, payload)
	if err != nil {
		return HistoryMessage{}, err
	}
	msg.Payload = p
	msg.Direction = types.Direction(direction)
	return msg, nil
}

func (db *PgKiteRepository) AppendMessage(ctx context.Context, msg HistoryMessage) error {
	kind, payload, err := encodePayload(msg.Payload)
	if err != nil {
		return err
	}

	meta := msg.Payload.Meta()
	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO history (channel_name, member_raw_id, message_id, direction, kind, payload, sent_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7)",
		msg.MemberId.Channel,
		msg.MemberId.Raw,
		meta.Id,
		string(msg.Direction),
		kind,
		payload,
		meta.Timestamp.UTC(),
	)
	if _, ok := uniqueConstraint(err); ok {
		return types.Conflictf("Message already exists: %s", meta.Id)
	}
	return err
}

func (db *PgKiteRepository) FindMessage(ctx context.Context, member types.MemberId, messageId string) (HistoryMessage, error) {
	row := db.conn.QueryRowContext(ctx,
		selectHistoryQuery+" WHERE channel_name = $1 AND member_raw_id = $2 AND message_id = $3",
		member.Channel,
		member.Raw,
		messageId,
	)
	return scanHistoryMessage(row)
}

func (db *PgKiteRepository) FindMessages(ctx context.Context, q HistoryQuery) ([]HistoryMessage, error) {
	query := selectHistoryQuery + " WHERE channel_name = $1 AND member_raw_id = $2 AND sent_at < $3 " +
		"ORDER BY sent_at DESC LIMIT $4"
	if q.Lookup == LookupAfter {
		query = selectHistoryQuery + " WHERE channel_name = $1 AND member_raw_id = $2 AND sent_at > $3 " +
			"ORDER BY sent_at ASC LIMIT $4"
	}

	rows, err := db.conn.QueryContext(ctx, query, q.MemberId.Channel, q.MemberId.Raw, q.From.UTC(), q.limit())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]HistoryMessage, 0, q.limit())
	for rows.Next() {
		msg, err := scanHistoryMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (db *PgKiteRepository) UpdateMessage(ctx context.Context, member types.MemberId, messageId string, payload types.MessagePayload) error {
	kind, data, err := encodePayload(types.WithMessageId(payload, messageId))
	if err != nil {
		return err
	}

	res, err := db.conn.ExecContext(ctx,
		"UPDATE history SET kind = $4, payload = $5 "+
			"WHERE channel_name = $1 AND member_raw_id = $2 AND message_id = $3",
		member.Channel,
		member.Raw,
		messageId,
		kind,
		data,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (db *PgKiteRepository) DeleteMessage(ctx context.Context, member types.MemberId, messageId string) error {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM history WHERE channel_name = $1 AND member_raw_id = $2 AND message_id = $3",
		member.Channel,
		member.Raw,
		messageId,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (db *PgKiteRepository) DeleteMemberMessages(ctx context.Context, member types.MemberId) error {
	_, err := db.conn.ExecContext(ctx,
		"DELETE FROM history WHERE channel_name = $1 AND member_raw_id = $2",
		member.Channel,
		member.Raw,
	)
	return err
}

func (db *PgKiteRepository) DeleteChannelMessages(ctx context.Context, channelName string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM history WHERE channel_name = $1", channelName)
	return err
}

func (db *PgKiteRepository) AddUnansweredMessage(ctx context.Context, member types.MemberId, messageId string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO unanswered_messages (channel_name, member_raw_id, message_id, created_at) VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (channel_name, member_raw_id) DO UPDATE SET message_id = EXCLUDED.message_id, created_at = EXCLUDED.created_at",
		member.Channel,
		member.Raw,
		messageId,
		time.Now().UTC(),
	)
	return err
}

func (db *PgKiteRepository) UnansweredMessage(ctx context.Context, member types.MemberId) (string, error) {
	var messageId string
	err := db.conn.QueryRowContext(ctx,
		"SELECT message_id FROM unanswered_messages WHERE channel_name = $1 AND member_raw_id = $2",
		member.Channel,
		member.Raw,
	).Scan(&messageId)
	return messageId, notFound(err)
}

func (db *PgKiteRepository) DeleteUnansweredMessage(ctx context.Context, member types.MemberId) error {
	_, err := db.conn.ExecContext(ctx,
		"DELETE FROM unanswered_messages WHERE channel_name = $1 AND member_raw_id = $2",
		member.Channel,
		member.Raw,
	)
	return err
}

func (db *PgKiteRepository) DeleteUnansweredMessages(ctx context.Context, channelName string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM unanswered_messages WHERE channel_name = $1", channelName)
	return err
}
