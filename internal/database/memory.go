package database

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/kite-relay/internal/types"
)

// MemoryRepository keeps every store in process memory. All operations
// run under one lock, which makes each read-modify-write atomic.
type MemoryRepository struct {
	mu          sync.Mutex
	channels    map[string]types.Channel
	hosts       map[string]string
	members     map[types.MemberId]types.Member
	connections map[types.Route]types.Connection
	history     map[types.MemberId][]HistoryMessage
	unanswered  map[types.MemberId]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		channels:    make(map[string]types.Channel),
		hosts:       make(map[string]string),
		members:     make(map[types.MemberId]types.Member),
		connections: make(map[types.Route]types.Connection),
		history:     make(map[types.MemberId][]HistoryMessage),
		unanswered:  make(map[types.MemberId]string),
	}
}

func (db *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

func (db *MemoryRepository) GetChannel(ctx context.Context, name string) (types.Channel, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	ch, ok := db.channels[name]
	if !ok {
		return types.Channel{}, ErrNotFound
	}
	return ch, nil
}

func (db *MemoryRepository) GetChannelName(ctx context.Context, hostId string) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	name, ok := db.hosts[hostId]
	if !ok {
		return "", ErrNotFound
	}
	return name, nil
}

func (db *MemoryRepository) CreateChannel(ctx context.Context, channel types.Channel) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.hosts[channel.HostId]; ok {
		return types.Conflictf("You cannot host more than one channel")
	}
	if _, ok := db.channels[channel.Name]; ok {
		return types.Conflictf("Channel name is already taken")
	}

	db.channels[channel.Name] = channel
	db.hosts[channel.HostId] = channel.Name
	return nil
}

func (db *MemoryRepository) UpdateChannel(ctx context.Context, name string, fn func(types.Channel) (types.Channel, error)) (types.Channel, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	ch, ok := db.channels[name]
	if !ok {
		return types.Channel{}, ErrNotFound
	}

	updated, err := fn(ch)
	if err != nil {
		return types.Channel{}, err
	}
	if updated.Name != name || updated.HostId != ch.HostId {
		return types.Channel{}, types.Validationf("channel name and host cannot change")
	}

	db.channels[name] = updated
	return updated, nil
}

func (db *MemoryRepository) DeleteChannel(ctx context.Context, name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	ch, ok := db.channels[name]
	if !ok {
		return ErrNotFound
	}
	delete(db.channels, name)
	delete(db.hosts, ch.HostId)
	return nil
}

func (db *MemoryRepository) GetMember(ctx context.Context, id types.MemberId) (types.Member, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	m, ok := db.members[id]
	if !ok {
		return types.Member{}, ErrNotFound
	}
	return m, nil
}

func (db *MemoryRepository) CreateMember(ctx context.Context, member types.Member) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.members[member.Id]; ok {
		return types.Conflictf("Member already exists: %s", member.Id)
	}
	db.members[member.Id] = member
	return nil
}

func (db *MemoryRepository) UpdateMember(ctx context.Context, id types.MemberId, fn func(types.Member) (types.Member, error)) (types.Member, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	m, ok := db.members[id]
	if !ok {
		return types.Member{}, ErrNotFound
	}

	updated, err := fn(m)
	if err != nil {
		return types.Member{}, err
	}
	if updated.Id != id {
		return types.Member{}, types.Validationf("member id cannot change")
	}

	db.members[id] = updated
	return updated, nil
}

func (db *MemoryRepository) DeleteMember(ctx context.Context, id types.MemberId) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.members[id]; !ok {
		return ErrNotFound
	}
	delete(db.members, id)
	return nil
}

func (db *MemoryRepository) DeleteChannelMembers(ctx context.Context, channelName string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for id := range db.members {
		if id.Channel == channelName {
			delete(db.members, id)
		}
	}
	return nil
}

func (db *MemoryRepository) GetConnection(ctx context.Context, route types.Route) (types.Connection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	conn, ok := db.connections[route]
	if !ok {
		return nil, ErrNotFound
	}
	return conn, nil
}

func (db *MemoryRepository) PutConnection(ctx context.Context, conn types.Connection) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.connections[conn.Route()] = conn
	return nil
}

func (db *MemoryRepository) DeleteConnection(ctx context.Context, route types.Route) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	delete(db.connections, route)
	return nil
}

func (db *MemoryRepository) DeleteChannelConnections(ctx context.Context, channelName string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for route, conn := range db.connections {
		if connectionChannel(conn) == channelName {
			delete(db.connections, route)
		}
	}
	return nil
}

func connectionChannel(conn types.Connection) string {
	switch c := conn.(type) {
	case types.ChannelConnection:
		return c.ChannelName
	case types.MemberConnection:
		return c.MemberId.Channel
	}
	return ""
}

func (db *MemoryRepository) AppendMessage(ctx context.Context, msg HistoryMessage) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	id := msg.Payload.Meta().Id
	messages := db.history[msg.MemberId]
	for _, m := range messages {
		if m.Payload.Meta().Id == id {
			return types.Conflictf("Message already exists: %s", id)
		}
	}

	// keep each member's log sorted by timestamp, equal timestamps in
	// insertion order
	i, _ := slices.BinarySearchFunc(messages, msg.Payload.Meta().Timestamp, func(m HistoryMessage, ts time.Time) int {
		if m.Payload.Meta().Timestamp.After(ts) {
			return 1
		}
		return -1
	})
	db.history[msg.MemberId] = slices.Insert(messages, i, msg)
	return nil
}

func (db *MemoryRepository) FindMessage(ctx context.Context, member types.MemberId, messageId string) (HistoryMessage, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	i := db.indexOf(member, messageId)
	if i < 0 {
		return HistoryMessage{}, ErrNotFound
	}
	return db.history[member][i], nil
}

func (db *MemoryRepository) indexOf(member types.MemberId, messageId string) int {
	return slices.IndexFunc(db.history[member], func(m HistoryMessage) bool {
		return m.Payload.Meta().Id == messageId
	})
}

func (db *MemoryRepository) FindMessages(ctx context.Context, q HistoryQuery) ([]HistoryMessage, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	messages := db.history[q.MemberId]
	result := make([]HistoryMessage, 0, q.limit())
	if q.Lookup == LookupAfter {
		for _, m := range messages {
			if len(result) == q.limit() {
				break
			}
			if m.Payload.Meta().Timestamp.After(q.From) {
				result = append(result, m)
			}
		}
		return result, nil
	}

	for i := len(messages) - 1; i >= 0 && len(result) < q.limit(); i-- {
		if messages[i].Payload.Meta().Timestamp.Before(q.From) {
			result = append(result, messages[i])
		}
	}
	return result, nil
}

func (db *MemoryRepository) UpdateMessage(ctx context.Context, member types.MemberId, messageId string, payload types.MessagePayload) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	i := db.indexOf(member, messageId)
	if i < 0 {
		return ErrNotFound
	}
	// the original timestamp keeps the message in place
	meta := db.history[member][i].Payload.Meta()
	payload = types.WithMessageId(payload, meta.Id)
	switch p := payload.(type) {
	case types.SendText:
		p.Timestamp = meta.Timestamp
		payload = p
	case types.SendBinary:
		p.Timestamp = meta.Timestamp
		payload = p
	}
	db.history[member][i].Payload = payload
	return nil
}

func (db *MemoryRepository) DeleteMessage(ctx context.Context, member types.MemberId, messageId string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	i := db.indexOf(member, messageId)
	if i < 0 {
		return ErrNotFound
	}
	db.history[member] = slices.Delete(db.history[member], i, i+1)
	return nil
}

func (db *MemoryRepository) DeleteMemberMessages(ctx context.Context, member types.MemberId) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	delete(db.history, member)
	return nil
}

func (db *MemoryRepository) DeleteChannelMessages(ctx context.Context, channelName string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for id := range db.history {
		if id.Channel == channelName {
			delete(db.history, id)
		}
	}
	return nil
}

func (db *MemoryRepository) AddUnansweredMessage(ctx context.Context, member types.MemberId, messageId string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.unanswered[member] = messageId
	return nil
}

func (db *MemoryRepository) UnansweredMessage(ctx context.Context, member types.MemberId) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	id, ok := db.unanswered[member]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (db *MemoryRepository) DeleteUnansweredMessage(ctx context.Context, member types.MemberId) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	delete(db.unanswered, member)
	return nil
}

func (db *MemoryRepository) DeleteUnansweredMessages(ctx context.Context, channelName string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for id := range db.unanswered {
		if id.Channel == channelName {
			delete(db.unanswered, id)
		}
	}
	return nil
}

type idMappingKey struct {
	from        types.MemberId
	originId    string
	destination types.ProviderId
}

type expiringMapping struct {
	mapping   IdMapping
	expiresAt time.Time
}

// MemoryIdMapper is a MessageIdMapper whose entries expire after ttl.
type MemoryIdMapper struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	mappings map[idMappingKey]expiringMapping
}

func NewMemoryIdMapper(ttl time.Duration) *MemoryIdMapper {
	return &MemoryIdMapper{
		ttl:      ttl,
		now:      time.Now,
		mappings: make(map[idMappingKey]expiringMapping),
	}
}

func (m *MemoryIdMapper) FindIdMapping(ctx context.Context, from types.MemberId, originId string, destination types.ProviderId) (IdMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := idMappingKey{from: from, originId: originId, destination: destination}
	e, ok := m.mappings[key]
	if !ok {
		return IdMapping{}, ErrNotFound
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.mappings, key)
		return IdMapping{}, ErrNotFound
	}
	return e.mapping, nil
}

func (m *MemoryIdMapper) AppendIdMapping(ctx context.Context, mapping IdMapping) (IdMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictExpired()
	key := idMappingKey{from: mapping.From, originId: mapping.OriginId, destination: mapping.DestinationProvider}
	m.mappings[key] = expiringMapping{mapping: mapping, expiresAt: m.now().Add(m.ttl)}
	return mapping, nil
}

func (m *MemoryIdMapper) DeleteIdMapping(ctx context.Context, from types.MemberId, originId string, destination types.ProviderId) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.mappings, idMappingKey{from: from, originId: originId, destination: destination})
	return nil
}

func (m *MemoryIdMapper) evictExpired() {
	now := m.now()
	for key, e := range m.mappings {
		if !now.Before(e.expiresAt) {
			delete(m.mappings, key)
		}
	}
}
