// Package presence tracks who is currently viewing a document and relays
// ephemeral events (joins, leaves, cursor moves) between them. Nothing here
// is persisted: membership lives in Redis keys with a TTL and events flow
// over pub/sub, so a document's room always reflects only live connections.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	EventJoin      = "join"
	EventLeave     = "leave"
	EventCursor    = "cursor"
	EventChat      = "chat"
	EventBroadcast = "broadcast"
)

// Member is one live connection in a document room. The same user appears
// once per open connection.
type Member struct {
	ConnID   string    `json:"connId"`
	UserID   int64     `json:"userId"`
	UserName string    `json:"userName"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Event is an ephemeral room message. Payload carries kind-specific data,
// such as a cursor position.
type Event struct {
	Kind     string          `json:"kind"`
	ConnID   string          `json:"connId"`
	UserID   int64           `json:"userId"`
	UserName string          `json:"userName"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	At       time.Time       `json:"at"`
}

// Hub is the Redis-backed presence fabric shared by all rooms.
type Hub struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewHub(addr string, db int, ttl time.Duration, logger *zap.Logger) (*Hub, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewHubWithClient(client, ttl, logger), nil
}

// NewHubWithClient creates a hub from an existing Redis client.
func NewHubWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Hub {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{client: client, ttl: ttl, logger: logger}
}

func channelKey(documentID int64) string {
	return fmt.Sprintf("presence:doc:%d", documentID)
}

func memberKey(documentID int64, connID string) string {
	return fmt.Sprintf("presence:doc:%d:member:%s", documentID, connID)
}

// Join registers a new connection in the document's room, announces it, and
// returns a subscription streaming the room's events. The caller owns the
// subscription and must call Leave when the connection ends.
func (h *Hub) Join(ctx context.Context, documentID, userID int64, userName string) (*Subscription, error) {
	member := Member{
		ConnID:   uuid.NewString(),
		UserID:   userID,
		UserName: userName,
		JoinedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(member)
	if err != nil {
		return nil, fmt.Errorf("marshal member: %w", err)
	}
	if err := h.client.Set(ctx, memberKey(documentID, member.ConnID), data, h.ttl).Err(); err != nil {
		return nil, fmt.Errorf("register member: %w", err)
	}

	pubsub := h.client.Subscribe(ctx, channelKey(documentID))
	// Force the subscription to be established before the join event goes
	// out, otherwise the member could miss its own announcement window.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = h.client.Del(ctx, memberKey(documentID, member.ConnID)).Err()
		return nil, fmt.Errorf("subscribe to room: %w", err)
	}

	sub := &Subscription{
		hub:        h,
		documentID: documentID,
		member:     member,
		pubsub:     pubsub,
		events:     make(chan Event, 32),
		done:       make(chan struct{}),
	}
	go sub.pump()

	if err := h.publish(ctx, documentID, Event{
		Kind:     EventJoin,
		ConnID:   member.ConnID,
		UserID:   member.UserID,
		UserName: member.UserName,
		At:       time.Now().UTC(),
	}); err != nil {
		_ = sub.Leave(ctx)
		return nil, err
	}
	return sub, nil
}

// Roster lists the live members of a document room. Members whose TTL
// lapsed no longer have keys and simply do not appear, which is the whole
// eviction mechanism.
func (h *Hub) Roster(ctx context.Context, documentID int64) ([]Member, error) {
	pattern := fmt.Sprintf("presence:doc:%d:member:*", documentID)
	members := []Member{}

	iter := h.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		data, err := h.client.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read member: %w", err)
		}
		var member Member
		if err := json.Unmarshal([]byte(data), &member); err != nil {
			h.logger.Warn("skipping malformed presence entry", zap.String("key", iter.Val()))
			continue
		}
		members = append(members, member)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan room: %w", err)
	}
	return members, nil
}

func (h *Hub) publish(ctx context.Context, documentID int64, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := h.client.Publish(ctx, channelKey(documentID), data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// HeartbeatInterval is how often connections should refresh their
// membership; a third of the TTL leaves two missed beats of slack.
func (h *Hub) HeartbeatInterval() time.Duration {
	return h.ttl / 3
}

func (h *Hub) Close() error {
	return h.client.Close()
}

func (h *Hub) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

// Subscription is one connection's view of a document room.
type Subscription struct {
	hub        *Hub
	documentID int64
	member     Member
	pubsub     *redis.PubSub
	events     chan Event
	done       chan struct{}
	leaveOnce  sync.Once
}

func (s *Subscription) Member() Member { return s.member }

// Events streams the room's events, including this connection's own. The
// channel closes when the subscription ends.
func (s *Subscription) Events() <-chan Event { return s.events }

func (s *Subscription) Roster(ctx context.Context) ([]Member, error) {
	return s.hub.Roster(ctx, s.documentID)
}

// Heartbeat extends this connection's room membership. A connection that
// stops heartbeating is evicted when its TTL lapses.
func (s *Subscription) Heartbeat(ctx context.Context) error {
	ok, err := s.hub.client.Expire(ctx, memberKey(s.documentID, s.member.ConnID), s.hub.ttl).Result()
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if !ok {
		// The key expired already; re-register so the roster recovers.
		data, err := json.Marshal(s.member)
		if err != nil {
			return fmt.Errorf("marshal member: %w", err)
		}
		if err := s.hub.client.Set(ctx, memberKey(s.documentID, s.member.ConnID), data, s.hub.ttl).Err(); err != nil {
			return fmt.Errorf("re-register member: %w", err)
		}
	}
	return nil
}

func (s *Subscription) UpdateCursor(ctx context.Context, cursor json.RawMessage) error {
	return s.hub.publish(ctx, s.documentID, Event{
		Kind:     EventCursor,
		ConnID:   s.member.ConnID,
		UserID:   s.member.UserID,
		UserName: s.member.UserName,
		Payload:  cursor,
		At:       time.Now().UTC(),
	})
}

// SendChat relays a chat message to the room. Chat is as ephemeral as any
// other presence event: members not connected when it is sent never see it.
func (s *Subscription) SendChat(ctx context.Context, message json.RawMessage) error {
	return s.hub.publish(ctx, s.documentID, Event{
		Kind:     EventChat,
		ConnID:   s.member.ConnID,
		UserID:   s.member.UserID,
		UserName: s.member.UserName,
		Payload:  message,
		At:       time.Now().UTC(),
	})
}

// Broadcast relays an arbitrary ephemeral payload to the room.
func (s *Subscription) Broadcast(ctx context.Context, payload json.RawMessage) error {
	return s.hub.publish(ctx, s.documentID, Event{
		Kind:     EventBroadcast,
		ConnID:   s.member.ConnID,
		UserID:   s.member.UserID,
		UserName: s.member.UserName,
		Payload:  payload,
		At:       time.Now().UTC(),
	})
}

// Leave removes the connection from the room and announces the departure.
// Safe to call repeatedly, including from concurrent goroutines; only the
// first call tears the subscription down, and the events channel closes
// shortly after.
func (s *Subscription) Leave(ctx context.Context) error {
	var err error
	s.leaveOnce.Do(func() {
		close(s.done)

		delErr := s.hub.client.Del(ctx, memberKey(s.documentID, s.member.ConnID)).Err()
		pubErr := s.hub.publish(ctx, s.documentID, Event{
			Kind:     EventLeave,
			ConnID:   s.member.ConnID,
			UserID:   s.member.UserID,
			UserName: s.member.UserName,
			At:       time.Now().UTC(),
		})
		closeErr := s.pubsub.Close()

		switch {
		case delErr != nil:
			err = fmt.Errorf("deregister member: %w", delErr)
		case pubErr != nil:
			err = pubErr
		default:
			err = closeErr
		}
	})
	return err
}

func (s *Subscription) pump() {
	defer close(s.events)
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.hub.logger.Warn("dropping malformed presence event", zap.Error(err))
				continue
			}
			select {
			case s.events <- event:
			default:
				// Slow consumer: drop rather than stall the room. The
				// client recovers by re-reading the roster.
				s.hub.logger.Warn("presence subscriber lagging, dropping event",
					zap.String("conn_id", s.member.ConnID),
					zap.String("kind", event.Kind),
				)
			}
		}
	}
}
