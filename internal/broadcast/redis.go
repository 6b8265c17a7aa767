package broadcast

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	defaultKeyPrefix = "skillnest:"
	defaultMemberTTL = 90 * time.Second
)

type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	Prefix    string
	MemberTTL time.Duration
}

// RedisBackend distributes group events with PUBLISH/SUBSCRIBE and records
// membership in one sorted set per group, scored by expiry. A member that
// is not re-added within the TTL drops out, so refs of a process that died
// without leaving expire on their own.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	clock  func() time.Time
}

func NewRedisBackend(ctx context.Context, opts RedisOptions) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, unavailable("connect to redis", err)
	}

	return NewRedisBackendFromClient(client, opts.Prefix, opts.MemberTTL), nil
}

func NewRedisBackendFromClient(client *redis.Client, prefix string, memberTTL time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if memberTTL <= 0 {
		memberTTL = defaultMemberTTL
	}
	return &RedisBackend{client: client, prefix: prefix, ttl: memberTTL, clock: time.Now}
}

func scoreOf(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (b *RedisBackend) channelKey(group string) string {
	return b.prefix + "group:" + group
}

func (b *RedisBackend) membersKey(group string) string {
	return b.prefix + "group:" + group + ":members"
}

func (b *RedisBackend) Publish(ctx context.Context, group string, payload []byte) error {
	if err := b.client.Publish(ctx, b.channelKey(group), payload).Err(); err != nil {
		return unavailable("publish", err)
	}
	return nil
}

// Subscribe returns once the server has confirmed the subscription, so
// nothing published afterwards is missed.
func (b *RedisBackend) Subscribe(ctx context.Context, group string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, b.channelKey(group))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, unavailable("subscribe", err)
	}

	sub := &redisSubscription{
		ps:   ps,
		out:  make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go sub.pump()
	return sub, nil
}

// AddMember records ref until the member TTL elapses. Adding it again
// extends the deadline.
func (b *RedisBackend) AddMember(ctx context.Context, group, ref string) error {
	expires := b.clock().Add(b.ttl)
	key := b.membersKey(group)

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, &redis.Z{Score: float64(expires.UnixMilli()), Member: ref})
		pipe.PExpire(ctx, key, 2*b.ttl)
		return nil
	})
	if err != nil {
		return unavailable("add member", err)
	}
	return nil
}

func (b *RedisBackend) RemoveMember(ctx context.Context, group, ref string) error {
	if err := b.client.ZRem(ctx, b.membersKey(group), ref).Err(); err != nil {
		return unavailable("remove member", err)
	}
	return nil
}

// Members lists unexpired refs and prunes the expired ones.
func (b *RedisBackend) Members(ctx context.Context, group string) ([]string, error) {
	now := scoreOf(b.clock())
	key := b.membersKey(group)

	var live *redis.StringSliceCmd
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+now)
		live = pipe.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: now, Max: "+inf"})
		return nil
	})
	if err != nil {
		return nil, unavailable("members", err)
	}
	return live.Val(), nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	ps        *redis.PubSub
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *redisSubscription) pump() {
	defer close(s.out)

	ch := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case s.out <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Channel() <-chan []byte {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
