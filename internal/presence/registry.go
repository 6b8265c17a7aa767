package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/skillnest/realtime/internal/database"
)

// Registry tracks per-user online state. A user is online while at least
// one of their connections is open, so devices connecting and disconnecting
// in any order never leave a stale offline or online flag.
type Registry struct {
	db    database.Repository
	log   *zap.Logger
	clock func() time.Time
}

func NewRegistry(db database.Repository, logger *zap.Logger, clock func() time.Time) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{db: db, log: logger.Named("presence"), clock: clock}
}

// SetOnline records one more open connection for the user in roomId.
func (r *Registry) SetOnline(ctx context.Context, userId int, roomId string) (database.Presence, error) {
	p, err := r.db.AcquirePresence(ctx, userId, roomId, r.clock().UTC())
	if err != nil {
		return database.Presence{}, fmt.Errorf("set online: %w", err)
	}

	r.log.Debug("user online",
		zap.Int("user_id", userId),
		zap.String("room_id", roomId),
		zap.Int("connections", p.Connections),
	)
	return p, nil
}

// SetOffline releases one connection. last_seen is refreshed even when the
// user had no open connections.
func (r *Registry) SetOffline(ctx context.Context, userId int) (database.Presence, error) {
	p, err := r.db.ReleasePresence(ctx, userId, r.clock().UTC())
	if err != nil {
		return database.Presence{}, fmt.Errorf("set offline: %w", err)
	}

	r.log.Debug("user connection released",
		zap.Int("user_id", userId),
		zap.Bool("online", p.IsOnline),
		zap.Int("connections", p.Connections),
	)
	return p, nil
}

// Touch confirms that the given users still hold connections on this
// process.
func (r *Registry) Touch(ctx context.Context, userIds []int) error {
	if err := r.db.TouchPresences(ctx, userIds, r.clock().UTC()); err != nil {
		return fmt.Errorf("touch presence: %w", err)
	}
	return nil
}

// Sweep takes offline users whose connections nobody confirmed within
// staleAfter. Every live process touches its users more often than that,
// so only counts left behind by a crashed process are reset.
func (r *Registry) Sweep(ctx context.Context, staleAfter time.Duration) (int64, error) {
	n, err := r.db.ResetStalePresences(ctx, r.clock().UTC().Add(-staleAfter))
	if err != nil {
		return 0, fmt.Errorf("sweep presence: %w", err)
	}
	if n > 0 {
		r.log.Info("reset stale presence", zap.Int64("users", n))
	}
	return n, nil
}

// Get returns the user's presence. Users never seen read as offline.
func (r *Registry) Get(ctx context.Context, userId int) (database.Presence, error) {
	p, err := r.db.GetPresence(ctx, userId)
	if errors.Is(err, database.ErrNotFound) {
		return database.Presence{UserId: userId}, nil
	}
	if err != nil {
		return database.Presence{}, fmt.Errorf("get presence: %w", err)
	}
	return p, nil
}

// List returns presence for every requested user, keyed by user id.
func (r *Registry) List(ctx context.Context, userIds []int) (map[int]database.Presence, error) {
	rows, err := r.db.ListPresences(ctx, userIds)
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}

	out := make(map[int]database.Presence, len(userIds))
	for _, id := range userIds {
		out[id] = database.Presence{UserId: id}
	}
	for _, p := range rows {
		out[p.UserId] = p
	}
	return out, nil
}
