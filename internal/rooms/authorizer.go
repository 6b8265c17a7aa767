package rooms

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/skillnest/realtime/internal/database"
	"github.com/skillnest/realtime/internal/presence"
	"github.com/skillnest/realtime/internal/types"
)

var (
	ErrForbidden         = errors.New("rooms: not a member of the community")
	ErrRoomNotFound      = errors.New("rooms: room not found")
	ErrCommunityNotFound = errors.New("rooms: community not found")
)

// Authorizer decides whether a user may enter a room. A user may when they
// created the owning community or are one of its members. Results are never
// cached.
type Authorizer struct {
	db       database.Repository
	presence *presence.Registry
	log      *zap.Logger
}

func NewAuthorizer(db database.Repository, presence *presence.Registry, logger *zap.Logger) *Authorizer {
	return &Authorizer{db: db, presence: presence, log: logger.Named("rooms")}
}

func (a *Authorizer) authorized(ctx context.Context, userId int, community database.Community) error {
	if community.CreatorId == userId {
		return nil
	}

	member, err := a.db.IsCommunityMember(ctx, community.Id, userId)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return ErrForbidden
	}
	return nil
}

func (a *Authorizer) community(ctx context.Context, communityId int) (database.Community, error) {
	c, err := a.db.GetCommunity(ctx, communityId)
	if errors.Is(err, database.ErrNotFound) {
		return database.Community{}, ErrCommunityNotFound
	}
	if err != nil {
		return database.Community{}, fmt.Errorf("get community: %w", err)
	}
	return c, nil
}

// CheckCommunity checks access to a community without touching its room.
func (a *Authorizer) CheckCommunity(ctx context.Context, userId, communityId int) (database.Community, error) {
	c, err := a.community(ctx, communityId)
	if err != nil {
		return database.Community{}, err
	}
	if err := a.authorized(ctx, userId, c); err != nil {
		a.log.Info("community access denied", zap.Int("user_id", userId), zap.Int("community_id", communityId))
		return database.Community{}, err
	}
	return c, nil
}

// AuthorizeRoom checks access to an existing room.
func (a *Authorizer) AuthorizeRoom(ctx context.Context, userId int, roomId string) (database.Room, error) {
	room, err := a.db.GetRoomById(ctx, roomId)
	if errors.Is(err, database.ErrNotFound) {
		return database.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return database.Room{}, fmt.Errorf("get room: %w", err)
	}

	c, err := a.community(ctx, room.CommunityId)
	if errors.Is(err, ErrCommunityNotFound) {
		return database.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return database.Room{}, err
	}

	if err := a.authorized(ctx, userId, c); err != nil {
		a.log.Info("room access denied", zap.Int("user_id", userId), zap.String("room_id", roomId))
		return database.Room{}, err
	}
	return room, nil
}

// AuthorizeCommunity checks access to a community and returns its room,
// creating the room on first access.
func (a *Authorizer) AuthorizeCommunity(ctx context.Context, userId, communityId int) (database.Room, database.Community, error) {
	c, err := a.CheckCommunity(ctx, userId, communityId)
	if err != nil {
		return database.Room{}, database.Community{}, err
	}

	room, created, err := a.db.GetOrCreateRoom(ctx, c)
	if err != nil {
		return database.Room{}, database.Community{}, fmt.Errorf("get or create room: %w", err)
	}
	if created {
		a.log.Info("room created", zap.String("room_id", room.Id), zap.Int("community_id", c.Id))
	}
	return room, c, nil
}

// Members lists the creator and members of the room's community with their
// presence.
func (a *Authorizer) Members(ctx context.Context, userId int, roomId string) ([]types.Member, error) {
	room, err := a.AuthorizeRoom(ctx, userId, roomId)
	if err != nil {
		return nil, err
	}

	c, err := a.community(ctx, room.CommunityId)
	if err != nil {
		return nil, err
	}

	ids, err := a.db.ListCommunityMemberIds(ctx, c.Id)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	ids = append([]int{c.CreatorId}, without(ids, c.CreatorId)...)

	users, err := a.db.GetUsersByIds(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	usernames := make(map[int]string, len(users))
	for _, u := range users {
		usernames[u.Id] = u.Username
	}

	states, err := a.presence.List(ctx, ids)
	if err != nil {
		return nil, err
	}

	members := make([]types.Member, 0, len(ids))
	for _, id := range ids {
		p := states[id]
		members = append(members, types.Member{
			User:          types.User{Id: id, Username: usernames[id]},
			IsCreator:     id == c.CreatorId,
			IsOnline:      p.IsOnline,
			CurrentRoomId: p.CurrentRoomId,
			LastSeen:      p.LastSeen,
		})
	}
	return members, nil
}

func without(ids []int, drop int) []int {
	out := ids[:0:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
