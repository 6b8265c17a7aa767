package broadcast

import (
	"context"
	"errors"
	"fmt"
)

var ErrBackendUnavailable = errors.New("broadcast: backend unavailable")

// Subscription streams payloads published to one group, in publish order.
type Subscription interface {
	Channel() <-chan []byte
	Close() error
}

// Backend is the cross-process distribution mechanism. It is the source of
// truth for group membership.
type Backend interface {
	Publish(ctx context.Context, group string, payload []byte) error
	Subscribe(ctx context.Context, group string) (Subscription, error)
	AddMember(ctx context.Context, group, ref string) error
	RemoveMember(ctx context.Context, group, ref string) error
	Members(ctx context.Context, group string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

func unavailable(op string, err error) error {
	if errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, op, err)
}

func ChatGroup(roomId string) string {
	return "chat:" + roomId
}

func NotificationGroup(userId int) string {
	return fmt.Sprintf("notifications:%d", userId)
}

func CommunityGroup(communityId int) string {
	return fmt.Sprintf("community:%d", communityId)
}
