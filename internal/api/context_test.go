package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type otherKey int

func TestUserId(t *testing.T) {
	cancelled, cancel := context.WithCancel(WithUserId(context.Background(), 7))
	cancel()

	tcases := []struct {
		name     string
		ctx      context.Context
		userId   int
		expected bool
	}{
		{
			name:     "no user id",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "user id set",
			ctx:      WithUserId(context.Background(), 42),
			userId:   42,
			expected: true,
		},
		{
			name:     "later user id wins",
			ctx:      WithUserId(WithUserId(context.Background(), 1), 2),
			userId:   2,
			expected: true,
		},
		{
			name:     "kept by derived contexts",
			ctx:      cancelled,
			userId:   7,
			expected: true,
		},
		{
			name:     "string claim under the key",
			ctx:      context.WithValue(context.Background(), userIdKey, "42"),
			expected: false,
		},
		{
			name:     "foreign key of the same value",
			ctx:      context.WithValue(context.Background(), otherKey(userIdKey), 42),
			expected: false,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok)
			assert.Equal(t, tc.userId, userId)
		})
	}
}
