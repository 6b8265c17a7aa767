package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/skillnest/realtime/internal/database"
)

func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t, zaptest.Level(zap.DebugLevel))
}

// NewTestDB opens a private in-memory SQLite database with the full schema applied.
func NewTestDB(t *testing.T) *database.GormRepository {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	repo, err := database.OpenSQLite(dsn, TestLogger(t))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		repo.Close()
	})
	return repo
}

// NewPostgresDB starts a throwaway PostgreSQL container and opens it with the
// full schema applied. The test is skipped in short mode or when no
// container runtime is reachable.
func NewPostgresDB(t *testing.T) *database.GormRepository {
	t.Helper()

	if testing.Short() {
		t.Skip("postgres container skipped in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("skillnest"),
		postgres.WithUsername("skillnest"),
		postgres.WithPassword("skillnest"),
		postgres.BasicWaitStrategies(),
	)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable", "application_name=test")
	if err != nil {
		t.Fatalf("postgres connection string: %v", err)
	}

	repo, err := database.OpenPostgres(dsn, TestLogger(t))
	if err != nil {
		t.Fatalf("open postgres database: %v", err)
	}
	t.Cleanup(func() {
		repo.Close()
	})
	return repo
}

// SeedUser inserts a user row directly, standing in for the external account service.
func SeedUser(t *testing.T, db *gorm.DB, id int, username string) database.User {
	t.Helper()

	u := database.User{Id: id, Username: username, Email: username + "@example.com"}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("seed user %d: %v", id, err)
	}
	return u
}

// SeedCommunity inserts a community owned by creatorId with the given members.
func SeedCommunity(t *testing.T, db *gorm.DB, id, creatorId int, name string, memberIds ...int) database.Community {
	t.Helper()

	c := database.Community{Id: id, Name: name, CreatorId: creatorId}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("seed community %d: %v", id, err)
	}
	for _, uid := range memberIds {
		m := database.CommunityMember{CommunityId: id, UserId: uid}
		if err := db.Create(&m).Error; err != nil {
			t.Fatalf("seed member %d of community %d: %v", uid, id, err)
		}
	}
	return c
}
