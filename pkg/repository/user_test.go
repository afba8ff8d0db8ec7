package repository_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mentionist/pkg/domain/interfaces"
	"github.com/secmon-lab/mentionist/pkg/domain/model"
	"github.com/secmon-lab/mentionist/pkg/repository/firestore"
	"github.com/secmon-lab/mentionist/pkg/repository/memory"
	"github.com/secmon-lab/mentionist/pkg/repository/sqlite"
)

func newWorkspaceID() string {
	return fmt.Sprintf("ws-%d", time.Now().UnixNano())
}

func runUserRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	t.Run("SaveMany and GetAll with empty list", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		wsID := newWorkspaceID()

		gt.NoError(t, repo.User().SaveMany(ctx, wsID, []*model.User{}))

		users, err := repo.User().GetAll(ctx, wsID)
		gt.NoError(t, err).Required()
		gt.Array(t, users).Length(0)
	})

	t.Run("SaveMany and GetAll with single user", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		wsID := newWorkspaceID()
		now := time.Now()

		user := &model.User{
			ID:          "U001",
			ExternalID:  "W001",
			Name:        "john.doe",
			DisplayName: "Johnny",
			FullName:    "John Doe",
			AvatarURL:   "https://example.com/avatar.jpg",
			UpdatedAt:   now,
		}
		gt.NoError(t, repo.User().SaveMany(ctx, wsID, []*model.User{user})).Required()

		users, err := repo.User().GetAll(ctx, wsID)
		gt.NoError(t, err).Required()
		gt.Array(t, users).Length(1).Required()

		got := users[0]
		gt.Value(t, got.ID).Equal(user.ID)
		gt.Value(t, got.ExternalID).Equal(user.ExternalID)
		gt.Value(t, got.Name).Equal(user.Name)
		gt.Value(t, got.DisplayName).Equal(user.DisplayName)
		gt.Value(t, got.FullName).Equal(user.FullName)
		gt.Value(t, got.AvatarURL).Equal(user.AvatarURL)
		gt.Bool(t, got.UpdatedAt.Sub(user.UpdatedAt).Abs() < time.Second).True()
	})

	t.Run("SaveMany upserts existing users", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		wsID := newWorkspaceID()

		gt.NoError(t, repo.User().SaveMany(ctx, wsID, []*model.User{
			{ID: "U001", Name: "old", FullName: "Old Name"},
		})).Required()
		gt.NoError(t, repo.User().SaveMany(ctx, wsID, []*model.User{
			{ID: "U001", Name: "new"},
		})).Required()

		users, err := repo.User().GetAll(ctx, wsID)
		gt.NoError(t, err).Required()
		gt.Array(t, users).Length(1).Required()
		gt.Value(t, users[0].Name).Equal("new")
		// last write wins, fields are not merged
		gt.Value(t, users[0].FullName).Equal("")
	})

	t.Run("GetAll returns users ordered by ID", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		wsID := newWorkspaceID()

		gt.NoError(t, repo.User().SaveMany(ctx, wsID, []*model.User{
			{ID: "U003", Name: "c"},
			{ID: "U001", Name: "a"},
			{ID: "U002", Name: "b"},
		})).Required()

		users, err := repo.User().GetAll(ctx, wsID)
		gt.NoError(t, err).Required()
		gt.Array(t, users).Length(3).Required()
		gt.Value(t, users[0].ID).Equal(model.UserID("U001"))
		gt.Value(t, users[1].ID).Equal(model.UserID("U002"))
		gt.Value(t, users[2].ID).Equal(model.UserID("U003"))
	})

	t.Run("GetByIDs omits missing users", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		wsID := newWorkspaceID()

		gt.NoError(t, repo.User().SaveMany(ctx, wsID, []*model.User{
			{ID: "U001", Name: "a"},
			{ID: "U002", Name: "b"},
		})).Required()

		got, err := repo.User().GetByIDs(ctx, wsID, []model.UserID{"U001", "U404", "U002"})
		gt.NoError(t, err).Required()
		gt.Value(t, len(got)).Equal(2)
		gt.Value(t, got["U001"].Name).Equal("a")
		gt.Value(t, got["U002"].Name).Equal("b")
		_, ok := got["U404"]
		gt.Bool(t, ok).False()
	})

	t.Run("GetByIDs with empty list", func(t *testing.T) {
		repo := newRepo(t)

		got, err := repo.User().GetByIDs(context.Background(), newWorkspaceID(), nil)
		gt.NoError(t, err).Required()
		gt.Value(t, len(got)).Equal(0)
	})

	t.Run("GetByIDs spanning multiple batches", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		wsID := newWorkspaceID()

		var users []*model.User
		var ids []model.UserID
		for i := range 75 {
			id := model.UserID(fmt.Sprintf("U%03d", i))
			users = append(users, &model.User{ID: id, Name: string(id)})
			ids = append(ids, id)
		}
		gt.NoError(t, repo.User().SaveMany(ctx, wsID, users)).Required()

		got, err := repo.User().GetByIDs(ctx, wsID, ids)
		gt.NoError(t, err).Required()
		gt.Value(t, len(got)).Equal(75)
	})

	t.Run("workspaces are isolated", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		ws1 := newWorkspaceID() + "-a"
		ws2 := newWorkspaceID() + "-b"

		gt.NoError(t, repo.User().SaveMany(ctx, ws1, []*model.User{{ID: "U001", Name: "in-ws1"}})).Required()
		gt.NoError(t, repo.User().SaveMany(ctx, ws2, []*model.User{{ID: "U001", Name: "in-ws2"}})).Required()

		got, err := repo.User().GetByIDs(ctx, ws1, []model.UserID{"U001"})
		gt.NoError(t, err).Required()
		gt.Value(t, got["U001"].Name).Equal("in-ws1")

		gt.NoError(t, repo.User().DeleteAll(ctx, ws1)).Required()

		users, err := repo.User().GetAll(ctx, ws1)
		gt.NoError(t, err).Required()
		gt.Array(t, users).Length(0)

		users, err = repo.User().GetAll(ctx, ws2)
		gt.NoError(t, err).Required()
		gt.Array(t, users).Length(1)
	})

	t.Run("DeleteAll on empty workspace", func(t *testing.T) {
		repo := newRepo(t)
		gt.NoError(t, repo.User().DeleteAll(context.Background(), newWorkspaceID()))
	})

	t.Run("returned users are copies", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		wsID := newWorkspaceID()

		gt.NoError(t, repo.User().SaveMany(ctx, wsID, []*model.User{{ID: "U001", Name: "a"}})).Required()

		users, err := repo.User().GetAll(ctx, wsID)
		gt.NoError(t, err).Required()
		users[0].Name = "mutated"

		got, err := repo.User().GetByIDs(ctx, wsID, []model.UserID{"U001"})
		gt.NoError(t, err).Required()
		gt.Value(t, got["U001"].Name).Equal("a")
	})

	t.Run("GetMetadata returns zero value before first refresh", func(t *testing.T) {
		repo := newRepo(t)

		md, err := repo.User().GetMetadata(context.Background(), newWorkspaceID())
		gt.NoError(t, err).Required()
		gt.Bool(t, md.LastRefreshSuccess.IsZero()).True()
		gt.Bool(t, md.LastRefreshAttempt.IsZero()).True()
		gt.Value(t, md.UserCount).Equal(0)
	})

	t.Run("SaveMetadata and GetMetadata", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		wsID := newWorkspaceID()
		now := time.Now()

		gt.NoError(t, repo.User().SaveMetadata(ctx, wsID, &model.UserDirectoryMetadata{
			LastRefreshSuccess: now.Add(-time.Hour),
			LastRefreshAttempt: now,
			UserCount:          42,
		})).Required()

		md, err := repo.User().GetMetadata(ctx, wsID)
		gt.NoError(t, err).Required()
		gt.Value(t, md.UserCount).Equal(42)
		gt.Bool(t, md.LastRefreshAttempt.Sub(now).Abs() < time.Second).True()
		gt.Bool(t, md.LastRefreshSuccess.Sub(now.Add(-time.Hour)).Abs() < time.Second).True()
	})
}

func newFirestoreRepository(t *testing.T) interfaces.Repository {
	t.Helper()

	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	if projectID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID not set")
	}

	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")
	if databaseID == "" {
		t.Skip("TEST_FIRESTORE_DATABASE_ID not set")
	}

	ctx := context.Background()
	repo, err := firestore.New(ctx, projectID, databaseID, firestore.WithCollectionPrefix("test"))
	gt.NoError(t, err).Required()
	t.Cleanup(func() {
		gt.NoError(t, repo.Close())
	})
	return repo
}

func newSQLiteRepository(t *testing.T) interfaces.Repository {
	t.Helper()

	repo, err := sqlite.New(filepath.Join(t.TempDir(), "mentionist.db"))
	gt.NoError(t, err).Required()
	t.Cleanup(func() {
		gt.NoError(t, repo.Close())
	})
	return repo
}

func TestMemoryUserRepository(t *testing.T) {
	runUserRepositoryTest(t, func(t *testing.T) interfaces.Repository {
		return memory.New()
	})
}

func TestSQLiteUserRepository(t *testing.T) {
	runUserRepositoryTest(t, newSQLiteRepository)
}

func TestFirestoreUserRepository(t *testing.T) {
	runUserRepositoryTest(t, newFirestoreRepository)
}
