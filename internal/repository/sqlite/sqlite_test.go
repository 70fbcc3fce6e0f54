package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postboard/internal/domain"
	"postboard/internal/repository"
	"postboard/internal/search"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, NewUserRepository(db).Init(ctx))
	require.NoError(t, NewPostRepository(db).Init(ctx))
	require.NoError(t, NewJobRepository(db).Init(ctx))
	return db
}

func createUser(t *testing.T, db *sql.DB, email, name string) *domain.User {
	t.Helper()
	user := &domain.User{Email: email, Name: name, PasswordHash: "x"}
	_, err := NewUserRepository(db).Create(context.Background(), user)
	require.NoError(t, err)
	return user
}

func strPtr(s string) *string { return &s }

func TestUserRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		user := &domain.User{Email: " Ann@Example.com ", Name: "Ann", PasswordHash: "hash"}
		id, err := repo.Create(ctx, user)
		require.NoError(t, err)
		assert.Greater(t, id, int64(0))

		byEmail, err := repo.GetByEmail(ctx, "ANN@example.com")
		require.NoError(t, err)
		assert.Equal(t, id, byEmail.ID)
		assert.Equal(t, "ann@example.com", byEmail.Email)

		byID, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Ann", byID.Name)
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := repo.Create(ctx, &domain.User{Email: "ann@example.com", PasswordHash: "hash"})
		assert.ErrorIs(t, err, repository.ErrConflict)
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := repo.GetByID(ctx, 9999)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("update profile", func(t *testing.T) {
		user, err := repo.GetByEmail(ctx, "ann@example.com")
		require.NoError(t, err)
		updated, err := repo.Update(ctx, user.ID, func(u *domain.User) error {
			u.Name = "Ann B"
			u.Avatar = "avatars/1/a.png"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "Ann B", updated.Name)

		reloaded, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ann B", reloaded.Name)
		assert.Equal(t, "avatars/1/a.png", reloaded.Avatar)
	})

	t.Run("failed mutation writes nothing", func(t *testing.T) {
		user, err := repo.GetByEmail(ctx, "ann@example.com")
		require.NoError(t, err)
		_, err = repo.Update(ctx, user.ID, func(u *domain.User) error {
			u.Name = "discarded"
			return errors.New("rejected")
		})
		assert.EqualError(t, err, "rejected")

		reloaded, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ann B", reloaded.Name)
	})

	t.Run("update missing user", func(t *testing.T) {
		_, err := repo.Update(ctx, 9999, func(*domain.User) error { return nil })
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestPostRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()
	owner := createUser(t, db, "owner@example.com", "Owner")

	t.Run("create and get", func(t *testing.T) {
		post := &domain.Post{Title: strPtr("Hello"), Content: strPtr("World"), UserID: owner.ID}
		id, err := repo.Create(ctx, post)
		require.NoError(t, err)
		assert.Equal(t, id, post.ID)
		assert.False(t, post.CreatedAt.IsZero())

		got, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Hello", *got.Title)
		assert.Equal(t, "World", *got.Content)
		assert.Equal(t, owner.ID, got.UserID)
	})

	t.Run("null attributes survive", func(t *testing.T) {
		post := &domain.Post{UserID: owner.ID}
		_, err := repo.Create(ctx, post)
		require.NoError(t, err)

		got, err := repo.Get(ctx, post.ID)
		require.NoError(t, err)
		assert.Nil(t, got.Title)
		assert.Nil(t, got.Content)
	})

	t.Run("unknown owner", func(t *testing.T) {
		_, err := repo.Create(ctx, &domain.Post{Title: strPtr("x"), UserID: 4242})
		assert.ErrorIs(t, err, repository.ErrConflict)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := repo.Get(ctx, 9999)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("update", func(t *testing.T) {
		post := &domain.Post{Title: strPtr("before"), Content: strPtr("body"), UserID: owner.ID}
		_, err := repo.Create(ctx, post)
		require.NoError(t, err)

		updated, err := repo.Update(ctx, post.ID, func(p *domain.Post) error {
			p.Title = strPtr("after")
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "after", *updated.Title)
		assert.False(t, updated.UpdatedAt.Before(post.UpdatedAt))

		got, err := repo.Get(ctx, post.ID)
		require.NoError(t, err)
		assert.Equal(t, "after", *got.Title)
		assert.Equal(t, "body", *got.Content)
		assert.Equal(t, owner.ID, got.UserID)
	})

	t.Run("update missing", func(t *testing.T) {
		_, err := repo.Update(ctx, 9999, func(p *domain.Post) error {
			p.Title = strPtr("x")
			return nil
		})
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("concurrent updates of different attributes both survive", func(t *testing.T) {
		post := &domain.Post{Title: strPtr("t0"), Content: strPtr("c0"), UserID: owner.ID}
		_, err := repo.Create(ctx, post)
		require.NoError(t, err)

		// the content update is issued while the title update holds its
		// transaction between read and write
		contentDone := make(chan error, 1)
		_, err = repo.Update(ctx, post.ID, func(p *domain.Post) error {
			go func() {
				_, err := repo.Update(ctx, post.ID, func(p *domain.Post) error {
					p.Content = strPtr("c1")
					return nil
				})
				contentDone <- err
			}()
			time.Sleep(50 * time.Millisecond)
			p.Title = strPtr("t1")
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, <-contentDone)

		got, err := repo.Get(ctx, post.ID)
		require.NoError(t, err)
		assert.Equal(t, "t1", *got.Title)
		assert.Equal(t, "c1", *got.Content)
	})

	t.Run("delete", func(t *testing.T) {
		post := &domain.Post{Title: strPtr("doomed"), UserID: owner.ID}
		_, err := repo.Create(ctx, post)
		require.NoError(t, err)

		require.NoError(t, repo.Delete(ctx, post.ID))
		_, err = repo.Get(ctx, post.ID)
		assert.ErrorIs(t, err, repository.ErrNotFound)

		assert.ErrorIs(t, repo.Delete(ctx, post.ID), repository.ErrNotFound)
	})
}

func TestPostRepositoryList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()
	ann := createUser(t, db, "ann@example.com", "Ann")
	bob := createUser(t, db, "bob@example.com", "Bob")

	var ids []int64
	for i := 1; i <= 15; i++ {
		owner := ann
		if i%3 == 0 {
			owner = bob
		}
		post := &domain.Post{
			Title:   strPtr(fmt.Sprintf("Post %02d", i)),
			Content: strPtr(fmt.Sprintf("content number %d", i)),
			UserID:  owner.ID,
		}
		_, err := repo.Create(ctx, post)
		require.NoError(t, err)
		ids = append(ids, post.ID)
	}

	t.Run("first page newest first", func(t *testing.T) {
		posts, total, err := repo.List(ctx, search.Filter{}, repository.Page{Number: 1, Size: 10})
		require.NoError(t, err)
		assert.Equal(t, 15, total)
		require.Len(t, posts, 10)
		assert.Equal(t, ids[14], posts[0].ID)
		for i := 1; i < len(posts); i++ {
			assert.Greater(t, posts[i-1].ID, posts[i].ID)
		}
	})

	t.Run("second page holds the rest", func(t *testing.T) {
		posts, total, err := repo.List(ctx, search.Filter{}, repository.Page{Number: 2, Size: 10})
		require.NoError(t, err)
		assert.Equal(t, 15, total)
		require.Len(t, posts, 5)
		assert.Equal(t, ids[0], posts[4].ID)
	})

	t.Run("page past the end", func(t *testing.T) {
		posts, total, err := repo.List(ctx, search.Filter{}, repository.Page{Number: 5, Size: 10})
		require.NoError(t, err)
		assert.Equal(t, 15, total)
		assert.Empty(t, posts)
	})

	t.Run("page number beyond the integer range", func(t *testing.T) {
		posts, total, err := repo.List(ctx, search.Filter{}, repository.Page{Number: math.MaxInt/10 + 2, Size: 10})
		require.NoError(t, err)
		assert.Equal(t, 15, total)
		assert.Empty(t, posts)
	})

	t.Run("filter by association", func(t *testing.T) {
		filter := search.ParseQuery(url.Values{"q[user_name_eq]": {"Bob"}})
		posts, total, err := repo.List(ctx, filter, repository.Page{Number: 1, Size: 10})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		for _, p := range posts {
			assert.Equal(t, bob.ID, p.UserID)
		}
	})

	t.Run("filter by title", func(t *testing.T) {
		filter := search.ParseQuery(url.Values{"q[title_cont]": {"post 1"}})
		posts, total, err := repo.List(ctx, filter, repository.Page{Number: 1, Size: 10})
		require.NoError(t, err)
		assert.Equal(t, 6, total)
		assert.Len(t, posts, 6)
	})

	t.Run("unknown filter is ignored", func(t *testing.T) {
		filter := search.ParseQuery(url.Values{"q[password_hash_eq]": {"x"}})
		_, total, err := repo.List(ctx, filter, repository.Page{Number: 1, Size: 10})
		require.NoError(t, err)
		assert.Equal(t, 15, total)
	})
}

func TestPostRepositoryTimestampFilters(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()
	owner := createUser(t, db, "ann@example.com", "Ann")

	stamps := []time.Time{
		time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC),
		time.Date(2024, 6, 30, 23, 59, 59, 500_000_000, time.UTC),
	}
	for i, stamp := range stamps {
		post := &domain.Post{Title: strPtr(fmt.Sprintf("post %d", i)), UserID: owner.ID}
		_, err := repo.Create(ctx, post)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `UPDATE posts SET created_at=? WHERE id=?`, stamp, post.ID)
		require.NoError(t, err)
	}

	count := func(t *testing.T, key, value string) int {
		t.Helper()
		filter := search.ParseQuery(url.Values{"q[" + key + "]": {value}})
		_, total, err := repo.List(ctx, filter, repository.Page{Number: 1, Size: 10})
		require.NoError(t, err)
		return total
	}

	t.Run("date bounds", func(t *testing.T) {
		assert.Equal(t, 2, count(t, "created_at_gteq", "2024-03-15"))
		assert.Equal(t, 1, count(t, "created_at_lt", "2024-03-15"))
		assert.Equal(t, 3, count(t, "created_at_lteq", "2024-07-01"))
	})

	t.Run("rfc3339 bounds", func(t *testing.T) {
		assert.Equal(t, 1, count(t, "created_at_lt", "2024-03-15T12:30:00Z"))
		assert.Equal(t, 2, count(t, "created_at_lteq", "2024-03-15T12:30:00Z"))
		assert.Equal(t, 1, count(t, "created_at_gt", "2024-03-15T12:30:00Z"))
		assert.Equal(t, 1, count(t, "created_at_gt", "2024-06-30T23:59:59Z"))
		assert.Equal(t, 0, count(t, "created_at_gt", "2024-06-30T23:59:59.5Z"))
		assert.Equal(t, 1, count(t, "created_at_eq", "2024-03-15T12:30:00Z"))
	})

	t.Run("offsets are normalised to utc", func(t *testing.T) {
		assert.Equal(t, 2, count(t, "created_at_gteq", "2024-03-15T14:30:00+02:00"))
	})

	t.Run("updated_at is searchable", func(t *testing.T) {
		since := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
		assert.Equal(t, 3, count(t, "updated_at_gteq", since))
	})

	t.Run("unparseable bound is ignored", func(t *testing.T) {
		assert.Equal(t, 3, count(t, "created_at_lt", "last week"))
	})
}

func TestJobRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &domain.Job{Kind: "avatar_upload", Payload: `{"user_id":1}`}
	id, err := repo.Create(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)

	require.NoError(t, repo.MarkRunning(ctx, id, time.Now()))
	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, repo.MarkFinished(ctx, id, domain.JobStatusFailed, "boom", time.Now()))
	failed, err := repo.List(ctx, domain.JobStatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].ErrorMessage)

	require.NoError(t, repo.Reset(ctx, id))
	pending, err := repo.List(ctx, domain.JobStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Empty(t, pending[0].ErrorMessage)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, repo.Delete(ctx, id))
	_, err = repo.Get(ctx, id)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
