package database

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/roadtrip/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertAndFetchByID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	unit := model.ContentUnit{
		MapInfo:  &model.MapInfo{Title: "gm_construct", Author: "garry", SourceURL: "https://example.com/gm"},
		Media:    []string{"b.png", "a.png", "c.mp4"},
		Flashing: true,
		Tags:     []string{"zeta", "alpha", "zeta"},
		Comments: []string{"first", "second"},
	}
	id, err := db.InsertContentUnit(ctx, unit)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	got, err := db.FetchContentByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, unit.MapInfo, got.MapInfo)
	assert.Equal(t, unit.Media, got.Media, "media order preserved")
	assert.Equal(t, []string{"zeta", "alpha"}, got.Tags, "tag order preserved, duplicates dropped")
	assert.Equal(t, unit.Comments, got.Comments)
	assert.True(t, got.Flashing)
	assert.True(t, got.Queued())
	assert.False(t, got.CreatedAt.IsZero())
}

func TestFetchByIDNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.FetchContentByID(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnitWithoutMapInfo(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.InsertContentUnit(ctx, model.ContentUnit{Comments: []string{"words only"}})
	require.NoError(t, err)

	got, err := db.FetchContentByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got.MapInfo)
	assert.Empty(t, got.Media)
	assert.Empty(t, got.Tags)
	assert.Equal(t, []string{"words only"}, got.Comments)
}

func TestFetchContentRangeAndMaxID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	maxID, err := db.MaxContentID(ctx)
	require.NoError(t, err)
	assert.Zero(t, maxID)

	for i := 1; i <= 25; i++ {
		_, err := db.InsertContentUnit(ctx, model.ContentUnit{
			Media:    []string{fmt.Sprintf("%d.png", i)},
			Tags:     []string{"shared", fmt.Sprintf("t%d", i)},
			Comments: []string{fmt.Sprintf("c%d", i)},
		})
		require.NoError(t, err)
	}

	maxID, err = db.MaxContentID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(25), maxID)

	page, err := db.FetchContentRange(ctx, maxID+1, 20)
	require.NoError(t, err)
	require.Len(t, page, 20)
	assert.Equal(t, int64(25), page[0].ID)
	assert.Equal(t, int64(6), page[19].ID)
	for _, u := range page {
		assert.Equal(t, []string{fmt.Sprintf("%d.png", u.ID)}, u.Media)
		assert.Equal(t, []string{"shared", fmt.Sprintf("t%d", u.ID)}, u.Tags)
		assert.Equal(t, []string{fmt.Sprintf("c%d", u.ID)}, u.Comments)
	}

	page, err = db.FetchContentRange(ctx, 6, 20)
	require.NoError(t, err)
	require.Len(t, page, 5)
	assert.Equal(t, int64(1), page[4].ID)

	page, err = db.FetchContentRange(ctx, 1, 20)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestQueueOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.NextQueued(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	for i := 0; i < 3; i++ {
		_, err := db.InsertContentUnit(ctx, model.ContentUnit{Comments: []string{fmt.Sprint(i)}})
		require.NoError(t, err)
	}

	next, err := db.NextQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next.ID)

	at := time.Date(2024, 6, 1, 17, 0, 0, 0, time.UTC)
	require.NoError(t, db.MarkPublished(ctx, 1, at))

	got, err := db.FetchContentByID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got.PublishedAt)
	assert.True(t, at.Equal(*got.PublishedAt))

	next, err = db.NextQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.ID)

	assert.ErrorIs(t, db.MarkPublished(ctx, 99, at), ErrNotFound)
}

func TestUsers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.GetUser(ctx, "sam")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.CreateUser(ctx, "sam", "hash"))
	assert.Error(t, db.CreateUser(ctx, "sam", "other"), "usernames are unique")

	u, err := db.GetUser(ctx, "sam")
	require.NoError(t, err)
	assert.Equal(t, model.User{Username: "sam", PasswordHash: "hash"}, *u)

	require.NoError(t, db.SetAuthCookie(ctx, "sam", "cookie-1"))
	u, err = db.GetUserByCookie(ctx, "cookie-1")
	require.NoError(t, err)
	assert.Equal(t, "sam", u.Username)
	assert.Equal(t, "cookie-1", u.AuthCookie)

	_, err = db.GetUserByCookie(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.GetUserByCookie(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.SetAuthCookie(ctx, "sam", ""))
	_, err = db.GetUserByCookie(ctx, "cookie-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, db.SetAuthCookie(ctx, "ghost", "x"), ErrNotFound)
}

func TestOpen(t *testing.T) {
	store, err := Open("sqlite", filepath.Join(t.TempDir(), "open.db"))
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, "SQLite", store.DatabaseType())

	_, err = Open("mysql", "x")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	assert.Equal(t,
		"UPDATE content SET published_at = $1 WHERE id = $2",
		rebind("UPDATE content SET published_at = ? WHERE id = ?"))
	assert.Equal(t, "SELECT 1", rebind("SELECT 1"))
}
