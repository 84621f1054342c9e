// Package database provides storage backends for the content archive.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bryan-buckman/roadtrip/internal/model"
)

// ErrNotFound is returned when a unit or user does not exist, or when the
// publish queue is empty.
var ErrNotFound = errors.New("not found")

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// Content operations
	InsertContentUnit(ctx context.Context, unit model.ContentUnit) (int64, error)
	// FetchContentRange returns up to limit units with id < beforeID, newest first.
	FetchContentRange(ctx context.Context, beforeID int64, limit int) ([]model.ArchivedUnit, error)
	FetchContentByID(ctx context.Context, id int64) (*model.ArchivedUnit, error)
	// MaxContentID returns the highest id, or 0 for an empty archive.
	MaxContentID(ctx context.Context) (int64, error)
	// NextQueued returns the unpublished unit with the lowest id.
	NextQueued(ctx context.Context) (*model.ArchivedUnit, error)
	MarkPublished(ctx context.Context, id int64, at time.Time) error

	// User operations
	CreateUser(ctx context.Context, username, passwordHash string) error
	GetUser(ctx context.Context, username string) (*model.User, error)
	SetAuthCookie(ctx context.Context, username, cookie string) error
	GetUserByCookie(ctx context.Context, cookie string) (*model.User, error)
}

// Open opens the backend named by driver: "sqlite" takes a file path,
// "postgres" a connection string.
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite", "":
		return New(dsn)
	case "postgres", "postgresql":
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
