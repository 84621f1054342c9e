package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/bryan-buckman/roadtrip/internal/model"
)

// archive holds the queries shared by both backends. Queries are written
// with ? placeholders and rebound for drivers that number them.
type archive struct {
	conn     *sql.DB
	numbered bool // $1, $2, ... instead of ?
}

const contentColumns = "id, map_title, map_author, map_url, flashing, created_at, published_at"

// Close closes the database connection.
func (a *archive) Close() error {
	return a.conn.Close()
}

func (a *archive) q(query string) string {
	if !a.numbered {
		return query
	}
	return rebind(query)
}

// rebind rewrites ? placeholders to $n.
func rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// --- Content Methods ---

// InsertContentUnit stores unit and its media, tags and comments in one
// transaction and returns the new id.
func (a *archive) InsertContentUnit(ctx context.Context, unit model.ContentUnit) (int64, error) {
	tx, err := a.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var title, author, url sql.NullString
	if mi := unit.MapInfo; mi != nil {
		title = sql.NullString{String: mi.Title, Valid: true}
		author = sql.NullString{String: mi.Author, Valid: true}
		url = sql.NullString{String: mi.SourceURL, Valid: true}
	}

	var id int64
	err = tx.QueryRowContext(ctx,
		a.q("INSERT INTO content (map_title, map_author, map_url, flashing, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id"),
		title, author, url, unit.Flashing, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert content: %w", err)
	}

	for i, ref := range unit.Media {
		if _, err := tx.ExecContext(ctx, a.q("INSERT INTO media (content_id, position, ref) VALUES (?, ?, ?)"), id, i, ref); err != nil {
			return 0, fmt.Errorf("insert media: %w", err)
		}
	}

	for i, name := range lo.Uniq(unit.Tags) {
		if _, err := tx.ExecContext(ctx, a.q("INSERT INTO tags (name) VALUES (?) ON CONFLICT (name) DO NOTHING"), name); err != nil {
			return 0, fmt.Errorf("insert tag: %w", err)
		}
		var tagID int64
		if err := tx.QueryRowContext(ctx, a.q("SELECT id FROM tags WHERE name = ?"), name).Scan(&tagID); err != nil {
			return 0, fmt.Errorf("lookup tag: %w", err)
		}
		if _, err := tx.ExecContext(ctx, a.q("INSERT INTO content_tags (content_id, tag_id, position) VALUES (?, ?, ?)"), id, tagID, i); err != nil {
			return 0, fmt.Errorf("link tag: %w", err)
		}
	}

	for i, body := range unit.Comments {
		if _, err := tx.ExecContext(ctx, a.q("INSERT INTO comments (content_id, position, body) VALUES (?, ?, ?)"), id, i, body); err != nil {
			return 0, fmt.Errorf("insert comment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// FetchContentRange returns up to limit units with id < beforeID, newest first.
func (a *archive) FetchContentRange(ctx context.Context, beforeID int64, limit int) ([]model.ArchivedUnit, error) {
	rows, err := a.conn.QueryContext(ctx,
		a.q("SELECT "+contentColumns+" FROM content WHERE id < ? ORDER BY id DESC LIMIT ?"), beforeID, limit)
	if err != nil {
		return nil, err
	}
	units, err := scanUnits(rows)
	if err != nil {
		return nil, err
	}
	if err := a.loadChildren(ctx, units); err != nil {
		return nil, err
	}
	return units, nil
}

// FetchContentByID returns one unit or ErrNotFound.
func (a *archive) FetchContentByID(ctx context.Context, id int64) (*model.ArchivedUnit, error) {
	return a.fetchOne(ctx, "SELECT "+contentColumns+" FROM content WHERE id = ?", id)
}

// NextQueued returns the unpublished unit with the lowest id, or ErrNotFound.
func (a *archive) NextQueued(ctx context.Context) (*model.ArchivedUnit, error) {
	return a.fetchOne(ctx, "SELECT "+contentColumns+" FROM content WHERE published_at IS NULL ORDER BY id ASC LIMIT 1")
}

func (a *archive) fetchOne(ctx context.Context, query string, args ...any) (*model.ArchivedUnit, error) {
	rows, err := a.conn.QueryContext(ctx, a.q(query), args...)
	if err != nil {
		return nil, err
	}
	units, err := scanUnits(rows)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, ErrNotFound
	}
	if err := a.loadChildren(ctx, units); err != nil {
		return nil, err
	}
	return &units[0], nil
}

// MaxContentID returns the highest content id, or 0 when the archive is empty.
func (a *archive) MaxContentID(ctx context.Context) (int64, error) {
	var id int64
	err := a.conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM content").Scan(&id)
	return id, err
}

// MarkPublished records when a unit was posted.
func (a *archive) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	res, err := a.conn.ExecContext(ctx, a.q("UPDATE content SET published_at = ? WHERE id = ?"), at.UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUnits(rows *sql.Rows) ([]model.ArchivedUnit, error) {
	defer rows.Close()
	var units []model.ArchivedUnit
	for rows.Next() {
		var u model.ArchivedUnit
		var title, author, url sql.NullString
		var createdAt, publishedAt sql.NullTime
		if err := rows.Scan(&u.ID, &title, &author, &url, &u.Flashing, &createdAt, &publishedAt); err != nil {
			return nil, err
		}
		if title.Valid {
			u.MapInfo = &model.MapInfo{Title: title.String, Author: author.String, SourceURL: url.String}
		}
		if createdAt.Valid {
			u.CreatedAt = createdAt.Time
		}
		if publishedAt.Valid {
			t := publishedAt.Time
			u.PublishedAt = &t
		}
		u.Media = []string{}
		u.Tags = []string{}
		u.Comments = []string{}
		units = append(units, u)
	}
	return units, rows.Err()
}

// loadChildren fills media, tags and comments for units with one query per
// child table over the id range the units span.
func (a *archive) loadChildren(ctx context.Context, units []model.ArchivedUnit) error {
	if len(units) == 0 {
		return nil
	}
	byID := make(map[int64]*model.ArchivedUnit, len(units))
	for i := range units {
		byID[units[i].ID] = &units[i]
	}
	lowest := lo.MinBy(units, func(x, y model.ArchivedUnit) bool { return x.ID < y.ID }).ID
	highest := lo.MaxBy(units, func(x, y model.ArchivedUnit) bool { return x.ID > y.ID }).ID

	children := []struct {
		query  string
		assign func(u *model.ArchivedUnit, v string)
	}{
		{
			"SELECT content_id, ref FROM media WHERE content_id BETWEEN ? AND ? ORDER BY content_id, position",
			func(u *model.ArchivedUnit, v string) { u.Media = append(u.Media, v) },
		},
		{
			"SELECT ct.content_id, t.name FROM content_tags ct JOIN tags t ON t.id = ct.tag_id WHERE ct.content_id BETWEEN ? AND ? ORDER BY ct.content_id, ct.position",
			func(u *model.ArchivedUnit, v string) { u.Tags = append(u.Tags, v) },
		},
		{
			"SELECT content_id, body FROM comments WHERE content_id BETWEEN ? AND ? ORDER BY content_id, position",
			func(u *model.ArchivedUnit, v string) { u.Comments = append(u.Comments, v) },
		},
	}
	for _, c := range children {
		rows, err := a.conn.QueryContext(ctx, a.q(c.query), lowest, highest)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id int64
			var v string
			if err := rows.Scan(&id, &v); err != nil {
				rows.Close()
				return err
			}
			// The range may cover ids that are not part of this page.
			if u, ok := byID[id]; ok {
				c.assign(u, v)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// --- User Methods ---

// CreateUser adds an account.
func (a *archive) CreateUser(ctx context.Context, username, passwordHash string) error {
	_, err := a.conn.ExecContext(ctx, a.q("INSERT INTO users (username, password_hash) VALUES (?, ?)"), username, passwordHash)
	return err
}

// GetUser looks up an account by name.
func (a *archive) GetUser(ctx context.Context, username string) (*model.User, error) {
	return a.getUser(ctx, "SELECT username, password_hash, auth_cookie FROM users WHERE username = ?", username)
}

// GetUserByCookie looks up the account holding cookie.
func (a *archive) GetUserByCookie(ctx context.Context, cookie string) (*model.User, error) {
	if cookie == "" {
		return nil, ErrNotFound
	}
	return a.getUser(ctx, "SELECT username, password_hash, auth_cookie FROM users WHERE auth_cookie = ?", cookie)
}

func (a *archive) getUser(ctx context.Context, query string, arg string) (*model.User, error) {
	var u model.User
	var cookie sql.NullString
	err := a.conn.QueryRowContext(ctx, a.q(query), arg).Scan(&u.Username, &u.PasswordHash, &cookie)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.AuthCookie = cookie.String
	return &u, nil
}

// SetAuthCookie stores the session cookie for a user. An empty cookie logs
// the user out.
func (a *archive) SetAuthCookie(ctx context.Context, username, cookie string) error {
	val := sql.NullString{String: cookie, Valid: cookie != ""}
	res, err := a.conn.ExecContext(ctx, a.q("UPDATE users SET auth_cookie = ? WHERE username = ?"), val, username)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
