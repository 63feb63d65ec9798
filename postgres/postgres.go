package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/teahouse/tearoom/api"
)

// Postgres provides comment storage in PostgreSQL.
type Postgres struct {
	bun *bun.DB
}

// Connect connects to the database and ping the DB to ensure the connection is
// working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun: db,
	}, nil
}

// Close closes the underlying connection pool.
func (pg *Postgres) Close() error {
	return pg.bun.Close()
}

// CreateSchema creates the comments table and its index if they do not exist.
func (pg *Postgres) CreateSchema(ctx context.Context) error {
	if _, err := pg.bun.NewCreateTable().
		Model((*comment)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	if _, err := pg.bun.NewCreateIndex().
		Model((*comment)(nil)).
		Index("comments_thread_idx").
		Column("post_id", "parent_id", "id").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// parseID converts a comment ID from the API. IDs that cannot name a row are
// reported as api.ErrNotFound.
func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("comment %q: %w", id, api.ErrNotFound)
	}
	return n, nil
}

// InsertComment inserts a comment or reply. The returned comment holds auto
// generated fields, such as the comment id.
func (pg *Postgres) InsertComment(ctx context.Context, c api.Comment) (api.Comment, error) {
	m := &comment{
		PostID:     c.PostID,
		AuthorID:   c.Author.ID,
		AuthorName: c.Author.DisplayName,
		Content:    c.Content,
		CreatedAt:  c.CreatedAt,
	}
	if c.ParentID != "" {
		parent, err := parseID(c.ParentID)
		if err != nil {
			return api.Comment{}, err
		}
		m.ParentID = parent
	}
	if _, err := pg.bun.NewInsert().Model(m).Returning("*").Exec(ctx); err != nil {
		return api.Comment{}, fmt.Errorf("insert: %w", err)
	}
	return m.APIComment(), nil
}

// GetComment returns a single comment or reply.
func (pg *Postgres) GetComment(ctx context.Context, id string) (api.Comment, error) {
	n, err := parseID(id)
	if err != nil {
		return api.Comment{}, err
	}
	var c comment
	err = pg.bun.NewSelect().Model(&c).Where("id = ?", n).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return api.Comment{}, fmt.Errorf("comment %s: %w", id, api.ErrNotFound)
	}
	if err != nil {
		return api.Comment{}, fmt.Errorf("scan: %w", err)
	}
	return c.APIComment(), nil
}

// ListComments returns a page of the top-level comments of a post, oldest
// first, and how many there are in total.
func (pg *Postgres) ListComments(ctx context.Context, postID string, limit, offset int) ([]api.Comment, int, error) {
	var rows []comment
	total, err := pg.bun.NewSelect().
		Model(&rows).
		Where("post_id = ?", postID).
		Where("parent_id IS NULL").
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("scan: %w", err)
	}
	return toAPI(rows), total, nil
}

// ListReplies returns a page of the replies to a comment in insertion order,
// and how many there are in total.
func (pg *Postgres) ListReplies(ctx context.Context, commentID string, limit, offset int) ([]api.Comment, int, error) {
	parent, err := parseID(commentID)
	if err != nil {
		return nil, 0, err
	}
	var rows []comment
	total, err := pg.bun.NewSelect().
		Model(&rows).
		Where("parent_id = ?", parent).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("scan: %w", err)
	}
	return toAPI(rows), total, nil
}

func toAPI(rows []comment) []api.Comment {
	out := make([]api.Comment, len(rows))
	for i, c := range rows {
		out[i] = c.APIComment()
	}
	return out
}
