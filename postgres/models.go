package postgres

import (
	"strconv"
	"time"

	"github.com/uptrace/bun"

	"github.com/teahouse/tearoom/api"
)

// A comment is a row of the comments table. Replies carry the ID of their
// top-level comment in ParentID; top-level comments leave it NULL.
type comment struct {
	bun.BaseModel `bun:"table:comments"`

	ID         int64     `bun:",pk,autoincrement"`
	PostID     string    `bun:",notnull"`
	ParentID   int64     `bun:",nullzero"`
	AuthorID   string    `bun:",notnull"`
	AuthorName string    `bun:",notnull"`
	Content    string    `bun:",notnull"`
	CreatedAt  time.Time `bun:",nullzero,notnull,default:now()"`
}

func (c comment) APIComment() api.Comment {
	out := api.Comment{
		ID:     strconv.FormatInt(c.ID, 10),
		PostID: c.PostID,
		Author: api.Author{
			ID:          c.AuthorID,
			DisplayName: c.AuthorName,
		},
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
		Gens:      c.ID,
	}
	if c.ParentID != 0 {
		out.ParentID = strconv.FormatInt(c.ParentID, 10)
	}
	return out
}
