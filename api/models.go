package api

import (
	"errors"
	"time"
)

// ErrNotFound is returned by a DB when a comment does not exist.
var ErrNotFound = errors.New("not found")

// An Author identifies the writer of a comment.
type Author struct {
	ID          string `json:"id" validate:"required"`
	DisplayName string `json:"displayName"`
}

// A Comment represents a persisted comment. Replies are comments with a
// ParentID; they are never nested more than one level deep.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	ParentID  string    `json:"parentCommentId,omitempty"`
	Author    Author    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Likes     int       `json:"likes"`
	Liked     bool      `json:"liked"`
	// Gens orders replies within a comment; it grows with insertion order.
	Gens int64 `json:"gens"`
}

// A LikeState is the like count of a comment and whether a user likes it.
type LikeState struct {
	Count int
	Liked bool
}
