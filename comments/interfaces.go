package comments

import (
	"context"
	"time"
)

// An Identity provides the signed-in user.
type Identity interface {
	CurrentUser() User
}

// IdentityFunc adapts a function to the Identity interface.
type IdentityFunc func() User

func (f IdentityFunc) CurrentUser() User { return f() }

// A NewComment is the payload of a create-comment or create-reply call.
// ParentCommentID is empty for top-level comments.
type NewComment struct {
	PostID          string `validate:"required"`
	Author          User
	Content         string `validate:"required,max=2000"`
	ParentCommentID string
}

// Created holds the fields the server assigns to a new comment or reply.
type Created struct {
	ID        string
	CreatedAt time.Time
}

// A CommentPage is one page of top-level comments. Total is UnknownTotal when
// the server did not report it.
type CommentPage struct {
	Comments []Comment
	Total    int
}

// A ReplyPage is one page of replies in server order.
type ReplyPage struct {
	Replies []Reply
	Total   int
}

// A Transport talks to the remote comment service.
type Transport interface {
	CreateComment(ctx context.Context, c NewComment) (Created, error)
	Like(ctx context.Context, targetID string) error
	Unlike(ctx context.Context, targetID string) error
	ListComments(ctx context.Context, postID string, limit, offset int) (CommentPage, error)
	ListReplies(ctx context.Context, commentID string, limit, offset int) (ReplyPage, error)
}
