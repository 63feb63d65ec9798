package transport

import (
	"time"

	"github.com/teahouse/tearoom/comments"
)

type wireAuthor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type createRequest struct {
	PostID          string     `json:"postId"`
	Author          wireAuthor `json:"author"`
	Content         string     `json:"content"`
	ParentCommentID string     `json:"parentCommentId,omitempty"`
}

type createResponse struct {
	CommentID string     `json:"commentId"`
	Author    wireAuthor `json:"author"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
}

type wireComment struct {
	ID        string     `json:"id"`
	PostID    string     `json:"postId"`
	ParentID  string     `json:"parentCommentId"`
	Author    wireAuthor `json:"author"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
	Likes     int        `json:"likes"`
	Liked     bool       `json:"liked"`
	Gens      int64      `json:"gens"`
}

// listResponse is the envelope of both list endpoints. Data is a pointer so a
// missing key can be told apart from an empty page.
type listResponse struct {
	Data  *[]wireComment `json:"data"`
	Total *int           `json:"total"`
}

func (l listResponse) total() int {
	if l.Total == nil {
		return comments.UnknownTotal
	}
	return *l.Total
}

func (w wireComment) comment() comments.Comment {
	return comments.Comment{
		ID:         w.ID,
		PostID:     w.PostID,
		AuthorID:   w.Author.ID,
		AuthorName: w.Author.DisplayName,
		Body:       w.Content,
		CreatedAt:  w.CreatedAt,
		Likes:      w.Likes,
		Liked:      w.Liked,
	}
}

func (w wireComment) reply(commentID string) comments.Reply {
	return comments.Reply{
		ID:         w.ID,
		CommentID:  commentID,
		AuthorID:   w.Author.ID,
		AuthorName: w.Author.DisplayName,
		Body:       w.Content,
		CreatedAt:  w.CreatedAt,
		Likes:      w.Likes,
		Liked:      w.Liked,
		Seq:        w.Gens,
	}
}
