package redis

import (
	"fmt"

	"github.com/teahouse/tearoom/api"
)

const likesPrefix = "comments"

// likesKey names the set of user IDs liking a comment.
func likesKey(commentID string) string {
	return fmt.Sprintf("%s:%s:likes", likesPrefix, commentID)
}

// likeState is the raw result of the per-comment like queries.
type likeState struct {
	count int64
	liked bool
}

func (s likeState) APILikeState() api.LikeState {
	return api.LikeState{
		Count: int(s.count),
		Liked: s.liked,
	}
}
