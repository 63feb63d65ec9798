package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/teahouse/tearoom/api"
)

// Redis keeps comment likes in Redis, one set of user IDs per comment.
type Redis struct {
	cli *redis.Client
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		cli: cli,
	}, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.cli.Close()
}

// Like records that userID likes the comment. Liking twice is a no-op.
func (r *Redis) Like(ctx context.Context, commentID, userID string) error {
	if err := r.cli.SAdd(ctx, likesKey(commentID), userID).Err(); err != nil {
		return fmt.Errorf("sadd: %w", err)
	}
	return nil
}

// Unlike removes the like of userID from the comment, if any.
func (r *Redis) Unlike(ctx context.Context, commentID, userID string) error {
	if err := r.cli.SRem(ctx, likesKey(commentID), userID).Err(); err != nil {
		return fmt.Errorf("srem: %w", err)
	}
	return nil
}

// LikeStates returns the like count of each comment and whether userID is
// among the likers, in a single round trip. An empty userID likes nothing.
func (r *Redis) LikeStates(ctx context.Context, userID string, commentIDs ...string) (map[string]api.LikeState, error) {
	type pending struct {
		count *redis.IntCmd
		liked *redis.BoolCmd
	}
	cmds := make([]pending, len(commentIDs))
	_, err := r.cli.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range commentIDs {
			key := likesKey(id)
			cmds[i].count = pipe.SCard(ctx, key)
			if userID != "" {
				cmds[i].liked = pipe.SIsMember(ctx, key, userID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	out := make(map[string]api.LikeState, len(commentIDs))
	for i, id := range commentIDs {
		var st likeState
		st.count = cmds[i].count.Val()
		if cmds[i].liked != nil {
			st.liked = cmds[i].liked.Val()
		}
		out[id] = st.APILikeState()
	}
	return out, nil
}
