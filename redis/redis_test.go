package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/teahouse/tearoom/api"
)

func connect(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("TEAROOM_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEAROOM_TEST_REDIS_ADDR not set")
	}
	r, err := Connect(context.Background(), addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRedis_Likes(t *testing.T) {
	r := connect(t)
	ctx := context.Background()
	c1, c2 := uuid.NewString(), uuid.NewString()
	t.Cleanup(func() {
		_ = r.cli.Del(context.Background(), likesKey(c1), likesKey(c2)).Err()
	})

	steps := []func() error{
		func() error { return r.Like(ctx, c1, "alice") },
		func() error { return r.Like(ctx, c1, "alice") },
		func() error { return r.Like(ctx, c1, "bob") },
		func() error { return r.Like(ctx, c2, "bob") },
		func() error { return r.Unlike(ctx, c2, "bob") },
		func() error { return r.Unlike(ctx, c2, "bob") },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}

	tests := []struct {
		name string
		user string
		want map[string]api.LikeState
	}{
		{
			name: "Alice",
			user: "alice",
			want: map[string]api.LikeState{
				c1: {Count: 2, Liked: true},
				c2: {Count: 0},
			},
		},
		{
			name: "Anonymous",
			user: "",
			want: map[string]api.LikeState{
				c1: {Count: 2},
				c2: {Count: 0},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.LikeStates(ctx, tt.user, c1, c2)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("LikeStates mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLikesKey(t *testing.T) {
	if got, want := likesKey("42"), "comments:42:likes"; got != want {
		t.Errorf("Got %q, want %q", got, want)
	}
}
