package transport

import (
	"context"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teahouse/tearoom/api"
	"github.com/teahouse/tearoom/internal/validator"
	"github.com/teahouse/tearoom/comments"
)

// memstore is an in-memory api.DB and api.Likes.
type memstore struct {
	mu       sync.Mutex
	comments []api.Comment
	likes    map[string]map[string]bool
}

func (m *memstore) InsertComment(_ context.Context, c api.Comment) (api.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Gens = int64(len(m.comments) + 1)
	c.ID = strconv.FormatInt(c.Gens, 10)
	m.comments = append(m.comments, c)
	return c, nil
}

func (m *memstore) GetComment(_ context.Context, id string) (api.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.comments {
		if c.ID == id {
			return c, nil
		}
	}
	return api.Comment{}, api.ErrNotFound
}

func (m *memstore) page(match func(api.Comment) bool, limit, offset int) ([]api.Comment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []api.Comment
	for _, c := range m.comments {
		if match(c) {
			all = append(all, c)
		}
	}
	lo := min(offset, len(all))
	hi := min(offset+limit, len(all))
	return append([]api.Comment(nil), all[lo:hi]...), len(all), nil
}

func (m *memstore) ListComments(_ context.Context, postID string, limit, offset int) ([]api.Comment, int, error) {
	return m.page(func(c api.Comment) bool { return c.PostID == postID && c.ParentID == "" }, limit, offset)
}

func (m *memstore) ListReplies(_ context.Context, commentID string, limit, offset int) ([]api.Comment, int, error) {
	return m.page(func(c api.Comment) bool { return c.ParentID == commentID }, limit, offset)
}

func (m *memstore) Like(_ context.Context, commentID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.likes == nil {
		m.likes = make(map[string]map[string]bool)
	}
	if m.likes[commentID] == nil {
		m.likes[commentID] = make(map[string]bool)
	}
	m.likes[commentID][userID] = true
	return nil
}

func (m *memstore) Unlike(_ context.Context, commentID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.likes[commentID], userID)
	return nil
}

func (m *memstore) LikeStates(_ context.Context, userID string, commentIDs ...string) (map[string]api.LikeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]api.LikeState, len(commentIDs))
	for _, id := range commentIDs {
		out[id] = api.LikeState{Count: len(m.likes[id]), Liked: m.likes[id][userID]}
	}
	return out, nil
}

func TestEndToEnd(t *testing.T) {
	store := &memstore{}
	srv := httptest.NewServer(&api.API{
		Logger: slogt.New(t),
		DB:     store,
		Likes:  store,
		Val:    validator.New(),
	})
	defer srv.Close()

	// Seed a comment with seven replies written by someone else.
	bob := api.Author{ID: "bob", DisplayName: "Bob"}
	ctx := context.Background()
	first, _ := store.InsertComment(ctx, api.Comment{PostID: "p1", Author: bob, Content: "first", CreatedAt: fixedT})
	for i := 0; i < 7; i++ {
		_, _ = store.InsertComment(ctx, api.Comment{PostID: "p1", ParentID: first.ID, Author: bob, Content: "reply", CreatedAt: fixedT})
	}
	_ = store.Like(ctx, first.ID, "bob")

	identity := comments.IdentityFunc(func() comments.User { return alice })
	client, err := New(Options{
		BaseURL:  srv.URL,
		Identity: identity,
		Logger:   slogt.New(t),
	})
	require.NoError(t, err)

	th := comments.NewThread(client, identity, comments.Options{
		Logger:       slogt.New(t),
		PageSize:     5,
		ShowMoreStep: 10,
		Timeout:      5 * time.Second,
	})

	th.OpenPost(comments.Post{ID: "p1", CommentCount: 1})
	th.Wait()
	th.Expand(first.ID)
	th.Wait()

	cur, err := th.Store.Cursor(first.ID)
	require.NoError(t, err)
	assert.Equal(t, comments.Cursor{Total: 7, Fetched: 5, Visible: 3, State: comments.Loaded, Offset: 5}, cur)

	th.ShowMore(first.ID)
	th.Wait()
	cur, _ = th.Store.Cursor(first.ID)
	assert.Equal(t, comments.Cursor{Total: 7, Fetched: 7, Visible: 7, State: comments.Loaded, Offset: 7}, cur)

	th.SubmitComment("p1", "Hello")
	th.SubmitReply(first.ID, "Nice")
	th.ToggleLike(first.ID)
	th.Wait()

	snap, ok := th.Store.Snapshot("p1")
	require.True(t, ok)
	require.Len(t, snap.Comments, 2)
	assert.Equal(t, 2, snap.Post.CommentCount)

	top := snap.Comments[0]
	assert.True(t, top.Comment.Liked)
	assert.Equal(t, 2, top.Comment.Likes)
	require.Len(t, top.Replies, 8)
	mine := top.Replies[7]
	assert.Equal(t, "Nice", mine.Body)
	assert.False(t, mine.Temporary)
	assert.Equal(t, "alice", mine.AuthorID)

	hello := snap.Comments[1].Comment
	assert.Equal(t, "Hello", hello.Body)
	assert.False(t, hello.Temporary)

	// The server saw the same writes.
	saved, err := store.GetComment(ctx, hello.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", saved.Author.ID)
	reply, err := store.GetComment(ctx, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, reply.ParentID)
	states, _ := store.LikeStates(ctx, "alice", first.ID)
	assert.Equal(t, api.LikeState{Count: 2, Liked: true}, states[first.ID])

	select {
	case n := <-th.Notices():
		t.Errorf("Unexpected notice %v", n)
	default:
	}
}

func TestEndToEnd_rollback(t *testing.T) {
	store := &memstore{}
	srv := httptest.NewServer(&api.API{
		Logger: slogt.New(t),
		DB:     store,
		Likes:  store,
		Val:    validator.New(),
	})
	defer srv.Close()

	// The server rejects the author, so the submit is rolled back.
	client, err := New(Options{
		BaseURL:  srv.URL,
		Identity: comments.IdentityFunc(func() comments.User { return comments.User{ID: "mallory"} }),
		Logger:   slogt.New(t),
	})
	require.NoError(t, err)
	th := comments.NewThread(client, comments.IdentityFunc(func() comments.User { return alice }), comments.Options{
		Logger: slogt.New(t),
	})

	th.OpenPost(comments.Post{ID: "p1"})
	th.Wait()
	th.SubmitComment("p1", "Hello")
	th.Wait()

	snap, _ := th.Store.Snapshot("p1")
	assert.Empty(t, snap.Comments)
	assert.Equal(t, 0, snap.Post.CommentCount)

	select {
	case n := <-th.Notices():
		assert.ErrorIs(t, n, ErrUnauthorized)
		assert.Equal(t, "Hello", n.Draft)
	default:
		t.Error("No notice published")
	}
}
