package comments

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
)

func newTestPaginator(t *testing.T, tr *testtransport, opts Options) (*Paginator, *Store, *noticeLog) {
	t.Helper()
	tr.T = t
	opts.Logger = slogt.New(t)
	store := NewStore(0, opts.Logger)
	store.OpenPost(Post{ID: "p1"})
	_ = store.UpsertComment("p1", Comment{ID: "c100"})
	notices := &noticeLog{}
	opts.Notify = notices.add
	return NewPaginator(store, tr, opts), store, notices
}

// serverReplies serves a fixed reply list in pages, optionally capping how
// many rows a page returns regardless of the requested limit.
func serverReplies(n, pageCap int, reportTotal bool) func(t *testing.T, commentID string, limit, offset int) (ReplyPage, error) {
	return func(t *testing.T, commentID string, limit, offset int) (ReplyPage, error) {
		if pageCap > 0 {
			limit = min(limit, pageCap)
		}
		page := ReplyPage{Total: UnknownTotal}
		if reportTotal {
			page.Total = n
		}
		for i := offset; i < n && i < offset+limit; i++ {
			page.Replies = append(page.Replies, Reply{ID: fmt.Sprintf("r%d", i+1), Seq: int64(i + 1)})
		}
		return page, nil
	}
}

func TestPaginator_ExpandShowMore(t *testing.T) {
	var offsets []int
	list := serverReplies(5, 0, true)
	tr := &testtransport{
		listReplies: func(t *testing.T, commentID string, limit, offset int) (ReplyPage, error) {
			offsets = append(offsets, offset)
			if offset == 0 {
				// First page: 2 of 5.
				return ReplyPage{Total: 5, Replies: []Reply{{ID: "r1"}, {ID: "r2"}}}, nil
			}
			return list(t, commentID, limit, offset)
		},
	}
	p, store, _ := newTestPaginator(t, tr, Options{})

	if err := p.Expand(context.Background(), "c100"); err != nil {
		t.Fatal(err)
	}
	cur, _ := store.Cursor("c100")
	if diff := cmp.Diff(Cursor{Total: 5, Fetched: 2, Visible: 2, State: Loaded, Offset: 2}, cur); diff != "" {
		t.Errorf("Cursor after expand mismatch (-want +got):\n%s", diff)
	}

	if err := p.ShowMore(context.Background(), "c100"); err != nil {
		t.Fatal(err)
	}
	cur, _ = store.Cursor("c100")
	if diff := cmp.Diff(Cursor{Total: 5, Fetched: 5, Visible: 5, State: Loaded, Offset: 5}, cur); diff != "" {
		t.Errorf("Cursor after show more mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"r1", "r2", "r3", "r4", "r5"}, replyIDs(t, store, "p1", "c100")); diff != "" {
		t.Errorf("Reply order mismatch (-want +got):\n%s", diff)
	}

	// Everything is fetched and shown; nothing else goes to the server.
	if err := p.ShowMore(context.Background(), "c100"); err != nil {
		t.Fatal(err)
	}
	if err := p.Expand(context.Background(), "c100"); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{0, 2}, offsets); diff != "" {
		t.Errorf("Fetch offsets mismatch (-want +got):\n%s", diff)
	}
}

func TestPaginator_ExpandInitialBatch(t *testing.T) {
	tests := []struct {
		name        string
		replies     int
		wantFetched int
		wantVisible int
	}{
		{name: "Empty", replies: 0, wantFetched: 0, wantVisible: 0},
		{name: "Two", replies: 2, wantFetched: 2, wantVisible: 2},
		{name: "Three", replies: 3, wantFetched: 3, wantVisible: 3},
		{name: "Many", replies: 25, wantFetched: 10, wantVisible: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &testtransport{listReplies: serverReplies(tt.replies, 0, true)}
			p, store, _ := newTestPaginator(t, tr, Options{})

			if err := p.Expand(context.Background(), "c100"); err != nil {
				t.Fatal(err)
			}
			cur, _ := store.Cursor("c100")
			if cur.State != Loaded || cur.Fetched != tt.wantFetched || cur.Visible != tt.wantVisible {
				t.Errorf("Got %+v, want loaded with fetched=%d visible=%d", cur, tt.wantFetched, tt.wantVisible)
			}
		})
	}
}

func TestPaginator_ExpandOnce(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	tr := &testtransport{
		listReplies: func(t *testing.T, commentID string, limit, offset int) (ReplyPage, error) {
			calls.Add(1)
			close(entered)
			<-release
			return ReplyPage{Total: 2, Replies: []Reply{{ID: "r1"}, {ID: "r2"}}}, nil
		},
	}
	p, store, _ := newTestPaginator(t, tr, Options{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.Expand(context.Background(), "c100"); err != nil {
			t.Errorf("Expand: %v", err)
		}
	}()
	<-entered

	cur, _ := store.Cursor("c100")
	if !cur.Loading() {
		t.Errorf("Got state %v, want loading", cur.State)
	}
	// Double tap while loading: ignored.
	if err := p.Expand(context.Background(), "c100"); err != nil {
		t.Fatal(err)
	}
	if err := p.ShowMore(context.Background(), "c100"); err != nil {
		t.Fatal(err)
	}
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("Got %d fetches, want 1", got)
	}
	if diff := cmp.Diff([]string{"r1", "r2"}, replyIDs(t, store, "p1", "c100")); diff != "" {
		t.Errorf("Reply list mismatch (-want +got):\n%s", diff)
	}
}

func TestPaginator_UnknownTotal(t *testing.T) {
	var fetches int
	list := serverReplies(13, 0, false)
	tr := &testtransport{
		listReplies: func(t *testing.T, commentID string, limit, offset int) (ReplyPage, error) {
			fetches++
			return list(t, commentID, limit, offset)
		},
	}
	p, store, _ := newTestPaginator(t, tr, Options{PageSize: 5})

	_ = p.Expand(context.Background(), "c100")
	cur, _ := store.Cursor("c100")
	if cur.Total != UnknownTotal || !cur.More() {
		t.Errorf("Got %+v, want unknown total with more to fetch after a full page", cur)
	}

	for i := 0; i < 5; i++ {
		if err := p.ShowMore(context.Background(), "c100"); err != nil {
			t.Fatal(err)
		}
	}
	cur, _ = store.Cursor("c100")
	want := Cursor{Total: 13, Fetched: 13, Visible: 13, State: Loaded, Offset: 13}
	if diff := cmp.Diff(want, cur); diff != "" {
		t.Errorf("Cursor mismatch (-want +got):\n%s", diff)
	}
	// 5 + 5 + 3: the short page ends the list.
	if fetches != 3 {
		t.Errorf("Got %d fetches, want 3", fetches)
	}
}

func TestPaginator_ExpandFailure(t *testing.T) {
	fail := true
	tr := &testtransport{
		listReplies: func(t *testing.T, commentID string, limit, offset int) (ReplyPage, error) {
			if fail {
				return ReplyPage{}, errors.New("timeout")
			}
			return ReplyPage{Total: 1, Replies: []Reply{{ID: "r1"}}}, nil
		},
	}
	p, store, notices := newTestPaginator(t, tr, Options{})

	if err := p.Expand(context.Background(), "c100"); err == nil {
		t.Fatal("Expand succeeded, want error")
	}
	cur, _ := store.Cursor("c100")
	if cur.State != Unloaded || cur.Fetched != 0 {
		t.Errorf("Got %+v, want unloaded and empty", cur)
	}
	if got := notices.all(); len(got) != 1 || got[0].TargetID != "c100" {
		t.Errorf("Got notices %+v", got)
	}

	// The reader can simply try again.
	fail = false
	if err := p.Expand(context.Background(), "c100"); err != nil {
		t.Fatal(err)
	}
	cur, _ = store.Cursor("c100")
	if cur.State != Loaded || cur.Visible != 1 {
		t.Errorf("Got %+v, want loaded with one visible reply", cur)
	}
}

func TestPaginator_ShowMoreFailureKeepsLoaded(t *testing.T) {
	tr := &testtransport{
		listReplies: func(t *testing.T, commentID string, limit, offset int) (ReplyPage, error) {
			if offset > 0 {
				return ReplyPage{}, errors.New("offline")
			}
			return ReplyPage{Total: 4, Replies: []Reply{{ID: "r1"}, {ID: "r2"}}}, nil
		},
	}
	p, store, _ := newTestPaginator(t, tr, Options{})

	_ = p.Expand(context.Background(), "c100")
	if err := p.ShowMore(context.Background(), "c100"); err == nil {
		t.Fatal("ShowMore succeeded, want error")
	}
	cur, _ := store.Cursor("c100")
	if diff := cmp.Diff(Cursor{Total: 4, Fetched: 2, Visible: 2, State: Loaded, Offset: 2}, cur); diff != "" {
		t.Errorf("Cursor mismatch (-want +got):\n%s", diff)
	}
}

// Any mix of expand and show-more keeps visible <= fetched <= total.
func TestPaginator_Monotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 50; run++ {
		n := rng.Intn(40)
		pageCap := rng.Intn(12)
		reportTotal := rng.Intn(2) == 0
		name := fmt.Sprintf("n=%d,cap=%d,total=%v", n, pageCap, reportTotal)
		t.Run(name, func(t *testing.T) {
			tr := &testtransport{listReplies: serverReplies(n, pageCap, reportTotal)}
			p, store, _ := newTestPaginator(t, tr, Options{PageSize: 1 + rng.Intn(10)})

			prev := Cursor{}
			for step := 0; step < 12; step++ {
				var err error
				if rng.Intn(3) == 0 {
					err = p.Expand(context.Background(), "c100")
				} else {
					err = p.ShowMore(context.Background(), "c100")
				}
				if err != nil {
					t.Fatal(err)
				}
				cur, _ := store.Cursor("c100")
				checkCursor(t, cur)
				if cur.Fetched < prev.Fetched || cur.Visible < prev.Visible {
					t.Errorf("Step %d: cursor went backwards from %+v to %+v", step, prev, cur)
				}
				if cur.Fetched > n {
					t.Errorf("Step %d: fetched %d of %d replies", step, cur.Fetched, n)
				}
				prev = cur
			}
		})
	}
}

func TestPaginator_LoadComments(t *testing.T) {
	var offsets []int
	tr := &testtransport{
		listComments: func(t *testing.T, postID string, limit, offset int) (CommentPage, error) {
			offsets = append(offsets, offset)
			if postID != "p1" {
				t.Errorf("Got post %q, want p1", postID)
			}
			page := CommentPage{Total: UnknownTotal}
			for i := offset; i < 3 && i < offset+limit; i++ {
				page.Comments = append(page.Comments, Comment{ID: fmt.Sprintf("c%d", i+1)})
			}
			return page, nil
		},
	}
	tr.T = t
	store := NewStore(0, slogt.New(t))
	store.OpenPost(Post{ID: "p1"})
	p := NewPaginator(store, tr, Options{Logger: slogt.New(t), PageSize: 2})

	for i := 0; i < 3; i++ {
		if err := p.LoadComments(context.Background(), "p1"); err != nil {
			t.Fatal(err)
		}
	}

	if diff := cmp.Diff([]string{"c1", "c2", "c3"}, commentIDs(t, store, "p1")); diff != "" {
		t.Errorf("Comment list mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 2}, offsets); diff != "" {
		t.Errorf("Fetch offsets mismatch (-want +got):\n%s", diff)
	}
	cur, _ := store.PostCursor("p1")
	if diff := cmp.Diff(Cursor{Total: 3, Fetched: 3, Visible: 3, State: Loaded, Offset: 3}, cur); diff != "" {
		t.Errorf("Cursor mismatch (-want +got):\n%s", diff)
	}

	if err := p.LoadComments(context.Background(), "gone"); !errors.Is(err, ErrNotResident) {
		t.Errorf("Got error %v, want ErrNotResident", err)
	}
}

func TestPaginator_RevealsWhenLoaded(t *testing.T) {
	tr := &testtransport{listReplies: serverReplies(25, 0, true)}
	p, store, _ := newTestPaginator(t, tr, Options{})

	var seen []Cursor
	cancel := store.Subscribe(func(string) {
		if cur, err := store.Cursor("c100"); err == nil {
			seen = append(seen, cur)
		}
	})
	defer cancel()

	for _, step := range []func(context.Context, string) error{p.Expand, p.ShowMore} {
		if err := step(context.Background(), "c100"); err != nil {
			t.Fatal(err)
		}
	}

	var revealed []int
	prev := 0
	for _, cur := range seen {
		if cur.Visible == prev {
			continue
		}
		if cur.State != Loaded {
			t.Errorf("Got %d replies revealed while %v", cur.Visible, cur.State)
		}
		revealed = append(revealed, cur.Visible)
		prev = cur.Visible
	}
	if diff := cmp.Diff([]int{3, 13}, revealed); diff != "" {
		t.Errorf("Reveal steps mismatch (-want +got):\n%s", diff)
	}
	if cur, _ := store.Cursor("c100"); cur.State != Loaded {
		t.Errorf("Got state %v after show more, want Loaded", cur.State)
	}
}
