package comments

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Options configures the comment engine. Zero values select the defaults.
type Options struct {
	Logger *slog.Logger
	// Notify receives a Notice for every rolled back action.
	Notify func(Notice)
	Now    func() time.Time

	MaxPosts       int           // default DefaultMaxPosts
	PageSize       int           // default 10
	InitialVisible int           // default 3
	ShowMoreStep   int           // default 10
	Timeout        time.Duration // default 15s, per Thread action
	NoticeBuffer   int           // default 16
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.MaxPosts <= 0 {
		o.MaxPosts = DefaultMaxPosts
	}
	if o.PageSize <= 0 {
		o.PageSize = 10
	}
	if o.InitialVisible <= 0 {
		o.InitialVisible = 3
	}
	if o.ShowMoreStep <= 0 {
		o.ShowMoreStep = 10
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.NoticeBuffer <= 0 {
		o.NoticeBuffer = 16
	}
	return o
}

// Thread is the surface offered to the UI. Its actions return immediately and
// run in the background; the UI learns about results through Store
// subscriptions and Notices only.
type Thread struct {
	Store       *Store
	Coordinator *Coordinator
	Paginator   *Paginator

	identity Identity
	notices  chan Notice
	timeout  time.Duration
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewThread wires a Store, Coordinator and Paginator around tr. Notices are
// delivered on Notices(); opts.Notify, if set, is called as well.
func NewThread(tr Transport, identity Identity, opts Options) *Thread {
	opts = opts.withDefaults()
	t := &Thread{
		identity: identity,
		notices:  make(chan Notice, opts.NoticeBuffer),
		timeout:  opts.Timeout,
		logger:   opts.Logger,
	}
	notify := opts.Notify
	opts.Notify = func(n Notice) {
		t.publish(n)
		if notify != nil {
			notify(n)
		}
	}
	t.Store = NewStore(opts.MaxPosts, opts.Logger)
	t.Coordinator = NewCoordinator(t.Store, tr, opts)
	t.Paginator = NewPaginator(t.Store, tr, opts)
	return t
}

// Notices returns the channel of rollback notices. Notices are dropped when
// nobody keeps up with the channel.
func (t *Thread) Notices() <-chan Notice {
	return t.notices
}

func (t *Thread) publish(n Notice) {
	select {
	case t.notices <- n:
	default:
		t.logger.Warn("Notice dropped", "op", n.Op, "target_id", n.TargetID)
	}
}

func (t *Thread) run(op string, fn func(ctx context.Context) error) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			t.failed(op, err)
		}
	}()
}

func (t *Thread) failed(op string, err error) {
	t.logger.Debug("Action finished with error", "op", op, "error", err.Error())
}

// Wait blocks until every action started so far has settled.
func (t *Thread) Wait() {
	t.wg.Wait()
}

// OpenPost makes a post resident and loads its first page of comments.
func (t *Thread) OpenPost(p Post) {
	t.Store.OpenPost(p)
	t.LoadComments(p.ID)
}

// ClosePost evicts a post. Responses for it that arrive later are dropped.
func (t *Thread) ClosePost(postID string) {
	t.Store.ClosePost(postID)
}

// SubmitComment shows the placeholder before it returns, so comments keep
// the order they were submitted in. Only the server call runs in the
// background.
func (t *Thread) SubmitComment(postID, body string) {
	send, err := t.Coordinator.BeginComment(postID, body, t.identity.CurrentUser())
	if err != nil {
		t.failed("submit_comment", err)
		return
	}
	t.run("submit_comment", func(ctx context.Context) error {
		_, err := send(ctx)
		return err
	})
}

func (t *Thread) SubmitReply(commentID, body string) {
	send, err := t.Coordinator.BeginReply(commentID, body, t.identity.CurrentUser())
	if err != nil {
		t.failed("submit_reply", err)
		return
	}
	t.run("submit_reply", func(ctx context.Context) error {
		_, err := send(ctx)
		return err
	})
}

func (t *Thread) ToggleLike(targetID string) {
	_, send, err := t.Coordinator.BeginToggleLike(targetID)
	if err != nil {
		t.failed("toggle_like", err)
		return
	}
	t.run("toggle_like", func(ctx context.Context) error {
		_, err := send(ctx)
		return err
	})
}

func (t *Thread) Expand(commentID string) {
	t.run("expand", func(ctx context.Context) error {
		return t.Paginator.Expand(ctx, commentID)
	})
}

func (t *Thread) ShowMore(commentID string) {
	t.run("show_more", func(ctx context.Context) error {
		return t.Paginator.ShowMore(ctx, commentID)
	})
}

func (t *Thread) LoadComments(postID string) {
	t.run("load_comments", func(ctx context.Context) error {
		return t.Paginator.LoadComments(ctx, postID)
	})
}
