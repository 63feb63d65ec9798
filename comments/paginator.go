package comments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Paginator fetches replies only when a comment is expanded, and reveals
// them in batches. Each comment is paged independently.
type Paginator struct {
	store     *Store
	transport Transport
	logger    *slog.Logger
	notify    func(Notice)

	pageSize       int
	initialVisible int
	step           int
}

// NewPaginator returns a Paginator filling store from tr.
func NewPaginator(store *Store, tr Transport, opts Options) *Paginator {
	opts = opts.withDefaults()
	return &Paginator{
		store:          store,
		transport:      tr,
		logger:         opts.Logger,
		notify:         opts.Notify,
		pageSize:       opts.PageSize,
		initialVisible: opts.InitialVisible,
		step:           opts.ShowMoreStep,
	}
}

func (p *Paginator) publish(n Notice) {
	if p.notify != nil {
		p.notify(n)
	}
}

// pageTotal returns the server total implied by a page. A short page ends the
// list even when the server does not report a total.
func (p *Paginator) pageTotal(offset, n, total int) int {
	if total == UnknownTotal && n < p.pageSize {
		return offset + n
	}
	return total
}

// fetchReplies loads the next page for a comment already moved to Loading.
// On failure the list goes back to state prev.
func (p *Paginator) fetchReplies(ctx context.Context, commentID string, cur Cursor, prev LoadState) error {
	page, err := p.transport.ListReplies(ctx, commentID, p.pageSize, cur.Offset)
	if err != nil {
		_ = p.store.EndLoad(commentID, prev)
		p.logger.Warn("Could not list replies", "comment_id", commentID, "offset", cur.Offset, "error", err.Error())
		p.publish(Notice{Op: "list_replies", TargetID: commentID, Err: err})
		return fmt.Errorf("list replies: %w", err)
	}
	total := p.pageTotal(cur.Offset, len(page.Replies), page.Total)
	if err := p.store.AppendReplies(commentID, page.Replies, total); err != nil {
		if errors.Is(err, ErrNotResident) {
			p.logger.Debug("Dropping reply page", "comment_id", commentID, "count", len(page.Replies))
		}
		return fmt.Errorf("append replies: %w", err)
	}
	p.logger.Debug("Got replies", "comment_id", commentID, "count", len(page.Replies), "total", total)
	return nil
}

// Expand loads the first page of a comment's replies and reveals up to the
// initial batch. It does nothing while a fetch is in flight or once loaded.
func (p *Paginator) Expand(ctx context.Context, commentID string) error {
	cur, ok, err := p.store.BeginLoad(commentID, Unloaded)
	if err != nil {
		return fmt.Errorf("expand: %w", err)
	}
	if !ok {
		return nil
	}
	if err := p.fetchReplies(ctx, commentID, cur, Unloaded); err != nil {
		return err
	}
	after, err := p.store.Cursor(commentID)
	if err != nil {
		return fmt.Errorf("expand: %w", err)
	}
	if err := p.store.FinishLoad(commentID, min(p.initialVisible, after.Fetched), Loaded); err != nil {
		return fmt.Errorf("expand: %w", err)
	}
	return nil
}

// ShowMore reveals up to another batch of replies, fetching the next page
// first when the batch would run past what is fetched and the server has
// more. An unloaded comment is expanded instead.
func (p *Paginator) ShowMore(ctx context.Context, commentID string) error {
	cur, err := p.store.Cursor(commentID)
	if err != nil {
		return fmt.Errorf("show more: %w", err)
	}
	switch cur.State {
	case Unloaded:
		return p.Expand(ctx, commentID)
	case Loading:
		return nil
	}

	target := cur.Visible + p.step
	if target < cur.Fetched || !cur.More() {
		if err := p.store.SetVisibleCount(commentID, target); err != nil {
			return fmt.Errorf("show more: %w", err)
		}
		return nil
	}

	next, ok, err := p.store.BeginLoad(commentID, Loaded)
	if err != nil {
		return fmt.Errorf("show more: %w", err)
	}
	if !ok {
		return nil
	}
	if err := p.fetchReplies(ctx, commentID, next, Loaded); err != nil {
		return err
	}
	if err := p.store.FinishLoad(commentID, target, Loaded); err != nil {
		return fmt.Errorf("show more: %w", err)
	}
	return nil
}

// LoadComments fetches the next page of top-level comments for a post. It
// does nothing while a fetch is in flight or when every comment is loaded.
func (p *Paginator) LoadComments(ctx context.Context, postID string) error {
	cur, ok, err := p.store.BeginCommentsLoad(postID)
	if err != nil {
		return fmt.Errorf("load comments: %w", err)
	}
	if !ok {
		return nil
	}

	page, err := p.transport.ListComments(ctx, postID, p.pageSize, cur.Offset)
	if err != nil {
		_ = p.store.EndCommentsLoad(postID, cur.State)
		p.logger.Warn("Could not list comments", "post_id", postID, "offset", cur.Offset, "error", err.Error())
		p.publish(Notice{Op: "list_comments", TargetID: postID, Err: err})
		return fmt.Errorf("list comments: %w", err)
	}
	total := p.pageTotal(cur.Offset, len(page.Comments), page.Total)
	if err := p.store.MergeComments(postID, page.Comments, total); err != nil {
		return fmt.Errorf("merge comments: %w", err)
	}
	p.logger.Debug("Got comments", "post_id", postID, "count", len(page.Comments), "total", total)
	return p.store.EndCommentsLoad(postID, Loaded)
}
