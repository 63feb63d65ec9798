package comments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teahouse/tearoom/internal/validator"
)

// Coordinator applies comment, reply and like changes to the Store before the
// server confirms them, then reconciles or rolls them back.
//
// Every change has two halves. A Begin method validates and applies the
// local change on the caller's goroutine; the send func it returns performs
// the server call and confirms or rolls back. The Submit and ToggleLike
// methods run both halves in one call.
type Coordinator struct {
	store     *Store
	transport Transport
	val       *validator.Validator
	logger    *slog.Logger
	notify    func(Notice)
	now       func() time.Time

	seq atomic.Int64

	mu      sync.Mutex
	pending map[string]PendingMutation // correlation key -> mutation
	likes   map[string]*likeFlight     // target ID -> toggles in flight
}

// likeFlight tracks the like toggles in flight on one target.
type likeFlight struct {
	acked    bool  // last state the server accepted, or the state before the first toggle
	ackedSeq int64 // toggle that set acked
	seq      int64 // newest toggle
	inflight int
}

// NewCoordinator returns a Coordinator mutating store and talking to tr.
func NewCoordinator(store *Store, tr Transport, opts Options) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		store:     store,
		transport: tr,
		val:       validator.New(),
		logger:    opts.Logger,
		notify:    opts.Notify,
		now:       opts.Now,
		pending:   make(map[string]PendingMutation),
		likes:     make(map[string]*likeFlight),
	}
}

// tempID returns a placeholder identifier. The counter never goes backwards,
// so a placeholder ID is never handed out twice in a session.
func (c *Coordinator) tempID() string {
	return fmt.Sprintf("tmp-%d", c.seq.Add(1))
}

func (c *Coordinator) track(kind MutationKind, targetID string) string {
	key := uuid.NewString()
	c.mu.Lock()
	c.pending[key] = PendingMutation{
		Kind:           kind,
		TargetID:       targetID,
		SubmittedAt:    c.now(),
		CorrelationKey: key,
	}
	c.mu.Unlock()
	return key
}

func (c *Coordinator) settle(key string) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

// Pending lists the mutations still waiting for the server, oldest first.
func (c *Coordinator) Pending() []PendingMutation {
	c.mu.Lock()
	out := make([]PendingMutation, 0, len(c.pending))
	for _, m := range c.pending {
		out = append(out, m)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

func (c *Coordinator) validate(draft NewComment) error {
	if errs := c.val.ValidateStruct(draft); len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidDraft, errs[0])
	}
	return nil
}

func (c *Coordinator) publish(n Notice) {
	if c.notify != nil {
		c.notify(n)
	}
}

// SubmitComment shows a placeholder comment on the post right away and
// creates it on the server. On failure the placeholder is removed and a
// Notice carrying body is published.
func (c *Coordinator) SubmitComment(ctx context.Context, postID, body string, author User) (Comment, error) {
	send, err := c.BeginComment(postID, body, author)
	if err != nil {
		return Comment{}, err
	}
	return send(ctx)
}

// BeginComment validates body and appends a placeholder comment to the post.
// The returned send creates the comment on the server.
func (c *Coordinator) BeginComment(postID, body string, author User) (send func(context.Context) (Comment, error), err error) {
	const op = "submit_comment"
	draft := NewComment{PostID: postID, Author: author, Content: strings.TrimSpace(body)}
	if err := c.validate(draft); err != nil {
		c.publish(Notice{Op: op, TargetID: postID, Draft: body, Err: err})
		return nil, err
	}

	placeholder := Comment{
		ID:         c.tempID(),
		PostID:     postID,
		AuthorID:   author.ID,
		AuthorName: author.DisplayName,
		Body:       draft.Content,
		CreatedAt:  c.now(),
		Generation: GenerationComment,
		Temporary:  true,
	}
	if err := c.store.UpsertComment(postID, placeholder); err != nil {
		return nil, fmt.Errorf("submit comment: %w", err)
	}
	_ = c.store.AddCommentCount(postID, 1)
	key := c.track(CreateComment, placeholder.ID)

	return func(ctx context.Context) (Comment, error) {
		defer c.settle(key)

		created, err := c.transport.CreateComment(ctx, draft)
		if err != nil {
			if rerr := c.store.RemoveComment(postID, placeholder.ID); rerr == nil {
				_ = c.store.AddCommentCount(postID, -1)
			}
			c.logger.Warn("Comment rolled back", "post_id", postID, "temp_id", placeholder.ID, "error", err.Error())
			c.publish(Notice{Op: op, TargetID: postID, Draft: body, Err: err})
			return Comment{}, fmt.Errorf("create comment: %w", err)
		}

		confirmed := placeholder
		confirmed.ID = created.ID
		confirmed.CreatedAt = created.CreatedAt
		confirmed.Temporary = false
		if err := c.store.ConfirmComment(postID, placeholder.ID, confirmed); err != nil {
			if !errors.Is(err, ErrNotResident) {
				return confirmed, fmt.Errorf("confirm comment: %w", err)
			}
			c.logger.Debug("Dropping comment confirmation", "post_id", postID, "comment_id", created.ID)
		}
		return confirmed, nil
	}, nil
}

// SubmitReply is SubmitComment for a reply to commentID. The placeholder is
// appended to the comment's reply list and revealed.
func (c *Coordinator) SubmitReply(ctx context.Context, commentID, body string, author User) (Reply, error) {
	send, err := c.BeginReply(commentID, body, author)
	if err != nil {
		return Reply{}, err
	}
	return send(ctx)
}

// BeginReply is BeginComment for a reply to commentID.
func (c *Coordinator) BeginReply(commentID, body string, author User) (send func(context.Context) (Reply, error), err error) {
	const op = "submit_reply"
	parent, err := c.store.Comment(commentID)
	if err != nil {
		return nil, fmt.Errorf("submit reply: %w", err)
	}
	if parent.Temporary {
		err := fmt.Errorf("comment %s: %w", commentID, ErrPending)
		c.publish(Notice{Op: op, TargetID: commentID, Draft: body, Err: err})
		return nil, err
	}

	draft := NewComment{
		PostID:          parent.PostID,
		Author:          author,
		Content:         strings.TrimSpace(body),
		ParentCommentID: commentID,
	}
	if err := c.validate(draft); err != nil {
		c.publish(Notice{Op: op, TargetID: commentID, Draft: body, Err: err})
		return nil, err
	}

	placeholder := Reply{
		ID:         c.tempID(),
		CommentID:  commentID,
		AuthorID:   author.ID,
		AuthorName: author.DisplayName,
		Body:       draft.Content,
		CreatedAt:  c.now(),
		Generation: GenerationReply,
		Temporary:  true,
	}
	if err := c.store.AppendReplies(commentID, []Reply{placeholder}, UnknownTotal); err != nil {
		return nil, fmt.Errorf("submit reply: %w", err)
	}
	key := c.track(CreateReply, placeholder.ID)

	return func(ctx context.Context) (Reply, error) {
		defer c.settle(key)

		created, err := c.transport.CreateComment(ctx, draft)
		if err != nil {
			_ = c.store.RemoveReply(commentID, placeholder.ID)
			c.logger.Warn("Reply rolled back", "comment_id", commentID, "temp_id", placeholder.ID, "error", err.Error())
			c.publish(Notice{Op: op, TargetID: commentID, Draft: body, Err: err})
			return Reply{}, fmt.Errorf("create reply: %w", err)
		}

		confirmed := placeholder
		confirmed.ID = created.ID
		confirmed.CreatedAt = created.CreatedAt
		confirmed.Temporary = false
		if err := c.store.ConfirmReply(commentID, placeholder.ID, confirmed); err != nil {
			if !errors.Is(err, ErrNotResident) {
				return confirmed, fmt.Errorf("confirm reply: %w", err)
			}
			c.logger.Debug("Dropping reply confirmation", "comment_id", commentID, "reply_id", created.ID)
		}
		return confirmed, nil
	}, nil
}

// ToggleLike flips the current user's like on a comment or reply and sends
// the matching like or unlike call. It returns the resulting state.
func (c *Coordinator) ToggleLike(ctx context.Context, targetID string) (bool, error) {
	liked, send, err := c.BeginToggleLike(targetID)
	if err != nil {
		return liked, err
	}
	return send(ctx)
}

// BeginToggleLike flips the local like flag and returns the requested state.
//
// Taps are never blocked by earlier in-flight calls: each one flips the latest
// local flag. Server responses only acknowledge. When the newest toggle fails,
// or the last one in flight settles, the flag is set to the last state the
// server accepted.
func (c *Coordinator) BeginToggleLike(targetID string) (liked bool, send func(context.Context) (bool, error), err error) {
	const op = "toggle_like"

	c.mu.Lock()
	target, err := c.store.Target(targetID)
	if err != nil {
		c.mu.Unlock()
		return false, nil, fmt.Errorf("toggle like: %w", err)
	}
	if target.Temporary {
		c.mu.Unlock()
		err := fmt.Errorf("target %s: %w", targetID, ErrPending)
		c.publish(Notice{Op: op, TargetID: targetID, Err: err})
		return target.Liked, nil, err
	}
	desired := !target.Liked
	postID, changed, err := c.store.setLikedQuiet(targetID, desired)
	if err != nil {
		c.mu.Unlock()
		return target.Liked, nil, fmt.Errorf("toggle like: %w", err)
	}
	f := c.likes[targetID]
	if f == nil {
		f = &likeFlight{acked: target.Liked}
		c.likes[targetID] = f
	}
	f.seq++
	f.inflight++
	seq := f.seq
	key := uuid.NewString()
	c.pending[key] = PendingMutation{
		Kind:           ToggleLike,
		TargetID:       targetID,
		SubmittedAt:    c.now(),
		CorrelationKey: key,
	}
	c.mu.Unlock()
	if changed {
		c.store.notify(postID)
	}

	return desired, func(ctx context.Context) (bool, error) {
		var err error
		if desired {
			err = c.transport.Like(ctx, targetID)
		} else {
			err = c.transport.Unlike(ctx, targetID)
		}

		c.mu.Lock()
		delete(c.pending, key)
		f.inflight--
		if err == nil && seq > f.ackedSeq {
			f.acked, f.ackedSeq = desired, seq
		}
		result := desired
		var (
			postID  string
			changed bool
			rerr    error
		)
		if (err != nil && seq == f.seq) || f.inflight == 0 {
			result = f.acked
			postID, changed, rerr = c.store.setLikedQuiet(targetID, f.acked)
		}
		if f.inflight == 0 {
			delete(c.likes, targetID)
		}
		c.mu.Unlock()

		if rerr != nil {
			c.logger.Debug("Dropping like reconcile", "target_id", targetID, "error", rerr.Error())
		} else if changed {
			c.store.notify(postID)
		}
		if err != nil {
			c.logger.Warn("Like toggle failed", "target_id", targetID, "liked", desired, "restored", result, "error", err.Error())
			c.publish(Notice{Op: op, TargetID: targetID, Err: err})
			return result, fmt.Errorf("toggle like: %w", err)
		}
		return desired, nil
	}, nil
}
