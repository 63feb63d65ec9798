package comments

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"
)

// DefaultMaxPosts bounds how many posts a Store keeps resident.
const DefaultMaxPosts = 64

type postEntry struct {
	post     Post
	comments []*thread
	cursor   Cursor
}

type thread struct {
	postID  string
	comment Comment
	replies []Reply
	cursor  Cursor
	// unlisted holds replies confirmed here that no fetched page has
	// listed yet.
	unlisted map[string]bool
}

func newCursor() Cursor {
	return Cursor{Total: UnknownTotal}
}

// Store is the in-memory source of truth for the comment trees of open posts.
// A Store is safe for concurrent use; every method applies its change fully
// before any other method can observe the state.
type Store struct {
	mu         sync.Mutex
	posts      *lru.Cache[string, *postEntry]
	threads    map[string]*thread // comment ID -> thread
	replyOwner map[string]string  // reply ID -> comment ID
	listeners  map[int]func(postID string)
	nextID     int
	logger     *slog.Logger
}

// NewStore creates a Store holding at most maxPosts posts. Opening a post
// beyond that evicts the least recently used one.
func NewStore(maxPosts int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if maxPosts <= 0 {
		maxPosts = DefaultMaxPosts
	}
	s := &Store{
		threads:    make(map[string]*thread),
		replyOwner: make(map[string]string),
		listeners:  make(map[int]func(string)),
		logger:     logger,
	}
	// NewWithEvict only fails for a non-positive size.
	s.posts, _ = lru.NewWithEvict[string, *postEntry](maxPosts, s.evicted)
	return s
}

// evicted drops the indexes of a post leaving the cache. It runs with s.mu
// held since the cache is only touched under the lock.
func (s *Store) evicted(postID string, p *postEntry) {
	for _, t := range p.comments {
		s.dropThread(t)
	}
	s.logger.Debug("post evicted", "post_id", postID, "comments", len(p.comments))
}

func (s *Store) dropThread(t *thread) {
	delete(s.threads, t.comment.ID)
	for _, r := range t.replies {
		delete(s.replyOwner, r.ID)
	}
}

// Subscribe registers fn to be called with the post ID after every change to
// that post. The returned func removes the subscription.
func (s *Store) Subscribe(fn func(postID string)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) notify(postID string) {
	s.mu.Lock()
	fns := make([]func(string), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(postID)
	}
}

// OpenPost makes a post resident. Reopening a resident post refreshes its
// metadata and keeps its comments.
func (s *Store) OpenPost(p Post) {
	s.mu.Lock()
	if e, ok := s.posts.Get(p.ID); ok {
		e.post = p
	} else {
		s.posts.Add(p.ID, &postEntry{post: p, cursor: newCursor()})
	}
	s.mu.Unlock()
	s.notify(p.ID)
}

// ClosePost evicts a post and everything cached under it.
func (s *Store) ClosePost(postID string) {
	s.mu.Lock()
	removed := s.posts.Remove(postID)
	s.mu.Unlock()
	if removed {
		s.notify(postID)
	}
}

// Resident reports whether the post is held by the store.
func (s *Store) Resident(postID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts.Contains(postID)
}

func (s *Store) post(postID string) (*postEntry, error) {
	e, ok := s.posts.Peek(postID)
	if !ok {
		return nil, fmt.Errorf("post %s: %w", postID, ErrNotResident)
	}
	return e, nil
}

func (s *Store) thread(commentID string) (*thread, error) {
	t, ok := s.threads[commentID]
	if !ok {
		return nil, fmt.Errorf("comment %s: %w", commentID, ErrNotResident)
	}
	return t, nil
}

func syncPostCursor(e *postEntry) {
	e.cursor.Fetched = len(e.comments)
	e.cursor.Visible = e.cursor.Fetched
	if e.cursor.Total != UnknownTotal && e.cursor.Total < e.cursor.Fetched {
		e.cursor.Total = e.cursor.Fetched
	}
}

func syncThreadCursor(t *thread) {
	t.cursor.Fetched = len(t.replies)
	if t.cursor.Total != UnknownTotal && t.cursor.Total < t.cursor.Fetched {
		t.cursor.Total = t.cursor.Fetched
	}
	t.cursor.Visible = min(max(t.cursor.Visible, 0), t.cursor.Fetched)
}

func indexOfComment(list []*thread, id string) int {
	_, i, ok := lo.FindIndexOf(list, func(t *thread) bool { return t.comment.ID == id })
	if !ok {
		return -1
	}
	return i
}

func indexOfReply(list []Reply, id string) int {
	_, i, ok := lo.FindIndexOf(list, func(r Reply) bool { return r.ID == id })
	if !ok {
		return -1
	}
	return i
}

// UpsertComment inserts c at the end of the post's comment list, or replaces
// the entry with the same ID in place. Replies already cached for the
// comment are kept.
func (s *Store) UpsertComment(postID string, c Comment) error {
	s.mu.Lock()
	err := s.upsertComment(postID, c)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(postID)
	return nil
}

func (s *Store) upsertComment(postID string, c Comment) error {
	e, err := s.post(postID)
	if err != nil {
		return err
	}
	c.PostID = postID
	c.Generation = GenerationComment
	if i := indexOfComment(e.comments, c.ID); i >= 0 {
		e.comments[i].comment = c
		return nil
	}
	t := &thread{postID: postID, comment: c, cursor: newCursor()}
	e.comments = append(e.comments, t)
	s.threads[c.ID] = t
	if c.Temporary && e.cursor.Total != UnknownTotal {
		e.cursor.Total++
	}
	syncPostCursor(e)
	return nil
}

// ConfirmComment replaces the placeholder tempID with the confirmed comment
// c, keeping its list position. A copy of c already fetched from the server
// is dropped so the confirmed ID appears once.
func (s *Store) ConfirmComment(postID, tempID string, c Comment) error {
	s.mu.Lock()
	err := s.confirmComment(postID, tempID, c)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(postID)
	return nil
}

func (s *Store) confirmComment(postID, tempID string, c Comment) error {
	e, err := s.post(postID)
	if err != nil {
		return err
	}
	i := indexOfComment(e.comments, tempID)
	if i < 0 {
		return fmt.Errorf("comment %s: %w", tempID, ErrNotResident)
	}
	if j := indexOfComment(e.comments, c.ID); j >= 0 && j != i {
		dup := e.comments[j]
		s.dropThread(dup)
		e.comments = slices.Delete(e.comments, j, j+1)
		if j < i {
			i--
		}
	}
	t := e.comments[i]
	delete(s.threads, tempID)
	c.PostID = postID
	c.Generation = GenerationComment
	c.Temporary = false
	t.comment = c
	s.threads[c.ID] = t
	for k := range t.replies {
		t.replies[k].CommentID = c.ID
	}
	syncPostCursor(e)
	return nil
}

// MergeComments merges a fetched page of top-level comments into the post,
// deduplicating by ID, and records the server total when known.
func (s *Store) MergeComments(postID string, page []Comment, total int) error {
	s.mu.Lock()
	err := s.mergeComments(postID, page, total)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(postID)
	return nil
}

func (s *Store) mergeComments(postID string, page []Comment, total int) error {
	e, err := s.post(postID)
	if err != nil {
		return err
	}
	for _, c := range page {
		c.Temporary = false
		if err := s.upsertComment(postID, c); err != nil {
			return err
		}
	}
	e.cursor.Offset += len(page)
	if total != UnknownTotal {
		e.cursor.Total = total
	}
	syncPostCursor(e)
	return nil
}

// RemoveComment drops a comment and its replies from the post.
func (s *Store) RemoveComment(postID, commentID string) error {
	s.mu.Lock()
	err := s.removeComment(postID, commentID)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(postID)
	return nil
}

func (s *Store) removeComment(postID, commentID string) error {
	e, err := s.post(postID)
	if err != nil {
		return err
	}
	i := indexOfComment(e.comments, commentID)
	if i < 0 {
		return fmt.Errorf("comment %s: %w", commentID, ErrNotFound)
	}
	t := e.comments[i]
	s.dropThread(t)
	e.comments = slices.Delete(e.comments, i, i+1)
	if t.comment.Temporary && e.cursor.Total != UnknownTotal {
		e.cursor.Total--
	}
	syncPostCursor(e)
	return nil
}

// AddCommentCount adjusts the post's aggregate comment count by delta.
func (s *Store) AddCommentCount(postID string, delta int) error {
	s.mu.Lock()
	e, err := s.post(postID)
	if err == nil {
		e.post.CommentCount = max(e.post.CommentCount+delta, 0)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(postID)
	return nil
}

// AppendReplies merges replies into the comment's reply list in the given
// order, deduplicating by ID. Fetched replies advance the server offset.
// A temporary reply counts towards the known total and reveals the thread up
// to and including itself.
func (s *Store) AppendReplies(commentID string, replies []Reply, total int) error {
	s.mu.Lock()
	postID, err := s.appendReplies(commentID, replies, total)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(postID)
	return nil
}

func (s *Store) appendReplies(commentID string, replies []Reply, total int) (string, error) {
	t, err := s.thread(commentID)
	if err != nil {
		return "", err
	}
	if total != UnknownTotal {
		t.cursor.Total = total
	}
	for _, r := range replies {
		r.CommentID = commentID
		r.Generation = GenerationReply
		if !r.Temporary {
			t.cursor.Offset++
		}
		i := indexOfReply(t.replies, r.ID)
		switch {
		case i >= 0 && t.unlisted[r.ID]:
			// First listing of a reply confirmed here: it moves from where it
			// was submitted to where the server orders it.
			delete(t.unlisted, r.ID)
			t.replies = slices.Delete(t.replies, i, i+1)
			if i < t.cursor.Visible {
				t.cursor.Visible--
			}
		case i >= 0:
			t.replies[i] = r
			continue
		}
		t.replies = append(t.replies, r)
		s.replyOwner[r.ID] = commentID
		if r.Temporary {
			t.cursor.Visible = len(t.replies)
			if t.cursor.Total != UnknownTotal {
				t.cursor.Total++
			}
		}
	}
	syncThreadCursor(t)
	return t.postID, nil
}

// ConfirmReply replaces the reply placeholder tempID with r in place.
func (s *Store) ConfirmReply(commentID, tempID string, r Reply) error {
	s.mu.Lock()
	postID, err := s.confirmReply(commentID, tempID, r)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(postID)
	return nil
}

func (s *Store) confirmReply(commentID, tempID string, r Reply) (string, error) {
	t, err := s.thread(commentID)
	if err != nil {
		return "", err
	}
	i := indexOfReply(t.replies, tempID)
	if i < 0 {
		return "", fmt.Errorf("reply %s: %w", tempID, ErrNotResident)
	}
	delete(s.replyOwner, tempID)
	if j := indexOfReply(t.replies, r.ID); j >= 0 && j != i {
		// A fetched page already listed the reply where the server orders it.
		t.replies = slices.Delete(t.replies, i, i+1)
		if i < t.cursor.Visible {
			t.cursor.Visible--
		}
		syncThreadCursor(t)
		return t.postID, nil
	}
	r.CommentID = commentID
	r.Generation = GenerationReply
	r.Temporary = false
	t.replies[i] = r
	s.replyOwner[r.ID] = commentID
	if t.unlisted == nil {
		t.unlisted = make(map[string]bool)
	}
	t.unlisted[r.ID] = true
	syncThreadCursor(t)
	return t.postID, nil
}

// RemoveReply drops a reply from the comment's reply list.
func (s *Store) RemoveReply(commentID, replyID string) error {
	s.mu.Lock()
	postID, err := s.removeReply(commentID, replyID)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(postID)
	return nil
}

func (s *Store) removeReply(commentID, replyID string) (string, error) {
	t, err := s.thread(commentID)
	if err != nil {
		return "", err
	}
	i := indexOfReply(t.replies, replyID)
	if i < 0 {
		return "", fmt.Errorf("reply %s: %w", replyID, ErrNotFound)
	}
	r := t.replies[i]
	t.replies = slices.Delete(t.replies, i, i+1)
	delete(s.replyOwner, replyID)
	switch {
	case r.Temporary:
		if t.cursor.Total != UnknownTotal {
			t.cursor.Total--
		}
	case t.unlisted[replyID]:
		delete(t.unlisted, replyID)
	case t.cursor.Offset > 0:
		t.cursor.Offset--
	}
	if i < t.cursor.Visible {
		t.cursor.Visible--
	}
	syncThreadCursor(t)
	return t.postID, nil
}

// SetVisibleCount sets how many replies are revealed, clamped to
// [0, fetched].
func (s *Store) SetVisibleCount(commentID string, n int) error {
	s.mu.Lock()
	t, err := s.thread(commentID)
	if err == nil {
		t.cursor.Visible = min(max(n, 0), t.cursor.Fetched)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(t.postID)
	return nil
}

// SetLiked sets the current user's like flag on a comment or reply. The like
// count moves by exactly one, and only when the flag actually changes.
func (s *Store) SetLiked(targetID string, liked bool) (changed bool, err error) {
	s.mu.Lock()
	postID, changed, err := s.setLiked(targetID, liked)
	s.mu.Unlock()
	if err != nil || !changed {
		return false, err
	}
	s.notify(postID)
	return true, nil
}

// setLikedQuiet is SetLiked without the change notification. The caller
// notifies postID once it holds no locks of its own.
func (s *Store) setLikedQuiet(targetID string, liked bool) (postID string, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLiked(targetID, liked)
}

func (s *Store) setLiked(targetID string, liked bool) (string, bool, error) {
	delta := 1
	if !liked {
		delta = -1
	}
	if t, ok := s.threads[targetID]; ok {
		if t.comment.Liked == liked {
			return t.postID, false, nil
		}
		t.comment.Liked = liked
		t.comment.Likes = max(t.comment.Likes+delta, 0)
		return t.postID, true, nil
	}
	commentID, ok := s.replyOwner[targetID]
	if !ok {
		return "", false, fmt.Errorf("target %s: %w", targetID, ErrNotResident)
	}
	t := s.threads[commentID]
	i := indexOfReply(t.replies, targetID)
	if t.replies[i].Liked == liked {
		return t.postID, false, nil
	}
	t.replies[i].Liked = liked
	t.replies[i].Likes = max(t.replies[i].Likes+delta, 0)
	return t.postID, true, nil
}

// A Target describes the like state of a comment or reply.
type Target struct {
	PostID    string
	Liked     bool
	Likes     int
	Temporary bool
}

// Target looks up a comment or reply by ID.
func (s *Store) Target(id string) (Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[id]; ok {
		return Target{PostID: t.postID, Liked: t.comment.Liked, Likes: t.comment.Likes, Temporary: t.comment.Temporary}, nil
	}
	commentID, ok := s.replyOwner[id]
	if !ok {
		return Target{}, fmt.Errorf("target %s: %w", id, ErrNotResident)
	}
	t := s.threads[commentID]
	r := t.replies[indexOfReply(t.replies, id)]
	return Target{PostID: t.postID, Liked: r.Liked, Likes: r.Likes, Temporary: r.Temporary}, nil
}

// Comment returns a cached comment.
func (s *Store) Comment(id string) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.thread(id)
	if err != nil {
		return Comment{}, err
	}
	return t.comment, nil
}

// Cursor returns the reply cursor of a comment.
func (s *Store) Cursor(commentID string) (Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.thread(commentID)
	if err != nil {
		return Cursor{}, err
	}
	return t.cursor, nil
}

// PostCursor returns the top-level comment cursor of a post.
func (s *Store) PostCursor(postID string) (Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.post(postID)
	if err != nil {
		return Cursor{}, err
	}
	return e.cursor, nil
}

// BeginLoad moves the comment's reply list from state from to Loading. It
// reports false, leaving the state untouched, when the list is in any other
// state, which keeps at most one fetch in flight per comment.
func (s *Store) BeginLoad(commentID string, from LoadState) (Cursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.thread(commentID)
	if err != nil {
		return Cursor{}, false, err
	}
	if t.cursor.State != from {
		return t.cursor, false, nil
	}
	t.cursor.State = Loading
	return t.cursor, true, nil
}

// EndLoad sets the state of a comment's reply list once a fetch settles.
func (s *Store) EndLoad(commentID string, state LoadState) error {
	s.mu.Lock()
	t, err := s.thread(commentID)
	if err == nil {
		t.cursor.State = state
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(t.postID)
	return nil
}

// FinishLoad reveals visible replies, clamped to [0, fetched], and sets the
// list state in a single change.
func (s *Store) FinishLoad(commentID string, visible int, state LoadState) error {
	s.mu.Lock()
	t, err := s.thread(commentID)
	if err == nil {
		t.cursor.Visible = min(max(visible, 0), t.cursor.Fetched)
		t.cursor.State = state
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(t.postID)
	return nil
}

// BeginCommentsLoad marks the post's comment list as Loading unless a fetch
// is already in flight or every comment has been fetched. The returned
// cursor is the state before the call.
func (s *Store) BeginCommentsLoad(postID string) (Cursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.post(postID)
	if err != nil {
		return Cursor{}, false, err
	}
	prev := e.cursor
	if prev.State == Loading || (prev.State == Loaded && !prev.More()) {
		return prev, false, nil
	}
	e.cursor.State = Loading
	return prev, true, nil
}

// EndCommentsLoad sets the state of the post's comment list.
func (s *Store) EndCommentsLoad(postID string, state LoadState) error {
	s.mu.Lock()
	e, err := s.post(postID)
	if err == nil {
		e.cursor.State = state
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(postID)
	return nil
}

// Snapshot returns a deep copy of everything cached for a post.
func (s *Store) Snapshot(postID string) (PostSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.posts.Peek(postID)
	if !ok {
		return PostSnapshot{}, false
	}
	return PostSnapshot{
		Post:   e.post,
		Cursor: e.cursor,
		Comments: lo.Map(e.comments, func(t *thread, _ int) CommentView {
			return CommentView{
				Comment: t.comment,
				Replies: slices.Clone(t.replies),
				Cursor:  t.cursor,
			}
		}),
	}, true
}
