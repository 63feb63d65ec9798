package comments

import "time"

// Generations of comment-like entities.
const (
	GenerationComment = 1
	GenerationReply   = 2
)

// A User is the opaque identity of the person using the app.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// A Post is the feed item comments hang off. Only ID and CommentCount are
// used by this package; the rest is carried for the presenter.
type Post struct {
	ID           string `json:"id"`
	AuthorID     string `json:"author_id"`
	Body         string `json:"body"`
	MediaURL     string `json:"media_url"`
	LikeCount    int    `json:"like_count"`
	CommentCount int    `json:"comment_count"`
}

// A Comment is a top-level comment on a post.
type Comment struct {
	ID         string    `json:"id"`
	PostID     string    `json:"post_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
	Likes      int       `json:"likes"`
	Liked      bool      `json:"liked"`
	Generation int       `json:"generation"`
	// Temporary is set while ID is a placeholder awaiting confirmation.
	Temporary bool `json:"temporary"`
}

// A Reply is a comment on a comment. Replies never nest further.
type Reply struct {
	ID         string    `json:"id"`
	CommentID  string    `json:"comment_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
	Likes      int       `json:"likes"`
	Liked      bool      `json:"liked"`
	Generation int       `json:"generation"`
	// Seq is the server ordering key (gens).
	Seq       int64 `json:"seq"`
	Temporary bool  `json:"temporary"`
}

// LoadState is the lifecycle of a lazily loaded list.
type LoadState int

const (
	Unloaded LoadState = iota
	Loading
	Loaded
)

func (s LoadState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "unloaded"
	}
}

// UnknownTotal marks a cursor whose server-side total was never reported.
const UnknownTotal = -1

// A Cursor tracks how much of a paginated list is known, fetched and shown.
type Cursor struct {
	Total   int       `json:"total"`
	Fetched int       `json:"fetched"`
	Visible int       `json:"visible"`
	State   LoadState `json:"state"`
	// Offset counts rows consumed from server pages. It differs from Fetched
	// when local entities were added to the list.
	Offset int `json:"offset"`
}

// Loading reports whether a fetch is in flight.
func (c Cursor) Loading() bool { return c.State == Loading }

// More reports whether the server may hold rows not fetched yet. An unknown
// total always may.
func (c Cursor) More() bool {
	return c.Total == UnknownTotal || c.Fetched < c.Total
}

// MutationKind is the kind of a pending optimistic mutation.
type MutationKind int

const (
	CreateComment MutationKind = iota + 1
	CreateReply
	ToggleLike
)

func (k MutationKind) String() string {
	switch k {
	case CreateComment:
		return "create_comment"
	case CreateReply:
		return "create_reply"
	case ToggleLike:
		return "toggle_like"
	default:
		return "unknown"
	}
}

// A PendingMutation is a local change still waiting for the server.
type PendingMutation struct {
	Kind           MutationKind
	TargetID       string
	SubmittedAt    time.Time
	CorrelationKey string
}

// A CommentView is a comment together with its reply thread state.
type CommentView struct {
	Comment Comment `json:"comment"`
	Replies []Reply `json:"replies"`
	Cursor  Cursor  `json:"cursor"`
}

// VisibleReplies returns the replies revealed to the reader.
func (v CommentView) VisibleReplies() []Reply {
	return v.Replies[:v.Cursor.Visible]
}

// A PostSnapshot is a read-only copy of everything cached for a post.
type PostSnapshot struct {
	Post     Post          `json:"post"`
	Comments []CommentView `json:"comments"`
	Cursor   Cursor        `json:"cursor"`
}
