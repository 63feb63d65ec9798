package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"

	"github.com/teahouse/tearoom/internal/validator"
)

// HeaderUserID carries the acting user on every request.
const HeaderUserID = "X-User-ID"

// A DB provides a storage layer that persists comments and replies.
type DB interface {
	InsertComment(ctx context.Context, c Comment) (Comment, error)
	GetComment(ctx context.Context, id string) (Comment, error)
	// ListComments returns a page of top-level comments of a post, oldest
	// first, and the number of top-level comments in total.
	ListComments(ctx context.Context, postID string, limit, offset int) ([]Comment, int, error)
	// ListReplies returns a page of replies to a comment in ascending Gens
	// order, and the number of replies in total.
	ListReplies(ctx context.Context, commentID string, limit, offset int) ([]Comment, int, error)
}

// Likes provides a storage layer that keeps per-user likes of comments.
// Like and Unlike are idempotent.
type Likes interface {
	Like(ctx context.Context, commentID, userID string) error
	Unlike(ctx context.Context, commentID, userID string) error
	LikeStates(ctx context.Context, userID string, commentIDs ...string) (map[string]LikeState, error)
}

// API provides the REST endpoints of the comment service.
type API struct {
	Logger *slog.Logger
	DB     DB
	Likes  Likes
	Val    *validator.Validator

	once sync.Once
	mux  *http.ServeMux
}

// pageSize is the number of items in a page when the request sets no limit.
var pageSize = 10

const maxPageSize = 100

func (a *API) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /comments", a.listComments)
	mux.HandleFunc("POST /comments", a.createComment)
	mux.HandleFunc("GET /comment-logs", a.listReplies)
	mux.HandleFunc("POST /comments/{commentID}/like", a.like)
	mux.HandleFunc("DELETE /comments/{commentID}/like", a.unlike)

	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path, "user_id", r.Header.Get(HeaderUserID))
	a.mux.ServeHTTP(w, r)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := jsoniter.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	a.Logger.Error("Error", "status", status, "error", err.Error())
	a.respond(w, status, response{Error: msg})
}

func (a *API) validateBody(w http.ResponseWriter, s interface{}) bool {
	errs := a.Val.ValidateStruct(s)
	type response struct {
		Errors []validator.ValidationError `json:"errors"`
	}

	if len(errs) > 0 {
		a.respond(w, http.StatusBadRequest, &response{
			Errors: errs,
		})
		return false
	}
	return true
}

// page reads the limit and offset query parameters.
func (a *API) page(r *http.Request) (limit, offset int, err error) {
	limit, offset = pageSize, 0
	q := r.URL.Query()
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil {
			return 0, 0, fmt.Errorf("limit: %w", err)
		}
	}
	if s := q.Get("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil {
			return 0, 0, fmt.Errorf("offset: %w", err)
		}
	}
	if errs := a.Val.Validate(limit, fmt.Sprintf("min=1,max=%d", maxPageSize)); len(errs) > 0 {
		return 0, 0, fmt.Errorf("limit %d out of range", limit)
	}
	if errs := a.Val.Validate(offset, "min=0"); len(errs) > 0 {
		return 0, 0, fmt.Errorf("offset %d out of range", offset)
	}
	return limit, offset, nil
}

// withLikes fills the like count and the caller's like flag of each comment.
// Comments keep zero likes when the like store fails.
func (a *API) withLikes(ctx context.Context, userID string, comments []Comment) []Comment {
	if len(comments) == 0 {
		return []Comment{}
	}
	ids := lo.Map(comments, func(c Comment, _ int) string { return c.ID })
	states, err := a.Likes.LikeStates(ctx, userID, ids...)
	if err != nil {
		a.Logger.Error("Could not get likes", "count", len(ids), "error", err.Error())
		return comments
	}
	for i, c := range comments {
		st := states[c.ID]
		comments[i].Likes = st.Count
		comments[i].Liked = st.Liked
	}
	return comments
}

type listResponse struct {
	Data  []Comment `json:"data"`
	Total int       `json:"total"`
}

func (a *API) listComments(w http.ResponseWriter, r *http.Request) {
	postID := r.URL.Query().Get("postId")
	if errs := a.Val.Validate(postID, "required"); len(errs) > 0 {
		a.respondError(w, http.StatusBadRequest, errors.New("missing postId"), "postId is required")
		return
	}
	limit, offset, err := a.page(r)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Invalid page")
		return
	}

	comments, total, err := a.DB.ListComments(r.Context(), postID, limit, offset)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not list comments")
		return
	}
	a.Logger.Info("Got comments from DB", "post_id", postID, "count", len(comments), "total", total)

	a.respond(w, http.StatusOK, listResponse{
		Data:  a.withLikes(r.Context(), r.Header.Get(HeaderUserID), comments),
		Total: total,
	})
}

func (a *API) listReplies(w http.ResponseWriter, r *http.Request) {
	commentID := r.URL.Query().Get("commentId")
	if errs := a.Val.Validate(commentID, "required"); len(errs) > 0 {
		a.respondError(w, http.StatusBadRequest, errors.New("missing commentId"), "commentId is required")
		return
	}
	limit, offset, err := a.page(r)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Invalid page")
		return
	}

	replies, total, err := a.DB.ListReplies(r.Context(), commentID, limit, offset)
	if errors.Is(err, ErrNotFound) {
		a.respondError(w, http.StatusNotFound, err, fmt.Sprintf("Comment %s not found", commentID))
		return
	}
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not list replies")
		return
	}
	a.Logger.Info("Got replies from DB", "comment_id", commentID, "count", len(replies), "total", total)

	a.respond(w, http.StatusOK, listResponse{
		Data:  a.withLikes(r.Context(), r.Header.Get(HeaderUserID), replies),
		Total: total,
	})
}

func (a *API) createComment(w http.ResponseWriter, r *http.Request) {
	type (
		request struct {
			PostID          string `json:"postId" validate:"required"`
			Author          Author `json:"author" validate:"required"`
			Content         string `json:"content" validate:"required,max=2000"`
			ParentCommentID string `json:"parentCommentId"`
		}
		response struct {
			CommentID string    `json:"commentId"`
			Author    Author    `json:"author"`
			Content   string    `json:"content"`
			CreatedAt time.Time `json:"createdAt"`
		}
	)

	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		a.respondError(w, http.StatusUnauthorized, errors.New("missing user header"), "Unauthorized")
		return
	}

	var body request
	err := jsoniter.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}

	if valid := a.validateBody(w, &body); !valid {
		return
	}

	err = r.Body.Close()
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not close request body")
		return
	}

	if body.Author.ID != userID {
		a.respondError(w, http.StatusForbidden, fmt.Errorf("user %s posting as %s", userID, body.Author.ID), "Author does not match user")
		return
	}

	parentID := body.ParentCommentID
	if parentID != "" {
		parent, err := a.DB.GetComment(r.Context(), parentID)
		if errors.Is(err, ErrNotFound) {
			a.respondError(w, http.StatusNotFound, err, fmt.Sprintf("Comment %s not found", parentID))
			return
		}
		if err != nil {
			a.respondError(w, http.StatusInternalServerError, err, "Could not get parent comment")
			return
		}
		if parent.PostID != body.PostID {
			a.respondError(w, http.StatusBadRequest, fmt.Errorf("parent %s is on post %s", parentID, parent.PostID), "Parent comment is on another post")
			return
		}
		// A reply to a reply belongs to the same top-level comment.
		if parent.ParentID != "" {
			parentID = parent.ParentID
		}
	}

	c, err := a.DB.InsertComment(r.Context(), Comment{
		PostID:    body.PostID,
		ParentID:  parentID,
		Author:    body.Author,
		Content:   body.Content,
		CreatedAt: time.Now(),
	})
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not insert comment")
		return
	}

	a.respond(w, http.StatusCreated, response{
		CommentID: c.ID,
		Author:    c.Author,
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
	})
}

func (a *API) like(w http.ResponseWriter, r *http.Request) {
	a.setLike(w, r, true)
}

func (a *API) unlike(w http.ResponseWriter, r *http.Request) {
	a.setLike(w, r, false)
}

func (a *API) setLike(w http.ResponseWriter, r *http.Request, liked bool) {
	type response struct {
		CommentID string `json:"commentId"`
		Liked     bool   `json:"liked"`
		Likes     int    `json:"likes"`
	}

	commentID := r.PathValue("commentID")
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		a.respondError(w, http.StatusUnauthorized, errors.New("missing user header"), "Unauthorized")
		return
	}

	if _, err := a.DB.GetComment(r.Context(), commentID); err != nil {
		if errors.Is(err, ErrNotFound) {
			a.respondError(w, http.StatusNotFound, err, fmt.Sprintf("Comment %s not found", commentID))
			return
		}
		a.respondError(w, http.StatusInternalServerError, err, "Could not get comment")
		return
	}

	var err error
	if liked {
		err = a.Likes.Like(r.Context(), commentID, userID)
	} else {
		err = a.Likes.Unlike(r.Context(), commentID, userID)
	}
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, fmt.Sprintf("Could not update like for comment %s", commentID))
		return
	}

	res := response{CommentID: commentID, Liked: liked}
	if states, err := a.Likes.LikeStates(r.Context(), userID, commentID); err != nil {
		a.Logger.Error("Could not get likes", "comment_id", commentID, "error", err.Error())
	} else {
		res.Likes = states[commentID].Count
	}
	a.respond(w, http.StatusOK, res)
}
