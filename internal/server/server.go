// Package server provides the HTTP server and handlers.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bryan-buckman/roadtrip/internal/database"
	"github.com/bryan-buckman/roadtrip/internal/feed"
	"github.com/bryan-buckman/roadtrip/internal/logging"
	"github.com/bryan-buckman/roadtrip/internal/metrics"
	"github.com/bryan-buckman/roadtrip/internal/model"
	"github.com/bryan-buckman/roadtrip/internal/pagination"
	"github.com/bryan-buckman/roadtrip/internal/publish"
	"github.com/bryan-buckman/roadtrip/internal/scheduler"
)

//go:embed static/*
var staticFS embed.FS

const (
	feedItems      = 50
	publishTimeout = 10 * time.Minute
)

// Publisher runs and previews publish operations.
type Publisher interface {
	Publish(ctx context.Context) (publish.Result, error)
	Preview(ctx context.Context, id int64) ([]model.SplitPost, error)
}

// Schedule is the scheduler surface exposed over HTTP.
type Schedule interface {
	Status() scheduler.Status
	SetActive(active bool) error
	Reschedule(text string) error
}

// PublishedFeed lists what already went out on the blog.
type PublishedFeed interface {
	Recent(ctx context.Context, limit int) ([]model.PublishedPost, error)
}

// MediaStore stores uploaded media and serves it back.
type MediaStore interface {
	Save(r io.Reader) (string, error)
	Remove(ref string) error
	FS() fs.FS
}

// Options wires the server's collaborators. Published and Metrics may be nil.
type Options struct {
	Media     MediaStore
	Publisher Publisher
	Schedule  Schedule
	Published PublishedFeed
	Metrics   *metrics.Collector
	Logger    logging.Logger

	FeedTitle string
	PublicURL string
}

// Server is the main HTTP server.
type Server struct {
	db        database.Store
	media     MediaStore
	publisher Publisher
	schedule  Schedule
	published PublishedFeed
	metrics   *metrics.Collector
	logger    logging.Logger
	feedOpts  feed.Options
	router    chi.Router
}

// New creates a new server.
func New(db database.Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.FeedTitle == "" {
		opts.FeedTitle = "roadtrip archive"
	}
	s := &Server{
		db:        db,
		media:     opts.Media,
		publisher: opts.Publisher,
		schedule:  opts.Schedule,
		published: opts.Published,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		feedOpts: feed.Options{
			Title:       opts.FeedTitle,
			Description: "Every map the bot has archived, newest first.",
			SiteURL:     opts.PublicURL,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.logger, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)
	r.Use(middleware.Compress(5))

	// Serve static files.
	staticSub, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, staticSub, "index.html")
	})

	r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.FS(s.media.FS()))))
	r.Get("/feed.xml", s.handleArchiveFeed)
	r.Handle("/metrics", s.metrics.Handler())

	// API.
	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Get("/posts", s.handleListPosts)
		r.Get("/posts/{id}", s.handleGetPost)
		r.Get("/posts/{id}/preview", s.handlePreview)
		r.Get("/schedule", s.handleGetSchedule)
		r.Get("/published", s.handlePublished)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/logout", s.handleLogout)
			r.Post("/posts", s.handleEnqueue)
			r.Post("/schedule/status", s.handleSetStatus)
			r.Post("/schedule/time", s.handleSetTime)
			r.Post("/publish", s.handlePublish)
		})
	})

	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("Server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- Archive Handlers ---

type postsPage struct {
	Posts      []model.ArchivedUnit `json:"posts"`
	NextBefore *int64               `json:"next_before,omitempty"`
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	limit := pagination.ParseLimit(r.URL.Query().Get("limit"))
	before, ok := pagination.ParseBefore(r.URL.Query().Get("before"))
	if !ok {
		maxID, err := s.db.MaxContentID(r.Context())
		if err != nil {
			s.internalError(w, r, "max content id", err)
			return
		}
		before = maxID + 1
	}

	units, err := s.db.FetchContentRange(r.Context(), before, limit)
	if err != nil {
		s.internalError(w, r, "fetch content range", err)
		return
	}
	page := postsPage{Posts: units}
	if page.Posts == nil {
		page.Posts = []model.ArchivedUnit{}
	}
	if next, more := pagination.NextCursor(limit, before); more {
		page.NextBefore = &next
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	unit, err := s.db.FetchContentByID(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "fetch content", err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	posts, err := s.publisher.Preview(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "preview", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"posts": posts})
}

func (s *Server) handleArchiveFeed(w http.ResponseWriter, r *http.Request) {
	maxID, err := s.db.MaxContentID(r.Context())
	if err != nil {
		s.internalError(w, r, "max content id", err)
		return
	}
	units, err := s.db.FetchContentRange(r.Context(), maxID+1, feedItems)
	if err != nil {
		s.internalError(w, r, "fetch content range", err)
		return
	}
	out, err := feed.Export(units, s.feedOpts)
	if err != nil {
		s.internalError(w, r, "render feed", err)
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	io.WriteString(w, out)
}

func (s *Server) handlePublished(w http.ResponseWriter, r *http.Request) {
	if s.published == nil {
		writeError(w, http.StatusServiceUnavailable, "published feed not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	posts, err := s.published.Recent(r.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Warn("Reading published feed failed")
		writeError(w, http.StatusBadGateway, "could not read the blog feed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"posts": posts})
}

// --- Scheduler Handlers ---

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.schedule.Status())
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		writeError(w, http.StatusBadRequest, `expected {"active": true|false}`)
		return
	}
	if err := s.schedule.SetActive(*req.Active); err != nil {
		s.internalError(w, r, "set schedule status", err)
		return
	}
	writeJSON(w, http.StatusOK, s.schedule.Status())
}

func (s *Server) handleSetTime(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PostTime string `json:"post_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, `expected {"post_time": "HH:MM"}`)
		return
	}
	err := s.schedule.Reschedule(req.PostTime)
	if errors.Is(err, scheduler.ErrInvalidTime) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, "reschedule", err)
		return
	}
	writeJSON(w, http.StatusOK, s.schedule.Status())
}

type publishResponse struct {
	publish.Result
	Error string `json:"error,omitempty"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	// A client hanging up must not cut a unit off halfway through its posts.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), publishTimeout)
	defer cancel()

	res, err := s.publisher.Publish(ctx)
	resp := publishResponse{Result: res}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		switch {
		case res.Published:
		case errors.Is(err, publish.ErrPartialFailure):
			status = http.StatusBadGateway
		default:
			status = http.StatusInternalServerError
		}
		s.logger.WithError(err).WithField("unit_id", res.UnitID).Warn("Manual publish reported errors")
	}
	writeJSON(w, status, resp)
}

// --- Helpers ---

func postID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.WithError(err).WithFields(logging.Fields{
		"op":         op,
		"path":       r.URL.Path,
		"request_id": middleware.GetReqID(r.Context()),
	}).Error("Request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}
