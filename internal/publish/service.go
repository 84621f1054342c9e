// Package publish moves the next queued content unit from the archive to Tumblr.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryan-buckman/roadtrip/internal/database"
	"github.com/bryan-buckman/roadtrip/internal/logging"
	"github.com/bryan-buckman/roadtrip/internal/media"
	"github.com/bryan-buckman/roadtrip/internal/metrics"
	"github.com/bryan-buckman/roadtrip/internal/model"
	"github.com/bryan-buckman/roadtrip/internal/tumblr"
)

// ErrPartialFailure is wrapped by Publish when at least one split post failed.
var ErrPartialFailure = errors.New("some posts failed")

// Archive is the part of the store the publisher needs.
type Archive interface {
	NextQueued(ctx context.Context) (*model.ArchivedUnit, error)
	FetchContentByID(ctx context.Context, id int64) (*model.ArchivedUnit, error)
	MarkPublished(ctx context.Context, id int64, at time.Time) error
}

// Submitter sends one split post.
type Submitter interface {
	Submit(ctx context.Context, post model.SplitPost, blurb string) (*tumblr.Response, error)
}

// Options configures a Service. Zero values take defaults.
type Options struct {
	Splitter *tumblr.Splitter
	Blurb    func() string
	Logger   logging.Logger
	Metrics  *metrics.Collector
	DryRun   bool
	Now      func() time.Time
}

// Result describes one publish operation.
type Result struct {
	UnitID    int64 `json:"unit_id,omitempty"`
	Posts     int   `json:"posts"`
	Submitted int   `json:"submitted"`
	Failed    int   `json:"failed"`
	Published bool  `json:"published"` // unit marked published in the archive
	Retired   bool  `json:"retired"`   // every post failed permanently; unit taken off the queue
	Empty     bool  `json:"empty"`     // nothing was queued
	DryRun    bool  `json:"dry_run"`
}

// Service runs publish operations.
type Service struct {
	archive   Archive
	submitter Submitter
	splitter  *tumblr.Splitter
	blurb     func() string
	logger    logging.Logger
	metrics   *metrics.Collector
	dryRun    bool
	now       func() time.Time

	// mu serializes publishes so two callers never pick the same queued unit.
	mu sync.Mutex
}

// NewService creates a Service.
func NewService(archive Archive, submitter Submitter, opts Options) *Service {
	if opts.Splitter == nil {
		opts.Splitter = tumblr.NewSplitter(media.DefaultClassifier)
	}
	if opts.Blurb == nil {
		opts.Blurb = tumblr.RandomBlurb
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		archive:   archive,
		submitter: submitter,
		splitter:  opts.Splitter,
		blurb:     opts.Blurb,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		dryRun:    opts.DryRun,
		now:       opts.Now,
	}
}

// DryRun reports whether the service only logs what it would post.
func (s *Service) DryRun() bool { return s.dryRun }

// Publish posts the lowest-id queued unit. Split posts are submitted in
// order; a failed post is logged and the rest are still attempted. The unit
// is marked published if any post went through, or retired the same way if
// every post failed permanently, so one broken unit cannot stall the queue.
// A unit whose posts all failed with at least one transient error stays
// queued. Only context cancellation stops the loop early. An empty queue is
// not an error.
func (s *Service) Publish(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unit, err := s.archive.NextQueued(ctx)
	if errors.Is(err, database.ErrNotFound) {
		s.logger.Info("publish: queue is empty")
		s.metrics.PublishRun(metrics.OutcomeEmpty)
		return Result{Empty: true, DryRun: s.dryRun}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("next queued unit: %w", err)
	}

	posts := s.splitter.Split(unit.ContentUnit)
	blurb := s.blurb()
	res := Result{UnitID: unit.ID, Posts: len(posts), DryRun: s.dryRun}
	log := s.logger.WithFields(logging.Fields{"unit_id": unit.ID, "posts": len(posts)})

	if s.dryRun {
		for i, p := range posts {
			log.WithFields(logging.Fields{
				"post_index": i,
				"media":      p.Media,
				"comments":   len(p.Comments),
				"kind":       s.kind(p),
			}).Info("dry run: would submit post")
		}
		s.metrics.PublishRun(metrics.OutcomeDryRun)
		return res, nil
	}

	var failures []error
	var interrupted error
	permanent := 0
	for i, p := range posts {
		if err := ctx.Err(); err != nil {
			interrupted = err
			break
		}
		plog := log.WithFields(logging.Fields{"post_index": i, "total": len(posts)})
		resp, err := s.submitter.Submit(ctx, p, blurb)
		s.metrics.PostSubmitted(s.kind(p), err)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				interrupted = ctxErr
				break
			}
			res.Failed++
			isPermanent := tumblr.IsPermanent(err)
			if isPermanent {
				permanent++
			}
			plog.WithError(err).WithField("permanent", isPermanent).Error("post submission failed")
			failures = append(failures, fmt.Errorf("post %d/%d: %w", i+1, len(posts), err))
			continue
		}
		res.Submitted++
		plog.WithField("post_id", resp.PostID()).Info("post submitted")
	}

	retire := res.Submitted == 0 && interrupted == nil && res.Failed > 0 && permanent == res.Failed
	if res.Submitted > 0 || retire {
		// Bookkeeping must happen even if the caller gave up mid-loop.
		if err := s.archive.MarkPublished(context.WithoutCancel(ctx), unit.ID, s.now()); err != nil {
			return res, fmt.Errorf("mark unit %d published: %w", unit.ID, err)
		}
		res.Published = res.Submitted > 0
		res.Retired = retire
	}

	switch {
	case retire:
		s.metrics.PublishRun(metrics.OutcomeFailed)
		log.Error("every post failed permanently, unit retired from the queue")
	case res.Submitted == 0:
		s.metrics.PublishRun(metrics.OutcomeFailed)
		log.Warn("no posts went through, unit stays queued")
	case res.Failed > 0 || interrupted != nil:
		s.metrics.PublishRun(metrics.OutcomePartial)
	default:
		s.metrics.PublishRun(metrics.OutcomePublished)
		log.Info("unit published")
	}

	if interrupted != nil {
		return res, fmt.Errorf("publish unit %d interrupted after %d of %d posts: %w", unit.ID, res.Submitted+res.Failed, len(posts), interrupted)
	}
	if len(failures) > 0 {
		return res, fmt.Errorf("%w: %d of %d for unit %d: %w", ErrPartialFailure, res.Failed, len(posts), unit.ID, errors.Join(failures...))
	}
	return res, nil
}

// Preview returns the posts an archived unit would be split into.
func (s *Service) Preview(ctx context.Context, id int64) ([]model.SplitPost, error) {
	unit, err := s.archive.FetchContentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.splitter.Split(unit.ContentUnit), nil
}

func (s *Service) kind(p model.SplitPost) string {
	if media.ContainsVideo(s.splitter.Classifier, p.Media) {
		return "video"
	}
	return "structured"
}
