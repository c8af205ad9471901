package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/tag-sync/internal/bitbucket"
	"github.com/stacklok/tag-sync/internal/httpclient"
	"github.com/stacklok/tag-sync/internal/otel"
	"github.com/stacklok/tag-sync/internal/session"
	"github.com/stacklok/tag-sync/internal/sync/state"
	"github.com/stacklok/tag-sync/internal/telemetry"
)

// TracerName is the instrumentation scope of reconciliation spans
const TracerName = "github.com/stacklok/tag-sync/sync"

// AnnotationService is the PostHog side of a pass
type AnnotationService interface {
	ListAnnotationContents(ctx context.Context) (map[string]struct{}, int, error)
	CreateAnnotation(ctx context.Context, content, dateMarker string) (*httpclient.Response, error)
	AnnotationsURL() string
}

// TagService is the Bitbucket side of a pass
type TagService interface {
	ListTags(ctx context.Context) ([]bitbucket.Tag, error)
}

// Job reconciles the tags of one repository with PostHog annotations
type Job struct {
	annotations AnnotationService
	tags        TagService
	guard       *state.Guard
	repository  string

	sink   telemetry.Sink
	tracer trace.Tracer
	now    func() time.Time
}

// JobOption configures a Job
type JobOption func(*Job)

// WithSink sets where created_tag_annotation events are captured
func WithSink(sink telemetry.Sink) JobOption {
	return func(j *Job) {
		j.sink = sink
	}
}

// WithTracer sets the tracer used for pass spans
func WithTracer(tracer trace.Tracer) JobOption {
	return func(j *Job) {
		j.tracer = tracer
	}
}

// WithClock overrides the time source used for Result timing
func WithClock(now func() time.Time) JobOption {
	return func(j *Job) {
		j.now = now
	}
}

// NewJob creates a Job using the API clients of an initialized session
func NewJob(sess *session.Session, guard *state.Guard, opts ...JobOption) *Job {
	return newJob(sess.PostHog(), sess.Bitbucket(), guard, sess.Repository(), opts...)
}

func newJob(
	annotations AnnotationService,
	tags TagService,
	guard *state.Guard,
	repository string,
	opts ...JobOption,
) *Job {
	j := &Job{
		annotations: annotations,
		tags:        tags,
		guard:       guard,
		repository:  repository,
		sink:        telemetry.LogSink{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Repository returns the "workspace/repo" the job reconciles
func (j *Job) Repository() string {
	return j.repository
}

// Run performs one reconciliation pass
func (j *Job) Run(ctx context.Context) (*Result, error) {
	result := &Result{
		RunID:     uuid.NewString(),
		StartedAt: j.now(),
	}
	defer func() {
		result.Duration = j.now().Sub(result.StartedAt)
	}()

	ctx, span := otel.StartSpan(ctx, j.tracer, "sync.Run",
		trace.WithAttributes(
			otel.AttrRunID.String(result.RunID),
			otel.AttrRepository.String(j.repository),
		),
	)
	defer span.End()

	logger := slog.With("run_id", result.RunID, "repository", j.repository)

	lease, acquired, err := j.guard.Acquire(ctx)
	if err != nil {
		otel.RecordError(span, err)
		return result, fmt.Errorf("failed to check run guard: %w", err)
	}
	if !acquired {
		result.Skipped = true
		span.SetAttributes(otel.AttrSkipped.Bool(true))
		logger.DebugContext(ctx, "Skipping pass, previous pass is inside the guard window",
			"window", j.guard.Window())
		return result, nil
	}

	logger.InfoContext(ctx, "Starting reconciliation pass")

	annotations, pages, err := j.annotations.ListAnnotationContents(ctx)
	if err != nil {
		return result, j.abort(ctx, span, lease, fmt.Errorf("failed to fetch annotations: %w", err))
	}
	result.AnnotationCount = len(annotations)
	result.AnnotationPages = pages

	tags, err := j.tags.ListTags(ctx)
	if err != nil {
		return result, j.abort(ctx, span, lease, fmt.Errorf("failed to fetch tags: %w", err))
	}
	result.TagCount = len(tags)

	newTags := NewTags(tags, annotations)
	span.SetAttributes(
		otel.AttrAnnotationCount.Int(result.AnnotationCount),
		otel.AttrPageCount.Int(pages),
		otel.AttrTagCount.Int(result.TagCount),
		otel.AttrNewTagCount.Int(len(newTags)),
	)
	logger.InfoContext(ctx, "Compared tags with annotations",
		"annotations", result.AnnotationCount,
		"annotation_pages", pages,
		"tags", result.TagCount,
		"new_tags", len(newTags))

	for _, tag := range newTags {
		if err := ctx.Err(); err != nil {
			otel.RecordError(span, err)
			return result, fmt.Errorf("pass interrupted after %d of %d tags: %w",
				result.NewTagCount(), len(newTags), err)
		}
		if j.createAnnotation(ctx, logger, tag) {
			result.Created = append(result.Created, tag.Name)
		} else {
			result.Failed = append(result.Failed, tag.Name)
		}
	}

	span.SetAttributes(otel.AttrCreatedCount.Int(len(result.Created)))
	logger.InfoContext(ctx, "Reconciliation pass finished",
		"created", len(result.Created),
		"failed", len(result.Failed))

	return result, nil
}

// abort restores the run guard so the next tick retries, and returns cause
// joined with any error from the restore.
func (j *Job) abort(ctx context.Context, span trace.Span, lease *state.Lease, cause error) error {
	otel.RecordError(span, cause)

	// The restore must happen even when ctx was cancelled
	if err := j.guard.Release(context.WithoutCancel(ctx), lease); err != nil {
		slog.WarnContext(ctx, "Failed to restore run guard", "error", err)
		return errors.Join(cause, err)
	}
	return cause
}

// createAnnotation posts the annotation for one tag and reports whether PostHog
// answered 201. Failures are logged, never returned.
func (j *Job) createAnnotation(ctx context.Context, logger *slog.Logger, tag bitbucket.Tag) bool {
	ctx, span := otel.StartSpan(ctx, j.tracer, "sync.createAnnotation",
		trace.WithAttributes(otel.AttrTagName.String(tag.Name)),
	)
	defer span.End()

	resp, err := j.annotations.CreateAnnotation(ctx, tag.Name, tag.Date)
	if err != nil {
		otel.RecordError(span, err)
		logger.WarnContext(ctx, "Failed to create annotation", "tag", tag.Name, "error", err)
		return false
	}

	if resp.StatusCode != http.StatusCreated {
		rejection := resp.AsError(j.annotations.AnnotationsURL())
		otel.RecordError(span, rejection)
		logger.WarnContext(ctx, "PostHog did not create annotation",
			"tag", tag.Name,
			"status", resp.StatusCode,
			"error", rejection)
		return false
	}

	logger.InfoContext(ctx, "Created annotation", "tag", tag.Name, "date", tag.Date)

	if err := j.sink.Capture(ctx, telemetry.EventCreatedTagAnnotation, map[string]any{"tag": tag.Name}); err != nil {
		logger.WarnContext(ctx, "Failed to capture event",
			"event", telemetry.EventCreatedTagAnnotation,
			"tag", tag.Name,
			"error", err)
	}
	return true
}
