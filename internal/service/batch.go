package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/veo3pk/studio/internal/config"
	"github.com/veo3pk/studio/internal/metrics"
	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/support/logging"
	"github.com/veo3pk/studio/internal/support/validate"
)

// Batch stream event names.
const (
	EventBatchStarted = "batch_started"
	EventProgress     = "progress"
	EventResult       = "result"
	EventImage        = "image"
	EventComplete     = "complete"
	EventError        = "error"
)

// Progress phases.
const (
	PhaseStarting   = "starting"
	PhaseProcessing = "processing"
	PhasePolling    = "polling"
	PhaseRendering  = "rendering"
)

const (
	defaultMaxConcurrency = 20
	defaultMaxBatchSize   = 50
)

// Reporter receives batch events. Emit is never called concurrently.
type Reporter interface {
	Emit(event string, payload any) error
}

// BatchItem is one prompt of a batch.
type BatchItem struct {
	Prompt         string `json:"prompt" validate:"required,max=4000"`
	SceneNumber    int    `json:"scene_number" validate:"min=0,max=10000"`
	AspectRatio    string `json:"aspect_ratio" validate:"aspect"`
	ReferenceImage string `json:"reference_image"`
}

// BatchInput is a multi-prompt request. Chain feeds each image into the next item.
type BatchInput struct {
	Items       []BatchItem `json:"items" validate:"required,min=1,dive"`
	AspectRatio string      `json:"aspect_ratio" validate:"aspect"`
	Model       string      `json:"model" validate:"max=64"`
	Chain       bool        `json:"chain"`
}

// BatchStarted opens the stream.
type BatchStarted struct {
	BatchID string `json:"batchId"`
	Total   int    `json:"total"`
}

// BatchProgress reports a non-terminal phase of one item.
type BatchProgress struct {
	Index       int    `json:"index"`
	SceneNumber int    `json:"sceneNumber"`
	Phase       string `json:"phase"`
	HistoryID   int64  `json:"historyId,omitempty"`
}

// BatchResult is the terminal event of one item.
type BatchResult struct {
	Index       int    `json:"index"`
	SceneNumber int    `json:"sceneNumber"`
	Status      string `json:"status"`
	HistoryID   int64  `json:"historyId"`
	VideoURL    string `json:"videoUrl,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Error       string `json:"error,omitempty"`
	Category    string `json:"category,omitempty"`
}

// BatchSummary closes the stream. Pending counts items left to the background poller.
type BatchSummary struct {
	BatchID   string `json:"batchId"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Pending   int    `json:"pending"`
	Cancelled bool   `json:"cancelled"`
}

// BatchService fans a batch out to the generation pipeline and streams per-item events.
type BatchService interface {
	RunVideo(ctx context.Context, userID int64, in BatchInput, r Reporter) (*BatchSummary, error)
	RunImage(ctx context.Context, userID int64, in BatchInput, r Reporter) (*BatchSummary, error)
}

// BatchDeps groups the collaborators of BatchService.
type BatchDeps struct {
	Users      repository.UserRepository
	Plans      PlanService
	Tokens     TokenPoolService
	Settings   SettingsService
	Media      MediaService
	Generation GenerationService
	Validator  *validate.Validator
	Config     config.GenerationConfig
	Metrics    *metrics.Domain
	Logger     *slog.Logger
}

type batchService struct {
	users      repository.UserRepository
	plans      PlanService
	tokens     TokenPoolService
	settings   SettingsService
	media      MediaService
	generation GenerationService
	validator  *validate.Validator
	cfg        config.GenerationConfig
	metrics    *metrics.Domain
	logger     *slog.Logger
}

func NewBatchService(deps BatchDeps) BatchService {
	cfg := deps.Config
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = defaultMaxPolls
	}
	return &batchService{
		users:      deps.Users,
		plans:      deps.Plans,
		tokens:     deps.Tokens,
		settings:   deps.Settings,
		media:      deps.Media,
		generation: deps.Generation,
		validator:  deps.Validator,
		cfg:        cfg,
		metrics:    deps.Metrics,
		logger:     logging.Component(deps.Logger, "batch"),
	}
}

func (s *batchService) RunVideo(ctx context.Context, userID int64, in BatchInput, r Reporter) (*BatchSummary, error) {
	if in.Chain {
		return nil, invalidField("chain", "chaining is available for image batches")
	}
	refs, err := s.admit(ctx, userID, ToolVideo, repository.PoolVideo, in)
	if err != nil {
		return nil, err
	}
	if _, err := s.plans.CheckAndConsumeQuota(ctx, userID, QuotaVideo, int64(len(in.Items))); err != nil {
		return nil, err
	}
	batchID := uuid.NewString()
	records, err := s.enqueue(ctx, userID, repository.KindVideo, batchID, in, refs)
	if err != nil {
		return nil, err
	}
	rep := newBatchReporter(r, s.metrics, repository.KindVideo, batchID, len(records))
	rep.started()
	s.logger.InfoContext(ctx, "video batch started", "batch_id", batchID, "user_id", userID, "items", len(records))

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrency)
	next := 0
	for ; next < len(records); next++ {
		if ctx.Err() != nil {
			break
		}
		i, rec := next, records[next]
		g.Go(func() error {
			s.runVideoItem(ctx, rep, i, rec)
			return nil
		})
	}
	for i := next; i < len(records); i++ {
		s.cancelItem(ctx, rep, EventResult, i, records[i])
	}
	_ = g.Wait()
	return s.finish(ctx, rep), nil
}

func (s *batchService) runVideoItem(ctx context.Context, rep *batchReporter, i int, rec *repository.GenerationRecord) {
	if ctx.Err() != nil {
		s.cancelItem(ctx, rep, EventResult, i, rec)
		return
	}
	rep.progress(i, rec, PhaseStarting)
	launched, err := s.generation.Launch(ctx, rec)
	if err != nil {
		s.logger.ErrorContext(ctx, "launch batch item failed", "history_id", rec.ID, "error", err)
		rep.result(EventResult, i, rec, err)
		return
	}
	rec = launched
	if rec.Status == repository.StatusProcessing {
		rep.progress(i, rec, PhaseProcessing)
	}

	// Poll in-stream; items still running when the client leaves are finished by the background poller.
	// Both share next_poll_at, so a tick the poller already served only reloads the row.
	for tick := 0; rec.Status == repository.StatusProcessing && tick < 2*s.cfg.MaxPolls; tick++ {
		timer := time.NewTimer(s.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		polled, err := s.generation.PollScheduled(ctx, rec)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.WarnContext(ctx, "batch poll failed", "history_id", rec.ID, "error", err)
			continue
		}
		rec = polled
		if rec.Status == repository.StatusProcessing {
			rep.progress(i, rec, PhasePolling)
		}
	}
	if rec.Status == repository.StatusCompleted || rec.Status == repository.StatusFailed {
		rep.result(EventResult, i, rec, nil)
	}
}

func (s *batchService) RunImage(ctx context.Context, userID int64, in BatchInput, r Reporter) (*BatchSummary, error) {
	refs, err := s.admit(ctx, userID, ToolImage, repository.PoolImage, in)
	if err != nil {
		return nil, err
	}
	batchID := uuid.NewString()
	records, err := s.enqueue(ctx, userID, repository.KindImage, batchID, in, refs)
	if err != nil {
		return nil, err
	}
	rep := newBatchReporter(r, s.metrics, repository.KindImage, batchID, len(records))
	rep.started()
	s.logger.InfoContext(ctx, "image batch started", "batch_id", batchID, "user_id", userID, "items", len(records), "chain", in.Chain)

	arena := newChainArena(records, in.Chain)
	for _, wave := range arena.waves() {
		var g errgroup.Group
		g.SetLimit(s.cfg.MaxConcurrency)
		for _, i := range wave {
			if ctx.Err() != nil {
				s.cancelItem(ctx, rep, EventImage, i, arena.record(i))
				continue
			}
			g.Go(func() error {
				arena.settle(i, s.runImageItem(ctx, rep, i, arena.record(i), arena.dependency(i)))
				return nil
			})
		}
		_ = g.Wait()
	}
	return s.finish(ctx, rep), nil
}

func (s *batchService) runImageItem(ctx context.Context, rep *batchReporter, i int, rec, dep *repository.GenerationRecord) *repository.GenerationRecord {
	if ctx.Err() != nil {
		return s.cancelItem(ctx, rep, EventImage, i, rec)
	}
	rep.progress(i, rec, PhaseRendering)
	rendered, err := s.generation.RenderImage(ctx, rec, dep)
	if err != nil {
		s.logger.ErrorContext(ctx, "render batch item failed", "history_id", rec.ID, "error", err)
		rep.result(EventImage, i, rec, err)
		return rec
	}
	rep.result(EventImage, i, rendered, nil)
	return rendered
}

func (s *batchService) cancelItem(ctx context.Context, rep *batchReporter, event string, i int, rec *repository.GenerationRecord) *repository.GenerationRecord {
	cancelled, err := s.generation.Cancel(context.WithoutCancel(ctx), rec)
	if err != nil {
		s.logger.WarnContext(ctx, "cancel batch item failed", "history_id", rec.ID, "error", err)
		rep.result(event, i, rec, err)
		return rec
	}
	rep.result(event, i, cancelled, nil)
	return cancelled
}

func (s *batchService) finish(ctx context.Context, rep *batchReporter) *BatchSummary {
	summary := rep.complete(ctx.Err() != nil)
	s.logger.InfoContext(ctx, "batch finished", "batch_id", summary.BatchID, "completed", summary.Completed,
		"failed", summary.Failed, "pending", summary.Pending, "cancelled", summary.Cancelled)
	return summary
}

// admit checks maintenance, plan, validation and capacity, then stores reference images.
func (s *batchService) admit(ctx context.Context, userID int64, tool, pool string, in BatchInput) ([]*StoredMedia, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	for _, t := range []string{ToolBatch, tool} {
		if err := s.settings.CheckAvailable(ctx, t, user.IsAdmin); err != nil {
			return nil, err
		}
	}
	if !user.IsAdmin {
		plan, err := s.plans.EffectivePlan(ctx, user)
		if err != nil {
			return nil, err
		}
		if plan == repository.PlanFree {
			return nil, fmt.Errorf("%w: batch generation", ErrFeatureNotInPlan)
		}
	}
	if err := validationError(s.validator, in); err != nil {
		return nil, err
	}
	if len(in.Items) > s.cfg.MaxBatchSize {
		return nil, invalidField("items", fmt.Sprintf("at most %d prompts per batch", s.cfg.MaxBatchSize))
	}
	ok, err := s.tokens.HasCapacity(ctx, pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s pool", ErrNoCapacity, pool)
	}
	refs := make([]*StoredMedia, len(in.Items))
	for i, item := range in.Items {
		if strings.TrimSpace(item.ReferenceImage) == "" {
			continue
		}
		if refs[i], err = s.media.SaveReferenceImage(ctx, userID, item.ReferenceImage); err != nil {
			return nil, err
		}
	}
	return refs, nil
}

func (s *batchService) enqueue(ctx context.Context, userID int64, kind, batchID string, in BatchInput, refs []*StoredMedia) ([]*repository.GenerationRecord, error) {
	records := make([]*repository.GenerationRecord, 0, len(in.Items))
	for i, item := range in.Items {
		scene := item.SceneNumber
		if scene <= 0 {
			scene = i + 1
		}
		aspect := item.AspectRatio
		if aspect == "" {
			aspect = in.AspectRatio
		}
		var dependsOn *int64
		if in.Chain && i > 0 {
			dependsOn = &records[i-1].ID
		}
		rec, err := s.generation.Enqueue(ctx, EnqueueInput{
			UserID:      userID,
			Kind:        kind,
			Input:       GenerationInput{Prompt: item.Prompt, AspectRatio: aspect, Model: in.Model},
			BatchID:     batchID,
			SceneNumber: scene,
			DependsOn:   dependsOn,
			Reference:   refs[i],
			Chain:       in.Chain,
		})
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// batchReporter serializes events and lets exactly one terminal event through per index.
type batchReporter struct {
	mu       sync.Mutex
	out      Reporter
	metrics  *metrics.Domain
	kind     string
	summary  BatchSummary
	terminal map[int]bool
	broken   bool
}

func newBatchReporter(out Reporter, m *metrics.Domain, kind, batchID string, total int) *batchReporter {
	return &batchReporter{
		out:      out,
		metrics:  m,
		kind:     kind,
		summary:  BatchSummary{BatchID: batchID, Total: total},
		terminal: make(map[int]bool, total),
	}
}

func (r *batchReporter) emit(event string, payload any) {
	if r.out == nil || r.broken {
		return
	}
	if err := r.out.Emit(event, payload); err != nil {
		r.broken = true
	}
}

func (r *batchReporter) started() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emit(EventBatchStarted, BatchStarted{BatchID: r.summary.BatchID, Total: r.summary.Total})
}

func (r *batchReporter) progress(i int, rec *repository.GenerationRecord, phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal[i] {
		return
	}
	r.emit(EventProgress, BatchProgress{Index: i, SceneNumber: rec.SceneNumber, Phase: phase, HistoryID: rec.ID})
}

// result reports the terminal state of item i; err overrides the row state for failures outside the row.
func (r *batchReporter) result(event string, i int, rec *repository.GenerationRecord, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal[i] {
		return false
	}
	res := BatchResult{Index: i, SceneNumber: rec.SceneNumber, Status: rec.Status, HistoryID: rec.ID}
	switch {
	case err != nil:
		res.Status = repository.StatusFailed
		res.Error = err.Error()
		res.Category = string(Categorize(err))
	case rec.Status == repository.StatusCompleted:
		if rec.Kind == repository.KindImage {
			res.ImageURL = rec.MediaURL
		} else {
			res.VideoURL = rec.MediaURL
		}
	case rec.Status == repository.StatusFailed:
		res.Error = rec.ErrorMessage
		res.Category = rec.ErrorCategory
	default:
		return false
	}
	r.terminal[i] = true
	if res.Status == repository.StatusCompleted {
		r.summary.Completed++
	} else {
		r.summary.Failed++
	}
	r.metrics.BatchItem(r.kind, res.Status)
	r.emit(event, res)
	return true
}

func (r *batchReporter) complete(cancelled bool) *BatchSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Pending = r.summary.Total - r.summary.Completed - r.summary.Failed
	r.summary.Cancelled = cancelled
	summary := r.summary
	if !cancelled {
		r.emit(EventComplete, summary)
	}
	return &summary
}
