package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/veo3pk/studio/internal/config"
	"github.com/veo3pk/studio/internal/events"
	"github.com/veo3pk/studio/internal/metrics"
	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/support/logging"
	"github.com/veo3pk/studio/internal/support/validate"
	"github.com/veo3pk/studio/internal/upstream"
)

const (
	defaultPollInterval  = 15 * time.Second
	defaultMaxPolls      = 40
	defaultTokenAttempts = 3
	maxErrorMessageLen   = 500
	jobBatchLimit        = 100
)

// VideoBackend starts and polls asynchronous video operations.
type VideoBackend interface {
	Start(ctx context.Context, credential string, req upstream.VideoRequest) (*upstream.VideoOperation, error)
	Status(ctx context.Context, credential, operationName, sceneID string) (*upstream.VideoStatus, error)
}

// ImageBackend renders images and accepts reference uploads.
type ImageBackend interface {
	Generate(ctx context.Context, credential string, req upstream.ImageRequest) (*upstream.ImageResult, error)
	UploadImage(ctx context.Context, credential string, data []byte, contentType string) (string, error)
}

// GenerationInput is one prompt submitted for video or image generation.
type GenerationInput struct {
	Prompt         string `json:"prompt" validate:"required,max=4000"`
	AspectRatio    string `json:"aspect_ratio" validate:"aspect"`
	Model          string `json:"model" validate:"max=64"`
	ReferenceImage string `json:"reference_image"`
	SceneNumber    int    `json:"scene_number" validate:"min=0,max=10000"`
}

// EnqueueInput describes a pending row to create.
type EnqueueInput struct {
	UserID      int64
	Kind        string
	Input       GenerationInput
	BatchID     string
	SceneNumber int
	DependsOn   *int64
	Reference   *StoredMedia
	RetryCount  int
	Chain       bool
}

// HistoryQuery filters history listings.
type HistoryQuery struct {
	UserID  int64  `json:"user_id"`
	Kind    string `json:"kind"`
	BatchID string `json:"batch_id"`
	Status  string `json:"status"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
}

// HistoryPage is one page of history rows.
type HistoryPage struct {
	Items []*repository.GenerationRecord `json:"items"`
	Total int64                          `json:"total"`
}

// GenerationService drives history rows through pending, processing, completed and failed.
type GenerationService interface {
	StartVideo(ctx context.Context, userID int64, in GenerationInput) (*repository.GenerationRecord, error)
	GenerateImage(ctx context.Context, userID int64, in GenerationInput) (*repository.GenerationRecord, error)
	// CheckStatus answers terminal rows from storage and polls processing rows once.
	CheckStatus(ctx context.Context, userID, id int64) (*repository.GenerationRecord, error)
	Poll(ctx context.Context, rec *repository.GenerationRecord) (*repository.GenerationRecord, error)
	// PollScheduled polls only when the row's next_poll_at has passed and
	// otherwise returns the stored row.
	PollScheduled(ctx context.Context, rec *repository.GenerationRecord) (*repository.GenerationRecord, error)
	PollDue(ctx context.Context) (int, error)
	RetryFailed(ctx context.Context) (int, error)
	Regenerate(ctx context.Context, userID, id int64) (*repository.GenerationRecord, error)
	List(ctx context.Context, userID int64, q HistoryQuery) (*HistoryPage, error)
	ListAll(ctx context.Context, q HistoryQuery) (*HistoryPage, error)
	Delete(ctx context.Context, userID int64, kind string, id int64) error

	Enqueue(ctx context.Context, in EnqueueInput) (*repository.GenerationRecord, error)
	// Launch starts the upstream video operation of a pending row.
	Launch(ctx context.Context, rec *repository.GenerationRecord) (*repository.GenerationRecord, error)
	// RenderImage generates a pending image row; a completed dependency supplies the reference image.
	RenderImage(ctx context.Context, rec *repository.GenerationRecord, dependency *repository.GenerationRecord) (*repository.GenerationRecord, error)
	// Cancel fails a row that never reached upstream.
	Cancel(ctx context.Context, rec *repository.GenerationRecord) (*repository.GenerationRecord, error)
}

// GenerationDeps groups the collaborators of GenerationService.
type GenerationDeps struct {
	Store     repository.Store
	Plans     PlanService
	Tokens    TokenPoolService
	Settings  SettingsService
	Media     MediaService
	Videos    VideoBackend
	Images    ImageBackend
	Validator *validate.Validator
	Config    config.GenerationConfig
	Metrics   *metrics.Domain
	Publisher events.Publisher
	Logger    *slog.Logger
}

type generationService struct {
	users     repository.UserRepository
	history   repository.HistoryRepository
	plans     PlanService
	tokens    TokenPoolService
	settings  SettingsService
	media     MediaService
	videos    VideoBackend
	images    ImageBackend
	validator *validate.Validator
	cfg       config.GenerationConfig
	metrics   *metrics.Domain
	publisher events.Publisher
	logger    *slog.Logger
	now       Clock
}

func NewGenerationService(deps GenerationDeps) GenerationService {
	cfg := deps.Config
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = defaultMaxPolls
	}
	if cfg.TokenAttempts <= 0 {
		cfg.TokenAttempts = defaultTokenAttempts
	}
	return &generationService{
		users:     deps.Store.Users(),
		history:   deps.Store.History(),
		plans:     deps.Plans,
		tokens:    deps.Tokens,
		settings:  deps.Settings,
		media:     deps.Media,
		videos:    deps.Videos,
		images:    deps.Images,
		validator: deps.Validator,
		cfg:       cfg,
		metrics:   deps.Metrics,
		publisher: deps.Publisher,
		logger:    logging.Component(deps.Logger, "generation"),
		now:       systemClock,
	}
}

// transitions lists the allowed status moves; failed -> pending is the retry edge.
var transitions = map[string][]string{
	repository.StatusPending:    {repository.StatusProcessing, repository.StatusFailed},
	repository.StatusProcessing: {repository.StatusCompleted, repository.StatusFailed},
	repository.StatusFailed:     {repository.StatusPending},
}

func canTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// requestSnapshot keeps the parts of a request needed to replay it.
type requestSnapshot struct {
	Seed         int64  `msgpack:"seed"`
	ReferenceKey string `msgpack:"ref,omitempty"`
	Chain        bool   `msgpack:"chain,omitempty"`
}

func encodeSnapshot(s requestSnapshot) []byte {
	data, err := msgpack.Marshal(s)
	if err != nil {
		return nil
	}
	return data
}

// decodeSnapshot returns defaults for rows without a readable snapshot.
func decodeSnapshot(data []byte) requestSnapshot {
	var s requestSnapshot
	if len(data) > 0 {
		if err := msgpack.Unmarshal(data, &s); err != nil {
			return requestSnapshot{}
		}
	}
	return s
}

func (s *generationService) StartVideo(ctx context.Context, userID int64, in GenerationInput) (*repository.GenerationRecord, error) {
	ref, err := s.admit(ctx, userID, ToolVideo, repository.PoolVideo, in)
	if err != nil {
		return nil, err
	}
	if _, err := s.plans.CheckAndConsumeQuota(ctx, userID, QuotaVideo, 1); err != nil {
		return nil, err
	}
	rec, err := s.Enqueue(ctx, EnqueueInput{UserID: userID, Kind: repository.KindVideo, Input: in, SceneNumber: in.SceneNumber, Reference: ref})
	if err != nil {
		return nil, err
	}
	return s.Launch(ctx, rec)
}

func (s *generationService) GenerateImage(ctx context.Context, userID int64, in GenerationInput) (*repository.GenerationRecord, error) {
	ref, err := s.admit(ctx, userID, ToolImage, repository.PoolImage, in)
	if err != nil {
		return nil, err
	}
	rec, err := s.Enqueue(ctx, EnqueueInput{UserID: userID, Kind: repository.KindImage, Input: in, SceneNumber: in.SceneNumber, Reference: ref})
	if err != nil {
		return nil, err
	}
	return s.RenderImage(ctx, rec, nil)
}

// admit runs the checks shared by single generations: maintenance, validation and pool capacity.
func (s *generationService) admit(ctx context.Context, userID int64, tool, pool string, in GenerationInput) (*StoredMedia, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if err := s.settings.CheckAvailable(ctx, tool, user.IsAdmin); err != nil {
		return nil, err
	}
	if err := validationError(s.validator, in); err != nil {
		return nil, err
	}
	ok, err := s.tokens.HasCapacity(ctx, pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s pool", ErrNoCapacity, pool)
	}
	if strings.TrimSpace(in.ReferenceImage) == "" {
		return nil, nil
	}
	return s.media.SaveReferenceImage(ctx, userID, in.ReferenceImage)
}

func (s *generationService) Enqueue(ctx context.Context, in EnqueueInput) (*repository.GenerationRecord, error) {
	snap := requestSnapshot{Seed: rand.Int64N(1 << 31), Chain: in.Chain}
	rec := &repository.GenerationRecord{
		UserID:      in.UserID,
		Kind:        in.Kind,
		Prompt:      strings.TrimSpace(in.Input.Prompt),
		AspectRatio: in.Input.AspectRatio,
		Model:       in.Input.Model,
		Status:      repository.StatusPending,
		SceneNumber: in.SceneNumber,
		BatchID:     in.BatchID,
		DependsOn:   in.DependsOn,
		RetryCount:  in.RetryCount,
	}
	if rec.AspectRatio == "" {
		rec.AspectRatio = "16:9"
	}
	if in.Reference != nil {
		rec.ReferenceImageURL = in.Reference.URL
		snap.ReferenceKey = in.Reference.Key
	}
	rec.RequestPayload = encodeSnapshot(snap)
	created, err := s.history.Create(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("create history: %w", err)
	}
	return created, nil
}

func (s *generationService) Launch(ctx context.Context, rec *repository.GenerationRecord) (*repository.GenerationRecord, error) {
	if rec.Status != repository.StatusPending {
		return rec, nil
	}
	snap := decodeSnapshot(rec.RequestPayload)
	req := upstream.VideoRequest{
		Prompt:      rec.Prompt,
		AspectRatio: rec.AspectRatio,
		Model:       rec.Model,
		Seed:        snap.Seed,
		SceneID:     fmt.Sprintf("veo3-%d", rec.ID),
	}
	if ref := firstNonEmpty(snap.ReferenceKey, rec.ReferenceImageURL); ref != "" {
		mediaID, err := s.uploadReference(ctx, ref)
		if err != nil {
			return s.fail(ctx, rec, err)
		}
		req.StartMediaID = mediaID
	}

	var op *upstream.VideoOperation
	tok, err := rotateTokens(ctx, s.tokens, s.cfg.TokenAttempts, s.logger, repository.PoolVideo, func(tok *repository.APIToken) error {
		var callErr error
		op, callErr = s.videos.Start(ctx, tok.Credential, req)
		return callErr
	})
	if err != nil {
		return s.fail(ctx, rec, err)
	}
	s.reportSuccess(ctx, tok.ID, repository.TokenUsage{})

	now := s.now()
	patch := repository.StatusPatch{
		OperationName: &op.OperationName,
		SceneID:       &op.SceneID,
		TokenID:       &tok.ID,
		NextPollAt:    ptr(now.Add(s.cfg.PollInterval).Unix()),
		ResetPolls:    true,
	}
	// The operation exists upstream now; record it even if the caller went away.
	if _, err := s.transition(context.WithoutCancel(ctx), rec, repository.StatusProcessing, patch); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "video started", "history_id", rec.ID, "operation", op.OperationName, "token_id", tok.ID)
	return rec, nil
}

func (s *generationService) RenderImage(ctx context.Context, rec, dependency *repository.GenerationRecord) (*repository.GenerationRecord, error) {
	if rec.Status != repository.StatusPending {
		return rec, nil
	}
	if ok, err := s.transition(ctx, rec, repository.StatusProcessing, repository.StatusPatch{ResetPolls: true}); err != nil || !ok {
		return rec, err
	}
	snap := decodeSnapshot(rec.RequestPayload)
	req := upstream.ImageRequest{Prompt: rec.Prompt, AspectRatio: rec.AspectRatio, Model: rec.Model, Seed: snap.Seed}

	if dependency != nil && dependency.Status == repository.StatusCompleted && dependency.MediaURL != "" {
		mediaID, err := s.uploadReference(ctx, dependency.MediaURL)
		if err == nil {
			req.ReferenceMediaID = mediaID
		} else {
			s.logger.WarnContext(ctx, "chain reference unavailable, using fallback input",
				"history_id", rec.ID, "depends_on", dependency.ID, "error", err)
		}
	}
	if req.ReferenceMediaID == "" {
		if ref := firstNonEmpty(snap.ReferenceKey, rec.ReferenceImageURL); ref != "" {
			mediaID, err := s.uploadReference(ctx, ref)
			if err != nil {
				return s.fail(ctx, rec, err)
			}
			req.ReferenceMediaID = mediaID
		}
	}

	var result *upstream.ImageResult
	tok, err := rotateTokens(ctx, s.tokens, s.cfg.TokenAttempts, s.logger, repository.PoolImage, func(tok *repository.APIToken) error {
		var callErr error
		result, callErr = s.images.Generate(ctx, tok.Credential, req)
		return callErr
	})
	if err != nil {
		return s.fail(ctx, rec, err)
	}
	s.reportSuccess(ctx, tok.ID, repository.TokenUsage{})

	stored, err := s.media.Save(context.WithoutCancel(ctx), rec.UserID, "images", result.Data, result.ContentType)
	if err != nil {
		return s.fail(ctx, rec, upstream.NewError(upstream.CategoryGeneric, "store image: "+err.Error()))
	}
	return s.complete(ctx, rec, stored.URL, tok.ID)
}

func (s *generationService) uploadReference(ctx context.Context, ref string) (string, error) {
	data, contentType, err := s.media.Load(ctx, ref)
	if err != nil {
		return "", upstream.NewError(upstream.CategoryGeneric, "reference image unavailable: "+err.Error())
	}
	var mediaID string
	tok, err := rotateTokens(ctx, s.tokens, s.cfg.TokenAttempts, s.logger, repository.PoolFlow, func(tok *repository.APIToken) error {
		var callErr error
		mediaID, callErr = s.images.UploadImage(ctx, tok.Credential, data, contentType)
		return callErr
	})
	if err != nil {
		return "", err
	}
	s.reportSuccess(ctx, tok.ID, repository.TokenUsage{})
	return mediaID, nil
}

func (s *generationService) CheckStatus(ctx context.Context, userID, id int64) (*repository.GenerationRecord, error) {
	rec, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != repository.StatusProcessing {
		return rec, nil
	}
	return s.Poll(ctx, rec)
}

func (s *generationService) Poll(ctx context.Context, rec *repository.GenerationRecord) (*repository.GenerationRecord, error) {
	return s.poll(ctx, rec, s.history.RecordPoll)
}

func (s *generationService) PollScheduled(ctx context.Context, rec *repository.GenerationRecord) (*repository.GenerationRecord, error) {
	return s.poll(ctx, rec, s.history.ClaimPoll)
}

func (s *generationService) poll(ctx context.Context, rec *repository.GenerationRecord, bump func(ctx context.Context, id int64, nextPollAt, now int64) (int, error)) (*repository.GenerationRecord, error) {
	if rec.Status != repository.StatusProcessing || rec.Kind != repository.KindVideo || rec.OperationName == "" {
		return rec, nil
	}
	now := s.now()
	count, err := bump(ctx, rec.ID, now.Add(s.cfg.PollInterval).Unix(), now.Unix())
	if errors.Is(err, repository.ErrStateChanged) {
		return s.reload(ctx, rec.ID)
	}
	if err != nil {
		return nil, err
	}
	rec.PollCount = count

	tok, err := s.credentialFor(ctx, rec)
	if err != nil {
		return s.fail(ctx, rec, err)
	}
	status, err := s.videos.Status(ctx, tok.Credential, rec.OperationName, rec.SceneID)
	if err != nil {
		cat := Categorize(err)
		if cat == upstream.CategoryCancelled {
			return rec, err
		}
		if cat.RotatesToken() {
			s.reportFailure(ctx, tok.ID, cat, err.Error())
		}
		if count >= s.cfg.MaxPolls {
			return s.fail(ctx, rec, pollTimeout(count))
		}
		s.logger.WarnContext(ctx, "status check failed", "history_id", rec.ID, "poll", count, "category", cat, "error", err)
		return rec, nil
	}

	switch {
	case status.State == upstream.VideoStateSuccessful:
		return s.complete(ctx, rec, status.VideoURL, tok.ID)
	case status.Done():
		var failure error = upstream.NewError(upstream.CategoryGeneric, "generation failed")
		if status.Err != nil {
			failure = status.Err
		}
		return s.fail(ctx, rec, failure)
	case count >= s.cfg.MaxPolls:
		return s.fail(ctx, rec, pollTimeout(count))
	}
	return rec, nil
}

func pollTimeout(count int) error {
	return upstream.NewError(upstream.CategoryTimeout, fmt.Sprintf("no result after %d status checks", count))
}

// credentialFor returns the token that started the operation, or a fresh one when it was removed.
func (s *generationService) credentialFor(ctx context.Context, rec *repository.GenerationRecord) (*repository.APIToken, error) {
	if rec.TokenID != nil {
		tok, err := s.tokens.Token(ctx, *rec.TokenID)
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return s.tokens.Acquire(ctx, repository.PoolVideo)
}

func (s *generationService) PollDue(ctx context.Context) (int, error) {
	due, err := s.history.ListDuePolls(ctx, s.now().Unix(), jobBatchLimit)
	if err != nil {
		return 0, err
	}
	polled := 0
	for _, rec := range due {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.PollScheduled(ctx, rec); err != nil {
			s.logger.WarnContext(ctx, "poll failed", "history_id", rec.ID, "error", err)
			continue
		}
		polled++
	}
	return polled, nil
}

func (s *generationService) RetryFailed(ctx context.Context) (int, error) {
	policy, err := s.settings.Generation(ctx)
	if err != nil {
		return 0, err
	}
	if !policy.AutoRetryEnabled || policy.MaxRetryAttempts <= 0 {
		return 0, nil
	}
	now := s.now()
	failedBefore := now.Add(-time.Duration(policy.RetryDelayMinutes) * time.Minute).Unix()
	retried := 0
	for _, kind := range []string{repository.KindVideo, repository.KindImage} {
		rows, err := s.history.ListRetryable(ctx, kind, upstream.RetryableCategories, policy.MaxRetryAttempts, failedBefore, jobBatchLimit)
		if err != nil {
			return retried, err
		}
		for _, rec := range rows {
			if ctx.Err() != nil {
				return retried, ctx.Err()
			}
			patch := repository.StatusPatch{
				ErrorMessage:   ptr(""),
				ErrorCategory:  ptr(""),
				Retryable:      ptr(false),
				OperationName:  ptr(""),
				LastRetryAt:    ptr(now.Unix()),
				IncrementRetry: true,
				ResetPolls:     true,
			}
			ok, err := s.transition(ctx, rec, repository.StatusPending, patch)
			if err != nil {
				return retried, err
			}
			if !ok {
				continue
			}
			rec.RetryCount++
			s.logger.InfoContext(ctx, "retrying generation", "history_id", rec.ID, "kind", kind, "attempt", rec.RetryCount)
			if kind == repository.KindVideo {
				_, err = s.Launch(ctx, rec)
			} else {
				_, err = s.RenderImage(ctx, rec, s.dependencyOf(ctx, rec))
			}
			if err != nil {
				s.logger.WarnContext(ctx, "retry launch failed", "history_id", rec.ID, "error", err)
			}
			retried++
		}
	}
	return retried, nil
}

func (s *generationService) dependencyOf(ctx context.Context, rec *repository.GenerationRecord) *repository.GenerationRecord {
	if rec.DependsOn == nil {
		return nil
	}
	dep, err := s.history.FindByID(ctx, *rec.DependsOn)
	if err != nil {
		return nil
	}
	return dep
}

func (s *generationService) Regenerate(ctx context.Context, userID, id int64) (*repository.GenerationRecord, error) {
	prev, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if prev.Status != repository.StatusCompleted && prev.Status != repository.StatusFailed {
		return nil, fmt.Errorf("%w: generation is still %s", ErrNotRetryable, prev.Status)
	}
	tool, pool := ToolVideo, repository.PoolVideo
	if prev.Kind == repository.KindImage {
		tool, pool = ToolImage, repository.PoolImage
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if err := s.settings.CheckAvailable(ctx, tool, user.IsAdmin); err != nil {
		return nil, err
	}
	if ok, err := s.tokens.HasCapacity(ctx, pool); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s pool", ErrNoCapacity, pool)
	}
	if prev.Kind == repository.KindVideo {
		if _, err := s.plans.CheckAndConsumeQuota(ctx, userID, QuotaVideo, 1); err != nil {
			return nil, err
		}
	}

	snap := decodeSnapshot(prev.RequestPayload)
	snap.Seed = rand.Int64N(1 << 31)
	rec, err := s.history.Create(ctx, &repository.GenerationRecord{
		UserID:            userID,
		Kind:              prev.Kind,
		Prompt:            prev.Prompt,
		AspectRatio:       prev.AspectRatio,
		Model:             prev.Model,
		Status:            repository.StatusPending,
		SceneNumber:       prev.SceneNumber,
		BatchID:           prev.BatchID,
		DependsOn:         prev.DependsOn,
		ReferenceImageURL: prev.ReferenceImageURL,
		RequestPayload:    encodeSnapshot(snap),
	})
	if err != nil {
		return nil, fmt.Errorf("create history: %w", err)
	}
	s.logger.InfoContext(ctx, "regenerating", "history_id", rec.ID, "previous_id", prev.ID, "batch_id", prev.BatchID)
	if rec.Kind == repository.KindImage {
		return s.RenderImage(ctx, rec, s.dependencyOf(ctx, rec))
	}
	return s.Launch(ctx, rec)
}

func (s *generationService) List(ctx context.Context, userID int64, q HistoryQuery) (*HistoryPage, error) {
	q.UserID = userID
	return s.list(ctx, q, false)
}

func (s *generationService) ListAll(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	return s.list(ctx, q, true)
}

func (s *generationService) list(ctx context.Context, q HistoryQuery, includeDeleted bool) (*HistoryPage, error) {
	limit, offset := clampPage(q.Limit, q.Offset, 20, 200)
	filter := repository.HistoryFilter{
		Kind:           q.Kind,
		BatchID:        strings.TrimSpace(q.BatchID),
		Status:         q.Status,
		IncludeDeleted: includeDeleted,
		Limit:          limit,
		Offset:         offset,
	}
	if q.UserID > 0 {
		filter.UserID = &q.UserID
	}
	items, err := s.history.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.history.Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*repository.GenerationRecord{}
	}
	return &HistoryPage{Items: items, Total: total}, nil
}

func (s *generationService) Delete(ctx context.Context, userID int64, kind string, id int64) error {
	rec, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}
	if kind != "" && rec.Kind != kind {
		return ErrNotFound
	}
	ok, err := s.history.SoftDelete(ctx, id, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *generationService) Cancel(ctx context.Context, rec *repository.GenerationRecord) (*repository.GenerationRecord, error) {
	if rec.Status != repository.StatusPending {
		return rec, nil
	}
	return s.fail(ctx, rec, upstream.NewError(upstream.CategoryCancelled, "cancelled before start"))
}

func (s *generationService) owned(ctx context.Context, userID, id int64) (*repository.GenerationRecord, error) {
	rec, err := s.history.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if rec.UserID != userID || rec.DeletedByUser {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *generationService) reload(ctx context.Context, id int64) (*repository.GenerationRecord, error) {
	rec, err := s.history.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return rec, nil
}

func (s *generationService) complete(ctx context.Context, rec *repository.GenerationRecord, mediaURL string, tokenID int64) (*repository.GenerationRecord, error) {
	patch := repository.StatusPatch{
		MediaURL:    &mediaURL,
		TokenID:     &tokenID,
		CompletedAt: ptr(s.now().Unix()),
	}
	ok, err := s.transition(context.WithoutCancel(ctx), rec, repository.StatusCompleted, patch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.reload(context.WithoutCancel(ctx), rec.ID)
	}
	return rec, nil
}

// fail records err on the row; state writes survive a cancelled request context.
func (s *generationService) fail(ctx context.Context, rec *repository.GenerationRecord, cause error) (*repository.GenerationRecord, error) {
	cat := Categorize(cause)
	message := cause.Error()
	if len(message) > maxErrorMessageLen {
		message = message[:maxErrorMessageLen]
	}
	patch := repository.StatusPatch{
		ErrorMessage:  &message,
		ErrorCategory: ptr(string(cat)),
		Retryable:     ptr(cat.Retryable()),
		FailedAt:      ptr(s.now().Unix()),
	}
	persist := context.WithoutCancel(ctx)
	ok, err := s.transition(persist, rec, repository.StatusFailed, patch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.reload(persist, rec.ID)
	}
	s.logger.WarnContext(ctx, "generation failed", "history_id", rec.ID, "kind", rec.Kind, "category", cat, "error", message)
	return rec, nil
}

// transition applies a conditional status move; false means another writer moved the row first.
func (s *generationService) transition(ctx context.Context, rec *repository.GenerationRecord, to string, patch repository.StatusPatch) (bool, error) {
	from := rec.Status
	if !canTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrStateChanged, from, to)
	}
	now := s.now().Unix()
	ok, err := s.history.Transition(ctx, rec.ID, from, to, patch, now)
	if err != nil || !ok {
		return ok, err
	}
	s.metrics.Transition(rec.Kind, from, to)
	rec.Status = to
	rec.UpdatedAt = now
	applyPatch(rec, patch)

	switch to {
	case repository.StatusCompleted:
		s.emit(ctx, events.TypeGenerationCompleted, rec)
	case repository.StatusFailed:
		s.emit(ctx, events.TypeGenerationFailed, rec)
	}
	return true, nil
}

func (s *generationService) emit(ctx context.Context, kind string, rec *repository.GenerationRecord) {
	payload := map[string]any{"history_id": rec.ID, "kind": rec.Kind, "scene_number": rec.SceneNumber}
	if rec.BatchID != "" {
		payload["batch_id"] = rec.BatchID
	}
	if rec.ErrorCategory != "" {
		payload["category"] = rec.ErrorCategory
	}
	events.Emit(ctx, s.publisher, s.logger, events.Event{Type: kind, UserID: rec.UserID, Payload: payload})
}

func applyPatch(rec *repository.GenerationRecord, p repository.StatusPatch) {
	if p.MediaURL != nil {
		rec.MediaURL = *p.MediaURL
	}
	if p.ErrorMessage != nil {
		rec.ErrorMessage = *p.ErrorMessage
	}
	if p.ErrorCategory != nil {
		rec.ErrorCategory = *p.ErrorCategory
	}
	if p.Retryable != nil {
		rec.Retryable = *p.Retryable
	}
	if p.OperationName != nil {
		rec.OperationName = *p.OperationName
	}
	if p.SceneID != nil {
		rec.SceneID = *p.SceneID
	}
	if p.TokenID != nil {
		rec.TokenID = ptr(*p.TokenID)
	}
	if p.NextPollAt != nil {
		rec.NextPollAt = *p.NextPollAt
	}
	if p.FailedAt != nil {
		rec.FailedAt = *p.FailedAt
	}
	if p.CompletedAt != nil {
		rec.CompletedAt = *p.CompletedAt
	}
	if p.LastRetryAt != nil {
		rec.LastRetryAt = *p.LastRetryAt
	}
	if p.ResetPolls {
		rec.PollCount = 0
	}
}

func (s *generationService) reportSuccess(ctx context.Context, tokenID int64, usage repository.TokenUsage) {
	if err := s.tokens.ReportSuccess(context.WithoutCancel(ctx), tokenID, usage); err != nil {
		s.logger.WarnContext(ctx, "record token success failed", "token_id", tokenID, "error", err)
	}
}

func (s *generationService) reportFailure(ctx context.Context, tokenID int64, cat upstream.Category, message string) {
	if err := s.tokens.ReportFailure(context.WithoutCancel(ctx), tokenID, cat, message); err != nil {
		s.logger.WarnContext(ctx, "record token failure failed", "token_id", tokenID, "error", err)
	}
}

// Categorize maps service and upstream errors onto the user-facing taxonomy.
func Categorize(err error) upstream.Category {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCapacity):
		return upstream.CategoryCapacity
	case errors.Is(err, context.Canceled):
		return upstream.CategoryCancelled
	}
	return upstream.CategoryOf(err)
}

// rotateTokens runs call with pool tokens, moving to the next token after credential failures.
// The returned token is the one whose call succeeded.
func rotateTokens(ctx context.Context, tokens TokenPoolService, attempts int, logger *slog.Logger, pool string,
	call func(tok *repository.APIToken) error) (*repository.APIToken, error) {
	if attempts <= 0 {
		attempts = defaultTokenAttempts
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, upstream.Classify(0, nil, err)
		}
		tok, err := tokens.Acquire(ctx, pool)
		if err != nil {
			if lastErr != nil && errors.Is(err, ErrNoCapacity) {
				return nil, lastErr
			}
			return nil, err
		}
		err = call(tok)
		if err == nil {
			return tok, nil
		}
		cat := Categorize(err)
		if cat != upstream.CategoryCancelled {
			if rerr := tokens.ReportFailure(context.WithoutCancel(ctx), tok.ID, cat, err.Error()); rerr != nil {
				logger.WarnContext(ctx, "record token failure failed", "token_id", tok.ID, "error", rerr)
			}
		}
		if !cat.RotatesToken() {
			return nil, err
		}
		lastErr = err
		logger.InfoContext(ctx, "rotating token", "pool", pool, "token_id", tok.ID, "category", cat)
	}
	return nil, lastErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
