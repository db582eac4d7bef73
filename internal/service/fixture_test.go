package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veo3pk/studio/internal/cache"
	"github.com/veo3pk/studio/internal/config"
	"github.com/veo3pk/studio/internal/events"
	"github.com/veo3pk/studio/internal/notifier"
	"github.com/veo3pk/studio/internal/repository"
	sqliterepo "github.com/veo3pk/studio/internal/repository/sqlite"
	"github.com/veo3pk/studio/internal/security"
	"github.com/veo3pk/studio/internal/storage"
	"github.com/veo3pk/studio/internal/support/validate"
	"github.com/veo3pk/studio/internal/testutil"
	"github.com/veo3pk/studio/internal/upstream"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeVideo scripts upstream video behaviour per prompt.
type fakeVideo struct {
	mu        sync.Mutex
	starts    int
	statuses  int
	startErr  map[string]error
	failAfter map[string]*upstream.Error
	credUsed  []string
}

func newFakeVideo() *fakeVideo {
	return &fakeVideo{startErr: map[string]error{}, failAfter: map[string]*upstream.Error{}}
}

func (f *fakeVideo) Start(_ context.Context, credential string, req upstream.VideoRequest) (*upstream.VideoOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.credUsed = append(f.credUsed, credential)
	if err, ok := f.startErr[credential]; ok {
		return nil, err
	}
	if err, ok := f.startErr[req.Prompt]; ok {
		return nil, err
	}
	return &upstream.VideoOperation{OperationName: "op-" + req.SceneID, SceneID: req.SceneID, State: upstream.VideoStatePending}, nil
}

func (f *fakeVideo) Status(_ context.Context, _ string, operationName, sceneID string) (*upstream.VideoStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses++
	if e, ok := f.failAfter[operationName]; ok {
		return &upstream.VideoStatus{State: upstream.VideoStateFailed, Err: e}, nil
	}
	return &upstream.VideoStatus{State: upstream.VideoStateSuccessful, VideoURL: "https://cdn.example/" + sceneID + ".mp4"}, nil
}

func (f *fakeVideo) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// pendingVideo never finishes.
type pendingVideo struct{ *fakeVideo }

func newPendingVideo() *pendingVideo { return &pendingVideo{fakeVideo: newFakeVideo()} }

func (p *pendingVideo) Status(context.Context, string, string, string) (*upstream.VideoStatus, error) {
	return &upstream.VideoStatus{State: upstream.VideoStateActive}, nil
}

// fakeImage renders a tiny PNG header and records reference usage.
type fakeImage struct {
	mu         sync.Mutex
	failPrompt map[string]error
	references map[string]string
	uploads    int
}

func newFakeImage() *fakeImage {
	return &fakeImage{failPrompt: map[string]error{}, references: map[string]string{}}
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n-fake-image")

func (f *fakeImage) Generate(_ context.Context, _ string, req upstream.ImageRequest) (*upstream.ImageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.references[req.Prompt] = req.ReferenceMediaID
	if err, ok := f.failPrompt[req.Prompt]; ok {
		return nil, err
	}
	return &upstream.ImageResult{Data: pngBytes, ContentType: "image/png", Seed: req.Seed}, nil
}

func (f *fakeImage) UploadImage(_ context.Context, _ string, data []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	return fmt.Sprintf("media-%d-%d", f.uploads, len(data)), nil
}

func (f *fakeImage) referenceFor(prompt string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.references[prompt]
}

// memoryReporter collects batch events.
type memoryReporter struct {
	mu     sync.Mutex
	events []reportedEvent
}

type reportedEvent struct {
	name    string
	payload any
}

func (r *memoryReporter) Emit(event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, reportedEvent{name: event, payload: payload})
	return nil
}

func (r *memoryReporter) named(name string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e.payload)
		}
	}
	return out
}

type fixture struct {
	store     *sqliterepo.Store
	cache     cache.Store
	settings  SettingsService
	tokens    TokenPoolService
	affiliate AffiliateService
	plans     PlanService
	media     MediaService
	video     *fakeVideo
	image     *fakeImage
	gen       *generationService
	batch     BatchService
	cfg       config.GenerationConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithVideo(t, nil)
}

func newFixtureWithVideo(t *testing.T, video VideoBackend) *fixture {
	t.Helper()
	store := testutil.NewStore(t)
	memory := cache.NewStore(cache.Options{})
	logger := discardLogger()
	publisher := events.NewLogPublisher(logger)
	settings := NewSettingsService(store.Settings(), memory, GenerationSettings{MaxRetryAttempts: 3, RetryDelayMinutes: 5, AutoRetryEnabled: true})
	tokens := NewTokenPoolService(store.Tokens(), nil, publisher, logger)
	affiliate := NewAffiliateService(store.Users(), store.Affiliates(), settings, notifier.NewLoggerService(logger),
		security.NewLoggerRecorder(logger), publisher, logger)
	plans := NewPlanService(store, affiliate, config.QuotaConfig{Timezone: "UTC", VoiceWindowDays: 10}, nil, publisher, logger)
	local, err := storage.NewLocal(t.TempDir(), "/media")
	require.NoError(t, err)
	media := NewMediaService(local, store.History(), nil, logger)

	fv := newFakeVideo()
	switch v := video.(type) {
	case nil:
		video = fv
	case *pendingVideo:
		fv = v.fakeVideo
	}
	fi := newFakeImage()
	cfg := config.GenerationConfig{PollInterval: 5 * time.Millisecond, MaxPolls: 4, TokenAttempts: 3, MaxConcurrency: 4, MaxBatchSize: 10}
	v := validate.New()
	gen := NewGenerationService(GenerationDeps{
		Store:     store,
		Plans:     plans,
		Tokens:    tokens,
		Settings:  settings,
		Media:     media,
		Videos:    video,
		Images:    fi,
		Validator: v,
		Config:    cfg,
		Publisher: publisher,
		Logger:    logger,
	}).(*generationService)
	batch := NewBatchService(BatchDeps{
		Users:      store.Users(),
		Plans:      plans,
		Tokens:     tokens,
		Settings:   settings,
		Media:      media,
		Generation: gen,
		Validator:  v,
		Config:     cfg,
		Logger:     logger,
	})
	return &fixture{
		store:     store,
		cache:     memory,
		settings:  settings,
		tokens:    tokens,
		affiliate: affiliate,
		plans:     plans,
		media:     media,
		video:     fv,
		image:     fi,
		gen:       gen,
		batch:     batch,
		cfg:       cfg,
	}
}

func (f *fixture) addToken(t *testing.T, pool, credential string) *repository.APIToken {
	t.Helper()
	tok, err := f.tokens.CreateToken(context.Background(), TokenInput{Pool: pool, Label: credential, Credential: credential})
	require.NoError(t, err)
	return tok
}

func (f *fixture) reload(t *testing.T, id int64) *repository.GenerationRecord {
	t.Helper()
	rec, err := f.store.History().FindByID(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func authError(msg string) error {
	return &upstream.Error{Category: upstream.CategoryAuth, Status: 401, Message: msg}
}

func policyError(msg string) error {
	return &upstream.Error{Category: upstream.CategoryPolicy, Status: 400, Message: msg}
}

var errBoom = errors.New("boom")
