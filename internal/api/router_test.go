package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/veo3pk/studio/internal/auth/token"
	"github.com/veo3pk/studio/internal/cache"
	"github.com/veo3pk/studio/internal/config"
	"github.com/veo3pk/studio/internal/events"
	"github.com/veo3pk/studio/internal/notifier"
	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/security"
	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/storage"
	"github.com/veo3pk/studio/internal/support/hash"
	"github.com/veo3pk/studio/internal/support/i18n"
	"github.com/veo3pk/studio/internal/support/validate"
	"github.com/veo3pk/studio/internal/testutil"
	"github.com/veo3pk/studio/internal/upstream"
)

type stubVideo struct{}

func (stubVideo) Start(_ context.Context, _ string, req upstream.VideoRequest) (*upstream.VideoOperation, error) {
	return &upstream.VideoOperation{OperationName: "op-" + req.SceneID, SceneID: req.SceneID, State: upstream.VideoStatePending}, nil
}

func (stubVideo) Status(context.Context, string, string, string) (*upstream.VideoStatus, error) {
	return &upstream.VideoStatus{State: upstream.VideoStateActive}, nil
}

type stubImage struct{}

func (stubImage) Generate(_ context.Context, _ string, req upstream.ImageRequest) (*upstream.ImageResult, error) {
	if req.Prompt == "blocked" {
		return nil, upstream.NewError(upstream.CategoryPolicy, "blocked")
	}
	return &upstream.ImageResult{Data: []byte("\x89PNG\r\n\x1a\nimg"), ContentType: "image/png"}, nil
}

func (stubImage) UploadImage(context.Context, string, []byte, string) (string, error) {
	return "media-1", nil
}

type testServer struct {
	*httptest.Server
	store  repository.Store
	auth   service.AuthService
	tokens service.TokenPoolService
	media  service.MediaService
}

func newTestServer(t *testing.T, opts ...RouterOption) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := testutil.NewStore(t)
	memory := cache.NewStore(cache.Options{})
	publisher := events.NewLogPublisher(logger)
	audit := security.NewLoggerRecorder(logger)
	v := validate.New()

	settings := service.NewSettingsService(store.Settings(), memory, service.GenerationSettings{MaxRetryAttempts: 3, RetryDelayMinutes: 5})
	tokens := service.NewTokenPoolService(store.Tokens(), nil, publisher, logger)
	affiliate := service.NewAffiliateService(store.Users(), store.Affiliates(), settings, notifier.NewLoggerService(logger), audit, publisher, logger)
	plans := service.NewPlanService(store, affiliate, config.QuotaConfig{Timezone: "UTC", VoiceWindowDays: 10}, nil, publisher, logger)
	local, err := storage.NewLocal(t.TempDir(), "/media")
	require.NoError(t, err)
	media := service.NewMediaService(local, store.History(), nil, logger)
	genCfg := config.GenerationConfig{PollInterval: time.Second, MaxPolls: 4, TokenAttempts: 3, MaxConcurrency: 4, MaxBatchSize: 10}
	gen := service.NewGenerationService(service.GenerationDeps{
		Store: store, Plans: plans, Tokens: tokens, Settings: settings, Media: media,
		Videos: stubVideo{}, Images: stubImage{}, Validator: v, Config: genCfg, Publisher: publisher, Logger: logger,
	})
	batch := service.NewBatchService(service.BatchDeps{
		Users: store.Users(), Plans: plans, Tokens: tokens, Settings: settings, Media: media,
		Generation: gen, Validator: v, Config: genCfg, Logger: logger,
	})

	bc, err := hash.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	hasher := hash.NewLegacyAwareHasher(bc)
	manager, err := token.NewManager(token.Options{SigningKey: []byte("router-test-key"), Issuer: "veo3", TTL: time.Hour})
	require.NoError(t, err)
	limiter, err := security.NewRateLimiter(memory)
	require.NoError(t, err)
	totp := security.NewTOTP("VEO3.pk")
	auth := service.NewAuthService(service.AuthDeps{
		Users: store.Users(), Settings: settings, Hasher: hasher, Tokens: manager, TOTP: totp,
		RateLimiter: limiter, Audit: audit, Cache: memory, Logger: logger,
	})
	translator, err := i18n.NewManager(i18n.WithLogger(logger))
	require.NoError(t, err)

	services := Services{
		Auth:       auth,
		TwoFactor:  service.NewTwoFactorService(store.Users(), totp, audit),
		Plans:      plans,
		Settings:   settings,
		Generation: gen,
		Batch:      batch,
		Media:      media,
		Voice: service.NewVoiceService(service.VoiceDeps{
			Store: store, Plans: plans, Tokens: tokens, Settings: settings, Media: media, Validator: v, Config: genCfg, Logger: logger,
		}),
		Affiliate:   affiliate,
		Reseller:    service.NewResellerService(store.Resellers(), plans, auth, audit, logger),
		Billing:     service.NewBillingService("whsec_test", plans, logger),
		Tokens:      tokens,
		AdminUser:   service.NewAdminUserService(store, plans, hasher, audit, logger),
		AdminSystem: service.NewAdminSystemService(service.AdminSystemOptions{Store: store, Tokens: tokens, DataDir: t.TempDir()}),
		I18n:        translator,
	}
	cfg := config.Config{
		Metrics: config.MetricsConfig{Enabled: true, Token: "scrape-secret"},
		Auth:    config.AuthConfig{CookieName: "veo3_session"},
	}
	opts = append([]RouterOption{WithMetricsRegistry(prometheus.NewRegistry())}, opts...)
	srv := httptest.NewServer(NewRouter(logger, services, cfg, opts...))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store, auth: auth, tokens: tokens, media: media}
}

type session struct {
	token string
}

func (s *testServer) do(t *testing.T, sess *session, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sess != nil {
		req.AddCookie(&http.Cookie{Name: "veo3_session", Value: sess.token})
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (s *testServer) register(t *testing.T, username string) *session {
	t.Helper()
	resp := s.do(t, nil, http.MethodPost, "/api/auth/register", map[string]string{
		"username": username, "password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	for _, c := range resp.Cookies() {
		if c.Name == "veo3_session" {
			return &session{token: c.Value}
		}
	}
	t.Fatalf("register %s: no session cookie", username)
	return nil
}

func (s *testServer) admin(t *testing.T) *session {
	t.Helper()
	_, err := s.auth.CreateAccount(context.Background(), service.NewAccount{Username: "root_admin", Password: "admin-password", IsAdmin: true})
	require.NoError(t, err)
	resp := s.do(t, nil, http.MethodPost, "/api/auth/login", map[string]string{"username": "root_admin", "password": "admin-password"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	return &session{token: body["token"].(string)}
}

func TestProbesAndMetricsGuard(t *testing.T) {
	srv := newTestServer(t, WithReadiness(func(context.Context) error { return errors.New("db down") }))

	resp := srv.do(t, nil, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, nil, http.MethodGet, "/_internal/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = srv.do(t, nil, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/metrics", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer scrape-secret")
	scraped, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer scraped.Body.Close()
	assert.Equal(t, http.StatusOK, scraped.StatusCode)
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/api/quota", "/api/auth/me", "/api/video-history", "/api/admin/users"} {
		resp := srv.do(t, nil, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.Equal(t, "error.unauthorized", decodeBody(t, resp)["code"], path)
	}

	resp := srv.do(t, &session{token: "not-a-jwt"}, http.MethodGet, "/api/quota", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNonAdminIsForbiddenFromAdminRoutes(t *testing.T) {
	srv := newTestServer(t)
	user := srv.register(t, "plain_user")

	resp := srv.do(t, user, http.MethodGet, "/api/quota", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	for _, path := range []string{"/api/admin/users", "/api/admin/tokens", "/api/admin/system/status", "/api/admin/settings/maintenance"} {
		resp := srv.do(t, user, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, path)
		assert.Equal(t, "error.forbidden", decodeBody(t, resp)["code"], path)
	}
}

func TestBearerHeaderAndLogout(t *testing.T) {
	srv := newTestServer(t)
	user := srv.register(t, "bearer_user")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/auth/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+user.token)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, user, http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cleared := false
	for _, c := range resp.Cookies() {
		if c.Name == "veo3_session" && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "logout clears the session cookie")

	resp = srv.do(t, user, http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMaintenanceFlagBlocksUsersButNotAdmins(t *testing.T) {
	srv := newTestServer(t)
	admin := srv.admin(t)
	user := srv.register(t, "maint_user")

	resp := srv.do(t, admin, http.MethodPut, "/api/admin/settings/maintenance", map[string]bool{"video": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, nil, http.MethodGet, "/api/maintenance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["video"])

	resp = srv.do(t, user, http.MethodPost, "/api/start-video-generation", map[string]string{"prompt": "a lake at dawn"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "error.maintenance", decodeBody(t, resp)["code"])
}

func TestValidationErrorsCarryFields(t *testing.T) {
	srv := newTestServer(t)
	user := srv.register(t, "validating_user")

	resp := srv.do(t, user, http.MethodPost, "/api/start-video-generation", map[string]string{"prompt": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "error.validation", body["code"])
	assert.Contains(t, body["fields"], "prompt")
}

func TestUnknownAPIRouteIsJSON404(t *testing.T) {
	srv := newTestServer(t)
	resp := srv.do(t, nil, http.MethodGet, "/api/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "error.not_found", decodeBody(t, resp)["code"])
}

func TestMediaServesStoredKeysOnly(t *testing.T) {
	srv := newTestServer(t)
	stored, err := srv.media.Save(context.Background(), 1, "images", []byte("\x89PNG\r\n\x1a\nbody"), "image/png")
	require.NoError(t, err)

	resp := srv.do(t, nil, http.MethodGet, "/media/"+stored.Key, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	for _, path := range []string{"/media/https:%2F%2Fevil.example%2Fx.png", "/media/missing.png"} {
		resp := srv.do(t, nil, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func readEvents(t *testing.T, r io.Reader) []string {
	t.Helper()
	var names []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			names = append(names, name)
		}
	}
	require.NoError(t, scanner.Err())
	return names
}

func TestImageBatchStreamsOneTerminalEventPerItem(t *testing.T) {
	srv := newTestServer(t)
	admin := srv.admin(t)
	_, err := srv.tokens.CreateToken(context.Background(), service.TokenInput{Pool: repository.PoolImage, Label: "img", Credential: "img-cred"})
	require.NoError(t, err)

	resp := srv.do(t, admin, http.MethodPost, "/api/image/batch-stream", map[string]any{
		"items": []map[string]any{{"prompt": "one"}, {"prompt": "blocked"}, {"prompt": "three"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	names := readEvents(t, resp.Body)
	require.NotEmpty(t, names)
	assert.Equal(t, service.EventBatchStarted, names[0])
	assert.Equal(t, service.EventComplete, names[len(names)-1])
	images := 0
	for _, n := range names {
		if n == service.EventImage {
			images++
		}
	}
	assert.Equal(t, 3, images)
}

func TestBatchRejectedBeforeStartAnswersJSON(t *testing.T) {
	srv := newTestServer(t)
	user := srv.register(t, "free_batch_user")

	resp := srv.do(t, user, http.MethodPost, "/api/video/batch-stream", map[string]any{
		"items": []map[string]any{{"prompt": "one"}},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	assert.Equal(t, "error.feature_not_in_plan", decodeBody(t, resp)["code"])

	admin := srv.admin(t)
	resp = srv.do(t, admin, http.MethodPost, "/api/video/batch-stream", map[string]any{"items": []any{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
}

func TestAdminManagesTokensWithoutLeakingCredentials(t *testing.T) {
	srv := newTestServer(t)
	admin := srv.admin(t)

	resp := srv.do(t, admin, http.MethodPost, "/api/admin/tokens", map[string]any{
		"pool": repository.PoolVideo, "label": "primary", "credential": "ya29.secret-credential-1234",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-credential")
	assert.Contains(t, string(raw), "1234")

	resp = srv.do(t, admin, http.MethodGet, "/api/admin/pools", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, admin, http.MethodGet, "/api/admin/jobs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = srv.do(t, admin, http.MethodPost, "/api/admin/jobs/missing/run", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
