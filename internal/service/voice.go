package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/veo3pk/studio/internal/config"
	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/support/logging"
	"github.com/veo3pk/studio/internal/support/validate"
	"github.com/veo3pk/studio/internal/upstream"
)

// VoiceInput is one text-to-speech request.
type VoiceInput struct {
	Text     string  `json:"text" validate:"required,max=5000"`
	VoiceID  string  `json:"voice_id" validate:"required,max=128"`
	Provider string  `json:"provider" validate:"omitempty,oneof=cartesia zyphra"`
	Language string  `json:"language" validate:"max=16"`
	Speed    float64 `json:"speed" validate:"min=0,max=40"`
}

// VoiceResult is synthesized audio stored in media storage.
type VoiceResult struct {
	AudioURL    string         `json:"audio_url"`
	ContentType string         `json:"content_type"`
	Seconds     float64        `json:"seconds"`
	Characters  int64          `json:"characters"`
	Provider    string         `json:"provider"`
	Quota       *QuotaDecision `json:"quota,omitempty"`
}

// CommunityVoiceInput shares a voice preset.
type CommunityVoiceInput struct {
	Name        string `json:"name" validate:"required,max=80"`
	Description string `json:"description" validate:"max=1000"`
	VoiceID     string `json:"voice_id" validate:"required,max=128"`
	Provider    string `json:"provider" validate:"required,oneof=cartesia zyphra"`
	DemoAudio   string `json:"demo_audio"`
}

// TopVoiceInput creates or edits a curated voice.
type TopVoiceInput struct {
	Name         string `json:"name" validate:"required,max=80"`
	Description  string `json:"description" validate:"max=1000"`
	VoiceID      string `json:"voice_id" validate:"required,max=128"`
	Provider     string `json:"provider" validate:"required,oneof=cartesia zyphra"`
	DemoAudio    string `json:"demo_audio"`
	DemoAudioURL string `json:"demo_audio_url" validate:"omitempty,url"`
	SortOrder    int    `json:"sort_order"`
}

// VoiceService covers speech synthesis and shared voice presets.
type VoiceService interface {
	Generate(ctx context.Context, userID int64, in VoiceInput) (*VoiceResult, error)

	ListCommunity(ctx context.Context, sort string, limit, offset int) ([]*repository.CommunityVoice, error)
	CreateCommunity(ctx context.Context, userID int64, in CommunityVoiceInput) (*repository.CommunityVoice, error)
	Like(ctx context.Context, userID, voiceID int64) (*repository.CommunityVoice, error)
	// DeleteCommunity is allowed for the creator and admins.
	DeleteCommunity(ctx context.Context, userID int64, isAdmin bool, voiceID int64) error

	ListTop(ctx context.Context) ([]*repository.TopVoice, error)
	SaveTop(ctx context.Context, id int64, in TopVoiceInput) (*repository.TopVoice, error)
	DeleteTop(ctx context.Context, id int64) error
}

// VoiceDeps groups the collaborators of VoiceService.
type VoiceDeps struct {
	Store     repository.Store
	Plans     PlanService
	Tokens    TokenPoolService
	Settings  SettingsService
	Media     MediaService
	Cartesia  upstream.Synthesizer
	Zyphra    upstream.Synthesizer
	Validator *validate.Validator
	Config    config.GenerationConfig
	Logger    *slog.Logger
}

type voiceService struct {
	users     repository.UserRepository
	voices    repository.VoiceRepository
	plans     PlanService
	tokens    TokenPoolService
	settings  SettingsService
	media     MediaService
	providers map[string]upstream.Synthesizer
	validator *validate.Validator
	attempts  int
	logger    *slog.Logger
	now       Clock
}

func NewVoiceService(deps VoiceDeps) VoiceService {
	providers := map[string]upstream.Synthesizer{}
	if deps.Cartesia != nil {
		providers[upstream.ProviderCartesia] = deps.Cartesia
	}
	if deps.Zyphra != nil {
		providers[upstream.ProviderZyphra] = deps.Zyphra
	}
	return &voiceService{
		users:     deps.Store.Users(),
		voices:    deps.Store.Voices(),
		plans:     deps.Plans,
		tokens:    deps.Tokens,
		settings:  deps.Settings,
		media:     deps.Media,
		providers: providers,
		validator: deps.Validator,
		attempts:  deps.Config.TokenAttempts,
		logger:    logging.Component(deps.Logger, "voice"),
		now:       systemClock,
	}
}

func (s *voiceService) Generate(ctx context.Context, userID int64, in VoiceInput) (*VoiceResult, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if err := s.settings.CheckAvailable(ctx, ToolVoice, user.IsAdmin); err != nil {
		return nil, err
	}
	if err := validationError(s.validator, in); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, invalidField("text", "is required")
	}
	provider := in.Provider
	if provider == "" {
		provider = upstream.ProviderCartesia
	}
	synth, ok := s.providers[provider]
	if !ok {
		return nil, invalidField("provider", "provider is not configured")
	}
	// Pools are named after their provider.
	pool := provider
	if ok, err := s.tokens.HasCapacity(ctx, pool); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s pool", ErrNoCapacity, pool)
	}

	chars := int64(utf8.RuneCountInString(text))
	decision, err := s.plans.CheckAndConsumeQuota(ctx, userID, QuotaVoice, chars)
	if err != nil {
		return nil, err
	}

	req := upstream.SpeechRequest{Text: text, VoiceID: in.VoiceID, Language: in.Language, Speed: in.Speed}
	var speech *upstream.Speech
	tok, err := rotateTokens(ctx, s.tokens, s.attempts, s.logger, pool, func(tok *repository.APIToken) error {
		var callErr error
		speech, callErr = synth.Synthesize(ctx, tok.Credential, req)
		return callErr
	})
	if err != nil {
		s.logger.WarnContext(ctx, "speech synthesis failed", "provider", provider, "category", Categorize(err), "error", err)
		return nil, err
	}

	usage := repository.TokenUsage{}
	if provider == upstream.ProviderZyphra {
		usage.Seconds = int64(math.Ceil(speech.Duration.Seconds()))
	} else {
		usage.Characters = chars
	}
	if err := s.tokens.ReportSuccess(context.WithoutCancel(ctx), tok.ID, usage); err != nil {
		s.logger.WarnContext(ctx, "record token usage failed", "token_id", tok.ID, "error", err)
	}

	stored, err := s.media.Save(context.WithoutCancel(ctx), userID, "voices", speech.Audio, speech.ContentType)
	if err != nil {
		return nil, err
	}
	return &VoiceResult{
		AudioURL:    stored.URL,
		ContentType: stored.ContentType,
		Seconds:     speech.Duration.Seconds(),
		Characters:  chars,
		Provider:    provider,
		Quota:       decision,
	}, nil
}

func (s *voiceService) ListCommunity(ctx context.Context, sort string, limit, offset int) ([]*repository.CommunityVoice, error) {
	limit, offset = clampPage(limit, offset, 24, 100)
	if sort != "popular" {
		sort = "recent"
	}
	list, err := s.voices.ListCommunity(ctx, sort, limit, offset)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*repository.CommunityVoice{}
	}
	return list, nil
}

func (s *voiceService) CreateCommunity(ctx context.Context, userID int64, in CommunityVoiceInput) (*repository.CommunityVoice, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if err := s.settings.CheckAvailable(ctx, ToolCommunityVoices, user.IsAdmin); err != nil {
		return nil, err
	}
	if err := validationError(s.validator, in); err != nil {
		return nil, err
	}
	name := sanitizeText(in.Name, 80)
	if name == "" {
		return nil, invalidField("name", "is required")
	}
	voice := &repository.CommunityVoice{
		CreatorID:   user.ID,
		CreatorName: user.Username,
		Name:        name,
		Description: sanitizeText(in.Description, 1000),
		VoiceID:     strings.TrimSpace(in.VoiceID),
		Provider:    in.Provider,
	}
	if strings.TrimSpace(in.DemoAudio) != "" {
		demo, err := s.media.SaveDemoAudio(ctx, userID, in.DemoAudio)
		if err != nil {
			return nil, err
		}
		voice.DemoAudioURL = demo.URL
	}
	created, err := s.voices.CreateCommunity(ctx, voice)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "community voice shared", "voice_id", created.ID, "user_id", userID)
	return created, nil
}

func (s *voiceService) Like(ctx context.Context, userID, voiceID int64) (*repository.CommunityVoice, error) {
	liked, err := s.voices.Like(ctx, voiceID, userID, s.now().Unix())
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if !liked {
		return nil, ErrAlreadyLiked
	}
	voice, err := s.voices.FindCommunity(ctx, voiceID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return voice, nil
}

func (s *voiceService) DeleteCommunity(ctx context.Context, userID int64, isAdmin bool, voiceID int64) error {
	voice, err := s.voices.FindCommunity(ctx, voiceID)
	if err != nil {
		return mapRepoErr(err)
	}
	if voice.CreatorID != userID && !isAdmin {
		return ErrForbidden
	}
	if err := s.voices.DeleteCommunity(ctx, voiceID); err != nil {
		return mapRepoErr(err)
	}
	s.logger.InfoContext(ctx, "community voice deleted", "voice_id", voiceID, "by", userID, "admin", isAdmin)
	return nil
}

func (s *voiceService) ListTop(ctx context.Context) ([]*repository.TopVoice, error) {
	list, err := s.voices.ListTop(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*repository.TopVoice{}
	}
	return list, nil
}

func (s *voiceService) SaveTop(ctx context.Context, id int64, in TopVoiceInput) (*repository.TopVoice, error) {
	if err := validationError(s.validator, in); err != nil {
		return nil, err
	}
	voice := &repository.TopVoice{}
	if id > 0 {
		existing, err := s.voices.FindTop(ctx, id)
		if err != nil {
			return nil, mapRepoErr(err)
		}
		voice = existing
	}
	voice.Name = sanitizeText(in.Name, 80)
	voice.Description = sanitizeText(in.Description, 1000)
	voice.VoiceID = strings.TrimSpace(in.VoiceID)
	voice.Provider = in.Provider
	voice.SortOrder = in.SortOrder
	switch {
	case strings.TrimSpace(in.DemoAudio) != "":
		demo, err := s.media.SaveDemoAudio(ctx, 0, in.DemoAudio)
		if err != nil {
			return nil, err
		}
		voice.DemoAudioURL = demo.URL
	case in.DemoAudioURL != "":
		voice.DemoAudioURL = in.DemoAudioURL
	}
	if voice.Name == "" {
		return nil, invalidField("name", "is required")
	}
	saved, err := s.voices.SaveTop(ctx, voice)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return saved, nil
}

func (s *voiceService) DeleteTop(ctx context.Context, id int64) error {
	return mapRepoErr(s.voices.DeleteTop(ctx, id))
}
