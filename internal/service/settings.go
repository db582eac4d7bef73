package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/veo3pk/studio/internal/cache"
	"github.com/veo3pk/studio/internal/repository"
)

// Maintenance tools.
const (
	ToolVideo           = "video"
	ToolImage           = "image"
	ToolVoice           = "voice"
	ToolBatch           = "batch"
	ToolCommunityVoices = "community_voices"
	ToolRegistration    = "registration"
)

const (
	categoryMaintenance = "maintenance"
	categoryAffiliate   = "affiliate"
	categoryGeneration  = "generation"

	settingsCacheTTL = 30 * time.Second
)

// MaintenanceFlags switches tools off; true means under maintenance.
type MaintenanceFlags struct {
	Video           bool `json:"video"`
	Image           bool `json:"image"`
	Voice           bool `json:"voice"`
	Batch           bool `json:"batch"`
	CommunityVoices bool `json:"community_voices"`
	Registration    bool `json:"registration"`
}

func (f MaintenanceFlags) enabled(tool string) bool {
	switch tool {
	case ToolVideo:
		return f.Video
	case ToolImage:
		return f.Image
	case ToolVoice:
		return f.Voice
	case ToolBatch:
		return f.Batch
	case ToolCommunityVoices:
		return f.CommunityVoices
	case ToolRegistration:
		return f.Registration
	}
	return false
}

// AffiliateSettings are the commission amounts in PKR.
type AffiliateSettings struct {
	EmpireFirst   int64 `json:"empire_first" validate:"min=0"`
	ScaleFirst    int64 `json:"scale_first" validate:"min=0"`
	EmpireRenewal int64 `json:"empire_renewal" validate:"min=0"`
	ScaleRenewal  int64 `json:"scale_renewal" validate:"min=0"`
	MinWithdrawal int64 `json:"min_withdrawal" validate:"min=0"`
}

// Commission returns the amount for a plan purchase; zero means no reward.
func (s AffiliateSettings) Commission(planType string, firstTime bool) int64 {
	switch {
	case planType == repository.PlanEmpire && firstTime:
		return s.EmpireFirst
	case planType == repository.PlanEmpire:
		return s.EmpireRenewal
	case planType == repository.PlanScale && firstTime:
		return s.ScaleFirst
	case planType == repository.PlanScale:
		return s.ScaleRenewal
	}
	return 0
}

// GenerationSettings control the background retry job.
type GenerationSettings struct {
	MaxRetryAttempts  int  `json:"max_retry_attempts" validate:"min=0,max=10"`
	RetryDelayMinutes int  `json:"retry_delay_minutes" validate:"min=0,max=1440"`
	AutoRetryEnabled  bool `json:"auto_retry_enabled"`
}

// SettingsService reads admin-editable settings through a short-lived cache.
type SettingsService interface {
	Maintenance(ctx context.Context) (MaintenanceFlags, error)
	UpdateMaintenance(ctx context.Context, flags MaintenanceFlags) error
	// CheckAvailable returns ErrMaintenance when the tool is off for non-admins.
	CheckAvailable(ctx context.Context, tool string, isAdmin bool) error
	Affiliate(ctx context.Context) (AffiliateSettings, error)
	UpdateAffiliate(ctx context.Context, s AffiliateSettings) error
	Generation(ctx context.Context) (GenerationSettings, error)
	UpdateGeneration(ctx context.Context, s GenerationSettings) error
}

type settingsService struct {
	settings repository.SettingRepository
	cache    cache.Store
	defaults GenerationSettings
	now      Clock
}

// NewSettingsService caches lookups in store when it is not nil.
func NewSettingsService(settings repository.SettingRepository, store cache.Store, defaults GenerationSettings) SettingsService {
	var ns cache.Store
	if store != nil {
		ns = store.Namespace("settings")
	}
	return &settingsService{settings: settings, cache: ns, defaults: defaults, now: systemClock}
}

func (s *settingsService) Maintenance(ctx context.Context) (MaintenanceFlags, error) {
	var flags MaintenanceFlags
	if s.cached(ctx, categoryMaintenance, &flags) {
		return flags, nil
	}
	values, err := s.category(ctx, categoryMaintenance)
	if err != nil {
		return flags, err
	}
	flags = MaintenanceFlags{
		Video:           parseBool(values["maintenance.video"], false),
		Image:           parseBool(values["maintenance.image"], false),
		Voice:           parseBool(values["maintenance.voice"], false),
		Batch:           parseBool(values["maintenance.batch"], false),
		CommunityVoices: parseBool(values["maintenance.community_voices"], false),
		Registration:    parseBool(values["maintenance.registration"], false),
	}
	s.store(ctx, categoryMaintenance, flags)
	return flags, nil
}

func (s *settingsService) UpdateMaintenance(ctx context.Context, flags MaintenanceFlags) error {
	values := map[string]string{
		"maintenance.video":            strconv.FormatBool(flags.Video),
		"maintenance.image":            strconv.FormatBool(flags.Image),
		"maintenance.voice":            strconv.FormatBool(flags.Voice),
		"maintenance.batch":            strconv.FormatBool(flags.Batch),
		"maintenance.community_voices": strconv.FormatBool(flags.CommunityVoices),
		"maintenance.registration":     strconv.FormatBool(flags.Registration),
	}
	return s.write(ctx, categoryMaintenance, values)
}

func (s *settingsService) CheckAvailable(ctx context.Context, tool string, isAdmin bool) error {
	if isAdmin {
		return nil
	}
	flags, err := s.Maintenance(ctx)
	if err != nil {
		return err
	}
	if flags.enabled(tool) {
		return fmt.Errorf("%w: %s", ErrMaintenance, tool)
	}
	return nil
}

func (s *settingsService) Affiliate(ctx context.Context) (AffiliateSettings, error) {
	var out AffiliateSettings
	if s.cached(ctx, categoryAffiliate, &out) {
		return out, nil
	}
	values, err := s.category(ctx, categoryAffiliate)
	if err != nil {
		return out, err
	}
	out = AffiliateSettings{
		EmpireFirst:   parseInt(values["affiliate.empire_first"], 300),
		ScaleFirst:    parseInt(values["affiliate.scale_first"], 200),
		EmpireRenewal: parseInt(values["affiliate.empire_renewal"], 150),
		ScaleRenewal:  parseInt(values["affiliate.scale_renewal"], 100),
		MinWithdrawal: parseInt(values["affiliate.min_withdrawal"], 1000),
	}
	s.store(ctx, categoryAffiliate, out)
	return out, nil
}

func (s *settingsService) UpdateAffiliate(ctx context.Context, in AffiliateSettings) error {
	if in.EmpireFirst < 0 || in.ScaleFirst < 0 || in.EmpireRenewal < 0 || in.ScaleRenewal < 0 || in.MinWithdrawal < 0 {
		return invalidField("amount", "must not be negative")
	}
	values := map[string]string{
		"affiliate.empire_first":   strconv.FormatInt(in.EmpireFirst, 10),
		"affiliate.scale_first":    strconv.FormatInt(in.ScaleFirst, 10),
		"affiliate.empire_renewal": strconv.FormatInt(in.EmpireRenewal, 10),
		"affiliate.scale_renewal":  strconv.FormatInt(in.ScaleRenewal, 10),
		"affiliate.min_withdrawal": strconv.FormatInt(in.MinWithdrawal, 10),
	}
	return s.write(ctx, categoryAffiliate, values)
}

func (s *settingsService) Generation(ctx context.Context) (GenerationSettings, error) {
	var out GenerationSettings
	if s.cached(ctx, categoryGeneration, &out) {
		return out, nil
	}
	values, err := s.category(ctx, categoryGeneration)
	if err != nil {
		return out, err
	}
	out = GenerationSettings{
		MaxRetryAttempts:  int(parseInt(values["generation.max_retry_attempts"], int64(s.defaults.MaxRetryAttempts))),
		RetryDelayMinutes: int(parseInt(values["generation.retry_delay_minutes"], int64(s.defaults.RetryDelayMinutes))),
		AutoRetryEnabled:  parseBool(values["generation.auto_retry_enabled"], s.defaults.AutoRetryEnabled),
	}
	s.store(ctx, categoryGeneration, out)
	return out, nil
}

func (s *settingsService) UpdateGeneration(ctx context.Context, in GenerationSettings) error {
	if in.MaxRetryAttempts < 0 || in.RetryDelayMinutes < 0 {
		return invalidField("max_retry_attempts", "must not be negative")
	}
	values := map[string]string{
		"generation.max_retry_attempts":  strconv.Itoa(in.MaxRetryAttempts),
		"generation.retry_delay_minutes": strconv.Itoa(in.RetryDelayMinutes),
		"generation.auto_retry_enabled":  strconv.FormatBool(in.AutoRetryEnabled),
	}
	return s.write(ctx, categoryGeneration, values)
}

func (s *settingsService) category(ctx context.Context, category string) (map[string]string, error) {
	rows, err := s.settings.ListByCategory(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("load %s settings: %w", category, err)
	}
	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = row.Value
	}
	return values, nil
}

func (s *settingsService) write(ctx context.Context, category string, values map[string]string) error {
	now := s.now().Unix()
	for key, value := range values {
		if err := s.settings.Upsert(ctx, &repository.Setting{Key: key, Value: value, Category: category, UpdatedAt: now}); err != nil {
			return fmt.Errorf("save setting %s: %w", key, err)
		}
	}
	if s.cache != nil {
		s.cache.Delete(ctx, category)
	}
	return nil
}

func (s *settingsService) cached(ctx context.Context, key string, dest any) bool {
	if s.cache == nil {
		return false
	}
	found, err := s.cache.GetJSON(ctx, key, dest)
	return err == nil && found
}

func (s *settingsService) store(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	_ = s.cache.SetJSON(ctx, key, value, settingsCacheTTL)
}
