package repository

// Plan types.
const (
	PlanFree       = "free"
	PlanScale      = "scale"
	PlanEmpire     = "empire"
	PlanEnterprise = "enterprise"
)

// Plan statuses.
const (
	PlanStatusActive    = "active"
	PlanStatusExpired   = "expired"
	PlanStatusCancelled = "cancelled"
)

// User statuses.
const (
	UserStatusDisabled = 0
	UserStatusActive   = 1
)

// User is an account row.
type User struct {
	ID                     int64  `json:"id"`
	UID                    string `json:"uid"`
	Username               string `json:"username"`
	Email                  string `json:"email"`
	Password               string `json:"-"`
	IsAdmin                bool   `json:"is_admin"`
	Status                 int    `json:"status"`
	PlanType               string `json:"plan_type"`
	PlanStatus             string `json:"plan_status"`
	PlanStartedAt          int64  `json:"plan_started_at"`
	PlanExpiresAt          int64  `json:"plan_expires_at"`
	DailyVideoCount        int64  `json:"daily_video_count"`
	DailyVideoLimit        *int64 `json:"daily_video_limit"`
	DailyResetDate         string `json:"daily_reset_date"`
	VoiceCharactersUsed    int64  `json:"voice_characters_used"`
	VoiceCharactersResetAt int64  `json:"voice_characters_reset_at"`
	ReferredBy             string `json:"referred_by"`
	AffiliateBalance       int64  `json:"affiliate_balance"`
	TotalReferrals         int64  `json:"total_referrals"`
	TwoFactorSecret        string `json:"-"`
	TwoFactorEnabled       bool   `json:"two_factor_enabled"`
	LastLoginAt            int64  `json:"last_login_at"`
	CreatedAt              int64  `json:"created_at"`
	UpdatedAt              int64  `json:"updated_at"`
}

// Plan is a catalog entry; zero limits mean unlimited.
type Plan struct {
	PlanType            string `json:"plan_type"`
	Name                string `json:"name"`
	DailyVideoLimit     int64  `json:"daily_video_limit"`
	VoiceCharacterLimit int64  `json:"voice_character_limit"`
	Price               int64  `json:"price"`
	DurationDays        int    `json:"duration_days"`
	ResellerCost        int64  `json:"reseller_cost"`
	UpdatedAt           int64  `json:"updated_at"`
}

// Token pool names.
const (
	PoolVideo    = "video"
	PoolImage    = "image"
	PoolCartesia = "cartesia"
	PoolZyphra   = "zyphra"
	PoolFlow     = "flow"
)

// Rotation policies.
const (
	PolicyLRU        = "lru"
	PolicyRoundRobin = "round_robin"
)

// TokenPool holds per-pool rotation state.
type TokenPool struct {
	Pool              string `json:"pool"`
	Policy            string `json:"policy"`
	NextRotationIndex int64  `json:"next_rotation_index"`
	ErrorThreshold    int    `json:"error_threshold"`
	UpdatedAt         int64  `json:"updated_at"`
}

// APIToken is an upstream credential.
type APIToken struct {
	ID                int64  `json:"id"`
	Pool              string `json:"pool"`
	Label             string `json:"label"`
	Credential        string `json:"-"`
	IsActive          bool   `json:"is_active"`
	UsageLimit        int64  `json:"usage_limit"`
	RequestCount      int64  `json:"request_count"`
	CharactersUsed    int64  `json:"characters_used"`
	SecondsUsed       int64  `json:"seconds_used"`
	ErrorCount        int64  `json:"error_count"`
	ConsecutiveErrors int    `json:"consecutive_errors"`
	LastError         string `json:"last_error"`
	LastUsedAt        int64  `json:"last_used_at"`
	CreatedAt         int64  `json:"created_at"`
	UpdatedAt         int64  `json:"updated_at"`
}

// TokenUsage is extra usage reported after a successful call.
type TokenUsage struct {
	Characters int64 `json:"characters"`
	Seconds    int64 `json:"seconds"`
}

// PoolStats summarizes a pool for dashboards and gauges.
type PoolStats struct {
	Pool           string `json:"pool"`
	Policy         string `json:"policy"`
	Total          int64  `json:"total"`
	Active         int64  `json:"active"`
	Eligible       int64  `json:"eligible"`
	Requests       int64  `json:"requests"`
	Errors         int64  `json:"errors"`
	ErrorThreshold int    `json:"error_threshold"`
}

// Generation kinds.
const (
	KindVideo = "video"
	KindImage = "image"
)

// Generation statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// GenerationRecord is one video or image attempt.
type GenerationRecord struct {
	ID                int64  `json:"id"`
	UserID            int64  `json:"user_id"`
	Kind              string `json:"kind"`
	Prompt            string `json:"prompt"`
	AspectRatio       string `json:"aspect_ratio"`
	Model             string `json:"model"`
	Status            string `json:"status"`
	MediaURL          string `json:"media_url"`
	ErrorMessage      string `json:"error_message"`
	ErrorCategory     string `json:"error_category"`
	Retryable         bool   `json:"retryable"`
	OperationName     string `json:"operation_name"`
	SceneID           string `json:"scene_id"`
	TokenID           *int64 `json:"token_id"`
	RetryCount        int    `json:"retry_count"`
	LastRetryAt       int64  `json:"last_retry_at"`
	FailedAt          int64  `json:"failed_at"`
	PollCount         int    `json:"poll_count"`
	NextPollAt        int64  `json:"next_poll_at"`
	SceneNumber       int    `json:"scene_number"`
	BatchID           string `json:"batch_id"`
	DependsOn         *int64 `json:"depends_on"`
	ReferenceImageURL string `json:"reference_image_url"`
	RequestPayload    []byte `json:"-"`
	DeletedByUser     bool   `json:"deleted_by_user"`
	CreatedAt         int64  `json:"created_at"`
	UpdatedAt         int64  `json:"updated_at"`
	CompletedAt       int64  `json:"completed_at"`
}

// StatusPatch lists the columns written together with a status transition.
type StatusPatch struct {
	MediaURL       *string
	ErrorMessage   *string
	ErrorCategory  *string
	Retryable      *bool
	OperationName  *string
	SceneID        *string
	TokenID        *int64
	NextPollAt     *int64
	FailedAt       *int64
	CompletedAt    *int64
	LastRetryAt    *int64
	IncrementRetry bool
	ResetPolls     bool
}

// Purchase sources.
const (
	SourceStripe   = "stripe"
	SourceAdmin    = "admin"
	SourceReseller = "reseller"
)

// PlanPurchase is one billing ledger row.
type PlanPurchase struct {
	ID            int64  `json:"id"`
	UserID        int64  `json:"user_id"`
	PlanType      string `json:"plan_type"`
	Amount        int64  `json:"amount"`
	Source        string `json:"source"`
	TransactionID string `json:"transaction_id"`
	CreatedAt     int64  `json:"created_at"`
}

// PlanActivation applies a purchase to a user atomically.
type PlanActivation struct {
	Purchase  PlanPurchase
	StartedAt int64
	ExpiresAt int64
}

// AffiliateEarning is an immutable credited referral reward.
type AffiliateEarning struct {
	ID             int64  `json:"id"`
	ReferrerID     int64  `json:"referrer_id"`
	ReferredUserID int64  `json:"referred_user_id"`
	TransactionID  string `json:"transaction_id"`
	PlanType       string `json:"plan_type"`
	Amount         int64  `json:"amount"`
	IsFirstTime    bool   `json:"is_first_time"`
	Status         string `json:"status"`
	CreatedAt      int64  `json:"created_at"`
}

// Withdrawal statuses.
const (
	WithdrawalPending  = "pending"
	WithdrawalApproved = "approved"
	WithdrawalRejected = "rejected"
)

// AffiliateWithdrawal is a payout request.
type AffiliateWithdrawal struct {
	ID            int64  `json:"id"`
	UserID        int64  `json:"user_id"`
	Amount        int64  `json:"amount"`
	BankName      string `json:"bank_name"`
	AccountTitle  string `json:"account_title"`
	AccountNumber string `json:"account_number"`
	Status        string `json:"status"`
	Remarks       string `json:"remarks"`
	ProcessedBy   *int64 `json:"processed_by"`
	ProcessedAt   int64  `json:"processed_at"`
	CreatedAt     int64  `json:"created_at"`
}

// Reseller owns a credit balance used to provision accounts.
type Reseller struct {
	ID            int64  `json:"id"`
	UserID        int64  `json:"user_id"`
	Name          string `json:"name"`
	CreditBalance int64  `json:"credit_balance"`
	IsActive      bool   `json:"is_active"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// CreditLedgerEntry is an immutable reseller balance change.
type CreditLedgerEntry struct {
	ID           int64  `json:"id"`
	ResellerID   int64  `json:"reseller_id"`
	Delta        int64  `json:"delta"`
	BalanceAfter int64  `json:"balance_after"`
	Reason       string `json:"reason"`
	Reference    string `json:"reference"`
	CreatedBy    int64  `json:"created_by"`
	CreatedAt    int64  `json:"created_at"`
}

// CreditChange describes one reseller balance mutation.
type CreditChange struct {
	ResellerID int64
	Delta      int64
	Reason     string
	Reference  string
	CreatedBy  int64
	CreatedAt  int64
}

// CommunityVoice is a user-shared voice.
type CommunityVoice struct {
	ID           int64  `json:"id"`
	CreatorID    int64  `json:"creator_id"`
	CreatorName  string `json:"creator_name"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	VoiceID      string `json:"voice_id"`
	Provider     string `json:"provider"`
	DemoAudioURL string `json:"demo_audio_url"`
	Likes        int64  `json:"likes"`
	CreatedAt    int64  `json:"created_at"`
}

// TopVoice is an admin-curated voice.
type TopVoice struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	VoiceID      string `json:"voice_id"`
	Provider     string `json:"provider"`
	DemoAudioURL string `json:"demo_audio_url"`
	Likes        int64  `json:"likes"`
	SortOrder    int    `json:"sort_order"`
	CreatedAt    int64  `json:"created_at"`
}

// Setting is a key/value row grouped by category.
type Setting struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Category  string `json:"category"`
	UpdatedAt int64  `json:"updated_at"`
}

// AuditLog is a persisted security event.
type AuditLog struct {
	ID        int64  `json:"id"`
	Kind      string `json:"kind"`
	ActorID   string `json:"actor_id"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
	Metadata  string `json:"metadata"`
	CreatedAt int64  `json:"created_at"`
}
