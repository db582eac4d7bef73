package repository

import "context"

// Store exposes one repository per aggregate.
type Store interface {
	Users() UserRepository
	Plans() PlanRepository
	Tokens() TokenRepository
	History() HistoryRepository
	Purchases() PurchaseRepository
	Affiliates() AffiliateRepository
	Resellers() ResellerRepository
	Voices() VoiceRepository
	Settings() SettingRepository
	Audit() AuditRepository
}

// UserRepository covers accounts and their quota counters.
type UserRepository interface {
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByUID(ctx context.Context, uid string) (*User, error)
	Create(ctx context.Context, user *User) (*User, error)
	Update(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, id int64, hashed string) error
	TouchLogin(ctx context.Context, id int64, at int64) error
	SetTwoFactor(ctx context.Context, id int64, secret string, enabled bool) error
	Search(ctx context.Context, filter UserSearchFilter) ([]*User, error)
	Count(ctx context.Context, filter UserSearchFilter) (int64, error)
	HasAdmin(ctx context.Context) (bool, error)
	// ConsumeVideoQuota resets the counter when today differs from the stored day,
	// then adds amount if it fits under limit (0 = unlimited). ok=false leaves the row untouched.
	ConsumeVideoQuota(ctx context.Context, userID int64, today string, amount, limit int64) (count int64, ok bool, err error)
	// ConsumeVoiceQuota charges the rolling character window; a window that began
	// at or before windowCutoff restarts at now.
	ConsumeVoiceQuota(ctx context.Context, userID int64, amount, limit, windowCutoff, now int64) (used int64, ok bool, err error)
	ResetQuota(ctx context.Context, userID int64) error
	Delete(ctx context.Context, id int64) error
	ExpirePlans(ctx context.Context, now int64) (int64, error)
	ListReferrals(ctx context.Context, referrerUID string, limit, offset int) ([]*User, error)
}

// PlanRepository manages the plan catalog.
type PlanRepository interface {
	List(ctx context.Context) ([]Plan, error)
	Get(ctx context.Context, planType string) (*Plan, error)
	Upsert(ctx context.Context, plan *Plan) error
}

// TokenRepository manages upstream credentials and their pools.
type TokenRepository interface {
	ListPools(ctx context.Context) ([]TokenPool, error)
	GetPool(ctx context.Context, pool string) (*TokenPool, error)
	UpdatePool(ctx context.Context, pool *TokenPool) error

	Create(ctx context.Context, token *APIToken) (*APIToken, error)
	FindByID(ctx context.Context, id int64) (*APIToken, error)
	List(ctx context.Context, pool string) ([]*APIToken, error)
	Update(ctx context.Context, token *APIToken) error
	Delete(ctx context.Context, id int64) error
	ResetCounters(ctx context.Context, id int64, at int64) error

	// AcquireLRU atomically picks and charges the least recently used eligible token.
	AcquireLRU(ctx context.Context, pool string, threshold int, now int64) (*APIToken, error)
	// AcquireRoundRobin bumps the pool cursor and charges eligible[cursor mod n].
	AcquireRoundRobin(ctx context.Context, pool string, threshold int, now int64) (*APIToken, error)
	CountEligible(ctx context.Context, pool string, threshold int) (int64, error)
	RecordSuccess(ctx context.Context, id int64, usage TokenUsage, now int64) error
	// RecordFailure returns true when this failure deactivated the token.
	RecordFailure(ctx context.Context, id int64, message string, countsAgainst bool, threshold int, now int64) (bool, error)
	Stats(ctx context.Context) ([]PoolStats, error)
}

// HistoryRepository persists generation attempts.
type HistoryRepository interface {
	Create(ctx context.Context, record *GenerationRecord) (*GenerationRecord, error)
	FindByID(ctx context.Context, id int64) (*GenerationRecord, error)
	List(ctx context.Context, filter HistoryFilter) ([]*GenerationRecord, error)
	Count(ctx context.Context, filter HistoryFilter) (int64, error)
	// Transition moves a row from -> to; false means the row was not in from.
	Transition(ctx context.Context, id int64, from, to string, patch StatusPatch, now int64) (bool, error)
	// RecordPoll bumps poll_count for a processing row and returns the new count.
	RecordPoll(ctx context.Context, id int64, nextPollAt, now int64) (int, error)
	// ClaimPoll is RecordPoll restricted to rows whose next_poll_at has passed.
	ClaimPoll(ctx context.Context, id int64, nextPollAt, now int64) (int, error)
	ListDuePolls(ctx context.Context, now int64, limit int) ([]*GenerationRecord, error)
	ListRetryable(ctx context.Context, kind string, categories []string, maxAttempts int, failedBefore int64, limit int) ([]*GenerationRecord, error)
	SoftDelete(ctx context.Context, id, userID int64) (bool, error)
}

// PurchaseRepository records plan purchases.
type PurchaseRepository interface {
	// Activate inserts the purchase and updates the user's plan in one transaction.
	// inserted=false means the transaction id was already recorded.
	Activate(ctx context.Context, activation PlanActivation) (purchase *PlanPurchase, inserted bool, err error)
	// IsFirstPaid reports whether the purchase is the user's earliest paid purchase.
	IsFirstPaid(ctx context.Context, purchase *PlanPurchase) (bool, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*PlanPurchase, error)
}

// AffiliateRepository holds earnings and withdrawals.
type AffiliateRepository interface {
	// Credit inserts the earning and bumps the referrer balance once per (referred user, transaction).
	Credit(ctx context.Context, earning *AffiliateEarning) (bool, error)
	ListEarnings(ctx context.Context, referrerID int64, limit, offset int) ([]*AffiliateEarning, error)
	TotalEarned(ctx context.Context, referrerID int64) (int64, error)

	CreateWithdrawal(ctx context.Context, withdrawal *AffiliateWithdrawal) (*AffiliateWithdrawal, error)
	FindWithdrawal(ctx context.Context, id int64) (*AffiliateWithdrawal, error)
	ListWithdrawals(ctx context.Context, filter WithdrawalFilter) ([]*AffiliateWithdrawal, error)
	ApproveWithdrawal(ctx context.Context, id, adminID int64, remarks string, now int64) (*AffiliateWithdrawal, error)
	RejectWithdrawal(ctx context.Context, id, adminID int64, remarks string, now int64) (*AffiliateWithdrawal, error)
}

// ResellerRepository holds reseller balances and their ledger.
type ResellerRepository interface {
	Create(ctx context.Context, reseller *Reseller) (*Reseller, error)
	FindByID(ctx context.Context, id int64) (*Reseller, error)
	FindByUserID(ctx context.Context, userID int64) (*Reseller, error)
	List(ctx context.Context) ([]*Reseller, error)
	SetActive(ctx context.Context, id int64, active bool, now int64) error
	// ApplyCredit changes the balance and appends a ledger row in one transaction.
	ApplyCredit(ctx context.Context, change CreditChange) (*CreditLedgerEntry, error)
	Ledger(ctx context.Context, resellerID int64, limit, offset int) ([]*CreditLedgerEntry, error)
	LastLedgerBalance(ctx context.Context, resellerID int64) (int64, bool, error)
}

// VoiceRepository covers community and curated voices.
type VoiceRepository interface {
	ListCommunity(ctx context.Context, sort string, limit, offset int) ([]*CommunityVoice, error)
	FindCommunity(ctx context.Context, id int64) (*CommunityVoice, error)
	CreateCommunity(ctx context.Context, voice *CommunityVoice) (*CommunityVoice, error)
	DeleteCommunity(ctx context.Context, id int64) error
	// Like records one like per user; false means the user already liked it.
	Like(ctx context.Context, voiceID, userID int64, now int64) (bool, error)

	ListTop(ctx context.Context) ([]*TopVoice, error)
	FindTop(ctx context.Context, id int64) (*TopVoice, error)
	SaveTop(ctx context.Context, voice *TopVoice) (*TopVoice, error)
	DeleteTop(ctx context.Context, id int64) error
}

// SettingRepository stores key/value settings.
type SettingRepository interface {
	Get(ctx context.Context, key string) (*Setting, error)
	Upsert(ctx context.Context, setting *Setting) error
	List(ctx context.Context) ([]Setting, error)
	ListByCategory(ctx context.Context, category string) ([]Setting, error)
}

// AuditRepository stores security events.
type AuditRepository interface {
	Create(ctx context.Context, entry *AuditLog) error
	List(ctx context.Context, filter AuditFilter) ([]*AuditLog, error)
}
