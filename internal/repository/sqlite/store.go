package sqlite

import (
	"database/sql"

	"github.com/veo3pk/studio/internal/repository"
)

// Store wires the SQLite-backed repositories.
type Store struct {
	db         *sql.DB
	users      repository.UserRepository
	plans      repository.PlanRepository
	tokens     repository.TokenRepository
	history    repository.HistoryRepository
	purchases  repository.PurchaseRepository
	affiliates repository.AffiliateRepository
	resellers  repository.ResellerRepository
	voices     repository.VoiceRepository
	settings   repository.SettingRepository
	audit      repository.AuditRepository
}

// NewStore constructs a SQLite-backed repository store.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:         db,
		users:      &userRepo{db: db},
		plans:      &planRepo{db: db},
		tokens:     &tokenRepo{db: db},
		history:    &historyRepo{db: db},
		purchases:  &purchaseRepo{db: db},
		affiliates: &affiliateRepo{db: db},
		resellers:  &resellerRepo{db: db},
		voices:     &voiceRepo{db: db},
		settings:   &settingRepo{db: db},
		audit:      &auditLogRepo{db: db},
	}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users() repository.UserRepository           { return s.users }
func (s *Store) Plans() repository.PlanRepository           { return s.plans }
func (s *Store) Tokens() repository.TokenRepository         { return s.tokens }
func (s *Store) History() repository.HistoryRepository      { return s.history }
func (s *Store) Purchases() repository.PurchaseRepository   { return s.purchases }
func (s *Store) Affiliates() repository.AffiliateRepository { return s.affiliates }
func (s *Store) Resellers() repository.ResellerRepository   { return s.resellers }
func (s *Store) Voices() repository.VoiceRepository         { return s.voices }
func (s *Store) Settings() repository.SettingRepository     { return s.settings }
func (s *Store) Audit() repository.AuditRepository          { return s.audit }

var _ repository.Store = (*Store)(nil)
