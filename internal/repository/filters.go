package repository

// UserSearchFilter constrains admin user listings.
type UserSearchFilter struct {
	Keyword  string
	PlanType string
	Status   *int
	Limit    int
	Offset   int
}

// HistoryFilter constrains generation history listings.
type HistoryFilter struct {
	UserID         *int64
	Kind           string
	BatchID        string
	Status         string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// WithdrawalFilter constrains affiliate withdrawal listings.
type WithdrawalFilter struct {
	UserID *int64
	Status string
	Limit  int
	Offset int
}

// AuditFilter constrains audit log listings.
type AuditFilter struct {
	Kind    string
	ActorID string
	Limit   int
	Offset  int
}
