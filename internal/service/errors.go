package service

import "errors"

var (
	// ErrNotFound indicates requested resource does not exist.
	ErrNotFound = errors.New("service: not found")
	// ErrInvalidCredentials indicates provided credentials are wrong.
	ErrInvalidCredentials = errors.New("service: invalid credentials")
	// ErrRateLimited indicates caller exceeded allowed attempts.
	ErrRateLimited = errors.New("service: rate limited")
	// ErrAccountDisabled indicates the account is disabled.
	ErrAccountDisabled = errors.New("service: account disabled")
	// ErrUnauthorized indicates missing, invalid or revoked session tokens.
	ErrUnauthorized = errors.New("service: unauthorized")
	// ErrForbidden indicates the caller may not touch the resource.
	ErrForbidden = errors.New("service: forbidden")
	// ErrValidation wraps field-level input errors.
	ErrValidation = errors.New("service: validation failed")
	// ErrConflict indicates a uniqueness rule rejected the write.
	ErrConflict = errors.New("service: conflict")
	// ErrRegistrationClosed indicates registering is disabled.
	ErrRegistrationClosed = errors.New("service: registration closed")
	// ErrTwoFactorInvalid indicates a wrong or expired authenticator code or challenge.
	ErrTwoFactorInvalid = errors.New("service: invalid two-factor code")
	// ErrTwoFactorNotEnrolled indicates 2FA has not been set up.
	ErrTwoFactorNotEnrolled = errors.New("service: two-factor not enrolled")
	// ErrMaintenance indicates the tool is switched off by an admin.
	ErrMaintenance = errors.New("service: under maintenance")
	// ErrQuotaExceeded indicates the plan limit for the period is used up.
	ErrQuotaExceeded = errors.New("service: quota exceeded")
	// ErrFeatureNotInPlan indicates the current plan does not include the tool.
	ErrFeatureNotInPlan = errors.New("service: feature not in plan")
	// ErrNoCapacity indicates every credential in the pool is exhausted or disabled.
	ErrNoCapacity = errors.New("service: no capacity")
	// ErrInsufficientBalance indicates an affiliate balance is below the requested amount.
	ErrInsufficientBalance = errors.New("service: insufficient balance")
	// ErrInsufficientCredits indicates a reseller balance is below the cost.
	ErrInsufficientCredits = errors.New("service: insufficient credits")
	// ErrWithdrawalPending indicates the user already has a pending withdrawal.
	ErrWithdrawalPending = errors.New("service: withdrawal already pending")
	// ErrWithdrawalMinimum indicates the amount is below the configured minimum.
	ErrWithdrawalMinimum = errors.New("service: withdrawal below minimum")
	// ErrStateChanged indicates the row is no longer in the expected state.
	ErrStateChanged = errors.New("service: state changed")
	// ErrNotRetryable indicates the generation cannot be regenerated or retried.
	ErrNotRetryable = errors.New("service: not retryable")
	// ErrAlreadyLiked indicates the user already liked the voice.
	ErrAlreadyLiked = errors.New("service: already liked")
	// ErrInvalidSignature indicates a webhook payload failed verification.
	ErrInvalidSignature = errors.New("service: invalid signature")
)
