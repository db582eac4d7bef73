package security

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
)

// TOTPEnrollment is returned to the user while setting up 2FA.
type TOTPEnrollment struct {
	Secret    string `json:"secret"`
	URL       string `json:"otpauth_url"`
	QRCodePNG string `json:"qr_code"`
}

// TOTP generates and validates authenticator codes.
type TOTP struct {
	issuer string
}

func NewTOTP(issuer string) *TOTP {
	if strings.TrimSpace(issuer) == "" {
		issuer = "VEO3.pk"
	}
	return &TOTP{issuer: issuer}
}

// Enroll creates a new secret and a base64 PNG QR code for the account.
func (t *TOTP) Enroll(accountName string) (*TOTPEnrollment, error) {
	if strings.TrimSpace(accountName) == "" {
		return nil, errors.New("security: account name is required")
	}
	key, err := totp.Generate(totp.GenerateOpts{Issuer: t.issuer, AccountName: accountName})
	if err != nil {
		return nil, fmt.Errorf("security: generate totp: %w", err)
	}
	png, err := qrcode.Encode(key.URL(), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("security: encode qr: %w", err)
	}
	return &TOTPEnrollment{
		Secret:    key.Secret(),
		URL:       key.URL(),
		QRCodePNG: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}

// Validate checks a six digit code against the secret.
func (t *TOTP) Validate(code, secret string) bool {
	code = strings.TrimSpace(code)
	if code == "" || secret == "" {
		return false
	}
	return totp.Validate(code, secret)
}
