package gameauth

import (
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const totpSecretBytes = 20

type totpManager struct {
	config TwoFactorConfig
	now    func() time.Time
}

func newTOTPManager(cfg TwoFactorConfig) *totpManager {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	return &totpManager{config: cfg, now: time.Now}
}

func (m *totpManager) digits() otp.Digits {
	if m.config.Digits == 8 {
		return otp.DigitsEight
	}
	return otp.DigitsSix
}

func (m *totpManager) algorithm() otp.Algorithm {
	switch strings.ToUpper(m.config.Algorithm) {
	case "SHA256":
		return otp.AlgorithmSHA256
	case "SHA512":
		return otp.AlgorithmSHA512
	default:
		return otp.AlgorithmSHA1
	}
}

// Generate creates a fresh base32 secret and its otpauth:// URI.
func (m *totpManager) Generate(account string) (secret, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: account,
		Period:      uint(m.config.Period),
		SecretSize:  totpSecretBytes,
		Digits:      m.digits(),
		Algorithm:   m.algorithm(),
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// Validate accepts codes within ±Skew periods of now and returns the time
// step the code belongs to. Callers reject steps at or below the last one
// they accepted.
func (m *totpManager) Validate(secret, code string) (int64, bool) {
	code = strings.TrimSpace(code)
	if secret == "" || len(code) != int(m.digits()) || m.config.Period <= 0 {
		return 0, false
	}
	period := int64(m.config.Period)
	opts := totp.ValidateOpts{
		Period:    uint(m.config.Period),
		Digits:    m.digits(),
		Algorithm: m.algorithm(),
	}

	now := m.now().UTC()
	skew := int64(m.config.Skew)
	// Newest step first, so a code shared by two steps maps to the later one.
	for offset := skew; offset >= -skew; offset-- {
		at := now.Add(time.Duration(offset*period) * time.Second)
		ok, err := totp.ValidateCustom(code, secret, at, opts)
		if err != nil {
			return 0, false
		}
		if ok {
			return at.Unix() / period, true
		}
	}
	return 0, false
}
