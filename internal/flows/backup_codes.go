package flows

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// BackupCodeAlphabet omits 0/O and 1/I so codes survive being read aloud.
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// BackupCodeSet is one freshly generated batch. Plain goes to the user once;
// only Digests are persisted.
type BackupCodeSet struct {
	Plain   []string
	Digests []string
}

// GenerateBackupCodes draws count codes of length characters for userID.
func GenerateBackupCodes(userID string, count, length int, randomIndex func(int) (int, error)) (BackupCodeSet, error) {
	if userID == "" {
		return BackupCodeSet{}, errors.New("user id is required")
	}
	if count <= 0 || length <= 0 {
		return BackupCodeSet{}, errors.New("invalid backup code shape")
	}

	set := BackupCodeSet{
		Plain:   make([]string, 0, count),
		Digests: make([]string, 0, count),
	}
	seen := make(map[string]struct{}, count)
	for len(set.Plain) < count {
		code, err := NewBackupCode(length, randomIndex)
		if err != nil {
			return BackupCodeSet{}, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		set.Plain = append(set.Plain, FormatBackupCode(code))
		set.Digests = append(set.Digests, BackupCodeDigest(userID, code))
	}
	return set, nil
}

func NewBackupCode(length int, randomIndex func(int) (int, error)) (string, error) {
	if randomIndex == nil {
		return "", errors.New("random source is required")
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(BackupCodeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n])
	}
	return b.String(), nil
}

// FormatBackupCode splits codes of eight or more characters in half with a dash.
func FormatBackupCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeBackupCode upper-cases and strips dashes and spaces.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// BackupCodeDigest binds the canonical code to userID so digests cannot be
// replayed across accounts.
func BackupCodeDigest(userID, code string) string {
	canonical := CanonicalizeBackupCode(code)
	data := make([]byte, 0, len(userID)+1+len(canonical))
	data = append(data, userID...)
	data = append(data, 0)
	data = append(data, canonical...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
