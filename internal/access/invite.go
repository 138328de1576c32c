package access

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultInviteAttempts bounds GenerateUniqueInviteCode when the caller
// passes no limit.
const DefaultInviteAttempts = 10

var ErrCodeGenerationExhausted = errors.New("could not generate a unique invite code")

var inviteCodePattern = regexp.MustCompile(`^[0-9A-F]{8}$`)

// NewInviteCode returns 8 random uppercase hex characters.
func NewInviteCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate invite code: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

func ValidInviteCode(code string) bool {
	return inviteCodePattern.MatchString(code)
}

// GenerateUniqueInviteCode draws codes until exists reports one unused, up to
// maxAttempts draws. exists is a point-in-time read: two concurrent callers
// can both see the same code as free unless the check and the write share a
// transaction or the storage enforces uniqueness and the caller retries on
// conflict.
func GenerateUniqueInviteCode(exists func(code string) (bool, error), maxAttempts int) (string, error) {
	return GenerateInviteCodeWith(NewInviteCode, exists, maxAttempts)
}

// GenerateInviteCodeWith is GenerateUniqueInviteCode with the code source
// supplied by the caller.
func GenerateInviteCodeWith(gen func() (string, error), exists func(code string) (bool, error), maxAttempts int) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultInviteAttempts
	}
	for range maxAttempts {
		code, err := gen()
		if err != nil {
			return "", err
		}
		taken, err := exists(code)
		if err != nil {
			return "", fmt.Errorf("check invite code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrCodeGenerationExhausted, maxAttempts)
}
