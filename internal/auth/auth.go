package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tweetproof/internal/domain"
)

// ForbiddenError indicates the run was not granted by the DLP owner.
type ForbiddenError struct {
	Address string
}

func (e ForbiddenError) Error() string {
	if e.Address == "" {
		return "permissions failed to validate"
	}
	return fmt.Sprintf("permissions failed to validate: no grant from owner %s", e.Address)
}

var ErrNoPermissions = errors.New("validated permissions are not set (VALIDATED_PERMISSIONS)")

// ParsePermissions decodes the JSON array of validated permissions.
func ParsePermissions(raw string) ([]domain.Permission, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrNoPermissions
	}
	var perms []domain.Permission
	if err := json.Unmarshal([]byte(raw), &perms); err != nil {
		return nil, fmt.Errorf("validated permissions must be a JSON array: %w", err)
	}
	return perms, nil
}

// HasOwner reports whether perms contains an entry matching owner. Both the
// address and the public key must match; addresses compare
// case-insensitively.
func HasOwner(perms []domain.Permission, owner domain.Permission) bool {
	if owner.Address == "" || owner.PublicKey == "" {
		return false
	}
	for _, p := range perms {
		if strings.EqualFold(p.Address, owner.Address) && p.PublicKey == owner.PublicKey {
			return true
		}
	}
	return false
}

// CheckOwner parses raw and returns ForbiddenError unless owner granted it.
func CheckOwner(raw string, owner domain.Permission) error {
	perms, err := ParsePermissions(raw)
	if err != nil {
		return err
	}
	if !HasOwner(perms, owner) {
		return ForbiddenError{Address: owner.Address}
	}
	return nil
}
