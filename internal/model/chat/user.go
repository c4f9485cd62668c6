package chat

import (
	"errors"
	"fmt"
)

// Role classifies a marketplace participant. Only two roles exist.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

var (
	ErrRolePairing = errors.New("pairing requires exactly one buyer and one seller")
)

// ParseRole validates a raw role string.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleBuyer, RoleSeller:
		return Role(raw), nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// User is a resolved marketplace identity. Users are created and owned by
// the user directory; this core only reads them.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// ValidPairing reports whether the two roles form a buyer/seller pair.
// Same-role pairs are always rejected.
func ValidPairing(a, b Role) bool {
	return (a == RoleBuyer && b == RoleSeller) || (a == RoleSeller && b == RoleBuyer)
}

// CanonicalPair orders two participants as (buyer, seller) regardless of
// send direction. Storage and retrieval both go through this so the
// conversation key is derived exactly once.
func CanonicalPair(a, b User) (buyer, seller User, err error) {
	switch {
	case a.Role == RoleBuyer && b.Role == RoleSeller:
		return a, b, nil
	case a.Role == RoleSeller && b.Role == RoleBuyer:
		return b, a, nil
	}
	return User{}, User{}, ErrRolePairing
}
