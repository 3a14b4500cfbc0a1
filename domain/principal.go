package domain

import "strings"

// ZeroAddress is the null principal in its hex form.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Principal identifies an account: a wallet address, an operator, or the
// platform fee recipient. Principals compare case-insensitively.
type Principal string

// NewPrincipal normalizes an address-like string.
func NewPrincipal(s string) Principal {
	return Principal(strings.ToLower(strings.TrimSpace(s)))
}

// IsZero reports whether p is the null principal.
func (p Principal) IsZero() bool {
	n := NewPrincipal(string(p))
	return n == "" || n == ZeroAddress
}

// Equal compares two principals after normalization.
func (p Principal) Equal(other Principal) bool {
	return NewPrincipal(string(p)) == NewPrincipal(string(other))
}

func (p Principal) String() string {
	return string(p)
}
