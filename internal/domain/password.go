package domain

import (
	"fmt"
	"strings"
	"unicode"
)

// PasswordPolicy is the configurable strength policy applied at registration
// and password change. Zero values fall back to defaults via Normalize.
type PasswordPolicy struct {
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSymbol  bool
	BannedPatterns []string
}

// DefaultPasswordPolicy mirrors the baseline production policy.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:      10,
		MaxLength:      128,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSymbol:  true,
		BannedPatterns: []string{"password", "qwerty", "123456", "letmein"},
	}
}

// Normalize fills unset fields with defaults so a partially configured
// policy stays enforceable.
func (p PasswordPolicy) Normalize() PasswordPolicy {
	def := DefaultPasswordPolicy()
	if p.MinLength <= 0 {
		p.MinLength = def.MinLength
	}
	if p.MaxLength <= 0 {
		p.MaxLength = def.MaxLength
	}
	if p.BannedPatterns == nil {
		p.BannedPatterns = def.BannedPatterns
	}
	return p
}

// Validate checks a candidate password against the policy. Violations are
// surfaced with actionable detail; they reveal nothing about other accounts.
func (p PasswordPolicy) Validate(password string) error {
	if len(password) < p.MinLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, p.MinLength)
	}
	if len(password) > p.MaxLength {
		return fmt.Errorf("%w: password must be <= %d characters", ErrInvalidInput, p.MaxLength)
	}

	var (
		hasUpper bool
		hasLower bool
		hasDigit bool
		hasPunct bool
	)
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasPunct = true
		}
	}
	if p.RequireUpper && !hasUpper {
		return fmt.Errorf("%w: password must include an uppercase letter", ErrInvalidInput)
	}
	if p.RequireLower && !hasLower {
		return fmt.Errorf("%w: password must include a lowercase letter", ErrInvalidInput)
	}
	if p.RequireDigit && !hasDigit {
		return fmt.Errorf("%w: password must include a digit", ErrInvalidInput)
	}
	if p.RequireSymbol && !hasPunct {
		return fmt.Errorf("%w: password must include a symbol", ErrInvalidInput)
	}

	lowered := strings.ToLower(password)
	for _, banned := range p.BannedPatterns {
		if strings.Contains(lowered, banned) {
			return fmt.Errorf("%w: password includes weak pattern", ErrInvalidInput)
		}
	}
	return nil
}
