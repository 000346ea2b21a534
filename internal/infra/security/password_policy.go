package security

import (
	"fmt"
	"strings"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/core/port"
	"github.com/arklim/authguard/internal/infra/config"
)

const (
	defaultMinPasswordLength   = 10
	defaultMinCharacterClasses = 3
	defaultMinZxcvbnScore      = 3
	maxZxcvbnScore             = 4

	// Account tokens shorter than this are too common to reject on.
	minPersonalTokenLength = 4
)

// PolicyViolation describes the first rule a candidate password broke.
type PolicyViolation struct {
	Code    string
	Message string
}

func (v *PolicyViolation) Error() string {
	return v.Message
}

type passwordCheck func(password string, inputs accountInputs) *PolicyViolation

// accountInputs are the account attributes a password must not be built from.
type accountInputs struct {
	all    []string
	tokens []string
}

// PasswordPolicy checks new passwords for length, character variety, reuse of
// the account's own email or name, and zxcvbn strength.
type PasswordPolicy struct {
	minLength  int
	minClasses int
	minScore   int
	checks     []passwordCheck
}

var _ port.PasswordPolicyValidator = (*PasswordPolicy)(nil)

// NewPasswordPolicy builds the policy from settings. Zero thresholds fall back to the defaults.
func NewPasswordPolicy(settings config.PasswordSettings) *PasswordPolicy {
	p := &PasswordPolicy{
		minLength:  settings.MinLength,
		minClasses: settings.MinCharacterClasses,
		minScore:   settings.MinStrengthScore,
	}
	if p.minLength <= 0 {
		p.minLength = defaultMinPasswordLength
	}
	if p.minClasses <= 0 {
		p.minClasses = defaultMinCharacterClasses
	}
	if p.minScore <= 0 {
		p.minScore = defaultMinZxcvbnScore
	}
	p.minScore = min(p.minScore, maxZxcvbnScore)

	p.checks = []passwordCheck{p.checkLength, p.checkClasses, checkPersonalTokens, p.checkStrength}
	return p
}

// Validate returns a *PolicyViolation for the first failed check.
func (p *PasswordPolicy) Validate(password string, ctx domain.PasswordContext) error {
	inputs := collectInputs(ctx)
	for _, check := range p.checks {
		if v := check(password, inputs); v != nil {
			return v
		}
	}
	return nil
}

func (p *PasswordPolicy) checkLength(password string, _ accountInputs) *PolicyViolation {
	if len([]rune(password)) >= p.minLength {
		return nil
	}
	return &PolicyViolation{
		Code:    "min_length",
		Message: fmt.Sprintf("password must be at least %d characters long", p.minLength),
	}
}

func (p *PasswordPolicy) checkClasses(password string, _ accountInputs) *PolicyViolation {
	if characterClasses(password) >= p.minClasses {
		return nil
	}
	return &PolicyViolation{
		Code:    "character_classes",
		Message: fmt.Sprintf("password must mix at least %d of upper case, lower case, digits and symbols", p.minClasses),
	}
}

func checkPersonalTokens(password string, inputs accountInputs) *PolicyViolation {
	folded := strings.ToLower(password)
	for _, token := range inputs.tokens {
		if strings.Contains(folded, token) {
			return &PolicyViolation{
				Code:    "personal_data",
				Message: "password must not contain your email address or name",
			}
		}
	}
	return nil
}

func (p *PasswordPolicy) checkStrength(password string, inputs accountInputs) *PolicyViolation {
	if zxcvbn.PasswordStrength(password, inputs.all).Score >= p.minScore {
		return nil
	}
	return &PolicyViolation{
		Code:    "weak_password",
		Message: "password is too easy to guess",
	}
}

func characterClasses(password string) int {
	var upper, lower, digit, symbol int
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = 1
		case unicode.IsLower(r):
			lower = 1
		case unicode.IsDigit(r):
			digit = 1
		case unicode.IsSymbol(r) || unicode.IsPunct(r):
			symbol = 1
		}
	}
	return upper + lower + digit + symbol
}

// collectInputs splits the email local part and the name into lower-cased tokens.
func collectInputs(ctx domain.PasswordContext) accountInputs {
	var in accountInputs
	add := func(value string) {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			return
		}
		in.all = append(in.all, value)
		for _, token := range strings.FieldsFunc(value, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			if len([]rune(token)) >= minPersonalTokenLength {
				in.tokens = append(in.tokens, token)
			}
		}
	}

	if local, _, ok := strings.Cut(ctx.Email, "@"); ok {
		in.all = append(in.all, strings.ToLower(strings.TrimSpace(ctx.Email)))
		add(local)
	}
	add(ctx.Name)
	return in
}
