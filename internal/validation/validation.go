// Package validation holds the contact-form field rules, the spam keyword
// filter and the sanitizer applied before a submission is stored.
package validation

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/webmatic/backend/internal/model"
)

const (
	MinNameLength    = 2
	MaxNameLength    = 100
	MaxServiceLength = 100
	MinMessageLength = 10
	MaxMessageLength = 2000
	maxEmailLength   = 254
)

// DefaultSpamKeywords are matched as case-insensitive substrings of the message.
var DefaultSpamKeywords = []string{"casino", "lottery", "winner", "bitcoin", "crypto", "investment"}

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9](?:[a-zA-Z0-9\-]*[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9\-]*[a-zA-Z0-9])?)*\.[a-zA-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^(?:\+33|0)[1-9][0-9]{8}$`)
)

// Violation is a single reason a submission failed field validation.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Messages flattens violations into their human-readable messages.
func Messages(vs []Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Message)
	}
	return out
}

// Validator checks contact requests. The zero value has no spam keywords.
type Validator struct {
	spamKeywords []string
}

// New returns a Validator rejecting messages that contain any of spamKeywords.
// Keywords are lowercased; blank ones are ignored.
func New(spamKeywords []string) *Validator {
	v := &Validator{}
	for _, k := range spamKeywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			v.spamKeywords = append(v.spamKeywords, k)
		}
	}
	return v
}

// Validate collects every violation in req. A nil result means req is valid.
// The outcome depends only on req and the configured keywords.
func (v *Validator) Validate(req model.ContactRequest) []Violation {
	var vs []Violation
	add := func(field, msg string) {
		vs = append(vs, Violation{Field: field, Message: msg})
	}

	name := clean(req.Name)
	switch n := utf8.RuneCountInString(name); {
	case n < MinNameLength:
		add("name", "Le nom est requis (minimum 2 caractères)")
	case n > MaxNameLength:
		add("name", "Le nom ne doit pas dépasser 100 caractères")
	}

	if email := clean(req.Email); len(email) > maxEmailLength || !IsEmail(email) {
		add("email", "Email valide requis")
	}

	if phone := clean(req.Phone); phone != "" && !IsFrenchPhone(phone) {
		add("phone", "Numéro de téléphone invalide")
	}

	service := clean(req.Service)
	switch {
	case service == "":
		add("service", "Service requis")
	case utf8.RuneCountInString(service) > MaxServiceLength || !model.IsKnownService(service):
		add("service", "Service non valide")
	}

	message := clean(req.Message)
	switch n := utf8.RuneCountInString(message); {
	case n < MinMessageLength:
		add("message", "Message requis (minimum 10 caractères)")
	case n > MaxMessageLength:
		add("message", "Le message ne doit pas dépasser 2000 caractères")
	}
	if message != "" && v.IsSpam(message) {
		add("message", "Message détecté comme spam")
	}

	return vs
}

// IsSpam reports whether message contains a configured keyword.
func (v *Validator) IsSpam(message string) bool {
	lower := strings.ToLower(message)
	for _, k := range v.spamKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// IsEmail reports whether s has the user@domain.tld shape.
func IsEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// IsFrenchPhone reports whether s is 0 or +33 followed by nine digits, the first 1-9.
func IsFrenchPhone(s string) bool {
	return phonePattern.MatchString(s)
}

// Sanitize builds the storable fields of a submission from a validated request.
// Markup in name, service and message is HTML-escaped and the email lowercased.
func Sanitize(req model.ContactRequest) model.ContactSubmission {
	return model.ContactSubmission{
		Name:    html.EscapeString(clean(req.Name)),
		Email:   strings.ToLower(clean(req.Email)),
		Phone:   clean(req.Phone),
		Service: html.EscapeString(clean(req.Service)),
		Message: html.EscapeString(clean(req.Message)),
	}
}

func clean(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(norm.NFC.String(*s))
}
