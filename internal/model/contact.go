package model

import "time"

// ContactSubmission is one accepted, validated contact-form entry.
// Records are append-only: created once on acceptance and never mutated.
type ContactSubmission struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone,omitempty"`
	Service       string    `json:"service"`
	Message       string    `json:"message"`
	SourceAddress string    `json:"source_address"`
	ClientAgent   string    `json:"client_agent"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// Reference returns the short identifier handed back to the submitter.
func (s *ContactSubmission) Reference() string {
	if len(s.ID) <= ReferenceLength {
		return s.ID
	}
	return s.ID[:ReferenceLength]
}

// ReferenceLength is the number of id characters exposed as a reference.
const ReferenceLength = 8

// ContactRequest is the JSON body of POST /api/contact.
// Pointers distinguish an absent key from an empty string.
type ContactRequest struct {
	Name    *string `json:"name"`
	Email   *string `json:"email"`
	Phone   *string `json:"phone"`
	Service *string `json:"service"`
	Message *string `json:"message"`
}

// Services is the fixed catalogue offered on the contact form.
var Services = []string{
	"Création de site web",
	"Maintenance informatique",
	"Réparation console",
	"Support mobile",
	"Autre",
}

// IsKnownService reports whether s is one of Services.
func IsKnownService(s string) bool {
	for _, known := range Services {
		if s == known {
			return true
		}
	}
	return false
}
