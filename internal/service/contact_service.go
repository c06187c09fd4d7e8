package service

import (
	"context"
	"fmt"
	"time"

	"github.com/webmatic/backend/internal/validation"
)

// ContactService is the sole authority deciding whether a contact-form
// submission is accepted and persisted.
type ContactService interface {
	// Submit runs the intake chain: method guard, rate limit, payload parse,
	// field validation, sanitization and persistence. Any failure is returned
	// as a *SubmitError; nothing is stored unless the returned error is nil.
	Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error)

	// Wait blocks until acceptance notifications started by Submit have
	// finished. Call it on shutdown before closing the store.
	Wait()
}

// SubmitInput is one raw submission as received from a client.
type SubmitInput struct {
	Method        string
	Body          []byte
	SourceAddress string
	ClientAgent   string
}

// SubmitResult describes an accepted submission.
type SubmitResult struct {
	ID        string
	Reference string
	Message   string
}

// Kind classifies intake failures.
type Kind int

const (
	KindMethodNotAllowed Kind = iota + 1
	KindRateLimited
	KindMalformedPayload
	KindValidationFailed
	KindPersistenceError
)

func (k Kind) String() string {
	switch k {
	case KindMethodNotAllowed:
		return "MethodNotAllowed"
	case KindRateLimited:
		return "RateLimited"
	case KindMalformedPayload:
		return "MalformedPayload"
	case KindValidationFailed:
		return "ValidationFailed"
	case KindPersistenceError:
		return "PersistenceError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// SubmitError is returned by ContactService.Submit. Message is safe to show
// to the submitter; Err holds the internal cause and is never exposed.
type SubmitError struct {
	Kind       Kind
	Message    string
	Violations []validation.Violation
	RetryAfter time.Duration
	Err        error
}

func (e *SubmitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// Is matches any *SubmitError of the same Kind, so the sentinels below work
// with errors.Is.
func (e *SubmitError) Is(target error) bool {
	t, ok := target.(*SubmitError)
	return ok && t.Kind == e.Kind
}

var (
	ErrMethodNotAllowed = &SubmitError{Kind: KindMethodNotAllowed}
	ErrRateLimited      = &SubmitError{Kind: KindRateLimited}
	ErrMalformedPayload = &SubmitError{Kind: KindMalformedPayload}
	ErrValidationFailed = &SubmitError{Kind: KindValidationFailed}
	ErrPersistence      = &SubmitError{Kind: KindPersistenceError}
)

// User-facing messages.
const (
	msgAccepted         = "Message envoyé avec succès ! Nous vous recontacterons rapidement."
	msgMethodNotAllowed = "Méthode non autorisée"
	msgRateLimited      = "Trop de requêtes. Veuillez patienter avant de renvoyer un message."
	msgMalformed        = "Données invalides"
	msgPersistence      = "Erreur lors de la sauvegarde. Veuillez réessayer."
)
