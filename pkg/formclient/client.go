// Package formclient submits the public contact form to the intake API.
// It runs the same light pre-checks as the website form before sending and
// turns every outcome, including transport failures, into a Notice.
package formclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// ContactPath is the intake endpoint relative to BaseURL.
const ContactPath = "/api/contact"

// FallbackPhone is offered when the API cannot be reached.
const FallbackPhone = "07 56 91 30 61"

// Form holds the raw field values. Phone is optional.
type Form struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Service string `json:"service"`
	Message string `json:"message"`
}

var (
	ErrIncompleteFields = errors.New("formclient: required fields missing")
	ErrInvalidEmail     = errors.New("formclient: invalid email")
)

// UserMessage returns the text shown for a Validate error.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrIncompleteFields):
		return "Veuillez remplir tous les champs obligatoires."
	case errors.Is(err, ErrInvalidEmail):
		return "Veuillez entrer une adresse email valide."
	default:
		return textUnreachable
	}
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Validate performs the local checks run before transmission. Length, phone
// and spam rules are left to the server.
func Validate(f Form) error {
	if strings.TrimSpace(f.Name) == "" || strings.TrimSpace(f.Email) == "" || strings.TrimSpace(f.Message) == "" {
		return ErrIncompleteFields
	}
	if !emailPattern.MatchString(strings.TrimSpace(f.Email)) {
		return ErrInvalidEmail
	}
	return nil
}

// NoticeKind says how a Notice should be presented.
type NoticeKind int

const (
	Success NoticeKind = iota + 1
	Error
)

func (k NoticeKind) String() string {
	switch k {
	case Success:
		return "success"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("NoticeKind(%d)", int(k))
	}
}

// Notice is the user-facing outcome of a submission.
type Notice struct {
	Kind      NoticeKind
	Text      string
	Reference string
	// ResetForm is set when the form should be cleared.
	ResetForm bool
	// Status is the HTTP status, or 0 when no response arrived.
	Status int
}

const (
	textAccepted     = "Message envoyé avec succès ! Nous vous recontacterons rapidement."
	textErrorPrefix  = "Erreur lors de l'envoi : "
	textUnknownError = "Erreur inconnue"
	textUnreachable  = "Erreur lors de l'envoi du message. Veuillez réessayer ou nous appeler directement au " + FallbackPhone + "."
)

// Client posts forms to BaseURL + ContactPath.
type Client struct {
	BaseURL string
	// HTTPClient defaults to a client with a 15 second timeout.
	HTTPClient *http.Client
}

// New returns a Client for baseURL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type submitResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Reference string `json:"reference"`
}

// Submit validates f, posts it and reports the result. It never returns an
// unrendered error: local, transport and server failures all become an
// Error notice.
func (c *Client) Submit(ctx context.Context, f Form) Notice {
	if err := Validate(f); err != nil {
		return Notice{Kind: Error, Text: UserMessage(err)}
	}

	body, err := json.Marshal(f)
	if err != nil {
		return Notice{Kind: Error, Text: textUnreachable}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+ContactPath, bytes.NewReader(body))
	if err != nil {
		return Notice{Kind: Error, Text: textUnreachable}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return Notice{Kind: Error, Text: textUnreachable}
	}
	defer resp.Body.Close()

	var result submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Notice{Kind: Error, Text: textUnreachable, Status: resp.StatusCode}
	}
	if !result.Success {
		msg := result.Message
		if msg == "" {
			msg = textUnknownError
		}
		return Notice{Kind: Error, Text: textErrorPrefix + msg, Status: resp.StatusCode}
	}

	text := result.Message
	if text == "" {
		text = textAccepted
	}
	return Notice{
		Kind:      Success,
		Text:      text,
		Reference: result.Reference,
		ResetForm: true,
		Status:    resp.StatusCode,
	}
}
