package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/webmatic/backend/internal/ratelimit"
	"github.com/webmatic/backend/internal/service"
)

// maxBodyBytes caps the request body; larger bodies are treated as malformed.
const maxBodyBytes = 64 << 10

// maxClientAgentLength caps the stored User-Agent.
const maxClientAgentLength = 512

// ContactHandler handles contact form submission.
type ContactHandler struct {
	contactService    service.ContactService
	trustedProxyCount int
}

// NewContactHandler creates a ContactHandler with the given service.
// trustedProxyCount is the number of reverse proxies whose X-Forwarded-For
// entries are trusted when resolving the client address.
func NewContactHandler(contactService service.ContactService, trustedProxyCount int) *ContactHandler {
	return &ContactHandler{contactService: contactService, trustedProxyCount: trustedProxyCount}
}

// submitResponse is the JSON body returned by /api/contact.
type submitResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Reference string `json:"reference,omitempty"`
}

// Submit handles /api/contact for every method; only POST is accepted.
func (h *ContactHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Method == http.MethodPost {
		b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			// An unreadable body reaches the service as empty and is
			// rejected as malformed after the rate-limit check.
			slog.Debug("read contact body", "error", err)
		} else {
			body = b
		}
	}

	agent := r.UserAgent()
	if len(agent) > maxClientAgentLength {
		agent = agent[:maxClientAgentLength]
	}

	res, err := h.contactService.Submit(r.Context(), service.SubmitInput{
		Method:        r.Method,
		Body:          body,
		SourceAddress: ratelimit.ClientIP(r, h.trustedProxyCount),
		ClientAgent:   agent,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{
		Success:   true,
		Message:   res.Message,
		Reference: res.Reference,
	})
}

func (h *ContactHandler) writeError(w http.ResponseWriter, err error) {
	var se *service.SubmitError
	if !errors.As(err, &se) {
		slog.Error("unexpected contact service error", "error", err)
		writeJSON(w, http.StatusInternalServerError, submitResponse{
			Success: false,
			Message: "Une erreur est survenue. Veuillez réessayer plus tard.",
		})
		return
	}

	switch se.Kind {
	case service.KindMethodNotAllowed:
		w.Header().Set("Allow", http.MethodPost)
	case service.KindRateLimited:
		w.Header().Set("Retry-After", ratelimit.RetryAfterSeconds(se.RetryAfter))
	}
	writeJSON(w, StatusFor(se.Kind), submitResponse{Success: false, Message: se.Message})
}

// StatusFor maps an intake failure kind to its HTTP status.
func StatusFor(k service.Kind) int {
	switch k {
	case service.KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case service.KindRateLimited:
		return http.StatusTooManyRequests
	case service.KindMalformedPayload:
		return http.StatusBadRequest
	case service.KindValidationFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
