package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webmatic/backend/internal/model"
	"github.com/webmatic/backend/internal/notify"
	"github.com/webmatic/backend/internal/ratelimit"
	"github.com/webmatic/backend/internal/repository"
	"github.com/webmatic/backend/internal/validation"
)

// DefaultStoreTimeout bounds rate-limit lookups and persistence.
const DefaultStoreTimeout = 5 * time.Second

// ContactServiceConfig wires the collaborators of the production ContactService.
type ContactServiceConfig struct {
	Store     repository.SubmissionStore
	Limiter   ratelimit.Store
	Validator *validation.Validator
	// Notifier is optional; nil disables acceptance notifications.
	Notifier notify.Notifier
	// Timeout bounds each store call. Zero means DefaultStoreTimeout.
	Timeout time.Duration

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// contactServiceImpl is the production implementation of ContactService.
type contactServiceImpl struct {
	store     repository.SubmissionStore
	limiter   ratelimit.Store
	validator *validation.Validator
	notifier  notify.Notifier
	timeout   time.Duration
	now       func() time.Time
	newID     func() string

	// pending tracks notifications still running after Submit returned.
	pending sync.WaitGroup
}

// NewContactService creates a ContactService from cfg.
func NewContactService(cfg ContactServiceConfig) ContactService {
	s := &contactServiceImpl{
		store:     cfg.Store,
		limiter:   cfg.Limiter,
		validator: cfg.Validator,
		notifier:  cfg.Notifier,
		timeout:   cfg.Timeout,
		now:       cfg.Now,
		newID:     cfg.NewID,
	}
	if s.validator == nil {
		s.validator = validation.New(validation.DefaultSpamKeywords)
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.timeout <= 0 {
		s.timeout = DefaultStoreTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Submit implements ContactService. The steps run in a fixed order and the
// first failing step ends the request.
func (s *contactServiceImpl) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	if in.Method != http.MethodPost {
		return nil, &SubmitError{Kind: KindMethodNotAllowed, Message: msgMethodNotAllowed}
	}

	now := s.now().UTC()
	if err := s.admit(ctx, in.SourceAddress, now); err != nil {
		return nil, err
	}

	req, err := parsePayload(in.Body)
	if err != nil {
		return nil, err
	}

	if vs := s.validator.Validate(req); len(vs) > 0 {
		return nil, &SubmitError{
			Kind:       KindValidationFailed,
			Message:    strings.Join(validation.Messages(vs), ", "),
			Violations: vs,
		}
	}

	sub := validation.Sanitize(req)
	sub.ID = s.newID()
	sub.SourceAddress = in.SourceAddress
	sub.ClientAgent = in.ClientAgent
	sub.SubmittedAt = now

	if err := s.persist(ctx, &sub); err != nil {
		return nil, err
	}

	slog.Info("contact submission accepted", "reference", sub.Reference(), "service", sub.Service)
	notifyCtx := context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.notify(notifyCtx, &sub)
	}()

	return &SubmitResult{ID: sub.ID, Reference: sub.Reference(), Message: msgAccepted}, nil
}

// admit records the attempt against the address's window. The attempt counts
// whether or not the submission later validates.
func (s *contactServiceImpl) admit(ctx context.Context, addr string, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	d, err := s.limiter.Admit(ctx, addr, now)
	if err != nil {
		slog.Error("rate limit lookup failed", "error", err, "source_address", addr)
		return &SubmitError{Kind: KindPersistenceError, Message: msgPersistence, Err: err}
	}
	if !d.Allowed {
		return &SubmitError{Kind: KindRateLimited, Message: msgRateLimited, RetryAfter: d.RetryAfter}
	}
	return nil
}

func (s *contactServiceImpl) persist(ctx context.Context, sub *model.ContactSubmission) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.Append(ctx, sub); err != nil {
		slog.Error("contact submission lost", "error", err, "id", sub.ID, "source_address", sub.SourceAddress)
		return &SubmitError{Kind: KindPersistenceError, Message: msgPersistence, Err: err}
	}
	return nil
}

// Wait implements ContactService.
func (s *contactServiceImpl) Wait() {
	s.pending.Wait()
}

// notify runs after the response is sent and never fails the request; the
// submission is already stored. ctx must not be tied to the request.
func (s *contactServiceImpl) notify(ctx context.Context, sub *model.ContactSubmission) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.notifier.NotifyAccepted(ctx, sub); err != nil {
		slog.Warn("acceptance notification failed", "error", err, "reference", sub.Reference())
	}
}

// parsePayload requires body to be a JSON object whose known keys, when
// present, are strings or null.
func parsePayload(body []byte) (model.ContactRequest, error) {
	var req model.ContactRequest
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		return req, &SubmitError{Kind: KindMalformedPayload, Message: msgMalformed, Err: err}
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, &SubmitError{Kind: KindMalformedPayload, Message: msgMalformed, Err: err}
	}
	return req, nil
}
