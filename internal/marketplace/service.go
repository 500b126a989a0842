package marketplace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ignite/leadgen-site/internal/pkg/logger"
	"github.com/ignite/leadgen-site/internal/storage"
)

// Notifier tells operators about a new registration.
type Notifier interface {
	NotifyRegistration(ctx context.Context, reg *storage.Registration, count storage.RegistrationCount) error
}

// Result is returned to the registrant.
type Result struct {
	ID    string
	Total int64
}

// Service validates, stores and announces registrations.
type Service struct {
	store         storage.RegistrationStore
	notifier      Notifier
	notifyTimeout time.Duration
	validate      *validator.Validate

	now   func() time.Time
	newID func() string

	wg sync.WaitGroup
}

// NewService builds a Service. notifier may be nil.
func NewService(store storage.RegistrationStore, notifier Notifier, notifyTimeout time.Duration) *Service {
	if notifyTimeout <= 0 {
		notifyTimeout = 15 * time.Second
	}
	return &Service{
		store:         store,
		notifier:      notifier,
		notifyTimeout: notifyTimeout,
		validate:      newValidator(),
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}
}

// Validate normalizes req in place and checks it. Failures are
// *ValidationError.
func (s *Service) Validate(req *RegistrationRequest) error {
	req.normalize()
	if err := s.validate.Struct(req); err != nil {
		return toValidationError(err)
	}
	return nil
}

// Register stores a valid registration. The counter update and the
// operator notification never fail the request.
func (s *Service) Register(ctx context.Context, req *RegistrationRequest, sourceIP string) (*Result, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}

	reg := &storage.Registration{
		ID:          s.newID(),
		CompanyName: req.CompanyName,
		ContactName: req.ContactName,
		Email:       req.Email,
		Phone:       req.Phone,
		Website:     req.Website,
		ListingType: req.ListingType,
		TeamSize:    req.TeamSize,
		ProductURL:  req.ProductURL,
		Categories:  req.Categories,
		Message:     req.Message,
		Status:      StatusPending,
		SourceIP:    sourceIP,
		CreatedAt:   s.now(),
	}

	if err := s.store.SaveRegistration(ctx, reg); err != nil {
		return nil, fmt.Errorf("save registration: %w", err)
	}

	count, err := s.store.IncrementRegistrations(ctx, reg.ListingType)
	if err != nil {
		logger.Warn("registration counter update failed", "id", reg.ID, "error", err)
	}

	logger.Info("marketplace registration received",
		"id", reg.ID, "listing_type", reg.ListingType, "email", reg.Email, "total", count.Total)

	s.notifyAsync(reg, count)

	return &Result{ID: reg.ID, Total: count.Total}, nil
}

// Count returns the registration counter.
func (s *Service) Count(ctx context.Context) (storage.RegistrationCount, error) {
	return s.store.RegistrationCount(ctx)
}

// Wait blocks until in-flight notifications finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// notifyAsync sends on a detached context so a finished request does not
// cancel the email.
func (s *Service) notifyAsync(reg *storage.Registration, count storage.RegistrationCount) {
	if s.notifier == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("registration notification panicked", "id", reg.ID, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()

		if err := s.notifier.NotifyRegistration(ctx, reg, count); err != nil {
			logger.Warn("registration notification failed", "id", reg.ID, "error", err)
		}
	}()
}
