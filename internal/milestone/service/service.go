// Package service derives donor milestones from the donation ledger and gates
// certificate issuance on them.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"foodlink/internal/donation/models"
	"foodlink/internal/donation/store"
	"foodlink/internal/milestone/metrics"
	"foodlink/pkg/domain"
	dErrors "foodlink/pkg/domain-errors"
	"foodlink/pkg/platform/sentinel"
	"foodlink/pkg/requestcontext"
)

type LedgerReader interface {
	ListByDonor(ctx context.Context, donor domain.DonorID) ([]*models.Donation, error)
}

type StateStore interface {
	Get(ctx context.Context, donor domain.DonorID) (*models.MilestoneState, error)
	Save(ctx context.Context, m *models.MilestoneState) error
}

// Certificate is an artifact slot handed out by the issuer. Ref is the
// stable reference kept on the donor's state; UploadURL is where the renderer
// writes the artifact before ExpiresAt.
type Certificate struct {
	Milestone int       `json:"milestone"`
	Month     string    `json:"month"`
	Ref       string    `json:"ref"`
	UploadURL string    `json:"upload_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CertificateIssuer reserves storage for a certificate artifact.
type CertificateIssuer interface {
	ReserveCertificate(ctx context.Context, donor domain.DonorID, month string, milestone int) (*Certificate, error)
}

// View is what the donor sees.
type View struct {
	MonthlyDonationCount int          `json:"monthly_donation_count"`
	LastMilestoneReached int          `json:"last_milestone_reached"`
	Month                string       `json:"month"`
	Eligible             bool         `json:"eligible"`
	Celebrate            bool         `json:"celebrate"`
	Certificates         []string     `json:"certificates"`
	Chart                []MonthTotal `json:"chart"`
}

const maxSaveAttempts = 3

type Service struct {
	ledger  LedgerReader
	states  StateStore
	issuer  CertificateIssuer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithIssuer enables IssueCertificate.
func WithIssuer(issuer CertificateIssuer) Option {
	return func(s *Service) {
		s.issuer = issuer
	}
}

func New(ledger LedgerReader, states StateStore, opts ...Option) (*Service, error) {
	if ledger == nil || states == nil {
		return nil, errors.New("milestone service requires ledger and state stores")
	}
	s := &Service{ledger: ledger, states: states, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetMilestoneState recomputes the donor's milestones and stores the result
// when it moved.
func (s *Service) GetMilestoneState(ctx context.Context, donor domain.DonorID) (*View, error) {
	eval, err := s.evaluate(ctx, donor)
	if err != nil {
		return nil, err
	}
	return view(eval), nil
}

// evaluate reads, recomputes and saves, re-reading when another request
// saved in between so a threshold fires at most once.
func (s *Service) evaluate(ctx context.Context, donor domain.DonorID) (Evaluation, error) {
	donations, err := s.ledger.ListByDonor(ctx, donor)
	if err != nil {
		return Evaluation{}, store.DomainError(err, "donation")
	}
	now := requestcontext.Now(ctx)

	for range maxSaveAttempts {
		prev, err := s.states.Get(ctx, donor)
		if err != nil {
			return Evaluation{}, store.DomainError(err, "milestone state")
		}
		eval := Evaluate(donations, now, *prev)
		if !changed(*prev, eval.State) {
			return eval, nil
		}
		err = s.states.Save(ctx, eval.State)
		if errors.Is(err, sentinel.ErrConflict) {
			continue
		}
		if err != nil {
			return Evaluation{}, store.DomainError(err, "milestone state")
		}
		if eval.Fired {
			s.metrics.IncrementFired()
			s.logger.InfoContext(ctx, "milestone reached",
				"donor_id", donor.String(),
				"month", eval.State.MilestoneMonth,
				"milestone", eval.State.LastMilestoneReached,
			)
		}
		return eval, nil
	}
	return Evaluation{}, dErrors.New(dErrors.CodeConflict, "milestone state kept changing; retry")
}

// IssueCertificate reserves a certificate for the current month's last
// milestone and records its reference. It fails with CodeInvalidTransition
// when there is nothing to certify.
func (s *Service) IssueCertificate(ctx context.Context, donor domain.DonorID) (*Certificate, error) {
	if s.issuer == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "certificate issuing is not configured")
	}
	eval, err := s.evaluate(ctx, donor)
	if err != nil {
		return nil, err
	}
	if !eval.Eligible {
		s.metrics.IncrementCertificate("not_eligible")
		return nil, dErrors.New(dErrors.CodeInvalidTransition, "no uncertified milestone this month")
	}

	state := eval.State
	cert, err := s.issuer.ReserveCertificate(ctx, donor, state.MilestoneMonth, state.LastMilestoneReached)
	if err != nil {
		s.metrics.IncrementCertificate("issuer_failed")
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "certificate issuer unavailable")
	}

	state.CertifiedMilestone = state.LastMilestoneReached
	state.Certificates = append(append([]string(nil), state.Certificates...), cert.Ref)
	if err := s.states.Save(ctx, state); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// someone else certified or recomputed in between
			return nil, dErrors.New(dErrors.CodeConflict, "milestone state changed; retry")
		}
		return nil, store.DomainError(err, "milestone state")
	}
	s.metrics.IncrementCertificate("issued")
	s.logger.InfoContext(ctx, "certificate issued",
		"donor_id", donor.String(),
		"month", state.MilestoneMonth,
		"milestone", state.LastMilestoneReached,
	)
	return cert, nil
}

func view(e Evaluation) *View {
	certs := e.State.Certificates
	if certs == nil {
		certs = []string{}
	}
	return &View{
		MonthlyDonationCount: e.State.MonthlyDonationCount,
		LastMilestoneReached: e.State.LastMilestoneReached,
		Month:                e.State.MilestoneMonth,
		Eligible:             e.Eligible,
		Celebrate:            e.Fired,
		Certificates:         certs,
		Chart:                e.Chart,
	}
}
