// internal/companies/implementation.go
package companies

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"familymiles/internal/loyalty"
)

// service implements the Service interface.
type service struct {
	store    Store
	enrolled EnrollmentCounter
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewService creates a new company service instance.
func NewService(store Store, enrolled EnrollmentCounter, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		store:    store,
		enrolled: enrolled,
		logger:   logger,
		tracer:   otel.Tracer("familymiles/companies"),
	}
}

func (s *service) List(ctx context.Context) ([]loyalty.Company, error) {
	return s.store.List(ctx)
}

func (s *service) Get(ctx context.Context, id string) (loyalty.Company, error) {
	return s.store.Get(ctx, id)
}

// Create adds a company. Without an explicit id a uuid is assigned.
func (s *service) Create(ctx context.Context, req CreateRequest) (loyalty.Company, error) {
	ctx, span := s.tracer.Start(ctx, "companies.create")
	defer span.End()

	c, err := normalize(req)
	if err != nil {
		return loyalty.Company{}, err
	}
	span.SetAttributes(attribute.String("company.id", c.ID))

	if err := s.store.Insert(ctx, c); err != nil {
		return loyalty.Company{}, fmt.Errorf("failed to insert company: %w", err)
	}
	s.logger.Info("company created", "company_id", c.ID, "name", c.Name)
	return c, nil
}

func normalize(req CreateRequest) (loyalty.Company, error) {
	c := loyalty.Company{
		ID:         strings.TrimSpace(req.ID),
		Name:       strings.TrimSpace(req.Name),
		Color:      strings.TrimSpace(req.Color),
		Logo:       req.Logo,
		PointsName: strings.TrimSpace(req.PointsName),
		MaxMembers: req.MaxMembers,
	}
	if c.Name == "" {
		return c, fmt.Errorf("%w: name is required", ErrInvalidCompany)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	} else if !slugPattern.MatchString(c.ID) {
		return c, fmt.Errorf("%w: id %q must be a lowercase slug", ErrInvalidCompany, c.ID)
	}
	if c.Color == "" {
		c.Color = DefaultColor
	}
	if c.PointsName == "" {
		c.PointsName = DefaultPointsName
	}
	if c.MaxMembers < 0 {
		return c, fmt.Errorf("%w: max_members must not be negative", ErrInvalidCompany)
	}
	if c.MaxMembers == 0 {
		c.MaxMembers = DefaultMaxMembers
	}
	return c, nil
}

func (s *service) Rename(ctx context.Context, id, name string) (loyalty.Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return loyalty.Company{}, fmt.Errorf("%w: name is required", ErrInvalidCompany)
	}
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return loyalty.Company{}, err
	}
	c.Name = name
	if err := s.store.Update(ctx, c); err != nil {
		return loyalty.Company{}, fmt.Errorf("failed to rename company: %w", err)
	}
	return c, nil
}

// Delete removes a company nobody is enrolled in.
func (s *service) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "companies.delete",
		trace.WithAttributes(attribute.String("company.id", id)))
	defer span.End()

	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	n, err := s.enrolled.CountEnrolled(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to count enrollments: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %d member(s) enrolled in %s", ErrCompanyInUse, n, id)
	}
	return s.store.Delete(ctx, id)
}

// EnsureDefaults inserts the given companies when the store is empty.
func (s *service) EnsureDefaults(ctx context.Context, defaults []loyalty.Company) error {
	existing, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, c := range defaults {
		if err := s.store.Insert(ctx, c); err != nil && !errors.Is(err, ErrDuplicateCompany) {
			return fmt.Errorf("seed company %s: %w", c.ID, err)
		}
	}
	s.logger.Info("default companies created", "count", len(defaults))
	return nil
}
