package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Patch is a partial update of a code. Nil fields are left unchanged.
type Patch struct {
	Code           *string
	Kind           *Kind
	Value          *decimal.Decimal
	MaxRedemptions *int
	Active         *bool
}

// Service implements code validation for customers and code administration.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a Service backed by the given Repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Lookup finds a code by its user supplied form and checks that it is
// currently redeemable.
func (s *Service) Lookup(ctx context.Context, code string) (*Code, error) {
	normalized := Normalize(code)
	if normalized == "" {
		return nil, &InvalidCodeError{Code: code, Err: ErrCodeNotFound}
	}
	c, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return nil, &InvalidCodeError{Code: normalized, Err: ErrCodeNotFound}
		}
		return nil, errors.Wrap(err, "lookup code")
	}
	if err := c.Check(); err != nil {
		return nil, err
	}
	return c, nil
}

// List returns every code, newest first.
func (s *Service) List(ctx context.Context) ([]Code, error) {
	codes, err := s.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list codes")
	}
	return codes, nil
}

// Create stores a new code. The code string is normalized to upper case.
func (s *Service) Create(ctx context.Context, c Code) (*Code, error) {
	c.ID = uuid.New()
	c.Code = Normalize(c.Code)
	c.Redemptions = 0
	c.CreatedAt = s.now().UTC()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, &c); err != nil {
		return nil, errors.Wrap(err, "create code")
	}
	return &c, nil
}

// Update applies p to the code with the given id.
func (s *Service) Update(ctx context.Context, id uuid.UUID, p Patch) (*Code, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get code")
	}
	if p.Code != nil {
		c.Code = Normalize(*p.Code)
	}
	if p.Kind != nil {
		c.Kind = *p.Kind
	}
	if p.Value != nil {
		c.Value = *p.Value
	}
	if p.MaxRedemptions != nil {
		c.MaxRedemptions = *p.MaxRedemptions
	}
	if p.Active != nil {
		c.Active = *p.Active
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, errors.Wrap(err, "update code")
	}
	return c, nil
}

// Delete removes the code with the given id.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete code")
	}
	return nil
}
