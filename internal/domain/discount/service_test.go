package discount

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	byCode  map[string]*Code
	created *Code
	updated *Code
	err     error
}

func newMockRepo(codes ...Code) *mockRepo {
	m := &mockRepo{byCode: make(map[string]*Code)}
	for i := range codes {
		m.byCode[codes[i].Code] = &codes[i]
	}
	return m
}

func (m *mockRepo) FindByCode(_ context.Context, code string) (*Code, error) {
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.byCode[code]
	if !ok {
		return nil, ErrCodeNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) Get(_ context.Context, id uuid.UUID) (*Code, error) {
	for _, c := range m.byCode {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrCodeNotFound
}

func (m *mockRepo) List(_ context.Context) ([]Code, error) {
	out := make([]Code, 0, len(m.byCode))
	for _, c := range m.byCode {
		out = append(out, *c)
	}
	return out, m.err
}

func (m *mockRepo) Create(_ context.Context, c *Code) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.byCode[c.Code]; ok {
		return ErrCodeExists
	}
	m.created = c
	m.byCode[c.Code] = c
	return nil
}

func (m *mockRepo) Update(_ context.Context, c *Code) error {
	m.updated = c
	return m.err
}

func (m *mockRepo) Delete(_ context.Context, _ uuid.UUID) error {
	return m.err
}

func TestService_Lookup(t *testing.T) {
	repo := newMockRepo(
		Code{ID: uuid.New(), Code: "SAVE10", Kind: KindPercentage, Value: decimal.NewFromInt(10), MaxRedemptions: 3, Active: true},
		Code{ID: uuid.New(), Code: "OFF", Kind: KindFixed, Value: decimal.NewFromInt(10), MaxRedemptions: 3},
	)
	svc := NewService(repo)
	ctx := context.Background()

	c, err := svc.Lookup(ctx, " save10")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", c.Code)

	_, err = svc.Lookup(ctx, "missing")
	require.ErrorIs(t, err, ErrCodeNotFound)

	_, err = svc.Lookup(ctx, "off")
	require.ErrorIs(t, err, ErrCodeInactive)

	_, err = svc.Lookup(ctx, "  ")
	require.ErrorIs(t, err, ErrCodeNotFound)
}

func TestService_Lookup_RepoFailure(t *testing.T) {
	repo := newMockRepo()
	repo.err = errors.New("connection reset")
	svc := NewService(repo)

	_, err := svc.Lookup(context.Background(), "SAVE10")
	require.Error(t, err)
	var invalid *InvalidCodeError
	assert.False(t, errors.As(err, &invalid))
}

func TestService_Create(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	c, err := svc.Create(context.Background(), Code{
		Code:           "welcome",
		Kind:           KindFixed,
		Value:          decimal.NewFromInt(100),
		MaxRedemptions: 10,
		Redemptions:    4,
		Active:         true,
	})
	require.NoError(t, err)
	assert.Equal(t, "WELCOME", c.Code)
	assert.Equal(t, 0, c.Redemptions)
	assert.NotEqual(t, uuid.Nil, c.ID)
	require.NotNil(t, repo.created)

	_, err = svc.Create(context.Background(), Code{Code: "Welcome", Kind: KindFixed, Value: decimal.NewFromInt(1), MaxRedemptions: 1})
	require.ErrorIs(t, err, ErrCodeExists)
}

func TestService_Update(t *testing.T) {
	id := uuid.New()
	repo := newMockRepo(Code{ID: id, Code: "SAVE10", Kind: KindPercentage, Value: decimal.NewFromInt(10), MaxRedemptions: 5, Redemptions: 3, Active: true})
	svc := NewService(repo)

	newCode := " save20 "
	value := decimal.NewFromInt(20)
	c, err := svc.Update(context.Background(), id, Patch{Code: &newCode, Value: &value})
	require.NoError(t, err)
	assert.Equal(t, "SAVE20", c.Code)
	assert.True(t, value.Equal(repo.updated.Value))

	lower := 2
	_, err = svc.Update(context.Background(), id, Patch{MaxRedemptions: &lower})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)

	_, err = svc.Update(context.Background(), uuid.New(), Patch{})
	require.ErrorIs(t, err, ErrCodeNotFound)
}
