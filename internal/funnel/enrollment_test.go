package funnel

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jmehdipour/drip/internal/model"
	"github.com/jmehdipour/drip/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_EnrollIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f := fx.welcome(t)

	recips := []model.Recipient{
		{Email: "Ada@Example.com ", Name: "Ada"},
		{Email: "bo@example.com"},
		{Email: "not-an-address"},
		{Email: ""},
	}
	res, err := fx.manager.Enroll(ctx, f.ID, recips)
	require.NoError(t, err)
	assert.Equal(t, EnrollResult{Enrolled: 2, Invalid: 2}, res)

	res, err = fx.manager.Enroll(ctx, f.ID, recips)
	require.NoError(t, err)
	assert.Equal(t, EnrollResult{AlreadyEnrolled: 2, Invalid: 2}, res)

	e := fx.enrollment(t, f.ID, "ada@example.com")
	assert.Equal(t, "Ada", e.Name)
	assert.Equal(t, 0, e.CurrentStep)
	assert.Equal(t, model.EnrollmentActive, e.Status)

	active, err := fx.store.Enrollments().ListActive(ctx, f.ID)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestManager_ReEnrollDoesNotResetProgress(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f := fx.welcome(t)

	_, err := fx.manager.Enroll(ctx, f.ID, []model.Recipient{{Email: "ada@example.com"}})
	require.NoError(t, err)
	_, err = fx.processor.Process(ctx, f.ID)
	require.NoError(t, err)

	res, err := fx.manager.Enroll(ctx, f.ID, []model.Recipient{{Email: "ada@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.AlreadyEnrolled)
	assert.Equal(t, 1, fx.enrollment(t, f.ID, "ada@example.com").CurrentStep)
}

func TestManager_EnrollUnknownFunnel(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.manager.Enroll(context.Background(), "nope", []model.Recipient{{Email: "a@example.com"}})
	assert.ErrorIs(t, err, ErrFunnelNotFound)
}

func TestManager_EnrollFilter(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f := fx.welcome(t)

	contacts := fx.store.Contacts()
	require.NoError(t, contacts.InsertContact(ctx, model.Recipient{Email: "ada@example.com", Name: "Ada"}, "newsletter", true, t0.Add(-72*time.Hour)))
	require.NoError(t, contacts.InsertContact(ctx, model.Recipient{Email: "old@example.com", Name: "Old"}, "newsletter", false, t0.Add(-40*24*time.Hour)))
	require.NoError(t, contacts.InsertPurchase(ctx, model.Recipient{Email: "ADA@example.com", Name: "Ada L."}, "masterclass", t0.Add(-time.Hour)))
	require.NoError(t, contacts.InsertPurchase(ctx, model.Recipient{Email: "cy@example.com"}, "masterclass", t0.Add(-2*time.Hour)))

	res, err := fx.manager.EnrollFilter(ctx, f.ID, model.RecipientFilter{Kind: model.FilterRecent, Days: 30})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Enrolled, "ada is deduplicated across sources")

	// Re-resolving the same audience yields no new enrollments.
	res, err = fx.manager.EnrollFilter(ctx, f.ID, model.RecipientFilter{Kind: model.FilterAll})
	require.NoError(t, err)
	assert.Equal(t, EnrollResult{Enrolled: 1, AlreadyEnrolled: 2}, res)

	_, err = fx.manager.EnrollFilter(ctx, f.ID, model.RecipientFilter{Kind: model.FilterSource})
	assert.ErrorIs(t, err, ErrInvalid)
}

type downContacts struct{ err error }

func (d downContacts) Resolve(context.Context, model.RecipientFilter) ([]model.Recipient, error) {
	return nil, d.err
}

func TestManager_EnrollFilterStoreFailureIsNotInvalid(t *testing.T) {
	fx := newFixture(t)
	f := fx.welcome(t)
	outage := errors.New("dial tcp 127.0.0.1:3306: connection refused")
	m := NewManager(fx.store.Funnels(), fx.store.Enrollments(), downContacts{err: outage}, nil)

	_, err := m.EnrollFilter(context.Background(), f.ID, model.RecipientFilter{Kind: model.FilterAll})
	require.Error(t, err)
	assert.ErrorIs(t, err, outage)
	assert.False(t, errors.Is(err, ErrInvalid))

	bad := fmt.Errorf("%w: unknown filter kind", repository.ErrBadFilter)
	m = NewManager(fx.store.Funnels(), fx.store.Enrollments(), downContacts{err: bad}, nil)
	_, err = m.EnrollFilter(context.Background(), f.ID, model.RecipientFilter{Kind: model.FilterAll})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestManager_Unsubscribe(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f := fx.welcome(t)
	_, err := fx.manager.Enroll(ctx, f.ID, []model.Recipient{{Email: "ada@example.com"}})
	require.NoError(t, err)

	ok, err := fx.manager.Unsubscribe(ctx, f.ID, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fx.manager.Unsubscribe(ctx, f.ID, "ada@example.com")
	require.NoError(t, err)
	assert.False(t, ok, "already unsubscribed")

	ok, err = fx.manager.Unsubscribe(ctx, f.ID, "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = fx.manager.Unsubscribe(ctx, f.ID, "garbage")
	assert.ErrorIs(t, err, ErrInvalid)
}
