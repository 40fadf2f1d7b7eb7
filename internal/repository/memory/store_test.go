package memory

import (
	"context"
	"testing"
	"time"

	"github.com/jmehdipour/drip/internal/model"
	"github.com/jmehdipour/drip/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrollments_ClaimLeaseAndAdvance(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	repo := New().Enrollments()

	created, err := repo.Insert(ctx, model.Enrollment{ID: "e1", FunnelID: "f1", Email: "ada@example.com", Status: model.EnrollmentActive})
	require.NoError(t, err)
	require.True(t, created)
	created, err = repo.Insert(ctx, model.Enrollment{ID: "e2", FunnelID: "f1", Email: "ada@example.com", Status: model.EnrollmentActive})
	require.NoError(t, err)
	assert.False(t, created)

	ok, _ := repo.Claim(ctx, "e1", 0, "t1", now, now.Add(5*time.Minute))
	require.True(t, ok)
	ok, _ = repo.Claim(ctx, "e1", 0, "t2", now.Add(time.Minute), now.Add(6*time.Minute))
	assert.False(t, ok, "lease still held")

	later := now.Add(10 * time.Minute)
	ok, _ = repo.Claim(ctx, "e1", 0, "t2", later, later.Add(5*time.Minute))
	require.True(t, ok, "expired lease can be taken over")

	ok, _ = repo.Advance(ctx, "e1", 0, "t1", model.EnrollmentActive, later)
	assert.False(t, ok, "stale token")
	ok, _ = repo.Advance(ctx, "e1", 0, "t2", model.EnrollmentActive, later)
	require.True(t, ok)

	e, err := repo.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, e.CurrentStep)
	assert.Equal(t, 1, e.SentCount)
	assert.Nil(t, e.ClaimToken)
	require.NotNil(t, e.LastSentAt)
	assert.Equal(t, later, *e.LastSentAt)
}

func TestContacts_InsertIsIdempotentAndResolveDedupes(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	c := New().Contacts()

	require.NoError(t, c.InsertContact(ctx, model.Recipient{Email: "ada@example.com"}, "newsletter", true, at))
	require.NoError(t, c.InsertContact(ctx, model.Recipient{Email: "ada@example.com", Name: "Ada"}, "newsletter", true, at))
	require.NoError(t, c.InsertPurchase(ctx, model.Recipient{Email: "ADA@example.com", Name: "Ada L."}, "masterclass", at.Add(time.Hour)))

	all, err := c.Resolve(ctx, model.RecipientFilter{Kind: model.FilterAll})
	require.NoError(t, err)
	assert.Equal(t, []model.Recipient{{Email: "ada@example.com", Name: "Ada L."}}, all)

	buyers, err := c.Resolve(ctx, model.RecipientFilter{Kind: model.FilterOffering, Offering: "masterclass"})
	require.NoError(t, err)
	assert.Len(t, buyers, 1)

	_, err = c.Resolve(ctx, model.RecipientFilter{Kind: model.FilterSource})
	assert.ErrorIs(t, err, repository.ErrBadFilter)
}

func TestFunnels_StepIndicesStayDense(t *testing.T) {
	ctx := context.Background()
	f := New().Funnels()
	require.NoError(t, f.Create(ctx, model.Funnel{ID: "f1"}))
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, f.AddStep(ctx, &model.Step{ID: id, FunnelID: "f1"}))
	}
	assert.ErrorIs(t, f.AddStep(ctx, &model.Step{ID: "x", FunnelID: "f1", Index: 5}), repository.ErrIndexGap)
	assert.ErrorIs(t, f.AddStep(ctx, &model.Step{ID: "x", FunnelID: "f1", Index: 2}), repository.ErrDuplicate)

	require.NoError(t, f.DeleteStep(ctx, "f1", 1))
	assert.ErrorIs(t, f.DeleteStep(ctx, "f1", 9), repository.ErrNotFound)

	steps, err := f.ListSteps(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "b", steps[0].ID)
	assert.Equal(t, 1, steps[0].Index)
	assert.Equal(t, "c", steps[1].ID)
	assert.Equal(t, 2, steps[1].Index)
}

func TestFunnels_DeleteClearsChainReferences(t *testing.T) {
	ctx := context.Background()
	f := New().Funnels()
	next := "f2"
	require.NoError(t, f.Create(ctx, model.Funnel{ID: "f1", ChainFunnelID: &next}))
	require.NoError(t, f.Create(ctx, model.Funnel{ID: "f2"}))

	require.NoError(t, f.Delete(ctx, "f2"))
	got, err := f.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Nil(t, got.ChainFunnelID)
}
