package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"arbiter/internal/ledger/models"
	"arbiter/internal/sentinel"
	"arbiter/pkg/testutil"
)

type InMemoryStoreTestSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func (s *InMemoryStoreTestSuite) SetupTest() {
	s.store = New()
	s.ctx = context.Background()
}

func (s *InMemoryStoreTestSuite) append(rec *models.AuditRecord) *models.AuditRecord {
	stored, err := s.store.Append(s.ctx, rec)
	s.Require().NoError(err)
	return stored
}

func (s *InMemoryStoreTestSuite) TestAppendAssignsIncreasingIDs() {
	first := s.append(testutil.NewAuditBuilder().Build())
	second := s.append(testutil.NewAuditBuilder().Build())
	third := s.append(testutil.NewAuditBuilder().Build())

	s.Equal(int64(1), first.AuditID)
	s.Equal(int64(2), second.AuditID)
	s.Equal(int64(3), third.AuditID)
}

func (s *InMemoryStoreTestSuite) TestAppendDuplicateEventReturnsExisting() {
	rec := testutil.NewAuditBuilder().Build()
	stored := s.append(rec)

	dup := testutil.NewAuditBuilder().WithEventID(rec.EventID).Build()
	existing, err := s.store.Append(s.ctx, dup)
	s.Require().ErrorIs(err, sentinel.ErrConflict)
	s.Require().NotNil(existing)
	s.Equal(stored.AuditID, existing.AuditID)
}

func (s *InMemoryStoreTestSuite) TestGetNotFound() {
	_, err := s.store.Get(s.ctx, 404)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreTestSuite) TestGetByEventID() {
	rec := s.append(testutil.NewAuditBuilder().Build())

	got, err := s.store.GetByEventID(s.ctx, rec.EventID)
	s.Require().NoError(err)
	s.Equal(rec.AuditID, got.AuditID)

	_, err = s.store.GetByEventID(s.ctx, uuid.New())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreTestSuite) TestGetReturnsCopy() {
	rec := s.append(testutil.NewAuditBuilder().Build())

	got, err := s.store.Get(s.ctx, rec.AuditID)
	s.Require().NoError(err)
	got.Status = models.StatusFailed
	got.Attempts = 99

	fresh, err := s.store.Get(s.ctx, rec.AuditID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, fresh.Status)
	s.Equal(0, fresh.Attempts)
}

func (s *InMemoryStoreTestSuite) TestTransitionStatusAppliesPatch() {
	rec := s.append(testutil.NewAuditBuilder().Build())

	resolvedBy := "ops@example.com"
	got, err := s.store.TransitionStatus(s.ctx, rec.AuditID, models.StatusPending, models.StatusApproved, Patch{ResolvedBy: &resolvedBy})
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, got.Status)
	s.Require().NotNil(got.ResolvedBy)
	s.Equal(resolvedBy, *got.ResolvedBy)
	s.Nil(got.ExecutedAt)
}

func (s *InMemoryStoreTestSuite) TestTransitionStatusStaleReturnsCurrent() {
	rec := s.append(testutil.NewAuditBuilder().Build())

	_, err := s.store.TransitionStatus(s.ctx, rec.AuditID, models.StatusPending, models.StatusLogged, Patch{})
	s.Require().NoError(err)

	current, err := s.store.TransitionStatus(s.ctx, rec.AuditID, models.StatusPending, models.StatusApproved, Patch{})
	s.Require().ErrorIs(err, sentinel.ErrStaleStatus)
	s.Require().NotNil(current)
	s.Equal(models.StatusLogged, current.Status)
}

func (s *InMemoryStoreTestSuite) TestTransitionStatusNotFound() {
	_, err := s.store.TransitionStatus(s.ctx, 404, models.StatusPending, models.StatusLogged, Patch{})
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreTestSuite) TestTransitionPatchLeavesUnsetFields() {
	rec := s.append(testutil.NewAuditBuilder().Build())

	resolvedBy := "ops@example.com"
	_, err := s.store.TransitionStatus(s.ctx, rec.AuditID, models.StatusPending, models.StatusApproved, Patch{ResolvedBy: &resolvedBy})
	s.Require().NoError(err)

	execErr := "erp rejected the request"
	got, err := s.store.TransitionStatus(s.ctx, rec.AuditID, models.StatusApproved, models.StatusFailed, Patch{Error: &execErr})
	s.Require().NoError(err)
	s.Require().NotNil(got.ResolvedBy)
	s.Equal(resolvedBy, *got.ResolvedBy)
	s.Require().NotNil(got.Error)
	s.Equal(execErr, *got.Error)
}

func (s *InMemoryStoreTestSuite) TestIncrementAttemptsGuardedByStatus() {
	rec := s.append(testutil.NewAuditBuilder().Build())

	n, err := s.store.IncrementAttempts(s.ctx, rec.AuditID, models.StatusPending)
	s.Require().NoError(err)
	s.Equal(1, n)

	n, err = s.store.IncrementAttempts(s.ctx, rec.AuditID, models.StatusPending)
	s.Require().NoError(err)
	s.Equal(2, n)

	_, err = s.store.IncrementAttempts(s.ctx, rec.AuditID, models.StatusApproved)
	s.Require().ErrorIs(err, sentinel.ErrStaleStatus)

	got, err := s.store.Get(s.ctx, rec.AuditID)
	s.Require().NoError(err)
	s.Equal(2, got.Attempts)
}

func (s *InMemoryStoreTestSuite) TestIncrementAttemptsNotFound() {
	_, err := s.store.IncrementAttempts(s.ctx, 404, models.StatusPending)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreTestSuite) TestListFiltersAndPaginates() {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		b := testutil.NewAuditBuilder().WithCreatedAt(base.Add(time.Duration(i) * time.Hour))
		if i%2 == 1 {
			b = b.WithEntity("purchase_order", int64(i))
		}
		s.append(b.Build())
	}

	invoices, err := s.store.List(s.ctx, Filter{EntityType: "invoice"}, Page{})
	s.Require().NoError(err)
	s.Len(invoices, 3)

	pending, err := s.store.List(s.ctx, Filter{Status: models.StatusPending}, Page{})
	s.Require().NoError(err)
	s.Len(pending, 5)

	windowed, err := s.store.List(s.ctx, Filter{From: base.Add(time.Hour), To: base.Add(3 * time.Hour)}, Page{})
	s.Require().NoError(err)
	s.Len(windowed, 2)

	pageOne, err := s.store.List(s.ctx, Filter{}, Page{Page: 1, Limit: 2})
	s.Require().NoError(err)
	s.Require().Len(pageOne, 2)

	pageTwo, err := s.store.List(s.ctx, Filter{}, Page{Page: 2, Limit: 2})
	s.Require().NoError(err)
	s.Require().Len(pageTwo, 2)
	s.Greater(pageTwo[0].AuditID, pageOne[1].AuditID)

	pageThree, err := s.store.List(s.ctx, Filter{}, Page{Page: 3, Limit: 2})
	s.Require().NoError(err)
	s.Len(pageThree, 1)
}

func (s *InMemoryStoreTestSuite) TestListOrderedByAuditID() {
	for i := 0; i < 4; i++ {
		s.append(testutil.NewAuditBuilder().Build())
	}

	records, err := s.store.List(s.ctx, Filter{}, Page{})
	s.Require().NoError(err)
	s.Require().Len(records, 4)
	for i := 1; i < len(records); i++ {
		s.Greater(records[i].AuditID, records[i-1].AuditID)
	}
}

func (s *InMemoryStoreTestSuite) TestCount() {
	for i := 0; i < 3; i++ {
		s.append(testutil.NewAuditBuilder().Build())
	}
	s.append(testutil.NewAuditBuilder().WithEntity("purchase_order", 7).Build())

	total, err := s.store.Count(s.ctx, Filter{})
	s.Require().NoError(err)
	s.Equal(int64(4), total)

	invoices, err := s.store.Count(s.ctx, Filter{EntityType: "invoice"})
	s.Require().NoError(err)
	s.Equal(int64(3), invoices)
}

func (s *InMemoryStoreTestSuite) TestConcurrentTransitionSingleWinner() {
	rec := s.append(testutil.NewAuditBuilder().Build())

	result := testutil.RunConcurrent(8, func(idx int) error {
		_, err := s.store.TransitionStatus(s.ctx, rec.AuditID, models.StatusPending, models.StatusApproved, Patch{})
		return err
	})

	s.Equal(int32(1), result.Successes)
	s.Equal(int32(7), result.Stale)
}

func (s *InMemoryStoreTestSuite) TestConcurrentAppendSameEventSingleWinner() {
	eventID := uuid.New()

	result := testutil.RunConcurrent(8, func(idx int) error {
		_, err := s.store.Append(s.ctx, testutil.NewAuditBuilder().WithEventID(eventID).Build())
		return err
	})

	s.Equal(int32(1), result.Successes)
	s.Equal(int32(7), result.Conflicts)

	total, err := s.store.Count(s.ctx, Filter{})
	s.Require().NoError(err)
	s.Equal(int64(1), total)
}

func TestInMemoryStoreTestSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreTestSuite))
}

func TestPageNormalize(t *testing.T) {
	tests := []struct {
		name      string
		in        Page
		wantPage  int
		wantLimit int
	}{
		{name: "zero value gets defaults", in: Page{}, wantPage: 1, wantLimit: 20},
		{name: "negative page reset to first", in: Page{Page: -3, Limit: 10}, wantPage: 1, wantLimit: 10},
		{name: "limit capped at maximum", in: Page{Page: 2, Limit: 500}, wantPage: 2, wantLimit: 100},
		{name: "valid page untouched", in: Page{Page: 4, Limit: 50}, wantPage: 4, wantLimit: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize()
			if got.Page != tt.wantPage || got.Limit != tt.wantLimit {
				t.Errorf("Normalize() = %+v, want page=%d limit=%d", got, tt.wantPage, tt.wantLimit)
			}
		})
	}
}
