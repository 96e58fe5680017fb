//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"arbiter/internal/ledger/models"
	"arbiter/internal/ledger/store"
	"arbiter/internal/sentinel"
	"arbiter/pkg/testutil"
	"arbiter/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "audit_records")
	s.Require().NoError(err)
}

// TestAppendRoundTrip verifies every column survives an insert and read back,
// including the nullable ones.
func (s *PostgresStoreSuite) TestAppendRoundTrip() {
	ctx := context.Background()

	rec := testutil.NewAuditBuilder().Build()
	stored, err := s.store.Append(ctx, rec)
	s.Require().NoError(err)
	s.Greater(stored.AuditID, int64(0))

	got, err := s.store.Get(ctx, stored.AuditID)
	s.Require().NoError(err)
	s.Equal(rec.EventID, got.EventID)
	s.Equal(rec.DecisionID, got.DecisionID)
	s.Equal(rec.EntityType, got.EntityType)
	s.Equal(rec.EntityID, got.EntityID)
	s.Equal(rec.Action, got.Action)
	s.InDelta(rec.Confidence, got.Confidence, 1e-9)
	s.Equal(rec.Rationale, got.Rationale)
	s.Equal(rec.Verdict, got.Verdict)
	s.Equal(rec.RuleID, got.RuleID)
	s.Equal(models.StatusPending, got.Status)
	s.Nil(got.ExecutedAt)
	s.Nil(got.ResolvedBy)
	s.Nil(got.Error)
}

// TestAppendNullableColumns verifies a record without a matched rule or
// rationale stores NULLs and reads back as zero values.
func (s *PostgresStoreSuite) TestAppendNullableColumns() {
	ctx := context.Background()

	rec := testutil.NewAuditBuilder().Build()
	rec.RuleID = uuid.Nil
	rec.Rationale = ""

	stored, err := s.store.Append(ctx, rec)
	s.Require().NoError(err)

	got, err := s.store.Get(ctx, stored.AuditID)
	s.Require().NoError(err)
	s.Equal(uuid.Nil, got.RuleID)
	s.Empty(got.Rationale)
}

// TestConcurrentAppendSameEvent verifies the unique event constraint picks
// exactly one winner under concurrency.
func (s *PostgresStoreSuite) TestConcurrentAppendSameEvent() {
	ctx := context.Background()
	eventID := uuid.New()

	result := testutil.RunConcurrent(20, func(_ int) error {
		_, err := s.store.Append(ctx, testutil.NewAuditBuilder().WithEventID(eventID).Build())
		return err
	})

	s.Equal(int32(1), result.Successes, "exactly one append should win")
	s.Equal(int32(19), result.Conflicts, "all others should conflict")

	count, err := s.store.Count(ctx, store.Filter{})
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}

// TestConcurrentTransitionSingleWinner verifies the status compare-and-swap
// admits exactly one transition out of pending.
func (s *PostgresStoreSuite) TestConcurrentTransitionSingleWinner() {
	ctx := context.Background()

	stored, err := s.store.Append(ctx, testutil.NewAuditBuilder().Build())
	s.Require().NoError(err)

	result := testutil.RunConcurrent(20, func(_ int) error {
		_, err := s.store.TransitionStatus(ctx, stored.AuditID, models.StatusPending, models.StatusApproved, store.Patch{})
		return err
	})

	s.Equal(int32(1), result.Successes)
	s.Equal(int32(19), result.Stale)

	got, err := s.store.Get(ctx, stored.AuditID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, got.Status)
}

// TestTransitionPatchPersistence verifies patch fields are written and
// untouched fields survive later transitions.
func (s *PostgresStoreSuite) TestTransitionPatchPersistence() {
	ctx := context.Background()

	stored, err := s.store.Append(ctx, testutil.NewAuditBuilder().Build())
	s.Require().NoError(err)

	resolvedBy := "ops@example.com"
	_, err = s.store.TransitionStatus(ctx, stored.AuditID, models.StatusPending, models.StatusApproved, store.Patch{ResolvedBy: &resolvedBy})
	s.Require().NoError(err)

	executedAt := time.Now().UTC().Truncate(time.Microsecond)
	got, err := s.store.TransitionStatus(ctx, stored.AuditID, models.StatusApproved, models.StatusExecuted, store.Patch{ExecutedAt: &executedAt})
	s.Require().NoError(err)

	s.Require().NotNil(got.ResolvedBy)
	s.Equal(resolvedBy, *got.ResolvedBy)
	s.Require().NotNil(got.ExecutedAt)
	s.WithinDuration(executedAt, *got.ExecutedAt, time.Millisecond)
}

// TestIncrementAttemptsStatusGuard verifies attempts only advance while the
// record is in the expected status.
func (s *PostgresStoreSuite) TestIncrementAttemptsStatusGuard() {
	ctx := context.Background()

	stored, err := s.store.Append(ctx, testutil.NewAuditBuilder().Build())
	s.Require().NoError(err)

	n, err := s.store.IncrementAttempts(ctx, stored.AuditID, models.StatusPending)
	s.Require().NoError(err)
	s.Equal(1, n)

	_, err = s.store.TransitionStatus(ctx, stored.AuditID, models.StatusPending, models.StatusFailed, store.Patch{})
	s.Require().NoError(err)

	_, err = s.store.IncrementAttempts(ctx, stored.AuditID, models.StatusPending)
	s.ErrorIs(err, sentinel.ErrStaleStatus)
}

// TestListFilterAndPagination verifies SQL filtering matches the in-memory
// store's behavior.
func (s *PostgresStoreSuite) TestListFilterAndPagination() {
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b := testutil.NewAuditBuilder()
		if i%2 == 1 {
			b = b.WithEntity("purchase_order", int64(i))
		}
		_, err := s.store.Append(ctx, b.Build())
		s.Require().NoError(err)
	}

	invoices, err := s.store.List(ctx, store.Filter{EntityType: "invoice"}, store.Page{})
	s.Require().NoError(err)
	s.Len(invoices, 3)

	pageOne, err := s.store.List(ctx, store.Filter{}, store.Page{Page: 1, Limit: 2})
	s.Require().NoError(err)
	s.Require().Len(pageOne, 2)

	pageTwo, err := s.store.List(ctx, store.Filter{}, store.Page{Page: 2, Limit: 2})
	s.Require().NoError(err)
	s.Require().Len(pageTwo, 2)
	s.Greater(pageTwo[0].AuditID, pageOne[1].AuditID)

	count, err := s.store.Count(ctx, store.Filter{EntityType: "purchase_order"})
	s.Require().NoError(err)
	s.Equal(int64(2), count)
}

// TestGetByEventID verifies event lookup and the not-found contract.
func (s *PostgresStoreSuite) TestGetByEventID() {
	ctx := context.Background()

	stored, err := s.store.Append(ctx, testutil.NewAuditBuilder().Build())
	s.Require().NoError(err)

	got, err := s.store.GetByEventID(ctx, stored.EventID)
	s.Require().NoError(err)
	s.Equal(stored.AuditID, got.AuditID)

	_, err = s.store.GetByEventID(ctx, uuid.New())
	s.ErrorIs(err, sentinel.ErrNotFound)
}
