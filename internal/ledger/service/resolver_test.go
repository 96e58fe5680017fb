package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"arbiter/internal/gate"
	"arbiter/internal/ledger/models"
	"arbiter/internal/ledger/store"
	dErrors "arbiter/pkg/domain-errors"
	"arbiter/pkg/testutil"
)

type ResolverSuite struct {
	suite.Suite
	store    *store.InMemoryStore
	outbox   *fakeOutbox
	executor *fakeExecutor
	service  *Service
	ctx      context.Context
}

func (s *ResolverSuite) SetupTest() {
	s.store = store.New()
	s.outbox = &fakeOutbox{}
	s.executor = &fakeExecutor{}
	s.service = NewService(s.store, nil, WithOutbox(s.outbox))
	s.service.SetExecutor(s.executor)
	s.ctx = context.Background()
}

func (s *ResolverSuite) appendPending() *models.AuditRecord {
	rec, err := s.service.Append(s.ctx, testutil.NewAuditBuilder().Build())
	s.Require().NoError(err)
	return rec
}

func (s *ResolverSuite) TestApproveExecutesAction() {
	rec := s.appendPending()

	final, err := s.service.Resolve(s.ctx, rec.AuditID, true, "ops@arbiter.dev")
	s.Require().NoError(err)
	s.Equal(models.StatusExecuted, final.Status)
	s.Equal(1, s.executor.callCount())
	s.Equal(models.StatusApproved, s.executor.lastFrom)

	stored, err := s.service.Get(s.ctx, rec.AuditID)
	s.Require().NoError(err)
	s.Require().NotNil(stored.ResolvedBy)
	s.Equal("ops@arbiter.dev", *stored.ResolvedBy)
}

func (s *ResolverSuite) TestRejectIsTerminal() {
	rec := s.appendPending()

	final, err := s.service.Resolve(s.ctx, rec.AuditID, false, "ops@arbiter.dev")
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, final.Status)
	s.Equal(0, s.executor.callCount())
	s.Require().NotNil(final.ResolvedBy)
	s.Equal("ops@arbiter.dev", *final.ResolvedBy)
}

func (s *ResolverSuite) TestVerdictWithoutApprovalStep() {
	rec, err := s.service.Append(s.ctx, testutil.NewAuditBuilder().
		WithVerdict(gate.VerdictLogOnly).
		Build())
	s.Require().NoError(err)

	_, err = s.service.Resolve(s.ctx, rec.AuditID, true, "ops@arbiter.dev")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Equal(0, s.executor.callCount())
}

func (s *ResolverSuite) TestSecondResolutionReportsAlreadyResolved() {
	rec := s.appendPending()

	_, err := s.service.Resolve(s.ctx, rec.AuditID, false, "first@arbiter.dev")
	s.Require().NoError(err)

	_, err = s.service.Resolve(s.ctx, rec.AuditID, true, "second@arbiter.dev")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyResolved))
	s.ErrorContains(err, "rejected")
	s.Equal(0, s.executor.callCount())
}

func (s *ResolverSuite) TestResolveNotFound() {
	_, err := s.service.Resolve(s.ctx, 404, true, "ops@arbiter.dev")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ResolverSuite) TestApproveWithoutExecutorLeavesApproved() {
	service := NewService(s.store, nil, WithOutbox(s.outbox))
	rec, err := service.Append(s.ctx, testutil.NewAuditBuilder().Build())
	s.Require().NoError(err)

	final, err := service.Resolve(s.ctx, rec.AuditID, true, "ops@arbiter.dev")
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, final.Status)
}

func (s *ResolverSuite) TestConcurrentResolveSingleWinner() {
	rec := s.appendPending()

	successes, errs := testutil.RunConcurrentCollect(8, func(idx int) error {
		_, err := s.service.Resolve(s.ctx, rec.AuditID, true, fmt.Sprintf("operator-%d", idx))
		return err
	})

	s.Equal(int32(1), successes)
	s.Len(errs, 7)
	for _, err := range errs {
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyResolved), "unexpected error: %v", err)
	}
	s.Equal(1, s.executor.callCount())
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}
