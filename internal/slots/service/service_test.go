package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"vouch/internal/slots"
	"vouch/internal/slots/store/memory"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/requestcontext"
)

type SlotSuite struct {
	suite.Suite
	ctx context.Context
	now time.Time
	svc *Service
}

func TestSlotSuite(t *testing.T) {
	suite.Run(t, new(SlotSuite))
}

func (s *SlotSuite) SetupTest() {
	s.now = time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	svc, err := New(memory.NewCategoryStore(), memory.NewLedgerStore(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(s.T(), err)
	s.svc = svc
}

func (s *SlotSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *SlotSuite) createCategory(owner id.UserID, name string, limit int) *slots.Category {
	category, err := s.svc.CreateCategory(s.ctx, owner, name, limit)
	require.NoError(s.T(), err)
	return category
}

func (s *SlotSuite) TestReserveUntilExhausted() {
	user := id.NewUserID()
	category := s.createCategory(user, "Coffee", 3)

	for i := 3; i > 0; i-- {
		entry, err := s.svc.CheckAndReserve(s.ctx, user, category.ID)
		require.NoError(s.T(), err)
		assert.Equal(s.T(), i-1, entry.Remaining)
	}

	_, err := s.svc.CheckAndReserve(s.ctx, user, category.ID)
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeSlotExhausted))
}

func (s *SlotSuite) TestReleaseRestoresSlot() {
	user := id.NewUserID()
	category := s.createCategory(user, "Coffee", 1)

	_, err := s.svc.CheckAndReserve(s.ctx, user, category.ID)
	require.NoError(s.T(), err)
	_, err = s.svc.CheckAndReserve(s.ctx, user, category.ID)
	require.True(s.T(), dErrors.Is(err, dErrors.CodeSlotExhausted))

	require.NoError(s.T(), s.svc.Release(s.ctx, user, category.ID))

	entry, err := s.svc.CheckAndReserve(s.ctx, user, category.ID)
	require.NoError(s.T(), err)
	assert.Zero(s.T(), entry.Remaining)
}

func (s *SlotSuite) TestReleaseNeverExceedsLimit() {
	user := id.NewUserID()
	category := s.createCategory(user, "Coffee", 2)

	_, err := s.svc.CheckAndReserve(s.ctx, user, category.ID)
	require.NoError(s.T(), err)

	require.NoError(s.T(), s.svc.Release(s.ctx, user, category.ID))
	require.NoError(s.T(), s.svc.Release(s.ctx, user, category.ID))

	statuses, err := s.svc.SlotStatus(s.ctx, user)
	require.NoError(s.T(), err)
	require.Len(s.T(), statuses, 1)
	assert.Equal(s.T(), 2, statuses[0].Remaining)
}

func (s *SlotSuite) TestReleaseWithoutReservationIsNoop() {
	user := id.NewUserID()
	category := s.createCategory(user, "Coffee", 2)
	assert.NoError(s.T(), s.svc.Release(s.ctx, user, category.ID))
}

func (s *SlotSuite) TestReleaseWorksAfterDeactivation() {
	user := id.NewUserID()
	category := s.createCategory(user, "Coffee", 2)

	_, err := s.svc.CheckAndReserve(s.ctx, user, category.ID)
	require.NoError(s.T(), err)

	require.NoError(s.T(), s.svc.DeactivateCategory(s.ctx, user, category.ID))
	assert.NoError(s.T(), s.svc.Release(s.ctx, user, category.ID))
}

func (s *SlotSuite) TestCalendarMonthReset() {
	user := id.NewUserID()
	category := s.createCategory(user, "Coffee", 1)

	_, err := s.svc.CheckAndReserve(s.ctx, user, category.ID)
	require.NoError(s.T(), err)
	_, err = s.svc.CheckAndReserve(s.ctx, user, category.ID)
	require.True(s.T(), dErrors.Is(err, dErrors.CodeSlotExhausted))

	// Last instant of the month: still exhausted.
	endOfMonth := s.at(time.Date(2026, 8, 31, 23, 59, 59, 0, time.UTC))
	_, err = s.svc.CheckAndReserve(endOfMonth, user, category.ID)
	require.True(s.T(), dErrors.Is(err, dErrors.CodeSlotExhausted))

	// First instant of the next month: full allowance again.
	nextMonth := s.at(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))
	entry, err := s.svc.CheckAndReserve(nextMonth, user, category.ID)
	require.NoError(s.T(), err)
	assert.Zero(s.T(), entry.Remaining)
}

func (s *SlotSuite) TestDeactivatedCategoryRejectsSends() {
	user := id.NewUserID()
	category := s.createCategory(user, "Coffee", 5)
	require.NoError(s.T(), s.svc.DeactivateCategory(s.ctx, user, category.ID))

	_, err := s.svc.CheckAndReserve(s.ctx, user, category.ID)
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeCategoryDisabled))
}

func (s *SlotSuite) TestZeroLimitCategoryRejectsSends() {
	user := id.NewUserID()
	category := s.createCategory(user, "Paused", 0)

	_, err := s.svc.CheckAndReserve(s.ctx, user, category.ID)
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeCategoryDisabled))
}

func (s *SlotSuite) TestCustomCategoryInvisibleToOthers() {
	owner := id.NewUserID()
	stranger := id.NewUserID()
	category := s.createCategory(owner, "Private", 5)

	_, err := s.svc.CheckAndReserve(s.ctx, stranger, category.ID)
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeNotFound))

	err = s.svc.DeactivateCategory(s.ctx, stranger, category.ID)
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeNotFound))
}

func (s *SlotSuite) TestSystemCategoriesSharedAndProtected() {
	require.NoError(s.T(), s.svc.SeedSystemCategories(s.ctx))
	// Seeding twice is a no-op.
	require.NoError(s.T(), s.svc.SeedSystemCategories(s.ctx))

	user := id.NewUserID()
	statuses, err := s.svc.SlotStatus(s.ctx, user)
	require.NoError(s.T(), err)
	require.Len(s.T(), statuses, len(slots.SystemCategoryDefaults))

	for _, status := range statuses {
		assert.True(s.T(), status.Category.IsSystem())
		assert.Equal(s.T(), status.Category.PeriodLimit, status.Remaining)

		err := s.svc.DeactivateCategory(s.ctx, user, status.Category.ID)
		assert.True(s.T(), dErrors.Is(err, dErrors.CodeForbidden))
	}
}

func (s *SlotSuite) TestSlotStatusDoesNotConsume() {
	user := id.NewUserID()
	category := s.createCategory(user, "Coffee", 4)

	for i := 0; i < 3; i++ {
		statuses, err := s.svc.SlotStatus(s.ctx, user)
		require.NoError(s.T(), err)
		require.Len(s.T(), statuses, 1)
		assert.Equal(s.T(), 4, statuses[0].Remaining)
		assert.Equal(s.T(), category.ID, statuses[0].Category.ID)
	}
}

func (s *SlotSuite) TestCategoryNameValidation() {
	user := id.NewUserID()

	_, err := s.svc.CreateCategory(s.ctx, user, "  ", 5)
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeInvalidInput))

	long := make([]byte, maxCategoryNameLen+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = s.svc.CreateCategory(s.ctx, user, string(long), 5)
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeInvalidInput))

	_, err = s.svc.CreateCategory(s.ctx, user, "Coffee", -1)
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeInvalidInput))

	_, err = s.svc.CreateCategory(s.ctx, user, "Coffee", 5)
	require.NoError(s.T(), err)
	_, err = s.svc.CreateCategory(s.ctx, user, "coffee", 5)
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeConflict))
}

func (s *SlotSuite) TestConcurrentReserveLastSlot() {
	user := id.NewUserID()
	category := s.createCategory(user, "Coffee", 1)

	const workers = 16
	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.svc.CheckAndReserve(s.ctx, user, category.ID); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(s.T(), int32(1), successes.Load())
}
