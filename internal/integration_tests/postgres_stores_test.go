//go:build integration

// Package integrationtests exercises the Postgres store implementations
// against a real database via testcontainers. Run with:
//
//	go test -tags integration ./internal/integration_tests/...
package integrationtests

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"vouch/internal/identity"
	identitypg "vouch/internal/identity/store/postgres"
	"vouch/internal/messaging"
	messagingpg "vouch/internal/messaging/store/postgres"
	"vouch/internal/slots"
	slotspg "vouch/internal/slots/store/postgres"
	"vouch/internal/verification"
	verificationpg "vouch/internal/verification/store/postgres"
	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
	"vouch/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	ctx context.Context
	now time.Time
	pg  *containers.PostgresContainer
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	s.pg = containers.NewPostgresContainer(s.T())
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.pg != nil {
		s.pg.Pool.Close()
		_ = s.pg.Container.Terminate(s.ctx)
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	require.NoError(s.T(), s.pg.Truncate(s.ctx))
}

func (s *PostgresStoreSuite) TestStatusLifecycle() {
	store := verificationpg.NewStatusStore(s.pg.Pool)
	user := id.NewUserID()

	status, err := store.Get(s.ctx, user)
	require.NoError(s.T(), err)
	assert.False(s.T(), status.Verified)
	assert.Zero(s.T(), status.ReferralCount)

	for i := 1; i <= 3; i++ {
		count, err := store.IncrementReferralCount(s.ctx, user)
		require.NoError(s.T(), err)
		assert.Equal(s.T(), i, count)
	}

	admin := id.NewUserID()
	require.NoError(s.T(), store.SetVerified(s.ctx, user, &admin, s.now))
	// A second SetVerified does not overwrite the original attribution.
	other := id.NewUserID()
	require.NoError(s.T(), store.SetVerified(s.ctx, user, &other, s.now.Add(time.Hour)))

	status, err = store.Get(s.ctx, user)
	require.NoError(s.T(), err)
	assert.True(s.T(), status.Verified)
	require.NotNil(s.T(), status.VerifiedBy)
	assert.Equal(s.T(), admin, *status.VerifiedBy)
}

func (s *PostgresStoreSuite) TestConcurrentIncrements() {
	store := verificationpg.NewStatusStore(s.pg.Pool)
	user := id.NewUserID()

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.IncrementReferralCount(s.ctx, user)
			assert.NoError(s.T(), err)
		}()
	}
	wg.Wait()

	status, err := store.Get(s.ctx, user)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), workers, status.ReferralCount)
}

func (s *PostgresStoreSuite) TestReferralAcceptedExactlyOnce() {
	store := verificationpg.NewReferralStore(s.pg.Pool)
	recipient := id.NewUserID()

	referral := &verification.Referral{
		ID:             id.NewReferralID(),
		Sender:         id.NewUserID(),
		RecipientEmail: "pg@example.com",
		Status:         verification.ReferralPending,
		CreatedAt:      s.now,
	}
	require.NoError(s.T(), store.Create(s.ctx, referral))
	assert.ErrorIs(s.T(), store.Create(s.ctx, referral), sentinel.ErrAlreadyExists)

	// Accepting before a recipient is bound is invalid.
	_, err := store.MarkAccepted(s.ctx, referral.ID, s.now)
	assert.ErrorIs(s.T(), err, sentinel.ErrInvalidState)

	require.NoError(s.T(), store.BindRecipient(s.ctx, referral.ID, recipient))

	const workers = 8
	var successes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.MarkAccepted(s.ctx, referral.ID, s.now); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(s.T(), int32(1), successes.Load())

	accepted, err := store.Get(s.ctx, referral.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), verification.ReferralAccepted, accepted.Status)
}

func (s *PostgresStoreSuite) TestLedgerReserveAtomicity() {
	store := slotspg.NewLedgerStore(s.pg.Pool)
	user := id.NewUserID()
	category := id.NewCategoryID()

	const limit = 3
	const workers = 12
	var successes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Reserve(s.ctx, user, category, limit, s.now); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(s.T(), int32(limit), successes.Load())

	entry, err := store.Get(s.ctx, user, category, limit, s.now)
	require.NoError(s.T(), err)
	assert.Zero(s.T(), entry.Remaining)
}

func (s *PostgresStoreSuite) TestLedgerResetAndRelease() {
	store := slotspg.NewLedgerStore(s.pg.Pool)
	user := id.NewUserID()
	category := id.NewCategoryID()

	_, err := store.Reserve(s.ctx, user, category, 1, s.now)
	require.NoError(s.T(), err)
	_, err = store.Reserve(s.ctx, user, category, 1, s.now)
	assert.ErrorIs(s.T(), err, slots.ErrExhausted)

	// Release restores the slot up to the snapshotted limit.
	entry, err := store.Release(s.ctx, user, category, s.now)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, entry.Remaining)
	entry, err = store.Release(s.ctx, user, category, s.now)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, entry.Remaining)

	// Releasing with no entry at all is reported distinctly.
	_, err = store.Release(s.ctx, id.NewUserID(), category, s.now)
	assert.ErrorIs(s.T(), err, sentinel.ErrNotFound)

	// Crossing into the next month restores the full allowance.
	_, err = store.Reserve(s.ctx, user, category, 1, s.now)
	require.NoError(s.T(), err)
	nextMonth := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	entry, err = store.Reserve(s.ctx, user, category, 1, nextMonth)
	require.NoError(s.T(), err)
	assert.Zero(s.T(), entry.Remaining)
	assert.Equal(s.T(), time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), entry.ResetAt.UTC())
}

func (s *PostgresStoreSuite) TestCategoryNamespaces() {
	store := slotspg.NewCategoryStore(s.pg.Pool)
	owner := id.NewUserID()

	system := &slots.Category{ID: id.NewCategoryID(), Name: "General", PeriodLimit: 15, Active: true, CreatedAt: s.now}
	require.NoError(s.T(), store.Create(s.ctx, system))
	dupe := &slots.Category{ID: id.NewCategoryID(), Name: "general", PeriodLimit: 5, Active: true, CreatedAt: s.now}
	assert.ErrorIs(s.T(), store.Create(s.ctx, dupe), sentinel.ErrAlreadyExists)

	// A user may shadow a system name in their own namespace.
	custom := &slots.Category{ID: id.NewCategoryID(), Owner: &owner, Name: "General", PeriodLimit: 5, Active: true, CreatedAt: s.now}
	require.NoError(s.T(), store.Create(s.ctx, custom))

	visible, err := store.ListForUser(s.ctx, owner)
	require.NoError(s.T(), err)
	assert.Len(s.T(), visible, 2)

	stranger, err := store.ListForUser(s.ctx, id.NewUserID())
	require.NoError(s.T(), err)
	assert.Len(s.T(), stranger, 1)
}

func (s *PostgresStoreSuite) TestConversationConvergesAcrossDirections() {
	store := messagingpg.NewStore(s.pg.Pool)
	alice := id.NewUserID()
	bob := id.NewUserID()

	const workers = 6
	ids := make([]id.ConversationID, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := alice, bob
			if i%2 == 1 {
				a, b = bob, alice
			}
			conversation, err := store.GetOrCreateConversation(s.ctx, a, b, s.now)
			assert.NoError(s.T(), err)
			ids[i] = conversation.ID
		}(i)
	}
	wg.Wait()
	for _, conversationID := range ids[1:] {
		assert.Equal(s.T(), ids[0], conversationID)
	}
}

func (s *PostgresStoreSuite) TestMessageOrderingAndPaging() {
	store := messagingpg.NewStore(s.pg.Pool)
	alice := id.NewUserID()
	bob := id.NewUserID()
	category := id.NewCategoryID()

	conversation, err := store.GetOrCreateConversation(s.ctx, alice, bob, s.now)
	require.NoError(s.T(), err)

	for i := 0; i < 6; i++ {
		// Alternate skewed timestamps; the store clamps them monotonic.
		at := s.now.Add(time.Duration(i%2) * -time.Minute)
		_, err := store.AppendMessage(s.ctx, &messaging.Message{
			ID:             id.NewMessageID(),
			ConversationID: conversation.ID,
			Sender:         alice,
			Receiver:       bob,
			CategoryID:     category,
			Content:        fmt.Sprintf("m%d", i),
			CreatedAt:      at,
		})
		require.NoError(s.T(), err)
	}

	page, err := store.ListMessages(s.ctx, conversation.ID, 4, nil)
	require.NoError(s.T(), err)
	require.Len(s.T(), page, 4)
	assert.Equal(s.T(), "m2", page[0].Content)
	assert.Equal(s.T(), "m5", page[3].Content)
	for i := 1; i < len(page); i++ {
		assert.Greater(s.T(), page[i].Seq, page[i-1].Seq)
		assert.False(s.T(), page[i].CreatedAt.Before(page[i-1].CreatedAt))
	}

	cursor := page[0].ID
	rest, err := store.ListMessages(s.ctx, conversation.ID, 4, &cursor)
	require.NoError(s.T(), err)
	require.Len(s.T(), rest, 2)
	assert.Equal(s.T(), "m0", rest[0].Content)

	unread, err := store.UnreadCount(s.ctx, conversation.ID, bob)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 6, unread)

	changed, err := store.MarkRead(s.ctx, page[0].ID, s.now)
	require.NoError(s.T(), err)
	assert.True(s.T(), changed)
	changed, err = store.MarkRead(s.ctx, page[0].ID, s.now)
	require.NoError(s.T(), err)
	assert.False(s.T(), changed)
}

func (s *PostgresStoreSuite) TestPersonaAndRevelationUniqueness() {
	personas := identitypg.NewPersonaStore(s.pg.Pool)
	revelations := identitypg.NewRevelationStore(s.pg.Pool)
	user := id.NewUserID()
	community := id.NewCommunityID()

	persona := &identity.Persona{
		UserID:      user,
		CommunityID: community,
		DisplayName: identity.PersonaName(user, community),
		CreatedAt:   s.now,
	}
	require.NoError(s.T(), personas.Create(s.ctx, persona))
	assert.ErrorIs(s.T(), personas.Create(s.ctx, persona), sentinel.ErrAlreadyExists)

	loaded, err := personas.Get(s.ctx, user, community)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), persona.DisplayName, loaded.DisplayName)

	revelation := &identity.Revelation{
		Revealer:   user,
		RevealedTo: id.NewUserID(),
		CategoryID: id.NewCategoryID(),
		RevealedAt: s.now,
	}
	require.NoError(s.T(), revelations.Create(s.ctx, revelation))
	assert.ErrorIs(s.T(), revelations.Create(s.ctx, revelation), sentinel.ErrAlreadyExists)

	exists, err := revelations.Exists(s.ctx, revelation.Revealer, revelation.RevealedTo, revelation.CategoryID)
	require.NoError(s.T(), err)
	assert.True(s.T(), exists)

	exists, err = revelations.Exists(s.ctx, revelation.RevealedTo, revelation.Revealer, revelation.CategoryID)
	require.NoError(s.T(), err)
	assert.False(s.T(), exists)
}
