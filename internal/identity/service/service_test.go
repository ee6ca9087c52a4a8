package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"vouch/internal/identity"
	"vouch/internal/identity/store/memory"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/requestcontext"
)

// checkerFunc adapts a function to ConversationChecker.
type checkerFunc func(ctx context.Context, a, b id.UserID) (bool, error)

func (f checkerFunc) ConversationExists(ctx context.Context, a, b id.UserID) (bool, error) {
	return f(ctx, a, b)
}

var alwaysConnected = checkerFunc(func(context.Context, id.UserID, id.UserID) (bool, error) {
	return true, nil
})

type countingCache struct {
	mu      sync.Mutex
	entries map[string]string
	hits    int
}

func newCountingCache() *countingCache {
	return &countingCache{entries: make(map[string]string)}
}

func (c *countingCache) Get(_ context.Context, userID id.UserID, communityID id.CommunityID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, ok := c.entries[communityID.String()+":"+userID.String()]
	if ok {
		c.hits++
	}
	return name, ok
}

func (c *countingCache) Set(_ context.Context, userID id.UserID, communityID id.CommunityID, displayName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[communityID.String()+":"+userID.String()] = displayName
}

type IdentitySuite struct {
	suite.Suite
	ctx context.Context
	svc *Service
}

func TestIdentitySuite(t *testing.T) {
	suite.Run(t, new(IdentitySuite))
}

func (s *IdentitySuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(),
		time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC))

	svc, err := New(memory.NewPersonaStore(), memory.NewRevelationStore(), alwaysConnected,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(s.T(), err)
	s.svc = svc
}

func (s *IdentitySuite) TestPersonaIsStable() {
	user := id.NewUserID()
	community := id.NewCommunityID()

	first, err := s.svc.PersonaFor(s.ctx, user, community)
	require.NoError(s.T(), err)
	assert.True(s.T(), strings.HasPrefix(first, "Member-"))

	second, err := s.svc.PersonaFor(s.ctx, user, community)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), first, second)
}

func (s *IdentitySuite) TestPersonaDiffersAcrossCommunities() {
	user := id.NewUserID()

	a, err := s.svc.PersonaFor(s.ctx, user, id.NewCommunityID())
	require.NoError(s.T(), err)
	b, err := s.svc.PersonaFor(s.ctx, user, id.NewCommunityID())
	require.NoError(s.T(), err)
	assert.NotEqual(s.T(), a, b)
}

func (s *IdentitySuite) TestPersonaNameDoesNotLeakUserID() {
	user := id.NewUserID()
	name := identity.PersonaName(user, id.NewCommunityID())
	assert.NotContains(s.T(), name, user.String())
}

func (s *IdentitySuite) TestConcurrentFirstLookupsConverge() {
	user := id.NewUserID()
	community := id.NewCommunityID()

	const workers = 8
	names := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name, err := s.svc.PersonaFor(s.ctx, user, community)
			assert.NoError(s.T(), err)
			names[i] = name
		}(i)
	}
	wg.Wait()

	for _, name := range names[1:] {
		assert.Equal(s.T(), names[0], name)
	}
}

func (s *IdentitySuite) TestPersonaCacheServesRepeatLookups() {
	cache := newCountingCache()
	svc, err := New(memory.NewPersonaStore(), memory.NewRevelationStore(), alwaysConnected,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithPersonaCache(cache))
	require.NoError(s.T(), err)

	user := id.NewUserID()
	community := id.NewCommunityID()

	first, err := svc.PersonaFor(s.ctx, user, community)
	require.NoError(s.T(), err)
	second, err := svc.PersonaFor(s.ctx, user, community)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), first, second)
	assert.Equal(s.T(), 1, cache.hits)
}

func (s *IdentitySuite) TestRevealIsDirectionalAndCategoryScoped() {
	alice := id.NewUserID()
	bob := id.NewUserID()
	coffee := id.NewCategoryID()
	mentorship := id.NewCategoryID()

	created, err := s.svc.Reveal(s.ctx, alice, bob, coffee)
	require.NoError(s.T(), err)
	assert.True(s.T(), created)

	revealed, err := s.svc.IsRevealedTo(s.ctx, alice, bob, coffee)
	require.NoError(s.T(), err)
	assert.True(s.T(), revealed)

	// The reverse direction stays anonymous.
	revealed, err = s.svc.IsRevealedTo(s.ctx, bob, alice, coffee)
	require.NoError(s.T(), err)
	assert.False(s.T(), revealed)

	// Other categories stay anonymous.
	revealed, err = s.svc.IsRevealedTo(s.ctx, alice, bob, mentorship)
	require.NoError(s.T(), err)
	assert.False(s.T(), revealed)
}

func (s *IdentitySuite) TestRepeatRevealIsNoop() {
	alice := id.NewUserID()
	bob := id.NewUserID()
	category := id.NewCategoryID()

	created, err := s.svc.Reveal(s.ctx, alice, bob, category)
	require.NoError(s.T(), err)
	require.True(s.T(), created)

	created, err = s.svc.Reveal(s.ctx, alice, bob, category)
	require.NoError(s.T(), err)
	assert.False(s.T(), created)
}

func (s *IdentitySuite) TestRevealRequiresConversation() {
	disconnected := checkerFunc(func(context.Context, id.UserID, id.UserID) (bool, error) {
		return false, nil
	})
	svc, err := New(memory.NewPersonaStore(), memory.NewRevelationStore(), disconnected,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(s.T(), err)

	_, err = svc.Reveal(s.ctx, id.NewUserID(), id.NewUserID(), id.NewCategoryID())
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeBadRequest))
}

func (s *IdentitySuite) TestRevealToSelfRejected() {
	user := id.NewUserID()
	_, err := s.svc.Reveal(s.ctx, user, user, id.NewCategoryID())
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeSelfMessage))
}
