package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	id "vouch/pkg/domain"
)

// Persona is the anonymous display identity a user presents within a
// community before revelation. Generated once per (user, community) and
// never regenerated.
type Persona struct {
	UserID      id.UserID
	CommunityID id.CommunityID
	DisplayName string
	CreatedAt   time.Time
}

// Revelation is a one-way disclosure of real identity, scoped to a message
// category. A revealing to B does not imply B revealed to A.
type Revelation struct {
	Revealer   id.UserID
	RevealedTo id.UserID
	CategoryID id.CategoryID
	RevealedAt time.Time
}

// PersonaName derives the stable anonymous display name for a (user,
// community) pair. Hash-based so the name is deterministic without leaking
// the underlying user ID.
func PersonaName(userID id.UserID, communityID id.CommunityID) string {
	sum := sha256.Sum256([]byte(userID.String() + "|" + communityID.String()))
	return fmt.Sprintf("Member-%s", hex.EncodeToString(sum[:4]))
}
