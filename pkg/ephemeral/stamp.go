package ephemeral

import (
	"time"
)

// StampTTL is how long a head-stamp stays visible.
const StampTTL = 3 * time.Second

// Stamp is an emoji glyph anchored above its owner's avatar.
type Stamp struct {
	OwnerID   string
	Glyph     string
	EmittedAt time.Time
}

// StampBoard holds the currently visible stamps, one per owner. A new
// stamp from the same owner replaces any still-pending one.
type StampBoard struct {
	holder *Holder[string, Stamp]
}

// NewStampBoard creates an empty stamp board.
func NewStampBoard() *StampBoard {
	return &StampBoard{holder: NewHolder[string, Stamp](StampTTL)}
}

// SetClock replaces the board's clock. Test hook.
func (b *StampBoard) SetClock(now func() time.Time) {
	b.holder.SetClock(now)
}

// Show displays glyph above ownerID, replacing any pending stamp for
// that owner.
func (b *StampBoard) Show(ownerID, glyph string, emittedAt time.Time) {
	b.holder.Put(ownerID, Stamp{OwnerID: ownerID, Glyph: glyph, EmittedAt: emittedAt}, emittedAt)
}

// For returns the live stamp for the given owner, if any.
func (b *StampBoard) For(ownerID string) (Stamp, bool) {
	return b.holder.Get(ownerID)
}

// Drop removes the owner's stamp, live or not. Used when the owner
// leaves presence.
func (b *StampBoard) Drop(ownerID string) {
	b.holder.Remove(ownerID)
}

// Active returns all currently visible stamps.
func (b *StampBoard) Active() []Stamp {
	return b.holder.Active()
}
