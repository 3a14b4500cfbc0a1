// Package attributes derives and evolves the trait state of registry assets
// and renders it into a deterministic descriptor.
package attributes

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ThorbenD/dvp-market/domain"
)

const (
	rotationPerDay = 15
	baseSize       = 40
	sizePerLevel   = 10
)

// Descriptor is the rendering summary of an asset's traits at a point in time.
type Descriptor struct {
	Level    uint64
	Color    string
	AgeDays  uint64
	Rotation uint64 // degrees, [0, 360)
	Size     uint64
	Label    string
}

// Initialize derives the starting traits for a freshly minted asset.
// The result depends only on its inputs.
func Initialize(assetID uint64, createdAt time.Time) domain.Attributes {
	return domain.Attributes{
		CreatedAt: createdAt.UTC().Truncate(time.Second),
		Level:     1,
		Color:     colorSeed(assetID, createdAt),
	}
}

// LevelUp returns the state one level higher. Authorization is the caller's job.
func LevelUp(state domain.Attributes) domain.Attributes {
	state.Level++
	return state
}

// Render computes the descriptor for state as seen at now.
func Render(state domain.Attributes, now time.Time) Descriptor {
	var days uint64
	if elapsed := now.Sub(state.CreatedAt); elapsed > 0 {
		days = uint64(elapsed / (24 * time.Hour))
	}
	return Descriptor{
		Level:    state.Level,
		Color:    state.Color,
		AgeDays:  days,
		Rotation: (days * rotationPerDay) % 360,
		Size:     baseSize + sizePerLevel*state.Level,
		Label:    fmt.Sprintf("Lv.%d", state.Level),
	}
}

func colorSeed(assetID uint64, createdAt time.Time) string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], assetID)
	binary.BigEndian.PutUint64(buf[8:], uint64(createdAt.Unix()))
	sum := sha256.Sum256(buf[:])
	return "#" + hex.EncodeToString(sum[:3])
}
