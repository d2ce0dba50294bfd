// Package tier maps an invoice price to the supporting-document profile a
// submission must carry. The brackets mirror the procurement policy: small
// purchases need a single competing price proposal, mid-range purchases two,
// and anything at or above the tender threshold needs four proposals plus a
// tender document.
package tier

import (
	"errors"
	"math"
)

// Bracket boundaries in shekels. A price equal to a boundary falls into
// the bracket above it.
const (
	MidTierThreshold    = 5500
	TenderTierThreshold = 159000
)

// ErrInvalidAmount is returned for prices that are not positive finite
// numbers.
var ErrInvalidAmount = errors.New("invoice price must be a positive amount")

// Requirements is the document profile resolved from an invoice price.
type Requirements struct {
	Proposals int  `json:"proposals"`
	Tender    bool `json:"tender"`
}

// Resolve returns the required document profile for the given price.
// It is pure: the same price always resolves to the same profile.
func Resolve(price float64) (Requirements, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return Requirements{}, ErrInvalidAmount
	}

	switch {
	case price < MidTierThreshold:
		return Requirements{Proposals: 1, Tender: false}, nil
	case price < TenderTierThreshold:
		return Requirements{Proposals: 2, Tender: false}, nil
	default:
		return Requirements{Proposals: 4, Tender: true}, nil
	}
}
