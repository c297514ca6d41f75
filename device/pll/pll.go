// Package pll finds divider settings for the chip's hash clock PLL.
package pll

import (
	"math"

	"github.com/pkg/errors"
)

const (
	RefClockMHz = 25.0

	// DefaultFrequency is the fallback when a requested target cannot be solved.
	DefaultFrequency = 200.0

	fbDivMin  = 0xa0
	fbDivMax  = 0xef
	tolerance = 1.0

	// VCO above this runs in the high band.
	vcoHighBand = 2400
)

var ErrNoSolution = errors.New("no PLL setting within tolerance")

// Params is one divider combination and the clock it produces.
type Params struct {
	RefDiv   uint8
	PostDiv1 uint8
	PostDiv2 uint8
	FbDiv    uint8
	Achieved float64
}

// Solve searches refdiv 2..1 and post dividers 7..1 (post1 >= post2) for the
// setting closest to target. The first candidate wins ties.
func Solve(target float64) (Params, error) {
	var best Params
	bestDiff := math.Inf(1)

	for refDiv := 2; refDiv > 0; refDiv-- {
		for post1 := 7; post1 > 0; post1-- {
			for post2 := 7; post2 > 0; post2-- {
				if post1 < post2 {
					continue
				}

				fb := math.Round(float64(post1*post2) * target * float64(refDiv) / RefClockMHz)
				if fb < fbDivMin || fb > fbDivMax {
					continue
				}

				achieved := RefClockMHz * fb / float64(refDiv*post1*post2)
				diff := math.Abs(target - achieved)
				if diff < tolerance && diff < bestDiff {
					bestDiff = diff
					best = Params{
						RefDiv:   uint8(refDiv),
						PostDiv1: uint8(post1),
						PostDiv2: uint8(post2),
						FbDiv:    uint8(fb),
						Achieved: achieved,
					}
				}
			}
		}
	}

	if math.IsInf(bestDiff, 1) {
		return Params{}, errors.Wrapf(ErrNoSolution, "target %.2f MHz", target)
	}
	return best, nil
}

// Register is the 6 byte PLL0 parameter write payload.
func (p Params) Register() [6]byte {
	reg := [6]byte{0x00, 0x08, 0x40, 0xa0, 0x02, 0x41}

	reg[3] = p.FbDiv
	reg[4] = p.RefDiv
	reg[5] = ((p.PostDiv1-1)&0x0f)<<4 | (p.PostDiv2-1)&0x0f

	if int(p.FbDiv)*int(RefClockMHz)/int(p.RefDiv) >= vcoHighBand {
		reg[2] = 0x50
	}
	return reg
}
