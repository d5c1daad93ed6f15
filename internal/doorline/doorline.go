// Package doorline computes which side of a virtual door line a centroid is on.
package doorline

import (
	"fmt"

	"github.com/andresmejia3/greeter/internal/types"
)

// Orientation of the line across the frame.
type Orientation string

const (
	Horizontal Orientation = "horizontal" // splits top / bottom
	Vertical   Orientation = "vertical"   // splits left / right
)

// Direction names the half-plane considered inside.
type Direction string

const (
	Below Direction = "below"
	Above Direction = "above"
	Right Direction = "right"
	Left  Direction = "left"
)

// Line is a pure function of a centroid: no state is kept here.
type Line struct {
	orientation Orientation
	inside      Direction
	pos         float64 // pixel coordinate of the line
}

// New builds a line at fraction of the frame height (horizontal) or width (vertical).
func New(orientation Orientation, fraction float64, inside Direction, width, height int) (*Line, error) {
	if err := Check(orientation, fraction, inside); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	l := &Line{orientation: orientation, inside: inside}
	if orientation == Horizontal {
		l.pos = float64(height) * fraction
	} else {
		l.pos = float64(width) * fraction
	}
	return l, nil
}

// Check validates a line definition independently of frame size.
func Check(orientation Orientation, fraction float64, inside Direction) error {
	if fraction <= 0 || fraction >= 1 {
		return fmt.Errorf("line position fraction must be in (0,1), got %v", fraction)
	}
	switch orientation {
	case Horizontal:
		if inside != Below && inside != Above {
			return fmt.Errorf("horizontal line needs inside direction below or above, got %q", inside)
		}
	case Vertical:
		if inside != Right && inside != Left {
			return fmt.Errorf("vertical line needs inside direction right or left, got %q", inside)
		}
	default:
		return fmt.Errorf("unknown line orientation %q", orientation)
	}
	return nil
}

// Position returns the pixel coordinate of the line.
func (l *Line) Position() float64 { return l.pos }

// Orientation returns the line orientation.
func (l *Line) Orientation() Orientation { return l.orientation }

// SideOf reports whether p is inside or outside. Points exactly on the line are outside.
func (l *Line) SideOf(p types.Point) types.Side {
	coord := p.X
	if l.orientation == Horizontal {
		coord = p.Y
	}
	var inside bool
	switch l.inside {
	case Below, Right:
		inside = coord > l.pos
	default:
		inside = coord < l.pos
	}
	if inside {
		return types.Inside
	}
	return types.Outside
}
