package doorline

import (
	"testing"

	"github.com/andresmejia3/greeter/internal/types"
)

func TestSideOf(t *testing.T) {
	tests := []struct {
		name   string
		orient Orientation
		inside Direction
		p      types.Point
		want   types.Side
	}{
		{"below line, inside below", Horizontal, Below, types.Point{X: 10, Y: 400}, types.Inside},
		{"above line, inside below", Horizontal, Below, types.Point{X: 10, Y: 100}, types.Outside},
		{"on the line is outside", Horizontal, Below, types.Point{X: 10, Y: 360}, types.Outside},
		{"above line, inside above", Horizontal, Above, types.Point{X: 10, Y: 100}, types.Inside},
		{"right of line, inside right", Vertical, Right, types.Point{X: 1000, Y: 10}, types.Inside},
		{"left of line, inside right", Vertical, Right, types.Point{X: 100, Y: 10}, types.Outside},
		{"left of line, inside left", Vertical, Left, types.Point{X: 100, Y: 10}, types.Inside},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.orient, 0.5, tt.inside, 1280, 720)
			if err != nil {
				t.Fatal(err)
			}
			if got := l.SideOf(tt.p); got != tt.want {
				t.Errorf("SideOf(%v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		orient   Orientation
		fraction float64
		inside   Direction
		wantErr  bool
	}{
		{"valid horizontal", Horizontal, 0.5, Below, false},
		{"valid vertical", Vertical, 0.25, Left, false},
		{"fraction zero", Horizontal, 0, Below, true},
		{"fraction one", Horizontal, 1, Below, true},
		{"mismatched direction", Horizontal, 0.5, Right, true},
		{"unknown orientation", "diagonal", 0.5, Below, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Check(tt.orient, tt.fraction, tt.inside); (err != nil) != tt.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
