package board

import (
	"errors"
	"testing"
)

func TestDefault(t *testing.T) {
	d := Default()
	if d.Kind != Checkerboard || d.Nx != 8 || d.Ny != 6 {
		t.Errorf("Default: got %v, want checkerboard 8x6", d)
	}
	if err := d.Validate(); err != nil {
		t.Errorf("Default should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		def     Definition
		wantErr bool
	}{
		{"minimum", Definition{Kind: Checkerboard, Nx: 2, Ny: 2}, false},
		{"nx too small", Definition{Kind: Checkerboard, Nx: 1, Ny: 6}, true},
		{"ny too small", Definition{Kind: Checkerboard, Nx: 8, Ny: 0}, true},
		{"too large", Definition{Kind: Checkerboard, Nx: 100, Ny: 6}, true},
		{"wrong pattern", Definition{Kind: "circles", Nx: 8, Ny: 6}, true},
		{"negative square", Definition{Kind: Checkerboard, Nx: 8, Ny: 6, SquareSize: -1}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.def.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate: got %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidBoard) {
				t.Errorf("error should wrap ErrInvalidBoard, got %v", err)
			}
		})
	}
}

func TestObjectPoints_RowMajor(t *testing.T) {
	d := Definition{Kind: Checkerboard, Nx: 3, Ny: 2, SquareSize: 2}
	pts := d.ObjectPoints()

	if len(pts) != 6 {
		t.Fatalf("len: got %d, want 6", len(pts))
	}
	want := [][2]float64{{0, 0}, {2, 0}, {4, 0}, {0, 2}, {2, 2}, {4, 2}}
	for i, w := range want {
		if pts[i].X != w[0] || pts[i].Y != w[1] || pts[i].Z != 0 {
			t.Errorf("point %d: got %v, want (%v, %v, 0)", i, pts[i], w[0], w[1])
		}
	}
}

func TestObjectPoints_UnitSquare(t *testing.T) {
	d := Definition{Kind: Checkerboard, Nx: 2, Ny: 2}
	pts := d.ObjectPoints()
	if last := pts[len(pts)-1]; last.X != 1 || last.Y != 1 {
		t.Errorf("last point: got %v, want (1, 1, 0)", last)
	}
}
