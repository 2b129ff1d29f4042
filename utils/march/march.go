// Package march builds static terrain meshes by sampling a height function
// over a grid of cells.
package march

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/setanarut/cm3"
)

// MarchSampleFunc returns the terrain height at a point of the XZ plane.
// It can sample an image, a tile map or any 2D function.
type MarchSampleFunc func(x, z float64) float64

// MarchCellFunc appends the triangles of one cell. a, b, c and d are the
// heights at (x0, z0), (x1, z0), (x0, z1) and (x1, z1).
type MarchCellFunc func(
	t, a, b, c, d, x0, x1, z0, z1 float64,
	triangles []cm3.Triangle,
) []cm3.Triangle

// MarchCells samples xSamples*zSamples heights over the XZ extent of bb and
// passes every cell to marchCell. Each sample is taken once.
func MarchCells(
	bb cm3.BB,
	xSamples, zSamples int,
	t float64,
	marchSample MarchSampleFunc,
	marchCell MarchCellFunc,
) []cm3.Triangle {
	if xSamples < 2 || zSamples < 2 {
		return nil
	}
	xDenom := 1.0 / float64(xSamples-1)
	zDenom := 1.0 / float64(zSamples-1)

	buffer := make([]float64, xSamples)
	for i := range xSamples {
		buffer[i] = marchSample(lerp(bb.Min[0], bb.Max[0], float64(i)*xDenom), bb.Min[2])
	}
	triangles := make([]cm3.Triangle, 0, 2*(xSamples-1)*(zSamples-1))

	for j := range zSamples - 1 {
		z0 := lerp(bb.Min[2], bb.Max[2], float64(j+0)*zDenom)
		z1 := lerp(bb.Min[2], bb.Max[2], float64(j+1)*zDenom)

		b := buffer[0]
		d := marchSample(bb.Min[0], z1)
		buffer[0] = d

		for i := range xSamples - 1 {
			x0 := lerp(bb.Min[0], bb.Max[0], float64(i+0)*xDenom)
			x1 := lerp(bb.Min[0], bb.Max[0], float64(i+1)*xDenom)

			a := b
			b = buffer[i+1]
			c := d
			d = marchSample(x1, z1)
			buffer[i+1] = d

			triangles = marchCell(t, a, b, c, d, x0, x1, z0, z1, triangles)
		}
	}
	return triangles
}

// MarchCellSolid splits every cell into two upward facing triangles. t is unused.
func MarchCellSolid(t, a, b, c, d, x0, x1, z0, z1 float64, triangles []cm3.Triangle) []cm3.Triangle {
	p00 := mgl64.Vec3{x0, a, z0}
	p10 := mgl64.Vec3{x1, b, z0}
	p01 := mgl64.Vec3{x0, c, z1}
	p11 := mgl64.Vec3{x1, d, z1}
	return append(triangles,
		cm3.Triangle{A: p00, B: p01, C: p10},
		cm3.Triangle{A: p10, B: p01, C: p11},
	)
}

// MarchCellHoles is MarchCellSolid but leaves out cells with a corner below t.
func MarchCellHoles(t, a, b, c, d, x0, x1, z0, z1 float64, triangles []cm3.Triangle) []cm3.Triangle {
	if a < t || b < t || c < t || d < t {
		return triangles
	}
	return MarchCellSolid(t, a, b, c, d, x0, x1, z0, z1, triangles)
}

// MarchSolid triangulates the whole grid.
func MarchSolid(bb cm3.BB, xSamples, zSamples int, marchSample MarchSampleFunc) []cm3.Triangle {
	return MarchCells(bb, xSamples, zSamples, 0, marchSample, MarchCellSolid)
}

// MarchHoles triangulates the grid, cutting holes where the height drops below t.
func MarchHoles(bb cm3.BB, xSamples, zSamples int, t float64, marchSample MarchSampleFunc) []cm3.Triangle {
	return MarchCells(bb, xSamples, zSamples, t, marchSample, MarchCellHoles)
}

// NewTerrain adds a mesh built from the samples to shapes. ok is false when the
// grid produced no triangles.
func NewTerrain(shapes *cm3.Shapes, bb cm3.BB, xSamples, zSamples int, t float64, marchSample MarchSampleFunc) (shape cm3.TypedIndex, ok bool) {
	triangles := MarchHoles(bb, xSamples, zSamples, t, marchSample)
	if len(triangles) == 0 {
		return cm3.NoShape, false
	}
	return shapes.Add(cm3.NewMesh(triangles, mgl64.Vec3{1, 1, 1})), true
}

func lerp(f1, f2, t float64) float64 {
	return f1*(1.0-t) + f2*t
}
