// Package boundary implements the optional per-camera detection region: a
// polygon loaded from a delimited point file and a ray-casting containment
// test applied to detection centers.
package boundary

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/visiona/vigia/internal/types"
)

// Polygon is an ordered vertex sequence. Edges are formed by consecutive
// vertices, closing from the last back to the first. A nil Polygon means no
// region is configured and every point counts as inside.
type Polygon []types.Point

// Load reads a polygon from a comma-delimited file with one "x,y" integer
// pair per line. A single non-numeric header line is tolerated and skipped.
// A loaded polygon must have at least 3 vertices.
func Load(path string) (Polygon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open boundary file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 2
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse boundary file %s: %w", path, err)
	}

	poly := make(Polygon, 0, len(records))
	for i, rec := range records {
		x, errX := strconv.Atoi(strings.TrimSpace(rec[0]))
		y, errY := strconv.Atoi(strings.TrimSpace(rec[1]))
		if errX != nil || errY != nil {
			if i == 0 {
				// Header row.
				continue
			}
			return nil, fmt.Errorf("boundary file %s line %d: not an integer pair: %q,%q", path, i+1, rec[0], rec[1])
		}
		poly = append(poly, types.Point{X: x, Y: y})
	}

	if len(poly) < 3 {
		return nil, fmt.Errorf("boundary file %s: polygon needs at least 3 points, got %d", path, len(poly))
	}
	return poly, nil
}

// Inside reports whether p lies inside the polygon using ray casting: for
// each edge whose Y span straddles p's Y (one bound inclusive, one
// exclusive), the edge's X at p's Y is interpolated and the verdict toggles
// when that X is left of p. Self-intersecting polygons get whatever ray
// casting naturally yields.
func (poly Polygon) Inside(p types.Point) bool {
	if len(poly) == 0 {
		return true
	}

	inside := false
	j := len(poly) - 1
	for i := 0; i < len(poly); i++ {
		yi, yj := poly[i].Y, poly[j].Y
		if (yi > p.Y) != (yj > p.Y) {
			xi, xj := poly[i].X, poly[j].X
			crossX := float64(xj-xi)*float64(p.Y-yi)/float64(yj-yi) + float64(xi)
			if crossX < float64(p.X) {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}
