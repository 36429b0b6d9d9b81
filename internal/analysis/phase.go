package analysis

import (
	"strings"

	"github.com/san-kum/episim/internal/dynamo"
)

// Phase holds a two-variable phase plane, e.g. S against I.
type Phase struct {
	X, Y   string
	Points []struct{ X, Y float64 }
}

// PhasePlane pairs two variables of a trajectory point by point.
func PhasePlane(tr *dynamo.Trajectory, x, y string) (*Phase, error) {
	xs, err := series(tr, x)
	if err != nil {
		return nil, err
	}
	ys, err := tr.Series(y)
	if err != nil {
		return nil, err
	}
	p := &Phase{X: x, Y: y, Points: make([]struct{ X, Y float64 }, len(xs))}
	for i := range xs {
		p.Points[i].X, p.Points[i].Y = xs[i], ys[i]
	}
	return p, nil
}

// ASCII renders the phase plane on a width x height character grid.
func (p *Phase) ASCII(width, height int) string {
	if p == nil || len(p.Points) == 0 || width < 2 || height < 2 {
		return ""
	}

	minX, maxX := p.Points[0].X, p.Points[0].X
	minY, maxY := p.Points[0].Y, p.Points[0].Y
	for _, pt := range p.Points {
		minX, maxX = min(minX, pt.X), max(maxX, pt.X)
		minY, maxY = min(minY, pt.Y), max(maxY, pt.Y)
	}
	rangeX, rangeY := maxX-minX, maxY-minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}

	canvas := make([][]rune, height)
	for i := range canvas {
		canvas[i] = []rune(strings.Repeat(" ", width))
	}
	for _, pt := range p.Points {
		col := int((pt.X - minX) / rangeX * float64(width-1))
		row := height - 1 - int((pt.Y-minY)/rangeY*float64(height-1))
		if row >= 0 && row < height && col >= 0 && col < width {
			canvas[row][col] = '•'
		}
	}

	var sb strings.Builder
	for _, row := range canvas {
		sb.WriteString(string(row))
		sb.WriteRune('\n')
	}
	return sb.String()
}
