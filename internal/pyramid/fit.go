package pyramid

import "fmt"

// BiggestFit returns the largest depth d such that the square of side 2^d
// anchored at (x, y) stays inside [0,maxX)×[0,maxY). A lone pixel always
// fits, so the result is 0 near the far edges. The anchor itself must be
// inside the bounds.
func BiggestFit(x, y, maxX, maxY int) int {
	if x < 0 || y < 0 || x >= maxX || y >= maxY {
		panic(fmt.Sprintf("pyramid: anchor (%d,%d) outside [0,%d)x[0,%d)", x, y, maxX, maxY))
	}
	d := 0
	for x+(2<<d) <= maxX && y+(2<<d) <= maxY {
		d++
	}
	return d
}

// AlignedFit is BiggestFit further limited so that both x and y are
// multiples of 2^d, i.e. the square is exactly one pooled pixel at depth d.
func AlignedFit(x, y, maxX, maxY int) int {
	d := BiggestFit(x, y, maxX, maxY)
	for d > 0 && (x&(1<<d-1) != 0 || y&(1<<d-1) != 0) {
		d--
	}
	return d
}

// Tile covers the non-empty box [x0,x1)×[y0,y1) with aligned squares no
// deeper than maxDepth and calls fn(x, y, depth) for each, in row bands from
// the top. The first square of a band sets the band height; narrower
// squares later in the band recurse into the column underneath them.
func Tile(x0, y0, x1, y1, maxDepth int, fn func(x, y, depth int)) {
	fit := func(x, y, mx, my int) int { return min(AlignedFit(x, y, mx, my), maxDepth) }
	for y0 < y1 {
		band := 1 << fit(x0, y0, x1, y1)
		for x := x0; x < x1; {
			d := fit(x, y0, x1, y0+band)
			fn(x, y0, d)
			s := 1 << d
			if s < band {
				Tile(x, y0+s, x+s, y0+band, maxDepth, fn)
			}
			x += s
		}
		y0 += band
	}
}
