package canopy

import "image"

// Region is a set of rectangles. Rectangles may overlap; Add drops a new
// rectangle already covered by a single existing one and removes existing
// rectangles the new one covers. The zero Region is empty and ready to use.
type Region struct {
	Rects []image.Rectangle
}

// RegionOf returns a region holding the non-empty rectangles of rs.
func RegionOf(rs ...image.Rectangle) Region {
	var r Region
	for _, rect := range rs {
		r.Add(rect)
	}
	return r
}

// Add inserts rect.
func (r *Region) Add(rect image.Rectangle) {
	rect = rect.Canon()
	if rect.Empty() {
		return
	}
	for _, cur := range r.Rects {
		if rect.In(cur) {
			return
		}
	}
	n := 0
	for _, cur := range r.Rects {
		if !cur.In(rect) {
			r.Rects[n] = cur
			n++
		}
	}
	r.Rects = append(r.Rects[:n], rect)
}

// Union adds every rectangle of o.
func (r *Region) Union(o Region) {
	for _, rect := range o.Rects {
		r.Add(rect)
	}
}

// Reset empties the region, keeping its storage.
func (r *Region) Reset() {
	r.Rects = r.Rects[:0]
}

// IsEmpty reports whether the region covers no pixels.
func (r Region) IsEmpty() bool {
	return len(r.Rects) == 0
}

// Len returns the number of rectangles.
func (r Region) Len() int {
	return len(r.Rects)
}

// Bounds returns the smallest rectangle containing the region.
func (r Region) Bounds() image.Rectangle {
	var b image.Rectangle
	for _, rect := range r.Rects {
		b = b.Union(rect)
	}
	return b
}

// Clone returns a copy that shares no storage with r.
func (r Region) Clone() Region {
	if len(r.Rects) == 0 {
		return Region{}
	}
	return Region{Rects: append([]image.Rectangle(nil), r.Rects...)}
}

// Intersect returns the part of r inside clip.
func (r Region) Intersect(clip image.Rectangle) Region {
	var out Region
	for _, rect := range r.Rects {
		out.Add(rect.Intersect(clip))
	}
	return out
}

// Overlaps reports whether any rectangle of r overlaps rect.
func (r Region) Overlaps(rect image.Rectangle) bool {
	for _, cur := range r.Rects {
		if cur.Overlaps(rect) {
			return true
		}
	}
	return false
}

// Covers reports whether rect lies entirely inside the union of r.
// An empty rect is always covered.
func (r Region) Covers(rect image.Rectangle) bool {
	remaining := []image.Rectangle{rect.Canon()}
	for _, cur := range r.Rects {
		var next []image.Rectangle
		for _, piece := range remaining {
			next = appendSubtract(next, piece, cur)
		}
		remaining = next
		if len(remaining) == 0 {
			return true
		}
	}
	for _, piece := range remaining {
		if !piece.Empty() {
			return false
		}
	}
	return true
}

// Subtract returns the part of rect not covered by r.
func (r Region) Subtract(rect image.Rectangle) Region {
	remaining := []image.Rectangle{rect.Canon()}
	for _, cur := range r.Rects {
		var next []image.Rectangle
		for _, piece := range remaining {
			next = appendSubtract(next, piece, cur)
		}
		remaining = next
	}
	return RegionOf(remaining...)
}

// Flipped mirrors r vertically inside a surface of the given height, the way
// a bottom-left-origin back buffer expects its damage:
// top' = height - bottom, bottom' = height - top.
func (r Region) Flipped(height int) Region {
	var out Region
	for _, rect := range r.Rects {
		out.Add(image.Rect(rect.Min.X, height-rect.Max.Y, rect.Max.X, height-rect.Min.Y))
	}
	return out
}

// appendSubtract appends the pieces of a outside b (at most four).
func appendSubtract(dst []image.Rectangle, a, b image.Rectangle) []image.Rectangle {
	if a.Empty() {
		return dst
	}
	in := a.Intersect(b)
	if in.Empty() {
		return append(dst, a)
	}
	if in.Min.Y > a.Min.Y {
		dst = append(dst, image.Rect(a.Min.X, a.Min.Y, a.Max.X, in.Min.Y))
	}
	if in.Max.Y < a.Max.Y {
		dst = append(dst, image.Rect(a.Min.X, in.Max.Y, a.Max.X, a.Max.Y))
	}
	if in.Min.X > a.Min.X {
		dst = append(dst, image.Rect(a.Min.X, in.Min.Y, in.Min.X, in.Max.Y))
	}
	if in.Max.X < a.Max.X {
		dst = append(dst, image.Rect(in.Max.X, in.Min.Y, a.Max.X, in.Max.Y))
	}
	return dst
}
