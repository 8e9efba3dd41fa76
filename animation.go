package canopy

import (
	"image"
	"math"
	"time"

	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
)

// Animator is a property animation driven by vsync timestamps.
type Animator interface {
	// Advance moves the animation to ts. running is false once it has
	// finished, needVsync asks for another frame and changed reports that a
	// property was written.
	Advance(ts time.Time) (running, needVsync, changed bool)
}

// TweenGroup animates up to 4 node properties simultaneously.
// Create one via the convenience constructors (TweenPosition, TweenAlpha,
// TweenSize) and register it with Compositor.AddAnimation. If the target
// node is destroyed, the group stops immediately.
type TweenGroup struct {
	tweens [4]*gween.Tween
	count  int
	apply  func(v [4]float32)
	target *Node
	last   time.Time
	Done   bool
}

// Advance steps every tween by the time elapsed since the previous call and
// writes the values through the node's setters. The first call only records
// the start time.
func (g *TweenGroup) Advance(ts time.Time) (running, needVsync, changed bool) {
	if g.Done {
		return false, false, false
	}
	if g.target != nil && g.target.destroyed {
		g.Done = true
		return false, false, false
	}
	if g.last.IsZero() {
		g.last = ts
		return true, true, false
	}
	dt := float32(ts.Sub(g.last).Seconds())
	g.last = ts
	if dt <= 0 {
		return true, true, false
	}

	var vals [4]float32
	allDone := true
	for i := 0; i < g.count; i++ {
		val, finished := g.tweens[i].Update(dt)
		vals[i] = val
		if !finished {
			allDone = false
		}
	}
	g.apply(vals)
	g.Done = allDone
	return !allDone, !allDone, true
}

// TweenPosition moves the node's bounds origin to (toX, toY), keeping its size.
func TweenPosition(node *Node, toX, toY int, duration time.Duration, fn ease.TweenFunc) *TweenGroup {
	b := node.Bounds()
	d := float32(duration.Seconds())
	g := &TweenGroup{count: 2, target: node}
	g.tweens[0] = gween.New(float32(b.Min.X), float32(toX), d, fn)
	g.tweens[1] = gween.New(float32(b.Min.Y), float32(toY), d, fn)
	g.apply = func(v [4]float32) {
		cur := node.Bounds()
		at := image.Pt(roundInt(v[0]), roundInt(v[1]))
		node.SetBounds(cur.Add(at.Sub(cur.Min)))
	}
	return g
}

// TweenSize resizes the node's bounds to w x h, keeping its origin.
func TweenSize(node *Node, w, h int, duration time.Duration, fn ease.TweenFunc) *TweenGroup {
	b := node.Bounds()
	d := float32(duration.Seconds())
	g := &TweenGroup{count: 2, target: node}
	g.tweens[0] = gween.New(float32(b.Dx()), float32(w), d, fn)
	g.tweens[1] = gween.New(float32(b.Dy()), float32(h), d, fn)
	g.apply = func(v [4]float32) {
		cur := node.Bounds()
		node.SetBounds(image.Rectangle{Min: cur.Min, Max: cur.Min.Add(image.Pt(roundInt(v[0]), roundInt(v[1])))})
	}
	return g
}

// TweenAlpha fades the node's alpha to the target value.
func TweenAlpha(node *Node, to float64, duration time.Duration, fn ease.TweenFunc) *TweenGroup {
	g := &TweenGroup{count: 1, target: node}
	g.tweens[0] = gween.New(float32(node.Alpha()), float32(to), float32(duration.Seconds()), fn)
	g.apply = func(v [4]float32) {
		node.SetAlpha(float64(v[0]))
	}
	return g
}

func roundInt(v float32) int {
	return int(math.Round(float64(v)))
}

// animationSet holds the running animators of a scene, keyed by node.
type animationSet struct {
	byNode map[NodeID][]Animator
}

func newAnimationSet() *animationSet {
	return &animationSet{byNode: make(map[NodeID][]Animator)}
}

func (s *animationSet) add(id NodeID, a Animator) {
	s.byNode[id] = append(s.byNode[id], a)
}

func (s *animationSet) remove(id NodeID) {
	delete(s.byNode, id)
}

func (s *animationSet) has(id NodeID) bool {
	return len(s.byNode[id]) > 0
}

func (s *animationSet) len() int {
	n := 0
	for _, as := range s.byNode {
		n += len(as)
	}
	return n
}

// tick advances every animator to ts, dropping the finished ones.
func (s *animationSet) tick(ts time.Time) (needVsync, changed bool) {
	for id, as := range s.byNode {
		kept := as[:0]
		for _, a := range as {
			running, vsync, ch := a.Advance(ts)
			needVsync = needVsync || vsync
			changed = changed || ch
			if running {
				kept = append(kept, a)
			}
		}
		clear(as[len(kept):])
		if len(kept) == 0 {
			delete(s.byNode, id)
		} else {
			s.byNode[id] = kept
		}
	}
	return needVsync, changed
}
