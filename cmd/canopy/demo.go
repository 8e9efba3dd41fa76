package main

import (
	"context"
	"image"
	"math"
	"math/rand/v2"
	"time"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/phanxgames/canopy"
	"github.com/phanxgames/canopy/ebitenbackend"
)

const (
	demoOutput canopy.ScreenID = 1
	demoSender canopy.SenderID = 1

	nodeScreen  canopy.NodeID = 1
	nodeDisplay canopy.NodeID = 2
	nodeBack    canopy.NodeID = 3
	nodeBox     canopy.NodeID = 4
	nodeCursor  canopy.NodeID = 5

	boxSize    = 80
	cursorSize = 12
)

// demo drives a small scene: a background, a surface that wanders around
// the screen and a hardware cursor.
type demo struct {
	c     *canopy.Compositor
	store *ebitenbackend.BufferStore
	w, h  int
	index uint64
}

func newDemo(c *canopy.Compositor, store *ebitenbackend.BufferStore, w, h int) *demo {
	return &demo{c: c, store: store, w: w, h: h}
}

func (d *demo) send(cmds ...canopy.Command) {
	d.index++
	d.c.Enqueue(&canopy.TransactionData{
		Sender:    demoSender,
		Index:     d.index,
		Timestamp: time.Now(),
		Commands:  cmds,
	})
}

func (d *demo) buffer(w, h int, col canopy.Color) canopy.BufferHandle {
	img := ebiten.NewImage(w, h)
	img.Fill(col.RGBA())
	return d.store.Put(img)
}

func (d *demo) setup() {
	full := image.Rect(0, 0, d.w, d.h)
	box := d.buffer(boxSize, boxSize, canopy.Color{R: 80.0 / 255.0, G: 180.0 / 255.0, B: 1, A: 1})
	cursor := d.buffer(cursorSize, cursorSize, canopy.Color{R: 1, G: 1, B: 1, A: 1})
	d.send(
		canopy.CreateNode{ID: nodeScreen, Kind: canopy.KindScreen, Name: "screen"},
		canopy.CreateNode{ID: nodeDisplay, Kind: canopy.KindLogicalDisplay, Name: "display"},
		canopy.CreateNode{ID: nodeBack, Kind: canopy.KindCanvas, Name: "background"},
		canopy.CreateNode{ID: nodeBox, Kind: canopy.KindSurface, Name: "box"},
		canopy.CreateNode{ID: nodeCursor, Kind: canopy.KindSurface, Name: "cursor"},
		canopy.AddChild{Parent: canopy.RootNodeID, Child: nodeScreen, Index: -1},
		canopy.AddChild{Parent: nodeScreen, Child: nodeDisplay, Index: -1},
		canopy.AddChild{Parent: nodeDisplay, Child: nodeBack, Index: -1},
		canopy.AddChild{Parent: nodeDisplay, Child: nodeBox, Index: -1},
		canopy.AddChild{Parent: nodeDisplay, Child: nodeCursor, Index: -1},
		canopy.ConfigureScreen{ID: nodeScreen, Screen: demoOutput, Width: d.w, Height: d.h},
		canopy.SetBounds{ID: nodeScreen, Bounds: full},
		canopy.SetBounds{ID: nodeDisplay, Bounds: full},
		canopy.SetBounds{ID: nodeBack, Bounds: full},
		canopy.SetOpaque{ID: nodeBack, Opaque: true},
		canopy.SetBackground{ID: nodeBack, Color: canopy.Color{R: 0.118, G: 0.118, B: 0.157, A: 1}},
		canopy.SetBounds{ID: nodeBox, Bounds: image.Rect(100, 100, 100+boxSize, 100+boxSize)},
		canopy.SetBuffer{ID: nodeBox, Buffer: box},
		canopy.SetBounds{ID: nodeCursor, Bounds: image.Rect(0, 0, cursorSize, cursorSize)},
		canopy.SetBuffer{ID: nodeCursor, Buffer: cursor},
		canopy.SetHardwareLayer{ID: nodeCursor, Enabled: true, Cursor: true},
	)
}

// run moves the box every second and the cursor every few frames until ctx
// is done.
func (d *demo) run(ctx context.Context) error {
	move := time.NewTicker(time.Second)
	defer move.Stop()
	cursor := time.NewTicker(50 * time.Millisecond)
	defer cursor.Stop()
	var t float64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-move.C:
			d.send(canopy.Animate{
				ID:       nodeBox,
				Property: canopy.AnimPosition,
				X:        float64(rand.IntN(max(d.w-boxSize, 1))),
				Y:        float64(rand.IntN(max(d.h-boxSize, 1))),
				Duration: 800 * time.Millisecond,
			})
		case <-cursor.C:
			t += 0.05
			x, y := d.cursorAt(t)
			d.send(canopy.MoveCursor{ID: nodeCursor, X: x, Y: y})
		}
	}
}

// cursorAt traces a slow ellipse around the screen centre.
func (d *demo) cursorAt(t float64) (int, int) {
	cx, cy := float64(d.w)/2, float64(d.h)/2
	rx, ry := cx*0.6, cy*0.6
	x := cx + rx*math.Cos(t)
	y := cy + ry*math.Sin(t)
	return int(x), int(y)
}
