package canopy

import (
	"encoding/json"
	"fmt"
	"image"
	"time"
)

// wireTransaction is the JSON form of a transaction, as submitted by remote
// clients.
type wireTransaction struct {
	Sender    SenderID      `json:"sender"`
	Index     uint64        `json:"index"`
	Timestamp int64         `json:"timestamp_ns,omitempty"`
	Commands  []wireCommand `json:"commands"`
}

type wireCommand struct {
	Op         string       `json:"op"`
	ID         NodeID       `json:"id,omitempty"`
	Parent     NodeID       `json:"parent,omitempty"`
	Index      *int         `json:"index,omitempty"`
	Kind       string       `json:"kind,omitempty"`
	Name       string       `json:"name,omitempty"`
	Rect       *[4]int      `json:"rect,omitempty"`
	Alpha      float64      `json:"alpha,omitempty"`
	On         bool         `json:"on,omitempty"`
	Cursor     bool         `json:"cursor,omitempty"`
	Z          int          `json:"z,omitempty"`
	Color      *Color       `json:"color,omitempty"`
	Ops        []wireOp     `json:"ops,omitempty"`
	Buffer     BufferHandle `json:"buffer,omitempty"`
	Radius     int          `json:"radius,omitempty"`
	Screen     ScreenID     `json:"screen,omitempty"`
	Width      int          `json:"width,omitempty"`
	Height     int          `json:"height,omitempty"`
	Source     NodeID       `json:"source,omitempty"`
	Composite  string       `json:"composite,omitempty"`
	X          float64      `json:"x,omitempty"`
	Y          float64      `json:"y,omitempty"`
	DurationMs int64        `json:"duration_ms,omitempty"`
	Property   string       `json:"property,omitempty"`
}

type wireOp struct {
	Kind   string       `json:"kind"`
	Rect   [4]int       `json:"rect"`
	Color  Color        `json:"color"`
	Buffer BufferHandle `json:"buffer,omitempty"`
	Alpha  float64      `json:"alpha,omitempty"`
}

var kindNames = map[string]NodeKind{
	"canvas":          KindCanvas,
	"surface":         KindSurface,
	"effect":          KindEffect,
	"screen":          KindScreen,
	"logical-display": KindLogicalDisplay,
}

var compositeNames = map[string]CompositeType{
	"":        CompositeUniRender,
	"uni":     CompositeUniRender,
	"wired":   CompositeWiredMirror,
	"virtual": CompositeVirtualMirror,
	"expand":  CompositeExpand,
}

var opNames = map[string]OpKind{
	"save":    OpSave,
	"restore": OpRestore,
	"clip":    OpClip,
	"fill":    OpFill,
	"clear":   OpClearRect,
	"buffer":  OpDrawBuffer,
}

var animNames = map[string]AnimProperty{
	"alpha":    AnimAlpha,
	"position": AnimPosition,
	"size":     AnimSize,
}

// DecodeTransaction parses the JSON form of a transaction.
func DecodeTransaction(data []byte) (*TransactionData, error) {
	var wt wireTransaction
	if err := json.Unmarshal(data, &wt); err != nil {
		return nil, fmt.Errorf("canopy: decode transaction: %w", err)
	}
	td := &TransactionData{Sender: wt.Sender, Index: wt.Index}
	if wt.Timestamp != 0 {
		td.Timestamp = time.Unix(0, wt.Timestamp)
	}
	for i, wc := range wt.Commands {
		cmd, err := wc.command()
		if err != nil {
			return nil, fmt.Errorf("canopy: transaction %d command %d: %w", wt.Index, i, err)
		}
		td.Commands = append(td.Commands, cmd)
	}
	return td, nil
}

func (wc wireCommand) rect() image.Rectangle {
	if wc.Rect == nil {
		return image.Rectangle{}
	}
	r := *wc.Rect
	return image.Rect(r[0], r[1], r[2], r[3])
}

func (wc wireCommand) color() Color {
	if wc.Color == nil {
		return Color{}
	}
	return *wc.Color
}

func (wc wireCommand) command() (Command, error) {
	switch wc.Op {
	case "create":
		k, ok := kindNames[wc.Kind]
		if !ok {
			return nil, fmt.Errorf("unknown node kind %q", wc.Kind)
		}
		return CreateNode{ID: wc.ID, Kind: k, Name: wc.Name}, nil
	case "destroy":
		return DestroyNode{ID: wc.ID}, nil
	case "add_child":
		idx := -1
		if wc.Index != nil {
			idx = *wc.Index
		}
		return AddChild{Parent: wc.Parent, Child: wc.ID, Index: idx}, nil
	case "remove_child":
		return RemoveChild{Parent: wc.Parent, Child: wc.ID}, nil
	case "bounds":
		return SetBounds{ID: wc.ID, Bounds: wc.rect()}, nil
	case "alpha":
		return SetAlpha{ID: wc.ID, Alpha: wc.Alpha}, nil
	case "visible":
		return SetVisible{ID: wc.ID, Visible: wc.On}, nil
	case "z":
		return SetZIndex{ID: wc.ID, Z: wc.Z}, nil
	case "clip":
		return SetClip{ID: wc.ID, Clip: wc.On}, nil
	case "opaque":
		return SetOpaque{ID: wc.ID, Opaque: wc.On}, nil
	case "background":
		return SetBackground{ID: wc.ID, Color: wc.color()}, nil
	case "content":
		ops := make([]DrawOp, 0, len(wc.Ops))
		for _, o := range wc.Ops {
			k, ok := opNames[o.Kind]
			if !ok {
				return nil, fmt.Errorf("unknown draw op %q", o.Kind)
			}
			ops = append(ops, DrawOp{Kind: k, Rect: image.Rect(o.Rect[0], o.Rect[1], o.Rect[2], o.Rect[3]),
				Color: o.Color, Buffer: o.Buffer, Alpha: o.Alpha})
		}
		return SetContent{ID: wc.ID, Ops: ops}, nil
	case "filter":
		return SetFilter{ID: wc.ID, Radius: wc.Radius}, nil
	case "buffer":
		return SetBuffer{ID: wc.ID, Buffer: wc.Buffer}, nil
	case "hardware":
		return SetHardwareLayer{ID: wc.ID, Enabled: wc.On, Cursor: wc.Cursor}, nil
	case "solid_color":
		return SetSolidColor{ID: wc.ID, Enabled: wc.On, Color: wc.color()}, nil
	case "screen":
		return ConfigureScreen{ID: wc.ID, Screen: wc.Screen, Width: wc.Width, Height: wc.Height,
			ActiveRect: wc.rect()}, nil
	case "power":
		return SetScreenPower{ID: wc.ID, On: wc.On}, nil
	case "freeze":
		return SetScreenFrozen{ID: wc.ID, Frozen: wc.On}, nil
	case "mirror":
		ct, ok := compositeNames[wc.Composite]
		if !ok {
			return nil, fmt.Errorf("unknown composite type %q", wc.Composite)
		}
		return SetMirror{ID: wc.ID, Source: wc.Source, Composite: ct, Force: wc.On}, nil
	case "cursor":
		return MoveCursor{ID: wc.ID, X: int(wc.X), Y: int(wc.Y)}, nil
	case "repaint":
		return RequestRepaint{}, nil
	case "animate":
		p, ok := animNames[wc.Property]
		if !ok {
			return nil, fmt.Errorf("unknown animation property %q", wc.Property)
		}
		return Animate{ID: wc.ID, Property: p, X: wc.X, Y: wc.Y,
			Duration: time.Duration(wc.DurationMs) * time.Millisecond}, nil
	}
	return nil, fmt.Errorf("unknown op %q", wc.Op)
}
