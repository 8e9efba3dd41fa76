package ebitenbackend

import (
	"testing"

	"github.com/phanxgames/canopy"
)

func TestComposerPowerDefaultsOn(t *testing.T) {
	c := NewComposer(NewBufferStore())
	if !c.PowerOn(1) {
		t.Fatal("new output should be powered")
	}
	c.SetPower(1, false)
	if c.PowerOn(1) {
		t.Error("PowerOn after SetPower(false) = true")
	}
	if !c.PowerOn(2) {
		t.Error("other outputs should be unaffected")
	}
}

func TestComposerCommitFences(t *testing.T) {
	c := NewComposer(NewBufferStore())
	fences, err := c.Commit(1, []canopy.Layer{
		{ZOrder: 0, Buffer: 10, Composition: canopy.CompositionClient},
		{ZOrder: 1, Buffer: 11},
		{ZOrder: 2, Composition: canopy.CompositionSolidColor},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(fences) != 2 {
		t.Fatalf("len(fences) = %d, want 2", len(fences))
	}
	if fences[10] != 1 || fences[11] != 1 {
		t.Errorf("fences = %v, want both 1", fences)
	}

	// Buffer 11 leaves the list and is signalled by the next commit.
	fences, err = c.Commit(1, []canopy.Layer{{ZOrder: 0, Buffer: 12}})
	if err != nil {
		t.Fatal(err)
	}
	if fences[11] != 2 || fences[12] != 2 {
		t.Errorf("fences = %v, want 11 and 12 at 2", fences)
	}
	if c.Commits(1) != 2 {
		t.Errorf("Commits = %d, want 2", c.Commits(1))
	}
}

func TestComposerLayersSortedByZ(t *testing.T) {
	c := NewComposer(NewBufferStore())
	if _, err := c.Commit(4, []canopy.Layer{{ZOrder: 3}, {ZOrder: 0}, {ZOrder: 1}}); err != nil {
		t.Fatal(err)
	}
	got := c.Layers(4)
	for i := 1; i < len(got); i++ {
		if got[i-1].ZOrder > got[i].ZOrder {
			t.Fatalf("layers not sorted: %v", got)
		}
	}
	if c.Layers(9) != nil {
		t.Error("unknown output should have no layers")
	}
}
