package canopy

import (
	"time"
)

// debugStats holds per-frame timing and work counts of the main loop.
// Only populated when the compositor runs in debug mode.
type debugStats struct {
	intakeTime   time.Duration
	animTime     time.Duration
	traverseTime time.Duration
	syncTime     time.Duration
	transactions int
	screens      int
	sync         SyncResult
	direct       bool
}

// debugLog logs timing and sync stats at debug level.
func (c *Compositor) debugLog(seq uint64, stats debugStats) {
	if !c.scene.debug {
		return
	}
	total := stats.intakeTime + stats.animTime + stats.traverseTime + stats.syncTime
	Logger().Debug("frame",
		"seq", seq,
		"intake", stats.intakeTime,
		"anim", stats.animTime,
		"traverse", stats.traverseTime,
		"sync", stats.syncTime,
		"total", total,
		"transactions", stats.transactions,
		"screens", stats.screens,
		"committed", stats.sync.Committed,
		"missing", stats.sync.Missing,
		"deferred", stats.sync.Deferred,
		"direct", stats.direct,
	)
}

// debugCheckTreeDepth warns if tree depth exceeds the threshold.
const debugMaxTreeDepth = 32

func debugCheckTreeDepth(n *Node) {
	depth := 0
	for p := n; p != nil; p = p.Parent {
		depth++
	}
	if depth > debugMaxTreeDepth {
		Logger().Warn("tree depth exceeds threshold", "depth", depth, "threshold", debugMaxTreeDepth, "node", n.Name)
	}
}

// debugCheckChildCount warns if a node has more than 1000 children.
const debugMaxChildCount = 1000

func debugCheckChildCount(n *Node) {
	if len(n.children) > debugMaxChildCount {
		Logger().Warn("child count exceeds threshold", "node", n.Name, "children", len(n.children),
			"threshold", debugMaxChildCount)
	}
}
