// Command canopy runs the compositor against a software display: a demo
// scene on one output, optionally shown in a preview window and inspected
// over a websocket.
package main

import (
	"os"

	"github.com/charmbracelet/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error("canopy", "err", err)
		os.Exit(1)
	}
}
