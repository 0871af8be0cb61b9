// Package viewer shows the live register files and syncpoint counters of
// running GPFIFO channels in an Ebitengine window.
//
// Keys: Tab selects the next channel, Space freezes the display, Escape
// closes the window.
package viewer

import (
	"errors"
	"fmt"
	"image/color"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text"
	"golang.org/x/image/font/basicfont"

	"github.com/zeozeozeo/gpfifo/emulator"
)

const (
	SCREEN_WIDTH     = 640
	SCREEN_HEIGHT    = 600
	LINE_HEIGHT      = 13 // basicfont.Face7x13
	MAX_SYNCPOINTS   = 8  // Non-zero syncpoints listed at the bottom
	REGISTER_COLUMNS = 2
)

var (
	backgroundColor = color.RGBA{0x10, 0x10, 0x18, 0xff}
	headerColor     = color.RGBA{0x30, 0x30, 0x50, 0xff}
	textColor       = color.RGBA{0xd0, 0xd0, 0xd0, 0xff}
	irqColor        = color.RGBA{0xff, 0x60, 0x40, 0xff}
)

var errClosed = errors.New("viewer closed")

// A channel shown by the viewer
type Channel struct {
	ID     int
	GPFIFO *emulator.GPFIFO
	Host   *emulator.QueueHost // Optional, used for the interrupt indicator
}

// Ebitengine game rendering GPFIFO state
type Viewer struct {
	Channels   []Channel
	Syncpoints *emulator.SyncpointSet
	Selected   int  // Index in Channels
	Frozen     bool // When true, the last snapshot stays on screen
	lines      []string
	irq        bool
}

// Returns a new viewer for `channels`
func New(syncpoints *emulator.SyncpointSet, channels ...Channel) *Viewer {
	return &Viewer{
		Channels:   channels,
		Syncpoints: syncpoints,
	}
}

// Opens the window and blocks until it is closed
func Run(viewer *Viewer) error {
	ebiten.SetWindowSize(SCREEN_WIDTH, SCREEN_HEIGHT)
	ebiten.SetWindowTitle("gpfifo")

	err := ebiten.RunGame(viewer)
	if errors.Is(err, errClosed) {
		return nil
	}
	return err
}

func (viewer *Viewer) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return errClosed
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyTab) && len(viewer.Channels) > 0 {
		viewer.Selected = (viewer.Selected + 1) % len(viewer.Channels)
		viewer.Frozen = false
	}
	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		viewer.Frozen = !viewer.Frozen
	}

	if !viewer.Frozen || viewer.lines == nil {
		viewer.snapshot()
	}
	return nil
}

// Captures the text of the selected channel
func (viewer *Viewer) snapshot() {
	viewer.lines = viewer.lines[:0]
	viewer.irq = false

	if len(viewer.Channels) == 0 {
		viewer.lines = append(viewer.lines, "no channels")
		return
	}

	ch := viewer.Channels[viewer.Selected]
	obj := ch.GPFIFO.Object()
	viewer.lines = append(viewer.lines,
		fmt.Sprintf("channel %d (%d/%d)  class 0x%04X engine %d  reference 0x%08X",
			ch.ID, viewer.Selected+1, len(viewer.Channels), obj.Class, obj.Engine, ch.GPFIFO.Reference()),
		"",
	)
	dump := strings.TrimRight(ch.GPFIFO.Dump(REGISTER_COLUMNS), "\n")
	viewer.lines = append(viewer.lines, strings.Split(dump, "\n")...)

	if ch.Host != nil {
		viewer.irq = ch.Host.InterruptPending()
	}

	if viewer.Syncpoints == nil {
		return
	}
	viewer.lines = append(viewer.lines, "", "syncpoints:")
	listed := 0
	for idx, value := range viewer.Syncpoints.Values() {
		if value == 0 {
			continue
		}
		viewer.lines = append(viewer.lines, fmt.Sprintf("  %4d = %d", idx, value))
		listed++
		if listed == MAX_SYNCPOINTS {
			break
		}
	}
}

func (viewer *Viewer) Draw(screen *ebiten.Image) {
	screen.Fill(backgroundColor)
	ebitenutil.DrawRect(screen, 0, 0, SCREEN_WIDTH, LINE_HEIGHT+4, headerColor)

	for idx, line := range viewer.lines {
		text.Draw(screen, line, basicfont.Face7x13, 4, LINE_HEIGHT*(idx+1), textColor)
	}

	if viewer.irq {
		ebitenutil.DrawRect(screen, SCREEN_WIDTH-12, 4, 8, 8, irqColor)
	}
	if viewer.Frozen {
		ebitenutil.DebugPrintAt(screen, "frozen", SCREEN_WIDTH-60, SCREEN_HEIGHT-16)
	}
}

func (viewer *Viewer) Layout(outsideWidth, outsideHeight int) (int, int) {
	return SCREEN_WIDTH, SCREEN_HEIGHT
}
