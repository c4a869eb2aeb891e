// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package raster

import (
	"testing"

	"honnef.co/go/piet/mem"
	"honnef.co/go/piet/renderer"
)

// newTestConfig sets up a single-tile, single-bin render configuration
// with room for numElements elements and numPaths paths.
func newTestConfig(t *testing.T, m *mem.Memory, numElements, numPaths uint32) *renderer.ConfigUniform {
	t.Helper()
	config := &renderer.ConfigUniform{
		WidthInTiles:  1,
		HeightInTiles: 1,
		TargetWidth:   renderer.TileWidth,
		TargetHeight:  renderer.TileHeight,
		NumElements:   numElements,
	}
	var ok bool
	if config.ElementAlloc, ok = m.Malloc(numElements * renderer.ElementWords); !ok {
		t.Fatal("arena too small")
	}
	if config.PathAlloc, ok = m.Malloc(numPaths * renderer.PathWords); !ok {
		t.Fatal("arena too small")
	}
	if config.BinAlloc, ok = m.Malloc(config.NumPartitions() * config.NumBins() * renderer.BinHeaderWords); !ok {
		t.Fatal("arena too small")
	}
	if config.PtclAlloc, ok = m.Malloc(renderer.PtclInitialAlloc); !ok {
		t.Fatal("arena too small")
	}
	return config
}

// binAll puts every element, in order, into the only bin's only
// partition run.
func binAll(t *testing.T, m *mem.Memory, config *renderer.ConfigUniform) {
	t.Helper()
	if config.NumPartitions() > 1 {
		t.Fatal("binAll handles a single partition")
	}
	run, ok := m.Malloc(config.NumElements)
	if !ok {
		t.Fatal("arena too small")
	}
	for i := uint32(0); i < config.NumElements; i++ {
		m.Store(run.Offset+i, i)
	}
	mem.Write(m, renderer.BinHeaderRef(config, 0, 0), renderer.BinHeader{
		ElementCount: config.NumElements,
		ChunkOffset:  run.Offset,
	})
}

// writeOneTilePath stores path ix covering the single tile, with the
// given segment list head and backdrop.
func writeOneTilePath(t *testing.T, m *mem.Memory, config *renderer.ConfigUniform, ix uint32, segs uint32, backdrop int32) {
	t.Helper()
	tiles, ok := m.Malloc(renderer.TileWords)
	if !ok {
		t.Fatal("arena too small")
	}
	mem.Write(m, tiles.Offset, renderer.Tile{Segs: segs, Backdrop: backdrop})
	renderer.WritePath(m, config, ix, renderer.Path{
		Bbox:  [4]uint32{0, 0, 1, 1},
		Tiles: tiles.Offset,
	})
}

type ptclCmd struct {
	tag renderer.CmdTag
	ref uint32
}

// readPtcl walks tile (0, 0)'s command list, following jumps, and
// returns the commands up to the terminating end.
func readPtcl(t *testing.T, m *mem.Memory, config *renderer.ConfigUniform) []ptclCmd {
	t.Helper()
	ref := config.PtclBase(0, 0)
	var cmds []ptclCmd
	for range 10000 {
		switch tag := renderer.ReadCmdTag(m, ref); tag {
		case renderer.CmdEnd:
			return cmds
		case renderer.CmdJump:
			ref = renderer.ReadCmd[renderer.CmdJumpData](m, ref).New
		default:
			cmds = append(cmds, ptclCmd{tag, ref})
			ref += renderer.CmdWords
		}
	}
	t.Fatal("command list not terminated")
	return nil
}

func ptclTags(cmds []ptclCmd) []renderer.CmdTag {
	tags := make([]renderer.CmdTag, len(cmds))
	for i, c := range cmds {
		tags[i] = c.tag
	}
	return tags
}

func TestCoarsePaintOrder(t *testing.T) {
	m := mem.New(1 << 16)
	config := newTestConfig(t, m, 2, 1)
	writeOneTilePath(t, m, config, 0, 0, 1)
	renderer.WriteElement(m, config, 0, renderer.ElementFill, renderer.FillElement{PathIdx: 0, RGBA: 0xff0000ff})
	renderer.WriteElement(m, config, 1, renderer.ElementFill, renderer.FillElement{PathIdx: 0, RGBA: 0x00ff00ff})
	binAll(t, m, config)

	Coarse(m, config)
	if m.Failed() {
		t.Fatal("arena exhausted")
	}

	cmds := readPtcl(t, m, config)
	if len(cmds) != 2 || cmds[0].tag != renderer.CmdSolid || cmds[1].tag != renderer.CmdSolid {
		t.Fatalf("commands = %v", ptclTags(cmds))
	}
	first := renderer.ReadCmd[renderer.CmdSolidData](m, cmds[0].ref)
	second := renderer.ReadCmd[renderer.CmdSolidData](m, cmds[1].ref)
	if first.RGBA != 0xff0000ff || second.RGBA != 0x00ff00ff {
		t.Errorf("colors out of paint order: %#08x, %#08x", first.RGBA, second.RGBA)
	}
}

func TestCoarseEmptyTileSkipped(t *testing.T) {
	m := mem.New(1 << 16)
	config := newTestConfig(t, m, 1, 1)
	// The path intersects the tile's bounding box but covers none of
	// it: no segments, no backdrop.
	writeOneTilePath(t, m, config, 0, 0, 0)
	renderer.WriteElement(m, config, 0, renderer.ElementFill, renderer.FillElement{PathIdx: 0, RGBA: 0xff0000ff})
	binAll(t, m, config)

	Coarse(m, config)
	if m.Failed() {
		t.Fatal("arena exhausted")
	}
	if cmds := readPtcl(t, m, config); len(cmds) != 0 {
		t.Fatalf("commands = %v", ptclTags(cmds))
	}
}

func TestCoarseEmptyScene(t *testing.T) {
	m := mem.New(1 << 16)
	config := newTestConfig(t, m, 0, 0)

	Coarse(m, config)
	if m.Failed() {
		t.Fatal("arena exhausted")
	}
	if cmds := readPtcl(t, m, config); len(cmds) != 0 {
		t.Fatalf("commands = %v", ptclTags(cmds))
	}
}

func TestCoarseClipZeroSuppresses(t *testing.T) {
	m := mem.New(1 << 16)
	config := newTestConfig(t, m, 3, 2)
	// The clip path covers nothing in the tile, the fill covers all of
	// it. Everything between the clips must vanish.
	writeOneTilePath(t, m, config, 0, 0, 0)
	writeOneTilePath(t, m, config, 1, 0, 1)
	renderer.WriteElement(m, config, 0, renderer.ElementBeginClip, renderer.BeginClipElement{PathIdx: 0, Alpha: 1})
	renderer.WriteElement(m, config, 1, renderer.ElementFill, renderer.FillElement{PathIdx: 1, RGBA: 0xff0000ff})
	renderer.WriteElement(m, config, 2, renderer.ElementEndClip, renderer.EndClipElement{PathIdx: 0, Alpha: 1})
	binAll(t, m, config)

	Coarse(m, config)
	if m.Failed() {
		t.Fatal("arena exhausted")
	}
	if cmds := readPtcl(t, m, config); len(cmds) != 0 {
		t.Fatalf("commands = %v", ptclTags(cmds))
	}
}

func TestCoarseOpaqueFullClipElided(t *testing.T) {
	m := mem.New(1 << 16)
	config := newTestConfig(t, m, 3, 2)
	// The clip fully covers the tile and composites at full opacity,
	// so the pair is a no-op and only the fill survives.
	writeOneTilePath(t, m, config, 0, 0, 1)
	writeOneTilePath(t, m, config, 1, 0, 1)
	renderer.WriteElement(m, config, 0, renderer.ElementBeginClip, renderer.BeginClipElement{PathIdx: 0, Alpha: 1})
	renderer.WriteElement(m, config, 1, renderer.ElementFill, renderer.FillElement{PathIdx: 1, RGBA: 0xff0000ff})
	renderer.WriteElement(m, config, 2, renderer.ElementEndClip, renderer.EndClipElement{PathIdx: 0, Alpha: 1})
	binAll(t, m, config)

	Coarse(m, config)
	if m.Failed() {
		t.Fatal("arena exhausted")
	}
	cmds := readPtcl(t, m, config)
	if len(cmds) != 1 || cmds[0].tag != renderer.CmdSolid {
		t.Fatalf("commands = %v", ptclTags(cmds))
	}
}

func TestCoarseTranslucentFullClipKept(t *testing.T) {
	m := mem.New(1 << 16)
	config := newTestConfig(t, m, 3, 2)
	// Full coverage but half opacity; the layer still matters.
	writeOneTilePath(t, m, config, 0, 0, 1)
	writeOneTilePath(t, m, config, 1, 0, 1)
	renderer.WriteElement(m, config, 0, renderer.ElementBeginClip, renderer.BeginClipElement{PathIdx: 0, Alpha: 0.5})
	renderer.WriteElement(m, config, 1, renderer.ElementFill, renderer.FillElement{PathIdx: 1, RGBA: 0xff0000ff})
	renderer.WriteElement(m, config, 2, renderer.ElementEndClip, renderer.EndClipElement{PathIdx: 0, Alpha: 0.5})
	binAll(t, m, config)

	Coarse(m, config)
	if m.Failed() {
		t.Fatal("arena exhausted")
	}
	cmds := readPtcl(t, m, config)
	want := []renderer.CmdTag{renderer.CmdBeginSolidClip, renderer.CmdSolid, renderer.CmdEndClip}
	got := ptclTags(cmds)
	if len(got) != len(want) {
		t.Fatalf("commands = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("commands = %v, want %v", got, want)
		}
	}
	begin := renderer.ReadCmd[renderer.CmdBeginSolidClipData](m, cmds[0].ref)
	if begin.Alpha != 1 {
		t.Errorf("begin coverage = %v, want 1", begin.Alpha)
	}
	end := renderer.ReadCmd[renderer.CmdEndClipData](m, cmds[2].ref)
	if end.Alpha != 0.5 {
		t.Errorf("end alpha = %v, want 0.5", end.Alpha)
	}
}

func TestCoarsePtclPageGrowth(t *testing.T) {
	m := mem.New(1 << 16)
	const n = 40 // more commands than the initial page holds
	config := newTestConfig(t, m, n, 1)
	writeOneTilePath(t, m, config, 0, 0, 1)
	for i := uint32(0); i < n; i++ {
		renderer.WriteElement(m, config, i, renderer.ElementFill, renderer.FillElement{PathIdx: 0, RGBA: i})
	}
	binAll(t, m, config)

	Coarse(m, config)
	if m.Failed() {
		t.Fatal("arena exhausted")
	}
	cmds := readPtcl(t, m, config)
	if len(cmds) != n {
		t.Fatalf("got %d commands, want %d", len(cmds), n)
	}
	for i, c := range cmds {
		if c.tag != renderer.CmdSolid {
			t.Fatalf("command %d: tag %v", i, c.tag)
		}
		if got := renderer.ReadCmd[renderer.CmdSolidData](m, c.ref).RGBA; got != uint32(i) {
			t.Fatalf("command %d: payload %d", i, got)
		}
	}
}

func TestCoarseExhaustionAborts(t *testing.T) {
	m := mem.New(4096)
	const n = 40
	config := newTestConfig(t, m, n, 1)
	writeOneTilePath(t, m, config, 0, 0, 1)
	for i := uint32(0); i < n; i++ {
		renderer.WriteElement(m, config, i, renderer.ElementFill, renderer.FillElement{PathIdx: 0, RGBA: i})
	}
	binAll(t, m, config)

	// Leave too little room for the command list to grow.
	probe, _ := m.Malloc(0)
	if rest := m.Size() - probe.Offset; rest > 16 {
		m.Malloc(rest - 16)
	}

	Coarse(m, config)
	if !m.Failed() {
		t.Fatal("expected arena exhaustion")
	}
}

func TestCoarseFailedArenaIsNoop(t *testing.T) {
	m := mem.New(1 << 12)
	config := newTestConfig(t, m, 1, 1)
	writeOneTilePath(t, m, config, 0, 0, 1)
	renderer.WriteElement(m, config, 0, renderer.ElementFill, renderer.FillElement{PathIdx: 0, RGBA: 0xff0000ff})
	binAll(t, m, config)

	m.Malloc(1 << 20) // poison the arena
	if !m.Failed() {
		t.Fatal("arena should have failed")
	}
	Coarse(m, config)
	if tag := renderer.ReadCmdTag(m, config.PtclBase(0, 0)); tag != renderer.CmdEnd {
		t.Errorf("command list written despite failed arena: %v", tag)
	}
}
