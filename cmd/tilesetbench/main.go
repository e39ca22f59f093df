// Command tilesetbench drives a VisibleTileSet through a synthetic
// frame-by-frame camera orbit, the domain analogue of the teacher's
// cmd/geotiff2pmtiles: both are thin flag-parsing front ends over the
// package's real work, with optional CPU/memory profiling.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	visibletiles "github.com/tilesetcore/visibletiles"
	"github.com/tilesetcore/visibletiles/internal/cache"
	"github.com/tilesetcore/visibletiles/internal/coretypes"
	"github.com/tilesetcore/visibletiles/internal/diagnostics"
	"github.com/tilesetcore/visibletiles/internal/memsize"
	"github.com/tilesetcore/visibletiles/internal/morton"
	"github.com/tilesetcore/visibletiles/internal/payload"
	"github.com/tilesetcore/visibletiles/internal/tiling"
)

func main() {
	var (
		frames        int
		concurrency   int
		cacheSize     float64
		cacheMode     string
		maxTiles      int
		maxPerFrame   int
		tileSize      int
		quality       float64
		extendedCull  bool
		verbose       bool
		cpuProfile    string
		memProfile    string
	)

	flag.IntVar(&frames, "frames", 120, "Number of simulated frames to run")
	flag.IntVar(&concurrency, "concurrency", runtime.NumCPU(), "Task queue worker concurrency")
	var autoCacheSize bool
	flag.BoolVar(&autoCacheSize, "cache-size-auto", false, "Size the tile cache from a fraction of system RAM instead of -cache-size")
	flag.Float64Var(&cacheSize, "cache-size", 64, "Tile cache capacity (MB or entry count, per -cache-mode)")
	flag.StringVar(&cacheMode, "cache-mode", "mb", "Cache accounting mode: mb or entries")
	flag.IntVar(&maxTiles, "max-visible-tiles", 256, "maxVisibleDataSourceTiles")
	flag.IntVar(&maxPerFrame, "max-tiles-per-frame", 32, "maxTilesPerFrame (0 disables the bound)")
	flag.IntVar(&tileSize, "tile-size", 256, "Synthetic payload tile size in pixels")
	flag.Float64Var(&quality, "quality", 80, "Synthetic payload WebP quality 1-100")
	flag.BoolVar(&extendedCull, "extended-frustum-culling", true, "Enable the second-pass extended frustum culling test")
	flag.BoolVar(&verbose, "verbose", false, "Log every frame's visible tile count, view-range change and cached tile count")
	flag.StringVar(&cpuProfile, "cpuprofile", "", "Write CPU profile to file")
	flag.StringVar(&memProfile, "memprofile", "", "Write memory profile to file")
	flag.Parse()

	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			log.Fatalf("creating CPU profile: %v", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("starting CPU profile: %v", err)
		}
		defer pprof.StopCPUProfile()
	}

	mode := cache.EstimationInMb
	if cacheMode == "entries" {
		mode = cache.NumberOfTiles
	}

	if autoCacheSize && mode == cache.EstimationInMb {
		if auto, ok := memsize.AutoCacheCapacityMB(memsize.DefaultFraction); ok {
			cacheSize = auto
		} else {
			log.Printf("cache-size-auto: RAM detection unavailable, falling back to -cache-size=%.0f", cacheSize)
		}
	}

	logLevel := diagnostics.InfoLevel
	if verbose {
		logLevel = diagnostics.DebugLevel
	}
	logger := diagnostics.New(diagnostics.Config{Level: logLevel, Format: diagnostics.TextFormat})

	opts := visibletiles.VisibleTileSetOptions{
		TileCacheSize:             cacheSize,
		ResourceComputationType:   mode,
		MaxVisibleDataSourceTiles: maxTiles,
		MaxTilesPerFrame:          maxPerFrame,
		ExtendedFrustumCulling:    extendedCull,
		Diagnostics:               logger,
		RequestFrame: func() {
			logger.Debug("requestFrame: tiles delayed past maxTilesPerFrame")
		},
	}

	vts, err := visibletiles.New(opts)
	if err != nil {
		log.Fatalf("visibletiles.New: %v", err)
	}

	imagery := newBenchDataSource("imagery", tileSize, float32(quality), false)
	background := newBenchDataSource("background", tileSize, float32(quality), true)
	vts.AddDataSource(imagery)
	vts.AddDataSource(background)

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return vts.RunTaskQueue(gctx, concurrency) })

	var bar *progressBar
	if !verbose {
		bar = newProgressBar("tilesetbench", int64(frames))
	}

	start := time.Now()
	for frame := 1; frame <= frames; frame++ {
		camera := orbitCamera(frame, frames)
		_, changed := vts.UpdateRenderList(camera, tiling.WebMercatorProjection{}, 8, 8, frame, nil)
		vts.DisposePendingTiles()

		if verbose {
			visible := 0
			vts.ForEachVisibleTile("imagery", func(coretypes.Tile) { visible++ })
			log.Printf("frame %d: visible(imagery)=%d viewRangesChanged=%v cached=%d",
				frame, visible, changed, cachedTileCount(vts))
		} else {
			bar.Increment()
		}
		time.Sleep(time.Millisecond) // let the background loader make progress
	}
	if bar != nil {
		bar.Finish()
	}

	cancel()
	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Printf("task queue exited: %v", err)
	}

	elapsed := time.Since(start)
	fmt.Printf("ran %d frames in %s (%.2f frames/sec), %d tiles cached\n",
		frames, elapsed, float64(frames)/elapsed.Seconds(), cachedTileCount(vts))

	if memProfile != "" {
		f, err := os.Create(memProfile)
		if err != nil {
			log.Fatalf("creating memory profile: %v", err)
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatalf("writing memory profile: %v", err)
		}
	}
}

// cachedTileCount counts every tile currently held by the cache across
// all registered datasources.
func cachedTileCount(vts *visibletiles.VisibleTileSet) int {
	n := 0
	vts.ForEachCachedTile("", func(coretypes.Tile) { n++ })
	return n
}

// orbitCamera produces a camera circling the Web Mercator origin, far
// enough out to see a handful of low-zoom tiles, close enough to push
// deeper tiles in and out of frustum across the run.
func orbitCamera(frame, totalFrames int) coretypes.Camera {
	angle := 2 * math.Pi * float64(frame) / float64(totalFrames)
	radius := 8_000_000.0
	height := 6_000_000.0

	eye := tiling.Vector3{X: radius * math.Cos(angle), Y: radius * math.Sin(angle), Z: height}

	near, far := 1000.0, 20_000_000.0
	half := 12_000_000.0
	// The matrix has no separate view transform, so the eye is folded in:
	// the x/y bounds are centred on it, and near/far are shifted by its
	// height so the Z=0 tile plane lies inside [height-far, height-near].
	rebuild := func(n, f float64) coretypes.Matrix4 {
		return orthoMatrix(eye.X-half, eye.X+half, eye.Y-half, eye.Y+half, n-height, f-height)
	}

	return coretypes.Camera{
		Position: eye,
		Near:     near,
		Far:      far,
		ViewProj: rebuild(near, far),
		Rebuild:  rebuild,
	}
}

// orthoMatrix builds a row-major orthographic projection matrix under
// the engine's clip = M*v convention, the same shape frustum_test.go
// uses to exercise the Frustum Intersector.
func orthoMatrix(l, r, b, t, n, f float64) coretypes.Matrix4 {
	return coretypes.Matrix4{
		2 / (r - l), 0, 0, -(r + l) / (r - l),
		0, 2 / (t - b), 0, -(t + b) / (t - b),
		0, 0, -2 / (f - n), -(f + n) / (f - n),
		0, 0, 0, 1,
	}
}

// benchDataSource is a synthetic in-memory datasource: every tile's
// payload is generated procedurally (internal/payload) instead of
// fetched, so the bench has no network/disk dependency.
type benchDataSource struct {
	name        string
	tileSize    int
	quality     float32
	background  bool
}

func newBenchDataSource(name string, tileSize int, quality float32, background bool) *benchDataSource {
	return &benchDataSource{name: name, tileSize: tileSize, quality: quality, background: background}
}

func (d *benchDataSource) Name() string                 { return d.name }
func (d *benchDataSource) Cacheable() bool              { return true }
func (d *benchDataSource) MinDataLevel() int             { return 0 }
func (d *benchDataSource) MaxDataLevel() int             { return 18 }
func (d *benchDataSource) GetDataZoomLevel(zoom float64) int {
	level := int(zoom)
	if level < d.MinDataLevel() {
		level = d.MinDataLevel()
	}
	if level > d.MaxDataLevel() {
		level = d.MaxDataLevel()
	}
	return level
}
func (d *benchDataSource) TilingScheme() tiling.TilingScheme { return tiling.NewWebMercatorScheme() }
func (d *benchDataSource) GetTile(key morton.TileKey, offset morton.Offset, touch bool) (coretypes.Tile, bool) {
	return newBenchTile(key, offset, d), true
}
func (d *benchDataSource) CanGetTile(level int, key morton.TileKey) bool { return true }
func (d *benchDataSource) IsFullyCovering() bool                        { return d.background }
func (d *benchDataSource) AllowOverlappingTiles() bool                  { return true }
func (d *benchDataSource) IsBackground() bool                           { return d.background }

// benchTile implements coretypes.Tile, loading a synthetic payload via
// internal/payload on Load and reporting its real encoded size.
type benchTile struct {
	mu sync.Mutex

	key    morton.TileKey
	offset morton.Offset
	ds     coretypes.DataSource

	memoryUsage  int64
	hasGeometry  bool
	delayRender  bool
	visible      bool
	frameLastReq int
	frameVis     int
	frameLastVis int
	numFramesVis int
	visibleArea  float64
	elevation    coretypes.ElevationRange
	uniqueKey    morton.CompositeID
	levelOffset  int
	skipRender   bool
}

func newBenchTile(key morton.TileKey, offset morton.Offset, ds coretypes.DataSource) *benchTile {
	return &benchTile{
		key:       key,
		offset:    offset,
		ds:        ds,
		frameVis:  -1,
		uniqueKey: morton.KeyForTileKeyAndOffset(key, offset),
	}
}

func (t *benchTile) TileKey() morton.TileKey          { return t.key }
func (t *benchTile) Offset() morton.Offset            { return t.offset }
func (t *benchTile) DataSource() coretypes.DataSource { return t.ds }
func (t *benchTile) MemoryUsage() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.memoryUsage
}
func (t *benchTile) HasGeometry() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasGeometry
}
func (t *benchTile) AllGeometryLoaded() bool          { return t.HasGeometry() }
func (t *benchTile) DelayRendering() bool             { return t.delayRender }
func (t *benchTile) SetDelayRendering(v bool)         { t.delayRender = v }
func (t *benchTile) IsVisible() bool                  { return t.visible }
func (t *benchTile) SetVisible(v bool)                { t.visible = v }
func (t *benchTile) FrameNumLastRequested() int       { return t.frameLastReq }
func (t *benchTile) SetFrameNumLastRequested(v int)   { t.frameLastReq = v }
func (t *benchTile) FrameNumVisible() int             { return t.frameVis }
func (t *benchTile) SetFrameNumVisible(v int)         { t.frameVis = v }
func (t *benchTile) FrameNumLastVisible() int         { return t.frameLastVis }
func (t *benchTile) SetFrameNumLastVisible(v int)     { t.frameLastVis = v }
func (t *benchTile) NumFramesVisible() int            { return t.numFramesVis }
func (t *benchTile) IncrementNumFramesVisible()       { t.numFramesVis++ }
func (t *benchTile) VisibleArea() float64             { return t.visibleArea }
func (t *benchTile) SetVisibleArea(v float64)         { t.visibleArea = v }
func (t *benchTile) ElevationRange() coretypes.ElevationRange   { return t.elevation }
func (t *benchTile) SetElevationRange(r coretypes.ElevationRange) { t.elevation = r }
func (t *benchTile) UniqueKey() morton.CompositeID              { return t.uniqueKey }
func (t *benchTile) SetUniqueKey(id morton.CompositeID)         { t.uniqueKey = id }
func (t *benchTile) LevelOffset() int                           { return t.levelOffset }
func (t *benchTile) SetLevelOffset(v int)                       { t.levelOffset = v }
func (t *benchTile) Dependencies() []morton.TileKey              { return nil }
func (t *benchTile) SkipRendering() bool                        { return t.skipRender }
func (t *benchTile) SetSkipRendering(v bool)                    { t.skipRender = v }
func (t *benchTile) GeoBox() tiling.Box3 {
	bounds := t.ds.TilingScheme().TileBounds(t.key)
	bounds.Min.Z, bounds.Max.Z = 0, 0
	return bounds
}
func (t *benchTile) Dispose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.memoryUsage = 0
	t.hasGeometry = false
}
func (t *benchTile) Load(ctx context.Context) error {
	img, err := payload.Generate(t.key.Level, t.key.Row, t.key.Column, t.tileSizeOrDefault(), t.qualityOrDefault())
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.memoryUsage = int64(img.Size)
	t.hasGeometry = true
	t.mu.Unlock()
	return nil
}
func (t *benchTile) Loader() coretypes.TileLoader { return t }
func (t *benchTile) Priority() float64            { return t.VisibleArea() }
func (t *benchTile) Cancel()                      {}

func (t *benchTile) tileSizeOrDefault() int {
	if bds, ok := t.ds.(*benchDataSource); ok {
		return bds.tileSize
	}
	return 256
}

func (t *benchTile) qualityOrDefault() float32 {
	if bds, ok := t.ds.(*benchDataSource); ok {
		return bds.quality
	}
	return 80
}
