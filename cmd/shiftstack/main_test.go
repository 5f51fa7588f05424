package main

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shiftstack/internal/imagestack"
	"github.com/banshee-data/shiftstack/internal/storage/sqlite"
)

// testOptions injects one bright object moving one pixel per step along x
// and restricts the grid to exactly its velocity.
func testOptions(t *testing.T, mode string) *options {
	t.Helper()
	o := defaultOptions()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	o.register(fs)
	require.NoError(t, fs.Parse([]string{
		"-mode", mode,
		"-width", "24", "-height", "20", "-images", "8",
		"-noise", "0",
		"-object", "5,5,1,0,50",
		"-angles", "0:0:1",
		"-velocities", "1:1:1",
		"-top", "5",
		"-curves", "1",
	}))
	return o
}

func TestObjectList_Set(t *testing.T) {
	t.Parallel()

	var l objectList
	require.NoError(t, l.Set("3,4,1.5,-0.5,20"))
	require.NoError(t, l.Set(" 1, 2, 0, 0, 5 "))
	assert.Equal(t, objectList{
		{X: 3, Y: 4, VX: 1.5, VY: -0.5, Flux: 20},
		{X: 1, Y: 2, Flux: 5},
	}, l)
	assert.Equal(t, "3,4,1.5,-0.5,20 1,2,0,0,5", l.String())

	for _, bad := range []string{"1,2,3", "a,2,3,4,5", "1.5,2,0,0,1"} {
		assert.Error(t, l.Set(bad), bad)
	}
}

func TestSearchConfig_Overrides(t *testing.T) {
	t.Parallel()

	o := testOptions(t, modeGrid)
	cfg, err := o.searchConfig()
	require.NoError(t, err)
	p := cfg.GridParams()
	assert.Equal(t, 1, p.AngleSteps)
	assert.Equal(t, 1.0, p.MinVelocity)

	o.velocities = "3:1:2"
	_, err = o.searchConfig()
	assert.Error(t, err)

	o = defaultOptions()
	o.configPath = filepath.Join(t.TempDir(), "missing.json")
	_, err = o.searchConfig()
	assert.Error(t, err)
}

func TestRun_FindsInjectedObject(t *testing.T) {
	t.Parallel()

	for _, mode := range []string{modeGrid, modeRegion} {
		t.Run(mode, func(t *testing.T) {
			t.Parallel()
			o := testOptions(t, mode)
			cfg, err := o.searchConfig()
			require.NoError(t, err)

			var out bytes.Buffer
			sum, err := run(context.Background(), o, cfg, &out)
			require.NoError(t, err)
			assert.True(t, sum.complete)
			assert.Positive(t, sum.results)

			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			require.GreaterOrEqual(t, len(lines), 2)
			assert.Contains(t, lines[0], sum.runID)
			assert.Contains(t, lines[1], "x=5 y=5")
			assert.Contains(t, lines[1], "obs=8")
		})
	}
}

func TestRun_PersistsAndRenders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	o := testOptions(t, modeGrid)
	o.dbPath = filepath.Join(dir, "runs.db")
	o.outDir = filepath.Join(dir, "reports")
	cfg, err := o.searchConfig()
	require.NoError(t, err)

	var out bytes.Buffer
	sum, err := run(context.Background(), o, cfg, &out)
	require.NoError(t, err)

	store, err := sqlite.Open(o.dbPath)
	require.NoError(t, err)
	defer store.Close()

	rec, err := store.Run(sum.runID)
	require.NoError(t, err)
	assert.True(t, rec.Complete)
	assert.Equal(t, sum.results, rec.ResultCount)
	assert.Equal(t, 24, rec.Width)
	assert.Equal(t, 8, rec.Images)

	trs, err := store.Trajectories(sum.runID, 0, 1)
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, 5, trs[0].X)
	assert.Equal(t, 5, trs[0].Y)

	c, retained, err := store.Curve(sum.runID, 0)
	require.NoError(t, err)
	assert.Equal(t, 8, c.Len())
	assert.Len(t, retained, 8)

	for _, name := range []string{"results.html", "curve_00.png", "stamp_00.png"} {
		_, err := os.Stat(filepath.Join(o.outDir, sum.runID+"_"+name))
		assert.NoError(t, err, name)
	}
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	o := testOptions(t, "exhaustive")
	cfg, err := o.searchConfig()
	require.NoError(t, err)
	_, err = run(context.Background(), o, cfg, &bytes.Buffer{})
	assert.ErrorContains(t, err, "unknown mode")

	o = testOptions(t, modeGrid)
	o.images = 0
	_, err = run(context.Background(), o, cfg, &bytes.Buffer{})
	assert.ErrorContains(t, err, "generating stack")
}

func TestRun_CancelledReportsPartial(t *testing.T) {
	t.Parallel()

	o := testOptions(t, modeRegion)
	o.objects = []imagestack.MovingObject{{X: 2, Y: 2, VX: 1, Flux: 40}}
	cfg, err := o.searchConfig()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := run(ctx, o, cfg, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, sum.complete)
}
