package writers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	xtiff "golang.org/x/image/tiff"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microscope-io/mdastore/mda"
)

func TestNameTemplate(t *testing.T) {
	tmpl := NewNameTemplate([]string{"p", "t", "c"}, "", ".tif", true)
	got := tmpl.Format(map[string]int{"p": 0, "t": 0, "c": 0}, 0)
	assert.Equal(t, "00000_p000_t0000_c00.tif", got)

	got = tmpl.Format(map[string]int{"p": 1, "t": 12, "c": 3}, 42)
	assert.Equal(t, "00042_p001_t0012_c03.tif", got)

	// no counter, prefix, unknown axis pads to three
	tmpl = NewNameTemplate([]string{"g"}, "run_", ".fits", false)
	assert.Equal(t, "run_g007.fits", tmpl.Format(map[string]int{"g": 7}, 0))
}

func TestTIFFSequenceFileLayout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	seq := testSeq(2, map[string]int{"t": 2, "c": 2}, "p", "t", "c")
	w := NewTIFFSequence(dir)
	n := runAll(t, w, seq, 4, 4)
	assert.Equal(t, 8, n)

	// the frame counter is global across positions
	wantFiles := []string{
		"p0/00000_p000_t0000_c00.tif",
		"p0/00001_p000_t0000_c01.tif",
		"p0/00002_p000_t0001_c00.tif",
		"p0/00003_p000_t0001_c01.tif",
		"p1/00004_p001_t0000_c00.tif",
		"p1/00005_p001_t0000_c01.tif",
		"p1/00006_p001_t0001_c00.tif",
		"p1/00007_p001_t0001_c01.tif",
	}
	for _, rel := range wantFiles {
		_, err := os.Stat(filepath.Join(dir, rel))
		assert.NoError(t, err, rel)
	}

	// sequence sidecar decodes and has no handler slot
	d, err := os.ReadFile(filepath.Join(dir, SeqMetaFile))
	require.NoError(t, err)
	var gotSeq mda.Sequence
	require.NoError(t, json.Unmarshal(d, &gotSeq))
	assert.Equal(t, seq.AxisOrder, gotSeq.AxisOrder)
	assert.NotContains(t, gotSeq.Metadata, mda.HandlerKey)

	// frame metadata sidecar keyed by file name
	d, err = os.ReadFile(filepath.Join(dir, FrameMetaFile))
	require.NoError(t, err)
	var metas map[string]mda.FrameMeta
	require.NoError(t, json.Unmarshal(d, &metas))
	assert.Len(t, metas, 8)
	assert.Contains(t, metas, "00004_p001_t0000_c00.tif")

	// files decode with the stock tiff decoder
	f, err := os.Open(filepath.Join(dir, wantFiles[0]))
	require.NoError(t, err)
	defer f.Close()
	img, err := xtiff.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
}

func TestTIFFSequenceSidecarTrailsUntilFinalize(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	seq := testSeq(1, map[string]int{"t": 5}, "p", "t")
	w := NewTIFFSequence(dir, WithFlushInterval(3))
	require.NoError(t, w.SequenceStarted(seq, nil))
	for _, ev := range seq.Events() {
		require.NoError(t, w.FrameReady(testFrame(ev, 4, 4), ev, testMeta(ev)))
	}

	var metas map[string]mda.FrameMeta
	d, err := os.ReadFile(filepath.Join(dir, FrameMetaFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(d, &metas))
	// flushes landed at frames 0 and 3; the trailing frame is in memory
	assert.Len(t, metas, 4)

	require.NoError(t, w.SequenceFinished())
	d, err = os.ReadFile(filepath.Join(dir, FrameMetaFile))
	require.NoError(t, err)
	metas = nil
	require.NoError(t, json.Unmarshal(d, &metas))
	assert.Len(t, metas, 5)
}

func TestTIFFSequenceFITSEncoder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	seq := testSeq(1, map[string]int{"t": 1}, "p", "t")
	w := NewTIFFSequence(dir, WithEncoder(EncodeFITS, ".fits"))
	runAll(t, w, seq, 4, 4)

	_, err := os.Stat(filepath.Join(dir, "p0", "00000_p000_t0000.fits"))
	assert.NoError(t, err)
}

func TestTIFFSequenceTargetExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	seq := testSeq(1, map[string]int{"t": 1}, "p", "t")
	runAll(t, NewTIFFSequence(dir), seq, 4, 4)

	err := NewTIFFSequence(dir).SequenceStarted(seq, nil)
	assert.ErrorIs(t, err, ErrTargetExists)
	runAll(t, NewTIFFSequence(dir, WithOverwrite()), seq, 4, 4)
}
