package writers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microscope-io/mdastore/mda"
	"github.com/microscope-io/mdastore/zarr"
)

func TestTensorRectangularLayout(t *testing.T) {
	st := zarr.NewMemoryStore()
	seq := testSeq(0, map[string]int{"t": 2, "c": 2}, "t", "c")
	w := NewTensor("", WithStore(st))
	n := runAll(t, w, seq, 8, 8)
	assert.Equal(t, 4, n)

	var meta zarr.ArrayMeta
	require.NoError(t, zarr.GetJSON(st, zarr.KeyArray, &meta))
	assert.Equal(t, []int{2, 2, 8, 8}, meta.Shape)
	assert.Equal(t, ".", meta.DimensionSeparator)

	// flat separator chunk for t=1, c=1
	d, err := st.Get("1.1.0.0")
	require.NoError(t, err)
	pix, err := zarr.DecodeUint16(d)
	require.NoError(t, err)
	assert.Equal(t, uint16(110), pix[0])

	var attrs struct {
		Dims       []string        `json:"_ARRAY_DIMENSIONS"`
		Sequence   *mda.Sequence   `json:"useq_MDASequence"`
		FrameMetas []mda.FrameMeta `json:"frame_metadatas"`
	}
	require.NoError(t, zarr.GetJSON(st, zarr.KeyAttrs, &attrs))
	assert.Equal(t, []string{"t", "c", "y", "x"}, attrs.Dims)
	require.NotNil(t, attrs.Sequence)
	assert.Len(t, attrs.FrameMetas, 4)
}

func TestTensorRaggedGrowsAndIndexes(t *testing.T) {
	st := zarr.NewMemoryStore()
	seq := testSeq(0, map[string]int{"t": 0}, "t")
	w := NewTensor("", WithStore(st))
	require.NoError(t, w.SequenceStarted(seq, nil))

	for i := 0; i < 3; i++ {
		ev := mda.Event{Index: map[string]int{"t": i}, Sequence: seq}
		require.NoError(t, w.FrameReady(testFrame(ev, 4, 4), ev, testMeta(ev)))
	}
	require.NoError(t, w.SequenceFinished())

	var meta zarr.ArrayMeta
	require.NoError(t, zarr.GetJSON(st, zarr.KeyArray, &meta))
	assert.Equal(t, []int{3, 4, 4}, meta.Shape)

	var attrs struct {
		Dims    []string          `json:"_ARRAY_DIMENSIONS"`
		Indices []FrameIndexEntry `json:"frame_indices"`
	}
	require.NoError(t, zarr.GetJSON(st, zarr.KeyAttrs, &attrs))
	assert.Equal(t, []string{"frame", "y", "x"}, attrs.Dims)
	require.Len(t, attrs.Indices, 3)
	for i, e := range attrs.Indices {
		assert.Equal(t, i, e.Frame)
		assert.Equal(t, map[string]int{"t": i}, e.Index)
	}

	_, err := st.Get("2.0.0")
	assert.NoError(t, err)
}

// a re-delivered coordinate overwrites its slot instead of growing
func TestTensorRaggedReusesSlot(t *testing.T) {
	st := zarr.NewMemoryStore()
	seq := testSeq(0, map[string]int{"t": 0}, "t")
	w := NewTensor("", WithStore(st))
	require.NoError(t, w.SequenceStarted(seq, nil))

	ev := mda.Event{Index: map[string]int{"t": 0}, Sequence: seq}
	require.NoError(t, w.FrameReady(testFrame(ev, 4, 4), ev, testMeta(ev)))
	require.NoError(t, w.FrameReady(testFrame(ev, 4, 4), ev, testMeta(ev)))
	require.NoError(t, w.SequenceFinished())

	var meta zarr.ArrayMeta
	require.NoError(t, zarr.GetJSON(st, zarr.KeyArray, &meta))
	assert.Equal(t, 1, meta.Shape[0])
}

func TestTensorShapeFlushedAtCadence(t *testing.T) {
	st := zarr.NewMemoryStore()
	seq := testSeq(0, map[string]int{"t": 0}, "t")
	w := NewTensor("", WithStore(st), WithFlushInterval(2))
	require.NoError(t, w.SequenceStarted(seq, nil))

	for i := 0; i < 3; i++ {
		ev := mda.Event{Index: map[string]int{"t": i}, Sequence: seq}
		require.NoError(t, w.FrameReady(testFrame(ev, 4, 4), ev, testMeta(ev)))
	}

	// two frames flushed, the third is only in memory until finalize
	var meta zarr.ArrayMeta
	require.NoError(t, zarr.GetJSON(st, zarr.KeyArray, &meta))
	assert.Equal(t, 2, meta.Shape[0])

	require.NoError(t, w.SequenceFinished())
	require.NoError(t, zarr.GetJSON(st, zarr.KeyArray, &meta))
	assert.Equal(t, 3, meta.Shape[0])
}

func TestTensorTargetExists(t *testing.T) {
	dir := t.TempDir()
	seq := testSeq(0, map[string]int{"t": 1}, "t")
	runAll(t, NewTensor(dir), seq, 4, 4)

	err := NewTensor(dir).SequenceStarted(seq, nil)
	assert.ErrorIs(t, err, ErrTargetExists)
	runAll(t, NewTensor(dir, WithOverwrite()), seq, 4, 4)
}
