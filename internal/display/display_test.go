package display

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"livewall/internal/media"
)

type stubPipeline struct{}

func (stubPipeline) Play() error          { return nil }
func (stubPipeline) SetPaused(bool) error { return nil }
func (stubPipeline) SetMuted(bool) error  { return nil }
func (stubPipeline) SeekToStart() error   { return nil }
func (stubPipeline) Close() error         { return nil }

func TestTargetAttachDetach(t *testing.T) {
	tgt := NewTarget("left", media.Resolution{Width: 1920, Height: 1080})
	assert.Equal(t, "left", tgt.ID())
	assert.False(t, tgt.Attached())

	tgt.Detach()
	assert.False(t, tgt.Attached())

	assert.NoError(t, tgt.Attach(stubPipeline{}))
	assert.True(t, tgt.Attached())

	tgt.Detach()
	tgt.Detach()
	assert.False(t, tgt.Attached())

	assert.NoError(t, tgt.Attach(stubPipeline{}))
	assert.Equal(t, 2, tgt.Attaches())
}

func TestDecodeHint(t *testing.T) {
	hd := NewTarget("a", media.Resolution{Width: 1920, Height: 1080})
	qhd := NewTarget("b", media.Resolution{Width: 2560, Height: 1440})
	unknown := NewTarget("c", media.Resolution{})

	limit := media.Resolution{Width: 1280, Height: 720}
	assert.Equal(t, limit, DecodeHint(limit, []*Target{hd, qhd}))
	assert.Equal(t, qhd.Size(), DecodeHint(media.Resolution{}, []*Target{hd, qhd}))
	assert.True(t, DecodeHint(media.Resolution{}, []*Target{hd, unknown}).IsZero())
	assert.True(t, DecodeHint(media.Resolution{}, nil).IsZero())
	assert.Equal(t, limit, DecodeHint(limit, []*Target{unknown}))
}

func TestDecodeHintNeverExceedsLargestDisplay(t *testing.T) {
	qhd := NewTarget("a", media.Resolution{Width: 2560, Height: 1440})

	uhd := media.Resolution{Width: 3840, Height: 2160}
	assert.Equal(t, qhd.Size(), DecodeHint(uhd, []*Target{qhd}))

	narrow := media.Resolution{Width: 1280, Height: 1024}
	assert.Equal(t, media.Resolution{Width: 1280, Height: 720}, DecodeHint(narrow, []*Target{qhd}))
}
