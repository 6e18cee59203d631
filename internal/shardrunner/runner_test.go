package shardrunner_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheRockettek/stratum/internal/gatewayclient"
	"github.com/TheRockettek/stratum/internal/retry"
	"github.com/TheRockettek/stratum/internal/shardrunner"
	"github.com/TheRockettek/stratum/internal/stratumerrors"
)

type fakeShard struct {
	frames []gatewayclient.Frame
	err    error
	i      int
}

func (f *fakeShard) Next(ctx context.Context) (gatewayclient.Frame, error) {
	if f.i < len(f.frames) {
		fr := f.frames[f.i]
		f.i++
		return fr, nil
	}
	if f.err != nil {
		err := f.err
		f.err = nil
		return gatewayclient.Frame{}, err
	}
	return gatewayclient.Frame{}, gatewayclient.ErrStreamClosed
}

type fakeBus struct {
	published map[string][][]byte
	failOn    string
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}}
}

func (f *fakeBus) PublishRaw(ctx context.Context, subject string, data []byte, budget retry.Budget) error {
	if subject == f.failOn {
		return errors.New("publish failed")
	}
	f.published[subject] = append(f.published[subject], data)
	return nil
}

func (f *fakeBus) Topic(suffix string) string {
	return "stratum." + suffix
}

func TestRun_ForwardsTextFramesAndEndsCleanly(t *testing.T) {
	shard := &fakeShard{frames: []gatewayclient.Frame{
		{Type: gatewayclient.FrameText, Data: []byte("one")},
		{Type: gatewayclient.FrameText, Data: []byte("two")},
	}}
	bus := newFakeBus()

	err := shardrunner.Run(context.Background(), 3, shard, bus, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, bus.published["stratum.shards.3.events"])
	assert.Equal(t, [][]byte{[]byte("Shard 3 is starting")}, bus.published["stratum.shards.3.startup"])
}

func TestRun_SkipsCloseFrames(t *testing.T) {
	shard := &fakeShard{frames: []gatewayclient.Frame{
		{Type: gatewayclient.FrameClose},
		{Type: gatewayclient.FrameText, Data: []byte("after-close")},
	}}
	bus := newFakeBus()

	err := shardrunner.Run(context.Background(), 1, shard, bus, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("after-close")}, bus.published["stratum.shards.1.events"])
}

func TestRun_ReconnectClassErrorPropagates(t *testing.T) {
	shard := &fakeShard{err: fmt.Errorf("%w: read failed", stratumerrors.ErrGatewayReconnect)}
	bus := newFakeBus()

	err := shardrunner.Run(context.Background(), 2, shard, bus, zerolog.Nop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, stratumerrors.ErrGatewayReconnect))
}

func TestRun_NonReconnectErrorContinuesPumping(t *testing.T) {
	shard := &fakeShard{
		frames: []gatewayclient.Frame{{Type: gatewayclient.FrameText, Data: []byte("first")}},
		err:    errors.New("transient hiccup"),
	}
	bus := newFakeBus()

	err := shardrunner.Run(context.Background(), 5, shard, bus, zerolog.Nop())
	require.NoError(t, err, "a non-reconnect error should be logged and the pump should continue to a clean stream end")
	assert.Equal(t, [][]byte{[]byte("first")}, bus.published["stratum.shards.5.events"])
}

func TestRun_FatalPublishFailurePropagates(t *testing.T) {
	shard := &fakeShard{frames: []gatewayclient.Frame{{Type: gatewayclient.FrameText, Data: []byte("x")}}}
	bus := newFakeBus()
	bus.failOn = "stratum.shards.9.events"

	err := shardrunner.Run(context.Background(), 9, shard, bus, zerolog.Nop())
	assert.Error(t, err)
}
