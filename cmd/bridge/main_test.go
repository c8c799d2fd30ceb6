package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"connbridge/pkg/channel"
	"connbridge/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin []byte, args ...string) []byte {
	t.Helper()
	chunkCodec, chunkOutput = "", "-"

	var out bytes.Buffer
	rootCmd.SetIn(bytes.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	require.NoError(t, rootCmd.Execute())
	return out.Bytes()
}

func TestChunkEncodeRender(t *testing.T) {
	fixture := "+ 1 alice\n- 2 \"bob smith\"\n"

	for _, codec := range []string{"", "zstd", "snappy"} {
		args := []string{"chunk", "encode"}
		if codec != "" {
			args = append(args, "--codec", codec)
		}
		encoded := execute(t, []byte(fixture), args...)
		require.NotEmpty(t, encoded)

		rendered := execute(t, encoded, "chunk", "render")
		assert.Equal(t, "i T\n+ 1 alice\n- 2 \"bob smith\"\n", string(rendered), "codec %q", codec)
	}
}

func TestChunkEncodeToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.chunk")
	execute(t, []byte("+ 1\n"), "chunk", "encode", "-o", path, "--codec", "lz4")

	rendered := execute(t, nil, "chunk", "render", path)
	assert.Equal(t, "i\n+ 1\n", string(rendered))
}

func TestVersion(t *testing.T) {
	assert.Equal(t, "dev", strings.TrimSpace(string(execute(t, nil, "version"))))
}

func TestInitConfigMissingFile(t *testing.T) {
	cfg, err := initConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestPipeEngine_ForwardsCdcToSink(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e := newPipeEngine(ctx, 4)
	defer e.Close()

	cdc := channel.NewCdc(4)
	sink := channel.NewSink(4)
	go e.ServeCdc(1, cdc.Receiver())
	go e.ServeSink(2, sink.Writer())

	for _, m := range []string{"m1", "m2"} {
		require.True(t, cdc.Send([]byte(m)))
	}
	for _, want := range []string{"m1", "m2"} {
		p, ok := sink.RecvRequest()
		require.True(t, ok)
		assert.Equal(t, want, string(p))
		require.True(t, sink.SendResponse([]byte("ack")))
	}

	cdc.Close()
	sink.Close()
}

func TestPipeEngine_ClosedSinkRequeues(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e := newPipeEngine(ctx, 4)
	defer e.Close()

	cdc := channel.NewCdc(4)
	go e.ServeCdc(1, cdc.Receiver())

	gone := channel.NewSink(1)
	gone.Close()
	done := make(chan struct{})
	go func() {
		e.ServeSink(2, gone.Writer())
		close(done)
	}()

	require.True(t, cdc.Send([]byte("m1")))
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("closed sink never gave up its message")
	}

	sink := channel.NewSink(1)
	go e.ServeSink(3, sink.Writer())
	p, ok := sink.RecvRequest()
	require.True(t, ok)
	assert.Equal(t, "m1", string(p))
	require.True(t, sink.SendResponse([]byte("ack")))

	cdc.Close()
	sink.Close()
}
