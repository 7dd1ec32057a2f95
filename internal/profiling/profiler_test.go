package profiling

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nonEmpty(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestOptions_Enabled(t *testing.T) {
	assert.False(t, Options{}.Enabled())
	assert.True(t, Options{CPU: "cpu.prof"}.Enabled())
	assert.True(t, Options{Heap: "heap.prof"}.Enabled())
	assert.True(t, Options{Trace: "trace.out"}.Enabled())
}

func TestSession_WritesEveryProfile(t *testing.T) {
	// Given: a session with all three outputs
	dir := t.TempDir()
	opts := Options{
		CPU:   filepath.Join(dir, "cpu.prof"),
		Heap:  filepath.Join(dir, "heap.prof"),
		Trace: filepath.Join(dir, "trace.out"),
	}
	s, err := Start(opts)
	require.NoError(t, err)

	// When: a traced query runs and the session stops
	ctx, end := Task(context.Background(), "search")
	Log(ctx, "mode", "hybrid")
	ran := false
	Region(ctx, "fuse", func() {
		sum := 0
		for i := 0; i < 1_000_000; i++ {
			sum += i
		}
		ran = sum > 0
	})
	end()
	require.NoError(t, s.Stop())

	// Then: every file has content and the region ran
	assert.True(t, ran)
	nonEmpty(t, opts.CPU)
	nonEmpty(t, opts.Heap)
	nonEmpty(t, opts.Trace)
}

func TestSession_StopIsIdempotent(t *testing.T) {
	s, err := Start(Options{Heap: filepath.Join(t.TempDir(), "heap.prof")})
	require.NoError(t, err)

	require.NoError(t, s.Stop())
	assert.NoError(t, s.Stop())

	var nilSession *Session
	assert.NoError(t, nilSession.Stop())
}

func TestStart_BadPath(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no", "such", "dir")

	_, err := Start(Options{CPU: filepath.Join(missing, "cpu.prof")})
	assert.ErrorContains(t, err, "CPU profile")

	// A failed trace start releases the CPU profiler for the next session.
	_, err = Start(Options{CPU: filepath.Join(t.TempDir(), "cpu.prof"), Trace: filepath.Join(missing, "trace.out")})
	require.ErrorContains(t, err, "trace")
	s, err := Start(Options{CPU: filepath.Join(t.TempDir(), "cpu.prof")})
	require.NoError(t, err)
	require.NoError(t, s.Stop())
}

func TestWriteProfile(t *testing.T) {
	tests := []string{"heap", "allocs", "goroutine", "block", "mutex"}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name+".prof")
			require.NoError(t, WriteProfile(name, path))
			_, err := os.Stat(path)
			assert.NoError(t, err)
		})
	}

	assert.ErrorContains(t, WriteProfile("nope", filepath.Join(t.TempDir(), "x")), "unknown profile")
}

func TestRegion_WithoutTrace(t *testing.T) {
	ctx, end := Task(context.Background(), "search")
	defer end()

	ran := false
	Region(ctx, "analyze", func() { ran = true })
	assert.True(t, ran)
}
