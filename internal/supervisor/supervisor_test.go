package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestStart_WritesPerChildLogFile(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{LogDir: dir, GracePeriod: time.Second, PollEvery: 50 * time.Millisecond}, zerolog.Nop())

	spec := ChildSpec{Stage: "extract", WorkerID: "0", Command: "sh", Args: []string{"-c", "echo hello; sleep 5"}, Restartable: true}
	require.NoError(t, s.Start([]ChildSpec{spec}))
	defer s.Shutdown()

	time.Sleep(200 * time.Millisecond)
	data, err := os.ReadFile(filepath.Join(dir, "extract:0.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
}

func TestMonitor_RestartsUnexpectedExit(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{LogDir: dir, GracePeriod: time.Second, PollEvery: 50 * time.Millisecond}, zerolog.Nop())

	spec := ChildSpec{Stage: "chunk", WorkerID: "0", Command: "sh", Args: []string{"-c", "exit 1"}, Restartable: true}
	require.NoError(t, s.Start([]ChildSpec{spec}))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	s.Monitor(ctx)

	s.mu.Lock()
	_, stillTracked := s.children["chunk:0"]
	s.mu.Unlock()
	// The child keeps exiting and being restarted; either way the key must
	// still be tracked (a fresh restarted process), never permanently gone.
	require.True(t, stillTracked)
}

func TestMonitor_NeverRestartsNonRestartableChild(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{LogDir: dir, GracePeriod: time.Second, PollEvery: 50 * time.Millisecond}, zerolog.Nop())

	spec := ChildSpec{Stage: "broker", Command: "sh", Args: []string{"-c", "exit 0"}, Restartable: false}
	require.NoError(t, s.Start([]ChildSpec{spec}))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	s.Monitor(ctx)

	s.mu.Lock()
	_, stillTracked := s.children["broker"]
	s.mu.Unlock()
	require.False(t, stillTracked)
}

func TestShutdown_ReturnsWithinGracePeriodForWellBehavedChild(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{LogDir: dir, GracePeriod: 200 * time.Millisecond, PollEvery: time.Second}, zerolog.Nop())

	spec := ChildSpec{Stage: "embed", WorkerID: "0", Command: "sh", Args: []string{"-c", "trap 'exit 0' TERM; sleep 30 & wait"}, Restartable: true}
	require.NoError(t, s.Start([]ChildSpec{spec}))

	done := make(chan struct{})
	go func() {
		s.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not return within grace period bound")
	}
}
