package daemon

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
)

func TestHandleSignal_TermShutsDown(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	require.NoError(t, d.Start(context.Background()))

	d.handleSignal(context.Background(), syscall.SIGTERM)

	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	require.False(t, d.Store().MarkerExists())
}

func TestHandleSignal_IgnoredDuringShutdown(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	require.NoError(t, d.Start(context.Background()))
	d.Shutdown("SIGINT")

	d.handleSignal(context.Background(), syscall.SIGHUP)
	require.False(t, d.Runtime().Running())
	require.False(t, d.Store().MarkerExists())
}

func TestHandleSignal_RecoversPanic(t *testing.T) {
	d := &Daemon{}
	require.NotPanics(t, func() {
		d.handleSignal(context.Background(), syscall.SIGHUP)
	})
}

func TestHandleSignal_HupRestartsInPlace(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	require.NoError(t, d.Start(context.Background()))
	first, _ := d.Runtime().Session()
	d.AddChatMessage("before restart", "user")

	d.handleSignal(context.Background(), syscall.SIGHUP)

	require.True(t, d.Runtime().Running())
	require.True(t, d.Store().MarkerExists())
	second, ok := d.Runtime().Session()
	require.True(t, ok)
	require.NotEqual(t, first.ID, second.ID)

	files, err := d.Store().ListChatBackups()
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Zero(t, d.Runtime().Buffer.Len())
}

func TestReload_FailedRestartShutsDown(t *testing.T) {
	var calls atomic.Int32
	d := newTestDaemon(t, testConfig(t), WithStages(Stage{Name: "flaky", Activate: func(context.Context) error {
		if calls.Add(1) > 1 {
			return errors.New("cannot come back")
		}
		return nil
	}}))
	require.NoError(t, d.Start(context.Background()))

	err := d.Reload(context.Background(), "SIGHUP")
	require.Error(t, err)

	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown after failed restart did not complete")
	}
	require.Error(t, d.err())
	require.False(t, d.Store().MarkerExists())
	require.False(t, d.Runtime().Running())
}

func TestWatchSignals_RoutesTermToShutdown(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	require.NoError(t, d.Start(context.Background()))

	sigs := make(chan os.Signal, 1)
	stop := d.watchSignals(context.Background(), sigs)
	defer stop()
	sigs <- syscall.SIGTERM

	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	require.False(t, d.Store().MarkerExists())
}

func TestStartInterruptible_TermCancelsStartup(t *testing.T) {
	entered := make(chan struct{})
	d := newTestDaemon(t, testConfig(t), WithStages(Stage{Name: "slow", Activate: func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	go func() {
		<-entered
		sigs <- syscall.SIGTERM
	}()

	sig, err := d.startInterruptible(ctx, cancel, sigs)
	require.Error(t, err)
	require.Equal(t, syscall.SIGTERM, sig)
	require.True(t, derrors.IsCategory(err, derrors.CategoryStartup))
	require.False(t, d.Store().MarkerExists())
	require.False(t, d.Runtime().Running())
}

func TestStartInterruptible_IgnoresHupDuringStartup(t *testing.T) {
	release := make(chan struct{})
	d := newTestDaemon(t, testConfig(t), WithStages(Stage{Name: "gated", Activate: func(context.Context) error {
		<-release
		return nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal)
	go func() {
		sigs <- syscall.SIGHUP
		close(release)
	}()

	sig, err := d.startInterruptible(ctx, cancel, sigs)
	require.NoError(t, err)
	require.Nil(t, sig)
	require.NoError(t, ctx.Err())
	require.True(t, d.Runtime().Running())
	require.True(t, d.Store().MarkerExists())
}
