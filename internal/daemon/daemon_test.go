package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
	"git.home.luguber.info/inful/memoryd/internal/metrics"
	"git.home.luguber.info/inful/memoryd/internal/notify"
	"git.home.luguber.info/inful/memoryd/internal/persist"
	"git.home.luguber.info/inful/memoryd/internal/state"
)

func recordingStages(order *[]string, mu *sync.Mutex, failAt string) []Stage {
	names := []string{
		state.StageMainPower, state.StageWorkingMemory, state.StageEpisodicMemory,
		state.StageSemanticMemory, state.StageProceduralMemory, state.StageVectorDatabase,
	}
	stages := make([]Stage, len(names))
	for i, name := range names {
		stages[i] = Stage{Name: name, Activate: func(context.Context) error {
			mu.Lock()
			*order = append(*order, name)
			mu.Unlock()
			if name == failAt {
				return errors.New("activation failed")
			}
			return nil
		}}
	}
	return stages
}

func TestStartup_RunsStagesInOrder(t *testing.T) {
	var (
		order []string
		mu    sync.Mutex
	)
	d := newTestDaemon(t, testConfig(t), WithStages(recordingStages(&order, &mu, "")...))

	require.NoError(t, d.Startup(context.Background()))
	require.Equal(t, []string{
		"mainPower", "workingMemory", "episodicMemory",
		"semanticMemory", "proceduralMemory", "vectorDatabase",
	}, order)
	require.Equal(t, []bool{true, true, true, true, true, true}, d.Status().Flags())
}

func TestStart_ThirdStageFailureAbortsStartup(t *testing.T) {
	var (
		order []string
		mu    sync.Mutex
	)
	rec := newCountingRecorder()
	pub := &capturePublisher{}
	d := newTestDaemon(t, testConfig(t),
		WithStages(recordingStages(&order, &mu, state.StageEpisodicMemory)...),
		WithRecorder(rec),
		WithPublisher(pub))

	err := d.Start(context.Background())
	require.Error(t, err)
	require.True(t, derrors.IsCategory(err, derrors.CategoryStartup))
	ce, ok := derrors.As(err)
	require.True(t, ok)
	require.Equal(t, state.StageEpisodicMemory, ce.ContextString("stage"))

	require.Equal(t, []string{"mainPower", "workingMemory", "episodicMemory"}, order)
	snap := d.Status()
	require.Equal(t, []bool{true, true, false, false, false, false}, snap.Flags())
	require.False(t, snap.DaemonRunning)
	require.Nil(t, d.scheduler)
	require.False(t, d.Store().MarkerExists())
	require.Equal(t, 1, rec.stageResult(state.StageEpisodicMemory, metrics.ResultFailed))
	require.Contains(t, pub.kinds(), notify.KindStartupFailed)
}

func TestStart_DefaultStagesBringDaemonUp(t *testing.T) {
	pub := &capturePublisher{}
	d := newTestDaemon(t, testConfig(t), WithPublisher(pub))

	require.NoError(t, d.Start(context.Background()))

	snap := d.Status()
	require.True(t, snap.DaemonRunning)
	require.Empty(t, snap.OfflineStages())
	require.NotNil(t, snap.StartedAt)

	session, ok := d.Runtime().Session()
	require.True(t, ok)
	require.Equal(t, state.SessionContextStartup, session.Context)

	marker, err := d.Store().ReadMarker()
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), marker.PID)

	require.ElementsMatch(t,
		[]string{TaskChatBackup, TaskStateSave, TaskHealthCheck, TaskSessionDetect},
		d.scheduler.Tasks())

	saved, err := d.Store().ReadState()
	require.NoError(t, err)
	require.True(t, saved.Status.DaemonRunning)
	require.Contains(t, pub.kinds(), notify.KindDaemonStarted)
}

func TestStart_RefusesLiveMarker(t *testing.T) {
	if !persist.ProcessAlive(1) {
		t.Skip("pid 1 not visible")
	}
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg)
	require.NoError(t, d.Store().EnsureDirectories())
	require.NoError(t, os.WriteFile(cfg.PIDFile, []byte("1"), 0o600))

	err := d.Start(context.Background())
	require.Error(t, err)
	require.True(t, derrors.IsCategory(err, derrors.CategoryStartup))
	require.Equal(t, 1, derrors.NewCLIErrorAdapter(false, nil).ExitCodeFor(err))

	ce, ok := derrors.As(err)
	require.True(t, ok)
	require.Equal(t, "liveness-marker", ce.ContextString("stage"))
	cause, ok := derrors.As(ce.Cause)
	require.True(t, ok)
	require.Equal(t, derrors.CategoryDaemon, cause.Category)
	require.True(t, d.Store().MarkerExists())
}

func TestStart_UnwritableMarkerIsStartupFailure(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg.PIDFile = filepath.Join(blocker, "memoryd.pid")
	d := newTestDaemon(t, cfg)

	err := d.Start(context.Background())
	require.Error(t, err)
	require.True(t, derrors.IsCategory(err, derrors.CategoryStartup))
	require.Equal(t, 1, derrors.NewCLIErrorAdapter(false, nil).ExitCodeFor(err))
	require.False(t, d.Runtime().Running())
}

func TestStartCycle_RefusedOnceShutdownBegan(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	require.NoError(t, d.Store().EnsureDirectories())
	d.Shutdown("test")

	err := d.startCycle(context.Background())
	require.ErrorIs(t, err, errShuttingDown)
	require.False(t, d.Store().MarkerExists())
	require.Nil(t, d.scheduler)
	require.False(t, d.Runtime().Running())
}

func TestCloseCollaborators_WhileEmitting(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.SQLitePath = filepath.Join(t.TempDir(), "archive.db")
	d := newTestDaemon(t, cfg)
	d.openCollaborators()
	require.NotNil(t, d.History())

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				d.emitHealthIssues(context.Background(), []string{"vectorDatabase offline"})
				_ = d.PerformHealthCheck()
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	d.closeCollaborators()
	close(stop)
	wg.Wait()

	require.Nil(t, d.History())
}

func TestShutdown_FlushesAndRemovesMarkerOnce(t *testing.T) {
	rec := newCountingRecorder()
	pub := &capturePublisher{}
	d := newTestDaemon(t, testConfig(t), WithRecorder(rec), WithPublisher(pub))
	require.NoError(t, d.Start(context.Background()))

	d.AddChatMessage("one", "user")
	d.AddChatMessage("two", "assistant")
	d.AddChatMessage("three", "user")

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Shutdown("SIGTERM")
		}()
	}
	wg.Wait()
	d.Shutdown("again")

	files, err := d.Store().ListChatBackups()
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	var backup persist.ChatBackup
	require.NoError(t, json.Unmarshal(data, &backup))
	require.Len(t, backup.Messages, 3)
	require.Equal(t, "one", backup.Messages[0].Content)
	require.Equal(t, "three", backup.Messages[2].Content)

	require.False(t, d.Store().MarkerExists())
	require.Zero(t, d.Runtime().Buffer.Len())

	saved, err := d.Store().ReadState()
	require.NoError(t, err)
	require.False(t, saved.Status.DaemonRunning)
	require.Equal(t, 1, saved.Status.ChatsSavedCount)

	stopped := 0
	for _, k := range pub.kinds() {
		if k == notify.KindDaemonStopped {
			stopped++
		}
	}
	require.Equal(t, 1, stopped)
	ev, ok := pub.last(notify.KindDaemonStopped)
	require.True(t, ok)
	require.Equal(t, "SIGTERM", ev.Data["reason"])

	select {
	case <-d.Done():
	default:
		t.Fatal("Done not closed after Shutdown")
	}
}

func TestShutdown_FlushFailureStillRemovesMarker(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	require.NoError(t, d.Start(context.Background()))
	d.AddChatMessage("keep me", "user")

	require.NoError(t, os.RemoveAll(d.Store().ChatsDir()))
	require.NoError(t, os.WriteFile(d.Store().ChatsDir(), []byte("blocked"), 0o600))

	d.Shutdown("SIGINT")

	require.False(t, d.Store().MarkerExists())
	require.Equal(t, 1, d.Runtime().Buffer.Len())
	_, err := d.Store().ReadState()
	require.NoError(t, err)
}

func TestShutdown_WithoutStartIsSafe(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	d.Shutdown("never started")
	require.True(t, d.ShuttingDown())
}

func TestRun_ReturnsAfterContextCancel(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return d.Runtime().Running() }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
	require.False(t, d.Store().MarkerExists())
}

func TestRun_ReturnsStartupError(t *testing.T) {
	d := newTestDaemon(t, testConfig(t), WithStages(Stage{Name: "broken", Activate: func(context.Context) error {
		return errors.New("no power")
	}}))
	err := d.Run(context.Background())
	require.True(t, derrors.IsCategory(err, derrors.CategoryStartup))
}

func TestStartup_RecoversPanickingStage(t *testing.T) {
	d := newTestDaemon(t, testConfig(t), WithStages(
		Stage{Name: "ok"},
		Stage{Name: "bad", Activate: func(context.Context) error { panic("boom") }},
	))
	err := d.Startup(context.Background())
	require.Error(t, err)
	require.Equal(t, []bool{true, false}, d.Status().Flags())
}

func TestStartup_CanceledContext(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Startup(ctx)
	require.True(t, derrors.IsCategory(err, derrors.CategoryStartup))
	require.Equal(t, []bool{false, false, false, false, false, false}, d.Status().Flags())
}
