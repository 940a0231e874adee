package supervisor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/hookq/pkg/hookq"
	"github.com/mihaimyh/hookq/pkg/jobs"
	memoryqueue "github.com/mihaimyh/hookq/queue/memory"
	memorystore "github.com/mihaimyh/hookq/store/memory"
)

func memoryQueueFactory() (QueueFactory, map[string]*memoryqueue.Queue) {
	queues := make(map[string]*memoryqueue.Queue)
	var mu sync.Mutex
	return func(name string) (hookq.Queue, error) {
		mu.Lock()
		defer mu.Unlock()
		q := memoryqueue.New(name)
		queues[name] = q
		return q, nil
	}, queues
}

func passEngine() jobs.RulesEngine {
	return jobs.RulesEngineFunc(func(ctx context.Context, event *hookq.NormalizedEvent) (hookq.WorkflowResult, error) {
		return hookq.WorkflowResult{RulesEvaluated: 1}, nil
	})
}

func newTestSupervisor(t *testing.T, engine jobs.RulesEngine) (*Supervisor, map[string]*memoryqueue.Queue) {
	t.Helper()
	factory, queues := memoryQueueFactory()
	sup, err := New(Config{
		QueueFactory: factory,
		Store:        memorystore.New(),
		Engine:       engine,
	})
	require.NoError(t, err)
	return sup, queues
}

func TestNew_ValidatesConfig(t *testing.T) {
	factory, _ := memoryQueueFactory()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing backend", Config{Store: memorystore.New(), Engine: passEngine()}},
		{"missing store", Config{QueueFactory: factory, Engine: passEngine()}},
		{"missing engine", Config{QueueFactory: factory, Store: memorystore.New()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestSupervisor_RunRegistersSchedules(t *testing.T) {
	sup, queues := newTestSupervisor(t, passEngine())

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		return sup.State() == StateRunning
	}, 5*time.Second, 10*time.Millisecond)

	maint, err := queues[hookq.QueueMaintenance].Schedules(context.Background())
	require.NoError(t, err)
	require.Len(t, maint, 1)
	assert.Equal(t, "purge-automation-logs", maint[0].JobID)
	assert.Equal(t, "0 3 * * *", maint[0].Pattern)

	deletion, err := queues[hookq.QueueDeletion].Schedules(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(deletion))
	for _, s := range deletion {
		ids = append(ids, s.JobID)
	}
	assert.ElementsMatch(t, []string{"process-deletions", "send-reminders"}, ids)

	workflow, err := queues[hookq.QueueWorkflow].Schedules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, workflow, "workflow queue carries no repeating jobs")

	cancel()
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, StateClosed, sup.State())
}

func TestSupervisor_ProcessesWorkflowJobs(t *testing.T) {
	evaluated := make(chan string, 1)
	engine := jobs.RulesEngineFunc(func(ctx context.Context, event *hookq.NormalizedEvent) (hookq.WorkflowResult, error) {
		evaluated <- event.OrganizationID
		return hookq.WorkflowResult{RulesEvaluated: 1, RulesMatched: 1}, nil
	})
	sup, _ := newTestSupervisor(t, engine)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- sup.Run(ctx) }()
	defer func() { cancel(); <-runDone }()

	require.Eventually(t, func() bool {
		return sup.State() == StateRunning
	}, 5*time.Second, 10*time.Millisecond)

	payload, err := json.Marshal(hookq.NormalizedEvent{OrganizationID: "org_1", EventType: "invoice.paid"})
	require.NoError(t, err)
	_, err = sup.Queue(hookq.QueueWorkflow).Enqueue(context.Background(), hookq.JobEvaluateEvent, payload)
	require.NoError(t, err)

	select {
	case org := <-evaluated:
		assert.Equal(t, "org_1", org)
	case <-time.After(5 * time.Second):
		t.Fatal("workflow job was never evaluated")
	}
}

func TestSupervisor_GracefulShutdownDrainsInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	finished := make(chan struct{})
	engine := jobs.RulesEngineFunc(func(ctx context.Context, event *hookq.NormalizedEvent) (hookq.WorkflowResult, error) {
		close(started)
		<-release
		close(finished)
		return hookq.WorkflowResult{}, nil
	})
	sup, _ := newTestSupervisor(t, engine)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		return sup.State() == StateRunning
	}, 5*time.Second, 10*time.Millisecond)

	payload, err := json.Marshal(hookq.NormalizedEvent{OrganizationID: "org_1"})
	require.NoError(t, err)
	_, err = sup.Queue(hookq.QueueWorkflow).Enqueue(context.Background(), hookq.JobEvaluateEvent, payload)
	require.NoError(t, err)
	<-started

	// Signal shutdown while the job is mid-handler.
	cancel()
	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case err := <-runDone:
		require.NoError(t, err, "drain must succeed once the in-flight job finishes")
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}

	select {
	case <-finished:
	default:
		t.Fatal("in-flight job was cut off by shutdown")
	}
	assert.Equal(t, StateClosed, sup.State())
}

func TestSupervisor_ShutdownTimeout(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	defer close(release)
	engine := jobs.RulesEngineFunc(func(ctx context.Context, event *hookq.NormalizedEvent) (hookq.WorkflowResult, error) {
		close(started)
		<-release
		return hookq.WorkflowResult{}, nil
	})

	factory, _ := memoryQueueFactory()
	sup, err := New(Config{
		QueueFactory:    factory,
		Store:           memorystore.New(),
		Engine:          engine,
		ShutdownTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		return sup.State() == StateRunning
	}, 5*time.Second, 10*time.Millisecond)

	payload, err := json.Marshal(hookq.NormalizedEvent{OrganizationID: "org_1"})
	require.NoError(t, err)
	_, err = sup.Queue(hookq.QueueWorkflow).Enqueue(context.Background(), hookq.JobEvaluateEvent, payload)
	require.NoError(t, err)
	<-started

	cancel()
	select {
	case err := <-runDone:
		assert.ErrorIs(t, err, hookq.ErrShutdownTimeout)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestSupervisor_ShutdownIdempotent(t *testing.T) {
	sup, _ := newTestSupervisor(t, passEngine())

	ctx := context.Background()
	runDone := make(chan error, 1)
	go func() { runDone <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		return sup.State() == StateRunning
	}, 5*time.Second, 10*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sup.Shutdown()
		}()
	}
	wg.Wait()

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
	assert.Equal(t, StateClosed, sup.State())

	// Another Shutdown after close returns immediately.
	sup.Shutdown()
}

func TestSupervisor_QueueHandles(t *testing.T) {
	sup, _ := newTestSupervisor(t, passEngine())
	assert.NotNil(t, sup.Queue(hookq.QueueWorkflow))
	assert.NotNil(t, sup.Queue(hookq.QueueMaintenance))
	assert.NotNil(t, sup.Queue(hookq.QueueDeletion))
	assert.Nil(t, sup.Queue("unknown"))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "closed", StateClosed.String())
}
