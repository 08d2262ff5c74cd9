package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/novamart/novamart-backend/pkg/logger"
)

type fakeLock struct {
	acquired bool
	held     bool
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.acquired = true
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error { f.held = false; return nil }

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(&testJob{name: "success"}, &testJob{name: "fail", err: errors.New("boom")})
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: registry,
		Lock:     &fakeLock{},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	for _, job := range registry.Jobs() {
		if job.(*testJob).runs != 1 {
			t.Fatalf("job %s ran %d times", job.Name(), job.(*testJob).runs)
		}
	}
}

func TestServiceSkipsCycleWhenLockHeld(t *testing.T) {
	t.Parallel()

	job := &testJob{name: "skip-me"}
	lock := &fakeLock{held: true}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(job),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("job ran while lock was held, runs %d", job.runs)
	}
}

type fakeSweeper struct {
	released int
	err      error
	calls    int
}

func (f *fakeSweeper) SweepExpired(_ context.Context, _ time.Time, _ int) (int, error) {
	f.calls++
	return f.released, f.err
}

func TestReservationSweepJob(t *testing.T) {
	t.Parallel()

	sweeper := &fakeSweeper{released: 3}
	job, err := NewReservationSweepJob(ReservationSweepJobParams{
		Logger:  testLogger(),
		Sweeper: sweeper,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sweeper.calls != 1 {
		t.Fatalf("sweeper called %d times", sweeper.calls)
	}

	sweeper.err = errors.New("db down")
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected sweep failure to surface")
	}
}

type fakeExpirer struct {
	expired int
	calls   int
}

func (f *fakeExpirer) ExpireDue(_ context.Context, _ time.Time, _ int) (int, error) {
	f.calls++
	return f.expired, nil
}

func TestSessionExpiryJob(t *testing.T) {
	t.Parallel()

	expirer := &fakeExpirer{expired: 2}
	job, err := NewSessionExpiryJob(SessionExpiryJobParams{
		Logger:   testLogger(),
		Checkout: expirer,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if expirer.calls != 1 {
		t.Fatalf("expirer called %d times", expirer.calls)
	}
}

func TestRedisLockRoundTrip(t *testing.T) {
	t.Parallel()

	store := &memoryLockStore{values: map[string]string{}}
	lock, err := NewRedisLock(store, "nm:lock:cron", time.Minute)
	if err != nil {
		t.Fatalf("construct lock: %v", err)
	}

	ok, err := lock.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	second, err := NewRedisLock(store, "nm:lock:cron", time.Minute)
	if err != nil {
		t.Fatalf("construct second lock: %v", err)
	}
	ok, err = second.Acquire(context.Background())
	if err != nil || ok {
		t.Fatalf("second acquire should lose: ok=%v err=%v", ok, err)
	}

	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = second.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

type memoryLockStore struct {
	values map[string]string
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryLockStore) Get(_ context.Context, key string) (string, error) {
	return m.values[key], nil
}

func (m *memoryLockStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}
