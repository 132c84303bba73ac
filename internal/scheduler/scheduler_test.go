package scheduler

import (
	"testing"
	"time"
)

func TestCreateValidation(t *testing.T) {
	s := New()
	defer s.StopAll()

	tests := []struct {
		name string
		cron string
		ok   bool
	}{
		{"standard five fields", "*/5 * * * *", true},
		{"business hours", "0 9 * * 1-5", true},
		{"garbage", "not a cron", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(CreateRequest{Name: tt.name, Cron: tt.cron, Action: "noop"})
			if (err == nil) != tt.ok {
				t.Errorf("Create(%q) error = %v, want ok=%v", tt.cron, err, tt.ok)
			}
		})
	}
}

func TestOneShotCron(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.Local)

	tests := []struct {
		name  string
		now   time.Time
		delay int
		want  string
	}{
		{"exact minute", now, 120, "32 10 15 6 *"},
		{"rounds up mid-minute", now.Add(10 * time.Second), 60, "32 10 15 6 *"},
		{"crosses hour", now, 35 * 60, "5 11 15 6 *"},
		{"crosses day", time.Date(2025, 6, 15, 23, 59, 0, 0, time.Local), 120, "1 0 16 6 *"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OneShotCron(tt.now, tt.delay); got != tt.want {
				t.Errorf("OneShotCron = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestListRefreshesNextRun(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.Local)
	s := New(WithClock(func() time.Time { return now }))
	defer s.StopAll()

	if _, err := s.Create(CreateRequest{Name: "hourly", Cron: "0 * * * *", Action: "noop", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(CreateRequest{Name: "daily", Cron: "0 9 * * *", Action: "noop", Enabled: true}); err != nil {
		t.Fatal(err)
	}

	tasks := s.List()
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks", len(tasks))
	}
	// Sorted by name.
	if tasks[0].Name != "daily" || tasks[1].Name != "hourly" {
		t.Errorf("order: %s, %s", tasks[0].Name, tasks[1].Name)
	}
	hourly := tasks[1]
	if hourly.NextRunAt == nil {
		t.Fatal("NextRunAt not computed")
	}
	want := time.Date(2025, 6, 15, 11, 0, 0, 0, time.Local)
	if !hourly.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", hourly.NextRunAt, want)
	}
}

func TestDeleteAndGet(t *testing.T) {
	s := New()
	defer s.StopAll()

	task, err := s.Create(CreateRequest{Name: "x", Cron: "* * * * *", Action: "noop", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}

	got, ok := s.Get(task.ID)
	if !ok || got.Name != "x" {
		t.Fatalf("Get = %+v, %v", got, ok)
	}

	if !s.Delete(task.ID) {
		t.Error("Delete returned false for existing task")
	}
	if s.Delete(task.ID) {
		t.Error("Delete returned true for missing task")
	}
	if _, ok := s.Get(task.ID); ok {
		t.Error("task still present after delete")
	}
}

func TestStopAllKeepsTasksButRejectsNew(t *testing.T) {
	s := New()
	if _, err := s.Create(CreateRequest{Name: "x", Cron: "* * * * *", Action: "noop", Enabled: true}); err != nil {
		t.Fatal(err)
	}

	s.StopAll()
	if got := len(s.List()); got != 1 {
		t.Errorf("StopAll deleted tasks: %d left", got)
	}
	if _, err := s.Create(CreateRequest{Name: "y", Cron: "* * * * *", Action: "noop"}); err == nil {
		t.Error("Create should fail after StopAll")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := New()
	defer s.StopAll()

	task, err := s.Create(CreateRequest{Name: "x", Cron: "* * * * *", Action: "noop"})
	if err != nil {
		t.Fatal(err)
	}
	task.Name = "mutated"
	task.Action = "mutated"

	got, _ := s.Get(task.ID)
	if got.Name != "x" || got.Action != "noop" {
		t.Errorf("snapshot mutation leaked into scheduler state: %+v", got)
	}
}

func TestOneShotFiresOnceAndRemovesItself(t *testing.T) {
	// Freeze the clock just before the cron minute so the runner's timer
	// expires almost immediately.
	base := time.Date(2026, 1, 1, 10, 0, 59, int(900*time.Millisecond), time.Local)
	s := New(WithClock(func() time.Time { return base }))
	defer s.StopAll()

	fires := make(chan Task, 4)
	s.SetOnTaskFire(func(task Task) { fires <- task })

	task, err := s.Create(CreateRequest{
		Name: "timer", Cron: "1 10 1 1 *", Action: "ping",
		Enabled: true, OneShot: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	var snap Task
	select {
	case snap = <-fires:
	case <-time.After(2 * time.Second):
		t.Fatal("one-shot never fired")
	}
	if snap.ID != task.ID || snap.Action != "ping" {
		t.Errorf("fire snapshot: %+v", snap)
	}
	if snap.LastRunAt == nil {
		t.Error("LastRunAt not set on fire snapshot")
	}

	// The task removes itself after its single fire.
	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := s.Get(task.ID); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("one-shot still present after firing")
		}
		time.Sleep(10 * time.Millisecond)
	}
	select {
	case <-fires:
		t.Error("one-shot fired more than once")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDeleteStopsFiring(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 59, int(900*time.Millisecond), time.Local)
	s := New(WithClock(func() time.Time { return base }))
	defer s.StopAll()

	fires := make(chan Task, 64)
	s.SetOnTaskFire(func(task Task) { fires <- task })

	// The frozen clock makes the every-minute task refire continuously.
	task, err := s.Create(CreateRequest{Name: "tick", Cron: "* * * * *", Action: "x", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case snap := <-fires:
		if snap.NextRunAt == nil {
			t.Error("NextRunAt not recomputed on fire")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("recurring task never fired")
	}

	if !s.Delete(task.ID) {
		t.Fatal("Delete missed the task")
	}
	// Let any in-flight fire drain, then the stream must go quiet.
	time.Sleep(150 * time.Millisecond)
	for len(fires) > 0 {
		<-fires
	}
	select {
	case <-fires:
		t.Error("fire callback after Delete")
	case <-time.After(250 * time.Millisecond):
	}
	if _, ok := s.Get(task.ID); ok {
		t.Error("task still present after Delete")
	}
}
