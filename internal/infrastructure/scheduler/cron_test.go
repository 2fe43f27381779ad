package scheduler

import (
	"testing"
	"time"
)

func TestScheduleRejectsBadSpec(t *testing.T) {
	t.Parallel()

	s := NewCronScheduler(nil, nil)
	if err := s.Schedule("sweep", "not a cron", func() {}); err == nil {
		t.Fatal("expected error for invalid spec")
	}
	if err := s.Schedule("sweep", "*/15 * * * *", nil); err == nil {
		t.Fatal("expected error for nil job")
	}
}

func TestScheduleRunsJob(t *testing.T) {
	t.Parallel()

	s := NewCronScheduler(time.UTC, nil)
	ran := make(chan struct{}, 1)
	if err := s.Schedule("tick", "@every 1s", func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	s.Start()
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
}
