package telemetry

import (
	"testing"
	"time"

	"fleetwatch/internal/models"
)

func sample(id int64) models.MetricSample {
	return models.MetricSample{ID: id, CPUUsage: float64(id)}
}

func TestPushMetricBound(t *testing.T) {
	t.Run("never exceeds limit and keeps arrival order", func(t *testing.T) {
		s := NewStore(DefaultLimits())
		s.Reset("d1")
		for i := int64(1); i <= 150; i++ {
			s.PushMetric(sample(i))
			v := s.View()
			if len(v.Metrics) > DefaultMetricLimit {
				t.Fatalf("Expected at most %d metrics, got %d", DefaultMetricLimit, len(v.Metrics))
			}
			if v.Metrics[0].ID != i {
				t.Fatalf("Expected newest metric %d at head, got %d", i, v.Metrics[0].ID)
			}
			for j := 1; j < len(v.Metrics); j++ {
				if v.Metrics[j-1].ID != v.Metrics[j].ID+1 {
					t.Fatalf("Buffer out of order at %d: %d then %d", j, v.Metrics[j-1].ID, v.Metrics[j].ID)
				}
			}
		}
	})

	t.Run("61st push evicts the oldest", func(t *testing.T) {
		s := NewStore(DefaultLimits())
		for i := int64(1); i <= 60; i++ {
			s.PushMetric(sample(i))
		}
		s.PushMetric(sample(61))
		v := s.View()
		if len(v.Metrics) != 60 {
			t.Fatalf("Expected 60 metrics, got %d", len(v.Metrics))
		}
		if v.Metrics[0].ID != 61 {
			t.Errorf("Expected head 61, got %d", v.Metrics[0].ID)
		}
		if v.Metrics[59].ID != 2 {
			t.Errorf("Expected tail 2 after eviction of 1, got %d", v.Metrics[59].ID)
		}
	})

	t.Run("older timestamps are still prepended", func(t *testing.T) {
		s := NewStore(DefaultLimits())
		now := time.Now()
		s.PushMetric(models.MetricSample{ID: 1, CreatedAt: models.NewTimestamp(now)})
		s.PushMetric(models.MetricSample{ID: 2, CreatedAt: models.NewTimestamp(now.Add(-time.Hour))})
		v := s.View()
		if v.Metrics[0].ID != 2 {
			t.Errorf("Expected arrival order to win, got head %d", v.Metrics[0].ID)
		}
	})
}

func TestDetailAndResultBounds(t *testing.T) {
	s := NewStore(DefaultLimits())
	for i := int64(1); i <= 25; i++ {
		s.PushDetail(models.DetailSnapshot{ID: i})
		s.PushResult(models.CommandResult{CommandID: string(rune('a' + i))})
	}
	v := s.View()
	if len(v.Details) != DefaultDetailLimit {
		t.Errorf("Expected %d details, got %d", DefaultDetailLimit, len(v.Details))
	}
	if v.Details[0].ID != 25 || v.Details[19].ID != 6 {
		t.Errorf("Unexpected detail window: head %d tail %d", v.Details[0].ID, v.Details[19].ID)
	}
	if len(v.Results) != DefaultResultLimit {
		t.Errorf("Expected %d results, got %d", DefaultResultLimit, len(v.Results))
	}
}

func TestReplace(t *testing.T) {
	s := NewStore(Limits{Metrics: 3, Details: 2, Results: 2})
	s.Reset("d1")
	s.PushResult(models.CommandResult{CommandID: "c1"})

	metrics := []models.MetricSample{sample(5), sample(4), sample(3), sample(2)}
	details := []models.DetailSnapshot{{ID: 3}, {ID: 2}, {ID: 1}}
	s.Replace(&models.Device{ID: "d1", Status: models.StatusOnline}, metrics, details)

	v := s.View()
	if len(v.Metrics) != 3 || v.Metrics[0].ID != 5 {
		t.Errorf("Expected truncated newest-first metrics, got %+v", v.Metrics)
	}
	if len(v.Details) != 2 || v.Details[1].ID != 2 {
		t.Errorf("Expected truncated details, got %+v", v.Details)
	}
	if len(v.Results) != 1 {
		t.Errorf("Expected results to survive a snapshot, got %d", len(v.Results))
	}

	metrics[0].ID = 99
	if s.View().Metrics[0].ID != 5 {
		t.Error("Store must not alias the caller's slice")
	}
}

func TestDeviceMutations(t *testing.T) {
	s := NewStore(DefaultLimits())
	if d := s.SetStatus(models.StatusOffline); d != nil {
		t.Error("Expected nil when no device is loaded")
	}

	s.Replace(&models.Device{ID: "d1", Status: models.StatusOnline}, nil, nil)
	ts := models.NewTimestamp(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	d := s.SetLastSeen(ts)
	if d == nil || !d.LastSeenAt.Equal(ts.Time) {
		t.Fatalf("Expected last seen %v, got %+v", ts, d)
	}
	d = s.SetStatus(models.StatusOffline)
	if d.Status != models.StatusOffline {
		t.Errorf("Expected OFFLINE, got %s", d.Status)
	}

	v := s.View()
	v.Device.Status = "MUTATED"
	if s.View().Device.Status != models.StatusOffline {
		t.Error("View must return a copy of the device")
	}
}

func TestReset(t *testing.T) {
	s := NewStore(DefaultLimits())
	s.Reset("d1")
	s.PushMetric(sample(1))
	s.PushResult(models.CommandResult{CommandID: "c1"})
	s.SetError("boom")
	s.Reset("d2")

	v := s.View()
	if v.DeviceID != "d2" || len(v.Metrics) != 0 || len(v.Results) != 0 || v.Error != "" {
		t.Errorf("Expected a clean store for d2, got %+v", v)
	}
}
