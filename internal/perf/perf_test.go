package perf

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fibermap/core-go/internal/metrics"
	"fibermap/core-go/internal/scheduler"
)

func newMonitor(opts Options) (*Monitor, *scheduler.Manual) {
	clock := scheduler.NewManual(time.Time{})
	return NewMonitor(zerolog.Nop(), clock, metrics.New(), opts), clock
}

func TestScore(t *testing.T) {
	cases := []struct {
		fps     float64
		render  float64
		visible int
		want    float64
	}{
		{60, 0, 100, 100},
		{120, 0, 100, 100},
		{30, 50, 1000, 25 + 15 + 20},
		{0, 200, 2000, 10},
	}
	for _, tc := range cases {
		if got := Score(tc.fps, tc.render, tc.visible); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("Score(%v, %v, %d): expected %v, got %v", tc.fps, tc.render, tc.visible, tc.want, got)
		}
	}
}

func TestLevelForScore(t *testing.T) {
	cases := map[float64]Level{95: LevelLow, 80: LevelLow, 70: LevelMedium, 45: LevelHigh, 10: LevelUltra}
	for score, want := range cases {
		if got := LevelForScore(score); got != want {
			t.Fatalf("LevelForScore(%v): expected %s, got %s", score, want, got)
		}
	}
}

func TestCanonicalizeLevel(t *testing.T) {
	if CanonicalizeLevel(" high ") != LevelHigh {
		t.Fatalf("expected HIGH")
	}
	if CanonicalizeLevel("turbo") != LevelAuto || CanonicalizeLevel(42) != LevelAuto {
		t.Fatalf("expected AUTO for unknown input")
	}
}

func TestSetOptimizationLevel_DerivesFlags(t *testing.T) {
	m, _ := newMonitor(Options{Level: "LOW"})

	var changes []Config
	m.OnConfig(func(c Config) { changes = append(changes, c) })

	m.SetOptimizationLevel(LevelLow)
	if len(changes) != 0 {
		t.Fatalf("expected no-op for unchanged level")
	}

	m.SetOptimizationLevel(LevelMedium)
	c := m.Config()
	if !c.ClusteringEnabled || c.VirtualizationEnabled || c.MaxVisibleElements != 5000 {
		t.Fatalf("unexpected MEDIUM config %+v", c)
	}

	m.SetOptimizationLevel(LevelUltra)
	c = m.Config()
	if !c.ClusteringEnabled || !c.VirtualizationEnabled || c.MaxVisibleElements != 1000 {
		t.Fatalf("unexpected ULTRA config %+v", c)
	}

	m.SetOptimizationLevel(LevelLow)
	if c := m.Config(); c.ClusteringEnabled || c.VirtualizationEnabled {
		t.Fatalf("expected LOW to disable both, got %+v", c)
	}
	if len(changes) != 3 {
		t.Fatalf("expected 3 config changes, got %d", len(changes))
	}
}

func TestSample_AutoPicksLevelFromScore(t *testing.T) {
	m, clock := newMonitor(Options{Level: "AUTO"})

	poorSecond := func() Metrics {
		for i := 0; i < 10; i++ {
			clock.Advance(100 * time.Millisecond)
			m.RecordFrame(80*time.Millisecond, 5000)
		}
		return m.Sample()
	}

	s := poorSecond()
	if s.FPS != 10 || s.SuggestedLevel != LevelUltra {
		t.Fatalf("expected 10 fps suggesting ULTRA, got %+v", s)
	}
	poorSecond()
	if c := m.Config(); c.Effective != LevelLow {
		t.Fatalf("expected LOW to hold until the suggestion is stable, got %+v", c)
	}

	poorSecond()
	c := m.Config()
	if c.Level != LevelAuto || c.Effective != LevelUltra || !c.VirtualizationEnabled {
		t.Fatalf("expected AUTO to apply ULTRA flags after stable poor scores, got %+v", c)
	}
}

func TestSample_InterruptedSuggestionStartsOver(t *testing.T) {
	m, clock := newMonitor(Options{Level: "AUTO"})

	second := func(frames int, render time.Duration) {
		for i := 0; i < frames; i++ {
			clock.Advance(time.Second / time.Duration(frames))
			m.RecordFrame(render, 100)
		}
		m.Sample()
	}

	second(10, 80*time.Millisecond)
	second(10, 80*time.Millisecond)
	second(60, 0)
	second(10, 80*time.Millisecond)
	second(10, 80*time.Millisecond)
	if c := m.Config(); c.Effective != LevelLow {
		t.Fatalf("expected a good sample to reset the streak, got %+v", c)
	}
}

func TestSample_IdleWindowKeepsLevel(t *testing.T) {
	m, clock := newMonitor(Options{Level: "AUTO", Stability: 1})

	var changes []Config
	m.OnConfig(func(c Config) { changes = append(changes, c) })

	for i := 0; i < 60; i++ {
		clock.Advance(time.Second / 60)
		m.RecordFrame(time.Millisecond, 100)
	}
	busy := m.Sample()
	if busy.Idle || busy.SuggestedLevel != LevelLow {
		t.Fatalf("expected a busy LOW sample, got %+v", busy)
	}

	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		s := m.Sample()
		if !s.Idle || s.FPS != 0 {
			t.Fatalf("expected idle sample with 0 fps, got %+v", s)
		}
		if s.Score != busy.Score {
			t.Fatalf("expected idle sample to carry score %v, got %v", busy.Score, s.Score)
		}
	}
	if len(changes) != 0 || m.Config().Effective != LevelLow {
		t.Fatalf("expected no config change while idle, got %v", changes)
	}
}

func TestSample_IdleBeforeAnyFrame(t *testing.T) {
	m, clock := newMonitor(Options{Level: "AUTO", Stability: 1})
	clock.Advance(time.Second)

	s := m.Sample()
	if !s.Idle || s.Score != 100 || s.SuggestedLevel != LevelLow {
		t.Fatalf("expected an idle perfect score, got %+v", s)
	}
	if m.Config().Effective != LevelLow {
		t.Fatalf("expected LOW, got %+v", m.Config())
	}
}

func TestSample_ManualLevelNotChangedWithoutAuto(t *testing.T) {
	m, clock := newMonitor(Options{Level: "LOW", Stability: 1})
	clock.Advance(time.Second)
	m.RecordFrame(90*time.Millisecond, 10000)
	m.Sample()
	if m.Config().Effective != LevelLow {
		t.Fatalf("expected LOW to stick, got %+v", m.Config())
	}

	m.SetAutoOptimization(true)
	m.Sample()
	if c := m.Config(); c.Level == LevelLow || !c.AutoOptimize {
		t.Fatalf("expected auto optimization to change level, got %+v", c)
	}
}

func TestStart_SamplesPeriodically(t *testing.T) {
	m, clock := newMonitor(Options{Level: "LOW", SampleInterval: time.Second})
	sub := m.MetricsStream().Subscribe(context.Background())
	defer sub.Unsubscribe()

	m.Start()
	clock.Advance(3 * time.Second)
	m.Stop()
	clock.Advance(3 * time.Second)

	if m.Last().Elapsed != 3*time.Second {
		t.Fatalf("expected last sample at 3s, got %v", m.Last().Elapsed)
	}
	got := 0
drain:
	for {
		select {
		case <-sub.C():
			got++
		default:
			break drain
		}
	}
	if got != 3 {
		t.Fatalf("expected 3 samples on the stream, got %d", got)
	}
}
