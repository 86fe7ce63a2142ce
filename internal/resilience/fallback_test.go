package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/murmur/internal/observe"
)

func newGroup(cfg FallbackConfig) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", cfg)
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_Order(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		failing    map[string]bool
		wantCalled []string
		wantErr    bool
	}{
		{
			name:       "primary succeeds",
			wantCalled: []string{"primary"},
		},
		{
			name:       "primary fails",
			failing:    map[string]bool{"primary": true},
			wantCalled: []string{"primary", "secondary"},
		},
		{
			name:       "all fail",
			failing:    map[string]bool{"primary": true, "secondary": true},
			wantCalled: []string{"primary", "secondary"},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fg := newGroup(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
			var called []string
			err := fg.Execute(context.Background(), func(v string) error {
				called = append(called, v)
				if tt.failing[v] {
					return errTest
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && (!errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest)) {
				t.Errorf("err = %v, want ErrAllFailed wrapping the last failure", err)
			}
			if len(called) != len(tt.wantCalled) {
				t.Fatalf("called = %v, want %v", called, tt.wantCalled)
			}
			for i := range called {
				if called[i] != tt.wantCalled[i] {
					t.Errorf("called[%d] = %q, want %q", i, called[i], tt.wantCalled[i])
				}
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	fg := newGroup(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}})
	primaryFails := func(v string) error {
		if v == "primary" {
			return errTest
		}
		return nil
	}
	for range 2 {
		_ = fg.Execute(context.Background(), primaryFails)
	}
	if got := fg.States()["primary"]; got != StateOpen {
		t.Fatalf("primary breaker = %v, want open", got)
	}
	if !fg.Healthy() {
		t.Error("Healthy() = false with a closed fallback")
	}

	var called []string
	if err := fg.Execute(context.Background(), func(v string) error {
		called = append(called, v)
		return nil
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(called) != 1 || called[0] != "secondary" {
		t.Errorf("called = %v, want [secondary]", called)
	}
}

func TestFallbackGroup_StopsOnCancel(t *testing.T) {
	t.Parallel()

	fg := newGroup(FallbackConfig{})
	ctx, cancel := context.WithCancel(context.Background())

	var called []string
	err := fg.Execute(ctx, func(v string) error {
		called = append(called, v)
		cancel()
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want bare context.Canceled", err)
	}
	if len(called) != 1 {
		t.Errorf("called = %v, want only the primary", called)
	}
	if got := fg.States()["primary"]; got != StateClosed {
		t.Errorf("primary breaker = %v, want closed", got)
	}
}

func TestFallbackGroup_Healthy(t *testing.T) {
	t.Parallel()

	fg := newGroup(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}})
	_ = fg.Execute(context.Background(), func(string) error { return errTest })
	if fg.Healthy() {
		t.Error("Healthy() = true with every breaker open")
	}
	if names := fg.Names(); len(names) != 2 || names[0] != "primary" || names[1] != "secondary" {
		t.Errorf("Names() = %v", names)
	}
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()

	fg := newGroup(FallbackConfig{})
	got, err := ExecuteWithResult(context.Background(), fg, func(v string) (int, error) {
		if v == "primary" {
			return 0, errTest
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != 42 {
		t.Errorf("result = %d, want 42", got)
	}
}

func TestFallbackGroup_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	fg := newGroup(FallbackConfig{Kind: "tts", Metrics: m})
	_ = fg.Execute(context.Background(), func(v string) error {
		if v == "primary" {
			return errTest
		}
		return nil
	})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	statuses := map[string]int64{}
	var providerErrors int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				switch md.Name {
				case "murmur.provider.requests":
					p, _ := dp.Attributes.Value(attribute.Key("provider"))
					s, _ := dp.Attributes.Value(attribute.Key("status"))
					statuses[p.AsString()+"/"+s.AsString()] += dp.Value
				case "murmur.provider.errors":
					providerErrors += dp.Value
				}
			}
		}
	}
	if statuses["primary/error"] != 1 || statuses["secondary/ok"] != 1 {
		t.Errorf("provider requests = %v, want primary/error=1 secondary/ok=1", statuses)
	}
	if providerErrors != 1 {
		t.Errorf("provider errors = %d, want 1", providerErrors)
	}
}
