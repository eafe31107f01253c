package types

import "testing"

func fp(v float64) *float64 { return &v }

func TestWoWChange(t *testing.T) {
	tests := []struct {
		name     string
		value    MetricValue
		want     float64
		wantOK   bool
	}{
		{
			name:   "normal drop",
			value:  MetricValue{Current: 40, Prev7d: fp(100)},
			want:   -60,
			wantOK: true,
		},
		{
			name:   "normal growth",
			value:  MetricValue{Current: 150, Prev7d: fp(100)},
			want:   50,
			wantOK: true,
		},
		{
			name:   "no change",
			value:  MetricValue{Current: 100, Prev7d: fp(100)},
			want:   0,
			wantOK: true,
		},
		{
			// Fewer than 7 days of history: nil prior means the row has
			// insufficient data, not a change from zero.
			name:   "nil prior is insufficient data",
			value:  MetricValue{Current: 100},
			wantOK: false,
		},
		{
			// A zero prior would produce +Inf. The row must be skipped.
			name:   "zero prior is insufficient data",
			value:  MetricValue{Current: 100, Prev7d: fp(0)},
			wantOK: false,
		},
		{
			name:   "drop to zero",
			value:  MetricValue{Current: 0, Prev7d: fp(50)},
			want:   -100,
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.value.WoWChange()
			if ok != tt.wantOK {
				t.Fatalf("WoWChange() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("WoWChange() = %.2f, want %.2f", got, tt.want)
			}
		})
	}
}

func TestMoMChange(t *testing.T) {
	v := MetricValue{Current: 75, Prev28d: fp(100)}
	got, ok := v.MoMChange()
	if !ok {
		t.Fatal("MoMChange() should succeed with non-zero prior")
	}
	if got != -25 {
		t.Errorf("MoMChange() = %.2f, want -25", got)
	}

	if _, ok := (MetricValue{Current: 75}).MoMChange(); ok {
		t.Error("MoMChange() should report insufficient data for nil prior")
	}
}
