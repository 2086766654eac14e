package battery

import (
	"errors"
	"testing"
	"time"

	"github.com/dokzlo13/copperlight/internal/errcode"
	"github.com/dokzlo13/copperlight/internal/hal/sim"
	"github.com/dokzlo13/copperlight/internal/workq"
)

type fakeSink struct {
	voltage, percent uint8
	calls            int
}

func (s *fakeSink) SetBattery(v, p uint8) {
	s.voltage, s.percent = v, p
	s.calls++
}

type fakeReporter struct {
	joined  bool
	reports []Reading
}

func (r *fakeReporter) Joined() bool             { return r.joined }
func (r *fakeReporter) ReportBattery(rd Reading) { r.reports = append(r.reports, rd) }

func TestMvToPercent(t *testing.T) {
	tests := []struct {
		mv   uint16
		want uint8
	}{
		{5000, 100},
		{4200, 100},
		{4175, 97},
		{3800, 50},
		{3820, 52},
		{3400, 8},
		{3001, 0},
		{3000, 0},
		{0, 0},
	}
	for _, tt := range tests {
		if got := MvToPercent(tt.mv); got != tt.want {
			t.Errorf("MvToPercent(%d) = %d, want %d", tt.mv, got, tt.want)
		}
	}
}

func TestCurveIsMonotonic(t *testing.T) {
	if len(LiPo) != 21 {
		t.Fatalf("curve has %d points, want 21", len(LiPo))
	}
	for i := 1; i < len(LiPo); i++ {
		if LiPo[i].Millivolts >= LiPo[i-1].Millivolts {
			t.Errorf("millivolts not strictly decreasing at %d", i)
		}
		if LiPo[i].Percent > LiPo[i-1].Percent {
			t.Errorf("percent increases at %d", i)
		}
	}
	prev := uint8(0)
	for mv := uint16(2900); mv <= 4300; mv++ {
		p := MvToPercent(mv)
		if p < prev {
			t.Fatalf("MvToPercent decreases at %d mV", mv)
		}
		prev = p
	}
}

func TestMeasure(t *testing.T) {
	q, _ := workq.NewManual(8)
	adc := sim.NewADC(sim.DefaultBatterySample)
	g, err := New(q, adc, &fakeSink{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mv, err := g.Measure()
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if mv != 3801 {
		t.Errorf("Measure = %d mV, want 3801", mv)
	}

	for _, sample := range []int32{0, -3} {
		adc.SetSample(sample)
		if _, err := g.Measure(); errcode.Of(err) != errcode.MeasurementFailure {
			t.Errorf("sample %d: code = %v", sample, errcode.Of(err))
		}
	}
}

func TestNewWithoutADC(t *testing.T) {
	q, _ := workq.NewManual(8)
	adc := sim.NewADC(1)
	adc.SetAbsent(true)
	g, err := New(q, adc, &fakeSink{}, nil)
	if g != nil || errcode.Of(err) != errcode.HardwareNotReady {
		t.Fatalf("New = %v, %v; want nil, hardware_not_ready", g, err)
	}
}

func TestReportCycleCadence(t *testing.T) {
	q, clock := workq.NewManual(8)
	adc := sim.NewADC(sim.DefaultBatterySample)
	sink := &fakeSink{}
	rep := &fakeReporter{joined: true}
	g, err := New(q, adc, sink, rep, WithInterval(time.Minute))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	g.Start()
	g.Start()
	q.Drain()
	if sink.calls != 1 || sink.voltage != 38 || sink.percent != 100 {
		t.Fatalf("after start: calls %d voltage %d percent %d", sink.calls, sink.voltage, sink.percent)
	}
	if len(rep.reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(rep.reports))
	}

	// A failing read skips the cycle but keeps the cadence.
	adc.SetError(errors.New("saadc busy"))
	clock.Advance(time.Minute)
	if sink.calls != 1 || adc.Reads() != 2 {
		t.Fatalf("failed cycle: calls %d reads %d", sink.calls, adc.Reads())
	}

	adc.SetError(nil)
	rep.joined = false
	clock.Advance(time.Minute)
	if sink.calls != 2 {
		t.Fatalf("cadence stopped after failure: calls %d", sink.calls)
	}
	if len(rep.reports) != 1 {
		t.Errorf("reported while not joined")
	}

	g.Stop()
	clock.Advance(10 * time.Minute)
	if adc.Reads() != 3 {
		t.Errorf("reads after Stop = %d, want 3", adc.Reads())
	}
}

func TestScaleOption(t *testing.T) {
	q, _ := workq.NewManual(8)
	g, _ := New(q, sim.NewADC(2000), &fakeSink{}, nil, WithScale(Scale{Num: 2, Den: 1}))
	if mv, _ := g.Measure(); mv != 4000 {
		t.Errorf("Measure = %d, want 4000", mv)
	}
}
