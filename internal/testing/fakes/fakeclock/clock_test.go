package fakeclock

import (
	"testing"
	"time"
)

func TestClock_AfterFiresOnAdvance(t *testing.T) {
	clk := New(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ch := clk.After(time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	clk.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(clk.Now()) {
			t.Errorf("After() delivered %v, want %v", got, clk.Now())
		}
	default:
		t.Fatal("After did not fire after Advance")
	}
}

func TestClock_AfterZeroFiresImmediately(t *testing.T) {
	clk := New(time.Now())
	select {
	case <-clk.After(0):
	default:
		t.Fatal("After(0) should fire immediately")
	}
}

func TestClock_Ticker(t *testing.T) {
	clk := New(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	tk := clk.NewTicker(10 * time.Second)

	clk.Advance(5 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	clk.Advance(5 * time.Second)
	select {
	case <-tk.C():
	default:
		t.Fatal("ticker did not fire")
	}

	tk.Stop()
	clk.Advance(time.Minute)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
