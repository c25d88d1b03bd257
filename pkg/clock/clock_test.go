package clock

import (
	"testing"
	"time"
)

func TestNewFakeStartsAtGivenMs(t *testing.T) {
	c := NewFake(1000)
	if c.NowMs() != 1000 {
		t.Fatalf("NowMs() = %d, want 1000", c.NowMs())
	}
	if c.NowNs() != 1000*int64(time.Millisecond) {
		t.Fatalf("NowNs() = %d, want %d", c.NowNs(), 1000*int64(time.Millisecond))
	}
}

func TestAdvanceKeepsNsAndMsConsistent(t *testing.T) {
	c := NewFake(0)
	c.Advance(250 * time.Millisecond)
	if c.NowMs() != 250 {
		t.Fatalf("NowMs() = %d, want 250", c.NowMs())
	}
	if c.NowNs() != 250*int64(time.Millisecond) {
		t.Fatalf("NowNs() = %d, want %d", c.NowNs(), 250*int64(time.Millisecond))
	}
}

func TestAdvanceAccumulates(t *testing.T) {
	c := NewFake(0)
	c.Advance(time.Second)
	c.Advance(time.Second)
	if c.NowMs() != 2000 {
		t.Fatalf("NowMs() = %d, want 2000 after two one-second advances", c.NowMs())
	}
}

func TestSystemClockIsMonotonicallyNonDecreasing(t *testing.T) {
	var s System
	first := s.NowNs()
	second := s.NowNs()
	if second < first {
		t.Fatalf("System.NowNs went backwards: %d then %d", first, second)
	}
}
