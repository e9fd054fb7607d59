package testutil

import (
	"testing"
	"time"
)

func TestClock(t *testing.T) {
	c := NewClock(1_700_000_000)
	c.Advance(90 * time.Second)
	if got := c.Now().Unix(); got != 1_700_000_090 {
		t.Fatalf("expected 1700000090, got %d", got)
	}
	c.Set(5)
	if got := c.Now().Unix(); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
}

func TestMustBig(t *testing.T) {
	if got := MustBig(t, "100000000000000000000").String(); got != "100000000000000000000" {
		t.Fatalf("unexpected value %s", got)
	}
}
