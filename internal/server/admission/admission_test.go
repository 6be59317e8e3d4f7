package admission

import (
	"errors"
	"testing"

	"github.com/dmitrijs2005/cipherdrive/internal/common"
)

func TestAcquireRelease(t *testing.T) {
	c := New(2)

	if err := c.Acquire(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Acquire(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.Acquire(); !errors.Is(err, common.ErrBusy) {
		t.Fatalf("want ErrBusy, got %v", err)
	}

	c.Release()
	if err := c.Acquire(); err != nil {
		t.Fatalf("slot not reusable after release: %v", err)
	}
}

func TestAcquire_NeverBlocks(t *testing.T) {
	c := New(1)
	if err := c.Acquire(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Acquire() }()

	if err := <-done; !errors.Is(err, common.ErrBusy) {
		t.Fatalf("full controller must reject immediately, got %v", err)
	}
}
