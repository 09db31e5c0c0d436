package concurrency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCell(t *testing.T) {
	s := &Cell[int]{}

	ctx, done := context.WithCancel(context.Background())
	defer done()
	watch := s.Watch(ctx)

	assert.Equal(t, 0, s.Get())
	assert.Equal(t, 0, s.Swap(123))
	assert.Equal(t, 123, s.Get())

	select {
	case <-watch:
	case <-time.After(time.Second):
		t.Fatal("expected a watch notification after Swap")
	}

	assert.Equal(t, 123, s.Swap(0), "swap returns the previous value")
	assert.Equal(t, 0, s.Get())
}

func TestCellBump(t *testing.T) {
	s := &Cell[string]{}
	s.Swap("val")

	ctx, done := context.WithCancel(context.Background())
	defer done()
	watch := s.Watch(ctx)

	s.Bump()
	select {
	case <-watch:
	case <-time.After(time.Second):
		t.Fatal("expected a watch notification after Bump")
	}
	assert.Equal(t, "val", s.Get())
}

func TestJitter(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := Jitter(time.Second)
		assert.Greater(t, d, time.Millisecond*900)
		assert.Less(t, d, time.Millisecond*1100)
	}
}
