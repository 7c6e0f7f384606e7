package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jigth/s4/pkg/s4/shell"
)

func TestSubmitRunsAndResolves(t *testing.T) {
	p := New("io", 2)
	f := p.Submit(context.Background(), func(ctx context.Context) (shell.Result, error) {
		return shell.Result{ExitCode: 0}, nil
	})
	<-f.Started()
	<-f.Done()
	res, err := f.Result()
	assert.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}

func TestSubmitBoundsConcurrency(t *testing.T) {
	p := New("io", 1)
	var running int32
	var maxRunning int32
	block := make(chan struct{})

	f1 := p.Submit(context.Background(), func(ctx context.Context) (shell.Result, error) {
		n := atomic.AddInt32(&running, 1)
		if n > atomic.LoadInt32(&maxRunning) {
			atomic.StoreInt32(&maxRunning, n)
		}
		<-block
		atomic.AddInt32(&running, -1)
		return shell.Result{}, nil
	})
	<-f1.Started()

	f2 := p.Submit(context.Background(), func(ctx context.Context) (shell.Result, error) {
		atomic.AddInt32(&running, 1)
		atomic.AddInt32(&running, -1)
		return shell.Result{}, nil
	})

	select {
	case <-f2.Started():
		t.Fatal("second submission should not start while pool of size 1 is busy")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	<-f2.Started()
	<-f2.Done()
	assert.Equal(t, int32(1), maxRunning)
}

func TestSubmitSoloSerializes(t *testing.T) {
	s := NewScheduler(2, 2, 2)
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		err := s.SubmitSolo(context.Background(), func() error {
			order = append(order, i)
			return nil
		})
		assert.NoError(t, err)
	}
	assert.Equal(t, []int{0, 1, 2}, order)
}
