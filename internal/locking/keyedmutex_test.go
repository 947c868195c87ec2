package locking

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	const workers = 20

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("emp-101")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()

	unlockA := km.Lock("emp-101")
	defer unlockA()

	// A different key must not block behind the held one.
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("emp-202")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on an independent key blocked")
	}
}

func TestKeyedMutexReusableAfterUnlock(t *testing.T) {
	km := NewKeyedMutex()

	unlock := km.Lock("emp-101")
	unlock()

	done := make(chan struct{})
	go func() {
		unlock := km.Lock("emp-101")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("key stayed locked after unlock")
	}
}
