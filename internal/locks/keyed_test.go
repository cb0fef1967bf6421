package locks_test

import (
	"sync"
	"testing"

	"github.com/pairwage/wager-engine/internal/locks"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := locks.NewKeyedMutex()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("k")
			counter++
			km.Unlock("k")
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("expected 100, got %d (lost update under same-key lock)", counter)
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := locks.NewKeyedMutex()

	// Holding one key must not block another.
	km.Lock("a")
	defer km.Unlock("a")

	done := make(chan struct{})
	go func() {
		km.Lock("b")
		km.Unlock("b")
		close(done)
	}()
	<-done
}
