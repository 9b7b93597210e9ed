package stream

import (
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBroadcasterDeliversToAll(t *testing.T) {
	b := NewBroadcaster[int](4)
	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel1()
	defer cancel2()

	b.Publish(1)
	b.Publish(2)

	for _, ch := range []<-chan int{ch1, ch2} {
		if v := <-ch; v != 1 {
			t.Errorf("first value = %d", v)
		}
		if v := <-ch; v != 2 {
			t.Errorf("second value = %d", v)
		}
	}
	if b.SubscriberCount() != 2 {
		t.Errorf("SubscriberCount = %d", b.SubscriberCount())
	}
}

func TestBroadcasterSlowSubscriberKeepsLatest(t *testing.T) {
	b := NewBroadcaster[int](2)
	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 1; i <= 5; i++ {
		b.Publish(i)
	}

	var got []int
	for len(ch) > 0 {
		got = append(got, <-ch)
	}
	if len(got) != 2 || got[1] != 5 {
		t.Fatalf("slow subscriber should hold the latest values, got %v", got)
	}
	if st := b.Stats(); st.Dropped != 3 || st.Published != 5 {
		t.Errorf("stats = %+v", st)
	}
}

func TestBroadcasterCancelAndClose(t *testing.T) {
	b := NewBroadcaster[string](1)
	ch, cancel := b.Subscribe()
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}

	ch2, cancel2 := b.Subscribe()
	defer cancel2()
	b.Close()
	if _, ok := <-ch2; ok {
		t.Error("channel should be closed after Close")
	}

	b.Publish("ignored")
	ch3, _ := b.Subscribe()
	if _, ok := <-ch3; ok {
		t.Error("subscribe after close should return a closed channel")
	}
}

func TestBroadcasterConcurrentPublish(t *testing.T) {
	b := NewBroadcaster[int](1000)
	ch, cancel := b.Subscribe()
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Publish(i)
			}
		}()
	}
	wg.Wait()

	if len(ch) != 400 {
		t.Errorf("received %d values, want 400", len(ch))
	}
}

// TestProperty_LastPublishedIsDelivered checks that whatever the buffer size
// and publish count, the final value a subscriber reads is the last published.
func TestProperty_LastPublishedIsDelivered(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("last value survives drops", prop.ForAll(
		func(buffer int, values []int) bool {
			if len(values) == 0 {
				return true
			}
			b := NewBroadcaster[int](buffer)
			ch, cancel := b.Subscribe()
			defer cancel()
			for _, v := range values {
				b.Publish(v)
			}
			var last int
			n := len(ch)
			for i := 0; i < n; i++ {
				last = <-ch
			}
			return last == values[len(values)-1]
		},
		gen.IntRange(1, 8),
		gen.SliceOf(gen.Int()),
	))

	properties.TestingRun(t)
}
