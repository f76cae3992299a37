package notify

import "testing"

func TestPublishFanout(t *testing.T) {
	m := NewMultiplexer[int]("test")
	a := make(chan int, 1)
	b := make(chan int, 1)
	cancelA := m.Subscribe("a", a)
	defer cancelA()
	cancelB := m.Subscribe("b", b)
	defer cancelB()
	m.Publish(7)
	if got := <-a; got != 7 {
		t.Fatalf("a got %d", got)
	}
	if got := <-b; got != 7 {
		t.Fatalf("b got %d", got)
	}
}

func TestLateSubscriberGetsLatest(t *testing.T) {
	m := NewMultiplexer[string]("test")
	m.Publish("old")
	m.Publish("new")
	ch := make(chan string, 1)
	cancel := m.Subscribe("late", ch)
	defer cancel()
	if got := <-ch; got != "new" {
		t.Fatalf("late subscriber got %q", got)
	}
}

func TestFullSubscriberDropsNotBlocks(t *testing.T) {
	m := NewMultiplexer[int]("test")
	ch := make(chan int, 1)
	cancel := m.Subscribe("slow", ch)
	defer cancel()
	m.Publish(1)
	m.Publish(2) // dropped; must not block
	if got := <-ch; got != 1 {
		t.Fatalf("got %d, want first value", got)
	}
	m.Publish(3)
	if got := <-ch; got != 3 {
		t.Fatalf("got %d, want newest value", got)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	m := NewMultiplexer[int]("test")
	ch := make(chan int, 1)
	cancel := m.Subscribe("x", ch)
	cancel()
	m.Publish(9)
	select {
	case v := <-ch:
		t.Fatalf("delivered %d after cancel", v)
	default:
	}
}

func TestLast(t *testing.T) {
	m := NewMultiplexer[int]("test")
	if _, ok := m.Last(); ok {
		t.Fatalf("Last reported a value before any publish")
	}
	m.Publish(4)
	if v, ok := m.Last(); !ok || v != 4 {
		t.Fatalf("Last = %d, %v", v, ok)
	}
}
