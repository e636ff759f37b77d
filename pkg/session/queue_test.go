package session

import "testing"

func TestAudioQueue(t *testing.T) {
	t.Run("fifo order", func(t *testing.T) {
		q := NewAudioQueue(3)
		for i := byte(1); i <= 3; i++ {
			if !q.Push(Frame{Generation: 1, Payload: []byte{i}}) {
				t.Fatalf("push %d failed", i)
			}
		}
		for i := byte(1); i <= 3; i++ {
			f, ok := q.Pop()
			if !ok || f.Payload[0] != i {
				t.Fatalf("pop = %v, %v; want %d", f.Payload, ok, i)
			}
		}
		if _, ok := q.Pop(); ok {
			t.Error("pop on empty queue should fail")
		}
	})

	t.Run("bounded", func(t *testing.T) {
		q := NewAudioQueue(2)
		q.Push(Frame{Payload: []byte{1}})
		q.Push(Frame{Payload: []byte{2}})

		if !q.Full() {
			t.Error("queue should be full")
		}
		if q.Push(Frame{Payload: []byte{3}}) {
			t.Error("push beyond capacity should fail")
		}
		if q.Len() != 2 {
			t.Errorf("Len() = %d, want 2", q.Len())
		}
	})

	t.Run("wraps after pops", func(t *testing.T) {
		q := NewAudioQueue(2)
		for round := 0; round < 10; round++ {
			if !q.Push(Frame{Payload: []byte{byte(round)}}) {
				t.Fatalf("round %d: push failed with len %d", round, q.Len())
			}
			if round%2 == 1 {
				q.Pop()
				q.Pop()
			}
		}
	})

	t.Run("clear counts audio frames only", func(t *testing.T) {
		q := NewAudioQueue(5)
		q.Push(Frame{Payload: []byte{1}})
		q.Push(Frame{Mark: "m1"})
		q.Push(Frame{Payload: []byte{2}})
		q.Pop()

		if n := q.Clear(); n != 1 {
			t.Errorf("Clear() = %d, want 1", n)
		}
		if q.Len() != 0 {
			t.Errorf("Len() after Clear = %d", q.Len())
		}
		if _, ok := q.Peek(); ok {
			t.Error("Peek on cleared queue should fail")
		}
	})

	t.Run("minimum capacity", func(t *testing.T) {
		if NewAudioQueue(0).Cap() != 1 {
			t.Error("capacity should be at least 1")
		}
	})
}
