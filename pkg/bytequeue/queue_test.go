package bytequeue

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestPushPopOrder(t *testing.T) {
	q := New()
	for i := 0; i < 100; i++ {
		if err := q.Push(byte(i)); err != nil {
			t.Fatalf("Push(%d) failed: %v", i, err)
		}
	}
	if q.Len() != 100 {
		t.Fatalf("Len() = %d, want 100", q.Len())
	}
	for i := 0; i < 100; i++ {
		b, err := q.Pop()
		if err != nil {
			t.Fatalf("Pop() failed at %d: %v", i, err)
		}
		if b != byte(i) {
			t.Fatalf("Pop() = %d, want %d", b, i)
		}
	}
	if !q.IsEmpty() {
		t.Error("queue should be empty")
	}
}

func TestPopEmptyUnderflow(t *testing.T) {
	q := New()
	if _, err := q.Pop(); !errors.Is(err, ErrUnderflow) {
		t.Errorf("expected ErrUnderflow, got %v", err)
	}

	_ = q.Push(1)
	buf := make([]byte, 2)
	if _, err := q.PopInto(buf); !errors.Is(err, ErrUnderflow) {
		t.Errorf("expected ErrUnderflow from PopInto, got %v", err)
	}
	if q.Len() != 1 {
		t.Errorf("failed PopInto must not consume, Len() = %d", q.Len())
	}
}

func TestGrowthPolicy(t *testing.T) {
	q, err := NewWithCapacity(3)
	if err != nil {
		t.Fatalf("NewWithCapacity failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		_ = q.Push(byte(i))
	}
	// 3 -> 7
	if q.Cap() != 7 {
		t.Errorf("Cap() = %d, want 7", q.Cap())
	}
}

func TestZeroCapacityGrows(t *testing.T) {
	q, err := NewWithCapacity(0)
	if err != nil {
		t.Fatalf("NewWithCapacity(0) failed: %v", err)
	}
	if err := q.Push(42); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	b, _ := q.Pop()
	if b != 42 {
		t.Errorf("Pop() = %d, want 42", b)
	}
}

func TestWrapAroundThenGrow(t *testing.T) {
	q, _ := NewWithCapacity(4)
	for _, b := range []byte{1, 2, 3, 4} {
		_ = q.Push(b)
	}
	_, _ = q.Pop()
	_, _ = q.Pop()
	_ = q.Push(5)
	_ = q.Push(6) // wrapped: front=2
	_ = q.Push(7) // grows while wrapped

	got := q.DrainAll()
	want := []byte{3, 4, 5, 6, 7}
	if !bytes.Equal(got, want) {
		t.Errorf("DrainAll() = %v, want %v", got, want)
	}
}

func TestEnsureCapacity(t *testing.T) {
	q, _ := NewWithCapacity(4)
	for _, b := range []byte{1, 2, 3} {
		_ = q.Push(b)
	}
	_, _ = q.Pop()
	_ = q.Push(4)
	_ = q.Push(5)

	if err := q.EnsureCapacity(2); err != nil {
		t.Fatalf("EnsureCapacity(2) failed: %v", err)
	}
	if q.Cap() != 4 {
		t.Errorf("EnsureCapacity below capacity changed Cap() to %d", q.Cap())
	}

	if err := q.EnsureCapacity(32); err != nil {
		t.Fatalf("EnsureCapacity(32) failed: %v", err)
	}
	if q.Cap() != 32 {
		t.Errorf("Cap() = %d, want 32", q.Cap())
	}
	if got := q.DrainAll(); !bytes.Equal(got, []byte{2, 3, 4, 5}) {
		t.Errorf("DrainAll() = %v, want [2 3 4 5]", got)
	}
}

func TestCapacityExhausted(t *testing.T) {
	q, err := NewBounded(2, 3)
	if err != nil {
		t.Fatalf("NewBounded failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := q.Push(byte(i)); err != nil {
			t.Fatalf("Push(%d) failed: %v", i, err)
		}
	}
	if err := q.Push(9); !errors.Is(err, ErrCapacityExhausted) {
		t.Errorf("expected ErrCapacityExhausted, got %v", err)
	}
	if err := q.PushAll([]byte{1}); !errors.Is(err, ErrCapacityExhausted) {
		t.Errorf("expected ErrCapacityExhausted from PushAll, got %v", err)
	}
	if err := q.EnsureCapacity(4); !errors.Is(err, ErrCapacityExhausted) {
		t.Errorf("expected ErrCapacityExhausted from EnsureCapacity, got %v", err)
	}
	if q.Len() != 3 {
		t.Errorf("Len() = %d after failed pushes, want 3", q.Len())
	}
}

func TestNewBoundedValidation(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		limit    int
	}{
		{"negative capacity", -1, 10},
		{"zero limit", 0, 0},
		{"capacity above limit", 11, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBounded(tt.capacity, tt.limit); !errors.Is(err, ErrInvalidCapacity) {
				t.Errorf("expected ErrInvalidCapacity, got %v", err)
			}
		})
	}
}

func TestPeekAndDiscard(t *testing.T) {
	q, _ := NewWithCapacity(4)
	_ = q.PushAll([]byte{1, 2, 3})
	_ = q.Discard(2)
	_ = q.PushAll([]byte{4, 5, 6}) // wraps

	head := make([]byte, 3)
	if n := q.Peek(head); n != 3 || !bytes.Equal(head, []byte{3, 4, 5}) {
		t.Errorf("Peek() = %d %v, want 3 [3 4 5]", n, head)
	}
	if q.Len() != 4 {
		t.Errorf("Peek consumed bytes, Len() = %d", q.Len())
	}
	if err := q.Discard(5); !errors.Is(err, ErrUnderflow) {
		t.Errorf("expected ErrUnderflow, got %v", err)
	}
	if err := q.Discard(4); err != nil {
		t.Fatalf("Discard(4) failed: %v", err)
	}
	if !q.IsEmpty() {
		t.Error("queue should be empty after discarding everything")
	}
}

func TestPushAllWraps(t *testing.T) {
	q, _ := NewWithCapacity(5)
	_ = q.PushAll([]byte{1, 2, 3, 4})
	_ = q.Discard(3)
	if err := q.PushAll([]byte{5, 6, 7}); err != nil {
		t.Fatalf("PushAll failed: %v", err)
	}
	if q.Cap() != 5 {
		t.Errorf("PushAll grew unnecessarily: Cap() = %d", q.Cap())
	}
	out := make([]byte, 4)
	if _, err := q.PopInto(out); err != nil {
		t.Fatalf("PopInto failed: %v", err)
	}
	if !bytes.Equal(out, []byte{4, 5, 6, 7}) {
		t.Errorf("PopInto = %v, want [4 5 6 7]", out)
	}
}

func TestClearKeepsCapacity(t *testing.T) {
	q := New()
	_ = q.PushAll(bytes.Repeat([]byte{7}, 50))
	c := q.Cap()
	q.Clear()
	if q.Len() != 0 || q.Cap() != c {
		t.Errorf("Clear(): Len=%d Cap=%d, want 0 %d", q.Len(), q.Cap(), c)
	}
}

// Random pushes and pops interleaved with growth requests must preserve
// the input order and the N-M size relation.
func TestRandomizedOrderPreserved(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 50; round++ {
		q, _ := NewWithCapacity(rng.Intn(4))
		var model []byte
		pushed, popped := 0, 0

		for step := 0; step < 500; step++ {
			switch op := rng.Intn(10); {
			case op < 5:
				b := byte(rng.Intn(256))
				if err := q.Push(b); err != nil {
					t.Fatalf("Push failed: %v", err)
				}
				model = append(model, b)
				pushed++
			case op < 8 && len(model) > 0:
				b, err := q.Pop()
				if err != nil {
					t.Fatalf("Pop failed: %v", err)
				}
				if b != model[0] {
					t.Fatalf("round %d step %d: Pop() = %d, want %d", round, step, b, model[0])
				}
				model = model[1:]
				popped++
			default:
				if err := q.EnsureCapacity(q.Cap() + rng.Intn(16)); err != nil {
					t.Fatalf("EnsureCapacity failed: %v", err)
				}
			}
			if q.Len() != pushed-popped {
				t.Fatalf("Len() = %d, want %d", q.Len(), pushed-popped)
			}
		}

		if got := q.DrainAll(); !bytes.Equal(got, model) {
			t.Fatalf("round %d: DrainAll() order mismatch", round)
		}
	}
}
