package accumulate

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestMailboxKeepsLatest(t *testing.T) {
	mb := NewMailbox()
	first := &Frame{Timestamp: time.Unix(1, 0)}
	second := &Frame{Timestamp: time.Unix(2, 0)}

	test.That(t, mb.Put(first), test.ShouldBeFalse)
	test.That(t, mb.Put(second), test.ShouldBeTrue)
	test.That(t, mb.Dropped(), test.ShouldEqual, uint64(1))

	got, err := mb.Take(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldEqual, second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = mb.Take(ctx)
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)
}

func TestMailboxTakeBlocks(t *testing.T) {
	mb := NewMailbox()
	frame := &Frame{Timestamp: time.Unix(3, 0)}
	got := make(chan *Frame)
	go func() {
		f, err := mb.Take(context.Background())
		if err != nil {
			close(got)
			return
		}
		got <- f
	}()

	select {
	case <-got:
		t.Fatal("Take returned before a frame was put")
	case <-time.After(20 * time.Millisecond):
	}
	mb.Put(frame)
	test.That(t, <-got, test.ShouldEqual, frame)
}

func TestMailboxClose(t *testing.T) {
	mb := NewMailbox()
	frame := &Frame{}
	mb.Put(frame)
	mb.Close()
	mb.Close()

	got, err := mb.Take(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldEqual, frame)

	_, err = mb.Take(context.Background())
	test.That(t, errors.Is(err, ErrMailboxClosed), test.ShouldBeTrue)

	test.That(t, mb.Put(&Frame{}), test.ShouldBeFalse)
	test.That(t, mb.Dropped(), test.ShouldEqual, uint64(1))
}
