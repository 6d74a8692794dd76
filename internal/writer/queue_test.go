package writer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeTransport answers with respond, or OK when respond is nil.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []string
	respond func(text string, call int) (SendResult, error)
}

func (f *fakeTransport) Send(_ context.Context, text string) (SendResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	call := len(f.calls)
	f.mu.Unlock()
	if f.respond == nil {
		return SendResult{OK: true}, nil
	}
	return f.respond(text, call)
}

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestQueue(tr Transport, policy RatePolicy, opts Options, clock *fakeClock) *Queue {
	return NewQueue(tr, policy, opts).WithClock(clock.now)
}

func TestFixedIntervalSendsOnePerTick(t *testing.T) {
	clock := newClock()
	tr := &fakeTransport{}
	q := newTestQueue(tr, NewFixedInterval(), Options{MaxMessages: 1, MaxChars: 4000}, clock)

	q.Enqueue("first")
	q.Enqueue("second")
	q.Enqueue("third")

	if n := q.Drain(context.Background()); n != 1 {
		t.Fatalf("expected 1 send in the first tick, got %d", n)
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 messages to stay queued, got %d", q.Len())
	}

	clock.advance(time.Second)
	q.Drain(context.Background())
	clock.advance(time.Second)
	q.Drain(context.Background())

	got := tr.sent()
	want := []string{"first", "second", "third"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %v in order, got %v", want, got)
	}
}

func TestFixedIntervalBatchesWithinOneTick(t *testing.T) {
	clock := newClock()
	tr := &fakeTransport{}
	q := newTestQueue(tr, NewFixedInterval(), Options{MaxMessages: 20, MaxChars: 4000}, clock)

	q.Enqueue("first")
	q.Enqueue("second")
	q.Enqueue("third")

	if n := q.Drain(context.Background()); n != 1 {
		t.Fatalf("expected one batch, got %d sends", n)
	}
	got := tr.sent()[0]
	want := "📦 Batch of 3 messages\n\nfirst\n\nsecond\n\nthird"
	if got != want {
		t.Fatalf("unexpected batch:\n%q\nwant\n%q", got, want)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestSingleMessageHasNoHeader(t *testing.T) {
	clock := newClock()
	tr := &fakeTransport{}
	q := newTestQueue(tr, NewFixedInterval(), Options{MaxMessages: 20, MaxChars: 4000}, clock)

	q.Enqueue("alone")
	q.Drain(context.Background())
	if got := tr.sent(); len(got) != 1 || got[0] != "alone" {
		t.Fatalf("expected plain message, got %v", got)
	}
}

func TestOversizedMessageIsTruncated(t *testing.T) {
	clock := newClock()
	tr := &fakeTransport{}
	q := newTestQueue(tr, NewFixedInterval(), Options{MaxMessages: 20, MaxChars: 4000}, clock)

	q.Enqueue(strings.Repeat("é", 5000))
	q.Enqueue("next")
	q.Drain(context.Background())

	got := tr.sent()
	if len(got) != 1 {
		t.Fatalf("expected one send, got %d", len(got))
	}
	if n := textLen(got[0]); n != 4000 {
		t.Fatalf("expected truncated payload of 4000 characters, got %d", n)
	}
	if !strings.HasSuffix(got[0], TruncationMarker) {
		t.Fatalf("expected truncation marker at the end")
	}
	if q.Len() != 1 {
		t.Fatalf("expected the next message to stay queued")
	}
}

func TestBatchesNeverExceedCeiling(t *testing.T) {
	clock := newClock()
	tr := &fakeTransport{}
	q := newTestQueue(tr, NewTokenBucket(100, 1), Options{MaxMessages: 20, MaxChars: 4000}, clock)

	var want []string
	for i := 0; i < 60; i++ {
		msg := fmt.Sprintf("%03d %s", i, strings.Repeat("x", 290))
		want = append(want, msg)
		q.Enqueue(msg)
	}
	q.Drain(context.Background())

	if q.Len() != 0 {
		t.Fatalf("expected queue to be drained, %d left", q.Len())
	}
	var delivered []string
	for _, payload := range tr.sent() {
		if n := textLen(payload); n > 4000 {
			t.Fatalf("payload of %d characters exceeds ceiling", n)
		}
		for _, part := range strings.Split(payload, batchSeparator) {
			if strings.HasPrefix(part, "📦") {
				continue
			}
			delivered = append(delivered, part)
		}
	}
	if strings.Join(delivered, "|") != strings.Join(want, "|") {
		t.Fatalf("messages reordered or lost across batches")
	}
	if len(tr.sent()) < 2 {
		t.Fatalf("expected the ceiling to split the queue into several payloads")
	}
}

func TestTokenBucketBoundsSendsPerDrain(t *testing.T) {
	clock := newClock()
	tr := &fakeTransport{}
	q := newTestQueue(tr, NewTokenBucket(2, 0.5), Options{MaxMessages: 1, MaxChars: 4000}, clock)

	for i := 0; i < 5; i++ {
		q.Enqueue(fmt.Sprintf("m%d", i))
	}
	if n := q.Drain(context.Background()); n != 2 {
		t.Fatalf("expected capacity to allow 2 sends, got %d", n)
	}
	clock.advance(time.Second)
	if n := q.Drain(context.Background()); n != 0 {
		t.Fatalf("expected half a token to allow no sends, got %d", n)
	}
	clock.advance(time.Second)
	if n := q.Drain(context.Background()); n != 1 {
		t.Fatalf("expected one refilled token, got %d", n)
	}
}

func TestRateLimitedPayloadHonoursRetryAfter(t *testing.T) {
	clock := newClock()
	tr := &fakeTransport{respond: func(text string, call int) (SendResult, error) {
		if call == 1 {
			return SendResult{RateLimited: true, ErrorCode: 429, RetryAfter: 2 * time.Second}, nil
		}
		return SendResult{OK: true}, nil
	}}
	q := newTestQueue(tr, NewTokenBucket(10, 1), Options{MaxMessages: 1, MaxChars: 4000, MaxAttempts: 3}, clock)

	q.Enqueue("alert")
	if n := q.Drain(context.Background()); n != 0 {
		t.Fatalf("expected throttled send, got %d delivered", n)
	}
	q.Enqueue("behind")

	clock.advance(1999 * time.Millisecond)
	q.Drain(context.Background())
	if got := tr.sent(); len(got) != 1 {
		t.Fatalf("expected no resend before retry_after, got %v", got)
	}

	clock.advance(time.Millisecond)
	if n := q.Drain(context.Background()); n != 2 {
		t.Fatalf("expected retry and the next message, got %d", n)
	}
	got := tr.sent()
	want := []string{"alert", "alert", "behind"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %v, got %v", want, got)
	}

	delivered := 0
	for _, text := range got[1:] {
		if text == "alert" {
			delivered++
		}
	}
	if delivered != 1 {
		t.Fatalf("expected exactly one successful delivery of the throttled payload, got %d", delivered)
	}
}

func TestRetryUsesBackoffWithoutHint(t *testing.T) {
	clock := newClock()
	tr := &fakeTransport{respond: func(text string, call int) (SendResult, error) {
		if call <= 2 {
			return SendResult{RateLimited: true, ErrorCode: 429}, nil
		}
		return SendResult{OK: true}, nil
	}}
	q := newTestQueue(tr, NewTokenBucket(10, 10), Options{MaxMessages: 1, MaxChars: 4000, MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Minute}, clock)

	q.Enqueue("alert")
	q.Drain(context.Background())

	clock.advance(999 * time.Millisecond)
	q.Drain(context.Background())
	if len(tr.sent()) != 1 {
		t.Fatalf("expected first retry to wait for the base delay")
	}
	clock.advance(time.Millisecond)
	q.Drain(context.Background())
	if len(tr.sent()) != 2 {
		t.Fatalf("expected first retry after 1s")
	}

	clock.advance(1999 * time.Millisecond)
	q.Drain(context.Background())
	if len(tr.sent()) != 2 {
		t.Fatalf("expected second retry to wait 2s")
	}
	clock.advance(time.Millisecond)
	if n := q.Drain(context.Background()); n != 1 {
		t.Fatalf("expected second retry to succeed")
	}
}

func TestRetryCapDropsOnlyThatPayload(t *testing.T) {
	clock := newClock()
	tr := &fakeTransport{respond: func(text string, call int) (SendResult, error) {
		if text == "doomed" {
			return SendResult{RateLimited: true, ErrorCode: 429}, nil
		}
		return SendResult{OK: true}, nil
	}}
	q := newTestQueue(tr, NewTokenBucket(10, 10), Options{MaxMessages: 1, MaxChars: 4000, MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: 4 * time.Second}, clock)

	q.Enqueue("doomed")
	q.Enqueue("survivor")

	for i := 0; i < 5; i++ {
		q.Drain(context.Background())
		clock.advance(10 * time.Second)
	}

	doomed := 0
	survived := false
	for _, text := range tr.sent() {
		switch text {
		case "doomed":
			doomed++
		case "survivor":
			survived = true
		}
	}
	if doomed != 3 {
		t.Fatalf("expected first send plus 2 retries, got %d", doomed)
	}
	if !survived {
		t.Fatalf("expected the rest of the queue to be delivered")
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestRejectedPayloadIsDroppedAndDrainContinues(t *testing.T) {
	clock := newClock()
	tr := &fakeTransport{respond: func(text string, call int) (SendResult, error) {
		if text == "bad" {
			return SendResult{ErrorCode: 400, Description: "Bad Request: message text is empty"}, nil
		}
		return SendResult{OK: true}, nil
	}}
	q := newTestQueue(tr, NewTokenBucket(10, 1), Options{MaxMessages: 1, MaxChars: 4000, MaxAttempts: 3}, clock)

	q.Enqueue("bad")
	q.Enqueue("good")
	if n := q.Drain(context.Background()); n != 1 {
		t.Fatalf("expected the good message to be delivered, got %d", n)
	}
	if len(tr.sent()) != 2 || q.Len() != 0 {
		t.Fatalf("expected rejected payload to be dropped without retry, calls=%v", tr.sent())
	}
}

func TestNetworkErrorIsRetried(t *testing.T) {
	clock := newClock()
	tr := &fakeTransport{respond: func(text string, call int) (SendResult, error) {
		if call == 1 {
			return SendResult{}, fmt.Errorf("connection reset")
		}
		return SendResult{OK: true}, nil
	}}
	q := newTestQueue(tr, NewTokenBucket(10, 1), Options{MaxMessages: 1, MaxChars: 4000, MaxAttempts: 3, BaseDelay: time.Second}, clock)

	q.Enqueue("alert")
	q.Drain(context.Background())
	if q.Len() != 1 {
		t.Fatalf("expected payload to wait for retry")
	}
	clock.advance(time.Second)
	if n := q.Drain(context.Background()); n != 1 {
		t.Fatalf("expected retry to deliver")
	}
}

func TestConcurrentEnqueueKeepsEveryMessage(t *testing.T) {
	clock := newClock()
	tr := &fakeTransport{}
	q := newTestQueue(tr, NewTokenBucket(1000, 1), Options{MaxMessages: 1, MaxChars: 4000}, clock)

	const producers, perProducer = 8, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(fmt.Sprintf("%d:%03d", p, i))
			}
		}(p)
	}
	wg.Wait()

	if q.Len() != producers*perProducer {
		t.Fatalf("expected %d queued, got %d", producers*perProducer, q.Len())
	}
	q.Drain(context.Background())

	last := make(map[string]string)
	for _, text := range tr.sent() {
		parts := strings.SplitN(text, ":", 2)
		if prev, ok := last[parts[0]]; ok && parts[1] <= prev {
			t.Fatalf("producer %s reordered: %s after %s", parts[0], parts[1], prev)
		}
		last[parts[0]] = parts[1]
	}
	if len(tr.sent()) != producers*perProducer {
		t.Fatalf("expected every message delivered, got %d", len(tr.sent()))
	}
}

func TestDeliveryDisabledDropsPayload(t *testing.T) {
	clock := newClock()
	q := newTestQueue(newTelegram(telegramConfig("", ""), "http://unused", nil), NewFixedInterval(), Options{MaxMessages: 1}, clock)
	q.Enqueue("hello")
	if n := q.Drain(context.Background()); n != 0 {
		t.Fatalf("expected nothing delivered")
	}
	if q.Len() != 0 {
		t.Fatalf("expected payload to be dropped while delivery is disabled")
	}
}

func TestEnqueueIgnoresBlankText(t *testing.T) {
	q := NewQueue(&fakeTransport{}, NewFixedInterval(), Options{})
	q.Enqueue("   ")
	if q.Len() != 0 {
		t.Fatalf("expected blank text to be ignored")
	}
}
