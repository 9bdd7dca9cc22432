package resilient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func TestCallWithRetry_BacksOffOn503ThenFails(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("overloaded"))
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	c := New(WithSleeper(rec.sleep))

	_, err := c.CallWithRetry(context.Background(), Request{Method: http.MethodGet, URL: srv.URL}, RetryOptions{MaxRetries: 3, Timeout: time.Second})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 StatusError, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 4 {
		t.Fatalf("expected 4 attempts, got %d", got)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if fmt.Sprint(rec.delays) != fmt.Sprint(want) {
		t.Fatalf("expected delays %v, got %v", want, rec.delays)
	}
}

func TestCallWithRetry_404IsNeverRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	c := New(WithSleeper(rec.sleep))

	resp, err := c.CallWithRetry(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, Body: []byte(`{}`)}, RetryOptions{MaxRetries: 3})
	if err != nil {
		t.Fatalf("expected 4xx returned as-is, got err %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if hits != 1 || len(rec.delays) != 0 {
		t.Fatalf("expected single attempt without sleeping, hits=%d delays=%v", hits, rec.delays)
	}
}

func TestCallWithRetry_RetryOn4xx(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	c := New(WithSleeper(rec.sleep))

	resp, err := c.CallWithRetry(context.Background(), Request{Method: http.MethodGet, URL: srv.URL}, RetryOptions{MaxRetries: 2, RetryOn4xx: true})
	if err != nil || !resp.OK() {
		t.Fatalf("expected success on second attempt, resp=%v err=%v", resp, err)
	}
	if len(rec.delays) != 1 || rec.delays[0] != time.Second {
		t.Fatalf("expected one 1s delay, got %v", rec.delays)
	}
}

func TestCallWithTimeout_ReturnsErrTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New()
	_, err := c.CallWithTimeout(context.Background(), Request{Method: http.MethodGet, URL: srv.URL}, 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

type scriptedTransport struct {
	calls int
	errs  []error
}

func (s *scriptedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(`{"batch_id":"b1"}`)),
		Request:    r,
	}, nil
}

func TestCallWithConnectionResetRetry_RetriesOnceAfterReset(t *testing.T) {
	tr := &scriptedTransport{errs: []error{syscall.ECONNRESET}}
	rec := &sleepRecorder{}
	c := New(WithHTTPClient(&http.Client{Transport: tr}), WithSleeper(rec.sleep))

	resp, err := c.CallWithConnectionResetRetry(context.Background(), Request{Method: http.MethodPost, URL: "http://callcenter.test/batches"}, time.Second)
	if err != nil || !resp.OK() {
		t.Fatalf("expected success after one retry, resp=%v err=%v", resp, err)
	}
	if tr.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", tr.calls)
	}
	if len(rec.delays) != 1 || rec.delays[0] != 2*time.Second {
		t.Fatalf("expected a single 2s delay, got %v", rec.delays)
	}
}

func TestCallWithConnectionResetRetry_OnlyOneRetry(t *testing.T) {
	tr := &scriptedTransport{errs: []error{syscall.ECONNRESET, errors.New("read: connection reset by peer")}}
	rec := &sleepRecorder{}
	c := New(WithHTTPClient(&http.Client{Transport: tr}), WithSleeper(rec.sleep))

	if _, err := c.CallWithConnectionResetRetry(context.Background(), Request{Method: http.MethodPost, URL: "http://callcenter.test/batches"}, time.Second); err == nil {
		t.Fatalf("expected error after second reset")
	}
	if tr.calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", tr.calls)
	}
}

func TestCallWithConnectionResetRetry_IgnoresOtherFailures(t *testing.T) {
	tr := &scriptedTransport{errs: []error{errors.New("dial tcp: no such host")}}
	rec := &sleepRecorder{}
	c := New(WithHTTPClient(&http.Client{Transport: tr}), WithSleeper(rec.sleep))

	if _, err := c.CallWithConnectionResetRetry(context.Background(), Request{Method: http.MethodPost, URL: "http://callcenter.test/batches"}, time.Second); err == nil {
		t.Fatalf("expected error")
	}
	if tr.calls != 1 || len(rec.delays) != 0 {
		t.Fatalf("expected no retry, calls=%d delays=%v", tr.calls, rec.delays)
	}
}

func TestIsConnectionReset(t *testing.T) {
	cases := map[string]bool{
		"socket hang up":                      true,
		"write: broken pipe":                  true,
		"read tcp: connection reset by peer":  true,
		"ECONNRESET":                          true,
		"dial tcp 10.0.0.1:443: i/o timeout":  false,
		"x509: certificate signed by unknown": false,
	}
	for msg, want := range cases {
		if got := IsConnectionReset(errors.New(msg)); got != want {
			t.Fatalf("%q: expected %v, got %v", msg, want, got)
		}
	}
}
