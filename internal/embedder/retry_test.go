package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"
)

// timeoutErr is a net.Error reporting a timeout.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, Fatal},
		{"rate limited", &APIError{StatusCode: http.StatusTooManyRequests}, Retryable},
		{"server error", &APIError{StatusCode: http.StatusInternalServerError}, Retryable},
		{"bad gateway wrapped", fmt.Errorf("call: %w", &APIError{StatusCode: http.StatusBadGateway}), Retryable},
		{"bad request", &APIError{StatusCode: http.StatusBadRequest}, Fatal},
		{"unauthorized", &APIError{StatusCode: http.StatusUnauthorized}, Fatal},
		{"connection", &ConnectionError{Err: syscall.ECONNREFUSED}, Retryable},
		{"net timeout", fmt.Errorf("read: %w", timeoutErr{}), Retryable},
		{"canceled", context.Canceled, Fatal},
		{"canceled inside connection error", &ConnectionError{Err: context.Canceled}, Fatal},
		{"deadline", context.DeadlineExceeded, Fatal},
		{"plain", errors.New("boom"), Fatal},
		{"not exist", os.ErrNotExist, Fatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	t.Parallel()
	p := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 60 * time.Second}
	plain := &APIError{StatusCode: http.StatusServiceUnavailable}

	tests := []struct {
		name string
		prev time.Duration
		err  error
		want time.Duration
	}{
		{"first retry", 0, plain, time.Second},
		{"doubles", time.Second, plain, 2 * time.Second},
		{"doubles again", 4 * time.Second, plain, 8 * time.Second},
		{"capped", 40 * time.Second, plain, 60 * time.Second},
		{"retry-after wins", 0, &APIError{StatusCode: 429, RetryAfter: 5 * time.Second}, 5 * time.Second},
		{"retry-after capped", 0, &APIError{StatusCode: 429, RetryAfter: 10 * time.Minute}, 60 * time.Second},
		{"shorter retry-after ignored", 2 * time.Second, &APIError{StatusCode: 429, RetryAfter: time.Second}, 4 * time.Second},
		{"doubling continues past a retry-after", 5 * time.Second, &APIError{StatusCode: 429, RetryAfter: 5 * time.Second}, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := p.Delay(tt.prev, tt.err); got != tt.want {
				t.Errorf("Delay(%v) = %v, want %v", tt.prev, got, tt.want)
			}
		})
	}
}

func TestRetryPolicy_JitterStaysBounded(t *testing.T) {
	t.Parallel()
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 60 * time.Second, Jitter: true}
	for range 100 {
		d := p.jittered(2 * time.Second)
		if d < 2*time.Second || d > 2400*time.Millisecond {
			t.Fatalf("jittered delay %v outside [2s, 2.4s]", d)
		}
	}
}

func TestRetryPolicy_RepeatedRetryAfterKeepsBackingOff(t *testing.T) {
	t.Parallel()
	p := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 60 * time.Second}
	throttled := &APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: 5 * time.Second}

	var waits []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	err := p.do(context.Background(), sleep, func(context.Context) error { return throttled }, nil)

	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want RetryExhaustedError", err)
	}
	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	if fmt.Sprint(waits) != fmt.Sprint(want) {
		t.Errorf("waits = %v, want %v", waits, want)
	}
}

func TestRetryPolicy_Do(t *testing.T) {
	t.Parallel()
	calls := 0
	var retries []int
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &ConnectionError{Err: errors.New("reset")}
		}
		return nil
	}, func(attempt int, _ time.Duration, _ error) {
		retries = append(retries, attempt)
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 || fmt.Sprint(retries) != "[1 2]" {
		t.Errorf("calls=%d retries=%v, want 3 calls and retries [1 2]", calls, retries)
	}
}

func TestRetryPolicy_DefaultsFillZeroValue(t *testing.T) {
	t.Parallel()
	got := RetryPolicy{}.withDefaults()
	if got != DefaultRetryPolicy() {
		t.Errorf("withDefaults() = %+v, want %+v", got, DefaultRetryPolicy())
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"absent", "", 0},
		{"seconds", "7", 7 * time.Second},
		{"http date", now.Add(30 * time.Second).Format(http.TimeFormat), 30 * time.Second},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"garbage", "soon", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := http.Header{}
			if tt.value != "" {
				h.Set("Retry-After", tt.value)
			}
			if got := parseRetryAfter(h, now); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestGroupError_UnwrapsEveryFailure(t *testing.T) {
	t.Parallel()
	sentinel := errors.New("sentinel")
	err := &GroupError{Failures: []*GroupFailure{
		{Group: 0, Start: 0, End: 2, Err: errors.New("other")},
		{Group: 3, Start: 6, End: 8, Err: fmt.Errorf("wrapped: %w", sentinel)},
	}}

	if !errors.Is(err, sentinel) {
		t.Error("errors.Is does not reach the second failure")
	}
	var gf *GroupFailure
	if !errors.As(err, &gf) || gf.Group != 0 {
		t.Errorf("errors.As = %+v, want first failure", gf)
	}
}
