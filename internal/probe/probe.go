package probe

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// HealthState is the outcome of a liveness probe. A probe that cannot reach
// the target at all yields Unknown, never an error: unreachability is a
// normal state for an operational tool, not a fault in the tool.
type HealthState string

const (
	Healthy   HealthState = "healthy"
	Unhealthy HealthState = "unhealthy"
	Unknown   HealthState = "unknown"
)

func (s HealthState) String() string { return string(s) }

// HealthBody is the JSON document health endpoints are expected to return.
type HealthBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Version string `json:"version,omitempty"`
}

// Health probes url with a bounded timeout. Any 2xx response is Healthy,
// any other response is Unhealthy, and timeout/connection-refused both map
// to Unknown. The response body, when parseable, is returned for display.
func Health(url string, timeout time.Duration) (HealthState, HealthBody) {
	var body HealthBody
	if url == "" {
		return Unknown, body
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(url)
	if err != nil {
		return Unknown, body
	}
	defer func() { _ = resp.Body.Close() }()
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Healthy, body
	}
	return Unhealthy, body
}

// Port reports whether a TCP connection to the local port succeeds within
// the timeout. Used as the liveness fallback for services without a health
// endpoint.
func Port(port int, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// WaitHealthy polls until the probe reports Healthy, with bounded retries
// and a fixed backoff between attempts. Returns the last observed state.
// When url is empty the port probe is used instead.
func WaitHealthy(url string, port int, attempts int, backoff, timeout time.Duration) HealthState {
	if attempts <= 0 {
		attempts = 5
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	last := Unknown
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(backoff)
		}
		if url != "" {
			state, _ := Health(url, timeout)
			last = state
		} else if Port(port, timeout) {
			last = Healthy
		} else {
			last = Unknown
		}
		if last == Healthy {
			return last
		}
	}
	return last
}
