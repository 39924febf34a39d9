package www

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/olenive/petrivelte/events"
	"github.com/olenive/petrivelte/store"
)

func openStream(t *testing.T, ts *testServer, client *http.Client) (*http.Response, *bufio.Reader) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/events", nil)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d", resp.StatusCode)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp, bufio.NewReader(resp.Body)
}

// readLine reads one line off the stream with a deadline, so a dead stream
// fails the test instead of hanging it.
func readLine(t *testing.T, r *bufio.Reader, timeout time.Duration) (string, error) {
	t.Helper()
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := r.ReadString('\n')
		ch <- result{line, err}
	}()
	select {
	case res := <-ch:
		return strings.TrimRight(res.line, "\n"), res.err
	case <-time.After(timeout):
		t.Fatal("timed out reading stream")
		return "", nil
	}
}

func TestStreamDeliversOwnEvents(t *testing.T) {
	ts := newTestServer(t)
	client := ts.loginAs(t, "alice")
	_, reader := openStream(t, ts, client)

	// Let the handler register before dispatching.
	waitForQueues(t, ts, 1)

	ts.listener.Dispatch(events.Event{
		Type: events.TypeWorkerStateChanged, WorkerID: "w1",
		Status: store.WorkerError, StatusDetail: store.DetailUnreachable,
		Owner: "alice",
	})
	ts.listener.Dispatch(events.Event{
		Type: events.TypeNetStateChanged, NetID: "n1",
		LoadState: store.NetUnloaded, Owner: "bob",
	})

	line := nextDataLine(t, reader)
	var evt events.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
		t.Fatalf("decode frame %q: %v", line, err)
	}
	if evt.WorkerID != "w1" || evt.StatusDetail != store.DetailUnreachable {
		t.Errorf("event = %#v", evt)
	}
	if evt.Owner != "" {
		t.Errorf("observer frame leaks owner %q", evt.Owner)
	}

	// Bob's event must never arrive; the next frame on an idle stream is a
	// keepalive comment.
	line, err := readLine(t, reader, time.Second)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for line == "" {
		line, err = readLine(t, reader, time.Second)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	if !strings.HasPrefix(line, ":") {
		t.Errorf("expected keepalive comment, got %q", line)
	}
}

func TestSecondStreamSupersedesFirst(t *testing.T) {
	ts := newTestServer(t)
	client := ts.loginAs(t, "alice")

	first, firstReader := openStream(t, ts, client)
	waitForQueues(t, ts, 1)

	_, secondReader := openStream(t, ts, client)
	waitForQueues(t, ts, 1)

	// The first stream ends; draining it hits EOF.
	drainUntilEOF(t, firstReader)
	first.Body.Close()

	// The second stream still delivers.
	ts.listener.Dispatch(events.Event{
		Type: events.TypeWorkerStateChanged, WorkerID: "w1",
		Status: store.WorkerReady, Owner: "alice",
	})
	line := nextDataLine(t, secondReader)
	if !strings.Contains(line, "w1") {
		t.Errorf("second stream frame = %q", line)
	}
}

func TestThirdStreamCancelsSecond(t *testing.T) {
	ts := newTestServer(t)
	client := ts.loginAs(t, "alice")

	first, firstReader := openStream(t, ts, client)
	waitForQueues(t, ts, 1)

	second, secondReader := openStream(t, ts, client)
	// Let the first handler tear down completely; its cleanup must not
	// evict the second stream's registration.
	drainUntilEOF(t, firstReader)
	first.Body.Close()
	waitForQueues(t, ts, 1)

	_, thirdReader := openStream(t, ts, client)

	// The second stream must be cancelled even though the first's teardown
	// ran after the second registered.
	drainUntilEOF(t, secondReader)
	second.Body.Close()
	waitForQueues(t, ts, 1)

	ts.listener.Dispatch(events.Event{
		Type: events.TypeWorkerStateChanged, WorkerID: "w1",
		Status: store.WorkerReady, Owner: "alice",
	})
	line := nextDataLine(t, thirdReader)
	if !strings.Contains(line, "w1") {
		t.Errorf("third stream frame = %q", line)
	}
}

// drainUntilEOF reads a superseded stream until it ends, failing if it is
// still alive after two seconds.
func drainUntilEOF(t *testing.T, r *bufio.Reader) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := readLine(t, r, time.Second); err != nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("superseded stream still alive")
		}
	}
}

// waitForQueues blocks until the listener holds exactly n queues.
func waitForQueues(t *testing.T, ts *testServer, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for ts.listener.QueueCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("QueueCount = %d, want %d", ts.listener.QueueCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// nextDataLine skips keepalives and blank separators until a data frame
// arrives.
func nextDataLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := readLine(t, r, 2*time.Second)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			return line
		}
	}
}
