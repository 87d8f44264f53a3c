package serialmux

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sonar.tracker/internal/timeutil"
)

func recvLine(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line, ok := <-ch:
		require.True(t, ok, "channel closed before a line arrived")
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
		return ""
	}
}

func TestNewSerialMux(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NotNil(t, mux)
	assert.Same(t, port, mux.port)
	assert.NotNil(t, mux.subscribers)
}

func TestSerialMux_SubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	id1, ch1 := mux.Subscribe()
	id2, ch2 := mux.Subscribe()
	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
	assert.NotNil(t, ch1)
	assert.NotNil(t, ch2)
	assert.Len(t, mux.subscribers, 2)

	mux.Unsubscribe(id1)
	_, ok := <-ch1
	assert.False(t, ok, "unsubscribed channel should be closed")
	assert.Len(t, mux.subscribers, 1)

	// unknown ids are ignored
	mux.Unsubscribe("does-not-exist")
	assert.Len(t, mux.subscribers, 1)
}

func TestSerialMux_MonitorFansOutLines(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	_, a := mux.Subscribe()
	_, b := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.AddReadData([]byte("10,20,30\r\n12,,9\n"))

	assert.Equal(t, "10,20,30", recvLine(t, a))
	assert.Equal(t, "12,,9", recvLine(t, a))
	assert.Equal(t, "10,20,30", recvLine(t, b))
	assert.Equal(t, "12,,9", recvLine(t, b))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
	port.Close()
}

func TestSerialMux_MonitorReturnsOnEOF(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("1,2,3\n"))
	port.Close()
	mux := NewSerialMux(port)

	err := mux.Monitor(context.Background())
	assert.NoError(t, err)
}

func TestSerialMux_MonitorReturnsReadError(t *testing.T) {
	port := NewTestableSerialPort()
	port.ReadError = errors.New("device unplugged")
	mux := NewSerialMux(port)

	err := mux.Monitor(context.Background())
	assert.EqualError(t, err, "device unplugged")
}

func TestSerialMux_SlowSubscriberDoesNotBlock(t *testing.T) {
	port := NewTestableSerialPort()
	var sb strings.Builder
	for i := 0; i < subscriberBuffer+10; i++ {
		sb.WriteString("1,2,3\n")
	}
	port.AddReadData([]byte(sb.String()))
	port.Close()

	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	require.NoError(t, mux.Monitor(context.Background()))
	assert.Len(t, ch, subscriberBuffer)
	assert.Equal(t, uint64(10), mux.Dropped())
}

func TestSerialMux_SendCommand(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*TestableSerialPort)
		command string
		want    string
		wantErr error
	}{
		{name: "appends newline", command: "PING", want: "PING\n"},
		{name: "keeps existing newline", command: "PING\n", want: "PING\n"},
		{
			name:    "write error",
			setup:   func(p *TestableSerialPort) { p.WriteError = errors.New("boom") },
			command: "PING",
		},
		{
			name:    "short write",
			setup:   func(p *TestableSerialPort) { p.ShortWrite = true },
			command: "PING",
			want:    "PING",
			wantErr: ErrWriteFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := NewTestableSerialPort()
			if tt.setup != nil {
				tt.setup(port)
			}
			mux := NewSerialMux(port)

			err := mux.SendCommand(tt.command)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.setup != nil:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, string(port.GetWrittenData()))
		})
	}
}

func TestSerialMux_Close(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	require.NoError(t, mux.Close())
	_, ok := <-ch
	assert.False(t, ok)
	assert.True(t, port.Closed)

	// second close is a no-op
	require.NoError(t, mux.Close())

	// subscribing after close yields a closed channel
	_, late := mux.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}

func TestSerialMux_ConcurrentSubscribers(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := mux.Subscribe()
			mux.Unsubscribe(id)
		}()
	}
	wg.Wait()
	assert.Empty(t, mux.subscribers)
}

func localRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestSerialMux_AdminRoutes(t *testing.T) {
	port := NewTestableSerialPort()
	sm := NewSerialMux(port)
	mux := http.NewServeMux()
	sm.AttachAdminRoutes(mux)

	t.Run("send-command page", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, localRequest(http.MethodGet, "/debug/send-command", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, w.Body.String(), "tail.js")
	})

	t.Run("send-command-api", func(t *testing.T) {
		form := url.Values{"command": {"STATUS"}}
		req := localRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "STATUS\n", string(port.GetWrittenData()))
	})

	t.Run("send-command-api rejects GET", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, localRequest(http.MethodGet, "/debug/send-command-api", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("send-command-api requires command", func(t *testing.T) {
		req := localRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(""))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("tail.js", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, localRequest(http.MethodGet, "/debug/tail.js", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/javascript", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Body.String(), "EventSource")
	})
}

func TestSerialMux_TailStreamsLines(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	sm := NewSerialMux(port)
	mux := http.NewServeMux()
	sm.AttachAdminRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sm.Monitor(ctx)
	defer port.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/tail", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	ping, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", ping)

	// the handler has subscribed once the ping is flushed
	port.AddReadData([]byte("5,6,7\n"))

	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			assert.Equal(t, "data: 5,6,7\n", line)
			break
		}
	}
}

func TestNewMockSerialMux_ReplaysCyclically(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	sm, err := NewMockSerialMux([]string{"1,2,3", "4,5,6"}, 100*time.Millisecond, clock)
	require.NoError(t, err)
	defer sm.Close()

	_, ch := sm.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sm.Monitor(ctx)

	want := []string{"1,2,3", "4,5,6", "1,2,3"}
	for _, w := range want {
		clock.Advance(100 * time.Millisecond)
		assert.Equal(t, w, recvLine(t, ch))
	}

	require.NoError(t, sm.SendCommand("RESET"))
	assert.Equal(t, "RESET\n", sm.port.Written())
}

func TestNewMockSerialMux_Errors(t *testing.T) {
	_, err := NewMockSerialMux(nil, time.Second, nil)
	assert.Error(t, err)

	_, err = NewMockSerialMux([]string{"1,2,3"}, 0, nil)
	assert.Error(t, err)
}

func TestMockSerialPort_CloseUnblocksReaders(t *testing.T) {
	port := NewMockSerialPort()
	mux := NewSerialMux(port)

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	require.NoError(t, port.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after port close")
	}

	_, err := port.Write([]byte("X\n"))
	assert.Error(t, err)
	assert.Error(t, port.Emit("1,2,3"))
}

func TestLoadFixtureLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fixture.txt")
	body := "# recorded sweep\n10,20,30\n\n  12,,9  \n# trailing comment\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	lines, err := LoadFixtureLines(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"10,20,30", "12,,9"}, lines)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0644))
	_, err = LoadFixtureLines(empty)
	assert.Error(t, err)

	_, err = LoadFixtureLines(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}
