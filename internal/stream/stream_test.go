package stream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/sonar.tracker/internal/sonar"
)

func testCycle(seq uint64, x, y float64, n int) sonar.Cycle {
	return sonar.Cycle{
		Seq:  seq,
		Time: time.Date(2026, 3, 1, 12, 0, 0, int(seq)*int(time.Millisecond), time.UTC),
		Raw:  sonar.RawReading{30, -1, 32},
		Result: sonar.EstimationResult{
			Position:    sonar.Position{X: x, Y: y},
			SensorCount: n,
			Subset:      sonar.SubsetLeftRight,
		},
	}
}

// startBufconn serves p on an in-memory listener and returns a client
// connection to it.
func startBufconn(t *testing.T, p *Publisher) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	require.NoError(t, p.Serve(lis))
	t.Cleanup(p.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestCycleToStruct_RoundTrip(t *testing.T) {
	c := testCycle(7, 1.25, 31.5, 2)

	msg, err := CycleToStruct(c)
	require.NoError(t, err)
	u, err := StructToUpdate(msg)
	require.NoError(t, err)

	assert.Equal(t, uint64(7), u.Seq)
	assert.True(t, c.Time.Equal(u.Time))
	assert.Equal(t, c.Raw, u.Raw)
	assert.Equal(t, c.Result.Position, u.Position)
	assert.Equal(t, 2, u.SensorCount)
	assert.Equal(t, "left+right", u.Subset)
	assert.Equal(t, sonar.ColorTwoSensors, u.Color)
}

func TestStructToUpdate_Malformed(t *testing.T) {
	msg, err := CycleToStruct(testCycle(1, 0, 0, 0))
	require.NoError(t, err)

	noTime := proto.Clone(msg).(*structpb.Struct)
	delete(noTime.Fields, "time")
	_, err = StructToUpdate(noTime)
	assert.Error(t, err)

	shortRaw := proto.Clone(msg).(*structpb.Struct)
	shortRaw.Fields["raw"].GetListValue().Values = shortRaw.Fields["raw"].GetListValue().Values[:2]
	_, err = StructToUpdate(shortRaw)
	assert.Error(t, err)
}

func TestPublisher_HandleCycleBeforeStart(t *testing.T) {
	p := NewPublisher(Config{})
	p.HandleCycle(testCycle(1, 0, 10, 1))

	stats := p.Stats()
	assert.False(t, stats.Running)
	assert.Zero(t, stats.Published)
	assert.Zero(t, stats.Dropped)
}

func TestPublisher_Defaults(t *testing.T) {
	p := NewPublisher(Config{ListenAddr: "localhost:0"})
	assert.Equal(t, DefaultConfig().MaxClients, p.config.MaxClients)
	assert.Equal(t, DefaultConfig().ClientBuffer, p.config.ClientBuffer)
}

func TestPublisher_StartStop(t *testing.T) {
	p := NewPublisher(Config{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, p.Start())
	assert.True(t, p.Stats().Running)
	assert.Error(t, p.Start(), "second start should fail")

	p.Stop()
	assert.False(t, p.Stats().Running)
	p.Stop() // idempotent
}

func TestWatch_StreamsCycles(t *testing.T) {
	p := NewPublisher(DefaultConfig())
	conn := startBufconn(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	updates := make(chan Update, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, conn, func(u Update) error {
			updates <- u
			return nil
		})
	}()

	require.Eventually(t, func() bool { return p.Stats().Clients == 1 },
		2*time.Second, 10*time.Millisecond)

	p.HandleCycle(testCycle(1, -2, 40, 1))
	p.HandleCycle(testCycle(2, 3, 35, 3))

	for _, want := range []uint64{1, 2} {
		select {
		case u := <-updates:
			assert.Equal(t, want, u.Seq)
		case <-ctx.Done():
			t.Fatalf("timed out waiting for update %d", want)
		}
	}

	cancel()
	err := <-done
	require.Error(t, err)
	assert.Equal(t, codes.Canceled, status.Code(err))

	require.Eventually(t, func() bool { return p.Stats().Clients == 0 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(2), p.Stats().Published)
}

func TestWatch_CallbackErrorEndsStream(t *testing.T) {
	p := NewPublisher(DefaultConfig())
	conn := startBufconn(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stopErr := assert.AnError
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, conn, func(Update) error { return stopErr })
	}()

	require.Eventually(t, func() bool { return p.Stats().Clients == 1 },
		2*time.Second, 10*time.Millisecond)
	p.HandleCycle(testCycle(1, 0, 20, 2))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, stopErr)
	case <-ctx.Done():
		t.Fatal("watch did not return")
	}
}

func TestWatch_TooManyClients(t *testing.T) {
	p := NewPublisher(Config{MaxClients: 1})
	conn := startBufconn(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() { _ = Watch(ctx, conn, func(Update) error { return nil }) }()
	require.Eventually(t, func() bool { return p.Stats().Clients == 1 },
		2*time.Second, 10*time.Millisecond)

	err := Watch(ctx, conn, func(Update) error { return nil })
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestWatch_StopEndsStream(t *testing.T) {
	p := NewPublisher(DefaultConfig())
	conn := startBufconn(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Watch(ctx, conn, func(Update) error { return nil }) }()
	require.Eventually(t, func() bool { return p.Stats().Clients == 1 },
		2*time.Second, 10*time.Millisecond)

	p.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err, "a server shutdown is a clean end of stream")
	case <-ctx.Done():
		t.Fatal("watch did not return after stop")
	}
}

func TestBroadcast_SlowClientDrops(t *testing.T) {
	p := NewPublisher(Config{ClientBuffer: 2})
	p.running.Store(true)
	p.wg.Add(1)
	go p.broadcastLoop()
	defer func() {
		close(p.stopCh)
		p.wg.Wait()
	}()

	cl, err := p.addClient()
	require.NoError(t, err)

	for i := uint64(1); i <= 5; i++ {
		p.HandleCycle(testCycle(i, 0, 10, 1))
	}

	require.Eventually(t, func() bool { return p.Stats().Dropped == 3 },
		2*time.Second, 10*time.Millisecond)
	assert.Len(t, cl.cycleCh, 2)
	assert.Equal(t, uint64(1), (<-cl.cycleCh).Seq)
}
