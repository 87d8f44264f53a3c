package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/sonar.tracker/internal/sonar"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "sonar.PositionStream"

	watchMethod = "/" + ServiceName + "/Watch"
)

// PositionStreamServer is the server API for the position stream.
type PositionStreamServer interface {
	// Watch streams one message per tracking cycle until the client goes
	// away or the server stops.
	Watch(*emptypb.Empty, PositionStream_WatchServer) error
}

// PositionStream_WatchServer is the server side of a Watch stream.
type PositionStream_WatchServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type watchServer struct {
	grpc.ServerStream
}

func (x *watchServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func watchHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(PositionStreamServer).Watch(m, &watchServer{stream})
}

// PositionStream_ServiceDesc describes the position stream service. The
// messages are well-known protobuf types so no generated code is needed.
var PositionStream_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PositionStreamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "sonar/position_stream.proto",
}

// RegisterPositionStreamServer registers srv with s.
func RegisterPositionStreamServer(s grpc.ServiceRegistrar, srv PositionStreamServer) {
	s.RegisterService(&PositionStream_ServiceDesc, srv)
}

// Ensure Server implements the gRPC interface.
var _ PositionStreamServer = (*Server)(nil)

// Server implements PositionStreamServer on top of a Publisher.
type Server struct {
	publisher *Publisher
}

// NewServer creates a new gRPC server.
func NewServer(p *Publisher) *Server {
	return &Server{publisher: p}
}

func (s *Server) Watch(_ *emptypb.Empty, stream PositionStream_WatchServer) error {
	cl, err := s.publisher.addClient()
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer s.publisher.removeClient(cl.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.publisher.stopCh:
			return nil
		case c := <-cl.cycleCh:
			msg, err := CycleToStruct(c)
			if err != nil {
				return status.Errorf(codes.Internal, "encode cycle %d: %v", c.Seq, err)
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// Update is the client-side view of one streamed cycle.
type Update struct {
	Seq         uint64
	Time        time.Time
	Raw         sonar.RawReading
	Position    sonar.Position
	SensorCount int
	Subset      string
	Color       string
}

// CycleToStruct encodes a cycle as a protobuf Struct.
func CycleToStruct(c sonar.Cycle) (*structpb.Struct, error) {
	raw := make([]interface{}, len(c.Raw))
	for i, d := range c.Raw {
		raw[i] = d
	}
	return structpb.NewStruct(map[string]interface{}{
		"seq":          float64(c.Seq),
		"time":         c.Time.UTC().Format(time.RFC3339Nano),
		"raw":          raw,
		"x":            c.Result.Position.X,
		"y":            c.Result.Position.Y,
		"sensor_count": float64(c.Result.SensorCount),
		"subset":       c.Result.Subset.String(),
		"color":        sonar.ConfidenceColor(c.Result.SensorCount),
	})
}

// StructToUpdate decodes a message produced by CycleToStruct.
func StructToUpdate(m *structpb.Struct) (Update, error) {
	f := m.GetFields()
	var u Update

	ts, err := time.Parse(time.RFC3339Nano, f["time"].GetStringValue())
	if err != nil {
		return u, fmt.Errorf("bad time field: %w", err)
	}
	raw := f["raw"].GetListValue().GetValues()
	if len(raw) != sonar.SensorCount {
		return u, fmt.Errorf("raw field has %d values, want %d", len(raw), sonar.SensorCount)
	}

	u.Seq = uint64(f["seq"].GetNumberValue())
	u.Time = ts
	for i, v := range raw {
		u.Raw[i] = v.GetNumberValue()
	}
	u.Position = sonar.Position{X: f["x"].GetNumberValue(), Y: f["y"].GetNumberValue()}
	u.SensorCount = int(f["sensor_count"].GetNumberValue())
	u.Subset = f["subset"].GetStringValue()
	u.Color = f["color"].GetStringValue()
	return u, nil
}

// Watch opens a Watch stream on conn and calls fn for every update until the
// stream ends, ctx is cancelled or fn returns an error. A stream closed
// cleanly by the server returns nil.
func Watch(ctx context.Context, conn grpc.ClientConnInterface, fn func(Update) error) error {
	stream, err := conn.NewStream(ctx, &PositionStream_ServiceDesc.Streams[0], watchMethod)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		u, err := StructToUpdate(msg)
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
	}
}
