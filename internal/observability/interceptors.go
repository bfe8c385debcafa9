// Package observability provides gRPC client interceptors for metrics and
// logging on the speech service connection.
package observability

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"speech2text/internal/observability/metrics"
)

// UnaryClientInterceptor returns a gRPC unary interceptor for metrics and logging.
func UnaryClientInterceptor(m *metrics.Metrics) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		start := time.Now()

		err := invoker(ctx, method, req, reply, cc, opts...)

		duration := time.Since(start)
		st, _ := status.FromError(err)
		m.RecordRPC(method, st.Code().String(), duration.Seconds())

		log.Debug().
			Str("method", method).
			Str("code", st.Code().String()).
			Dur("duration", duration).
			Msg("gRPC unary call")

		return err
	}
}

// StreamClientInterceptor returns a gRPC stream interceptor for metrics and
// logging. The call is recorded when the stream fails to open or when the
// first receive error (io.EOF included) ends it.
func StreamClientInterceptor(m *metrics.Metrics) grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		s := &observedStream{method: method, start: time.Now(), metrics: m}

		cs, err := streamer(ctx, desc, cc, method, opts...)
		if err != nil {
			s.finish(err)
			return nil, err
		}
		s.ClientStream = cs
		return s, nil
	}
}

type observedStream struct {
	grpc.ClientStream

	method  string
	start   time.Time
	metrics *metrics.Metrics
	once    sync.Once
}

func (s *observedStream) RecvMsg(msg any) error {
	err := s.ClientStream.RecvMsg(msg)
	if err != nil {
		s.finish(err)
	}
	return err
}

func (s *observedStream) finish(err error) {
	s.once.Do(func() {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		duration := time.Since(s.start)
		st, _ := status.FromError(err)
		s.metrics.RecordRPC(s.method, st.Code().String(), duration.Seconds())

		log.Debug().
			Str("method", s.method).
			Str("code", st.Code().String()).
			Dur("duration", duration).
			Bool("success", err == nil).
			Msg("gRPC stream completed")
	})
}
