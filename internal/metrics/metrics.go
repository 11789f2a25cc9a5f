// Package metrics exposes Prometheus counters for the daemon.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/matheus3301/campus/internal/bus"
	"github.com/matheus3301/campus/internal/chat"
	"github.com/matheus3301/campus/internal/push"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	messagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_messages_sent_total",
			Help: "Total number of messages sent, by kind.",
		},
		[]string{"kind"},
	)
	fanoutFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_fanout_failures_total",
			Help: "Total number of per-member link writes that failed, by operation.",
		},
		[]string{"op"},
	)
	pushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_pushes_total",
			Help: "Total number of device pushes handled, by gateway and result.",
		},
		[]string{"gateway", "result"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	grpcServerHandlingSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grpc_server_handling_seconds",
			Help:    "gRPC request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"grpc_method"},
	)
)

func init() {
	prometheus.MustRegister(
		messagesSentTotal,
		fanoutFailuresTotal,
		pushesTotal,
		grpcServerHandledTotal,
		grpcServerHandlingSeconds,
	)
}

// UnaryServerInterceptor counts every unary RPC by method and status code.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, status.Code(err).String()).Inc()
		grpcServerHandlingSeconds.WithLabelValues(method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

func splitFullMethod(full string) (string, string) {
	parts := strings.Split(full, "/")
	if len(parts) != 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

// Collector turns bus events into counter increments.
type Collector struct {
	bus    *bus.Bus
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCollector creates a collector listening on b.
func NewCollector(b *bus.Bus) *Collector {
	return &Collector{bus: b}
}

// Start begins counting events.
func (c *Collector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	msgs, unsubMsgs := c.bus.Subscribe("message.", 256)
	pushes, unsubPushes := c.bus.Subscribe("push.", 256)

	go func() {
		defer close(c.done)
		defer unsubMsgs()
		defer unsubPushes()
		for {
			select {
			case evt := <-msgs:
				c.observe(evt)
			case evt := <-pushes:
				c.observe(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends counting and waits for the loop to exit.
func (c *Collector) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

func (c *Collector) observe(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case chat.SentEvent:
		messagesSentTotal.WithLabelValues(string(p.Kind)).Inc()
	case chat.FanoutEvent:
		fanoutFailuresTotal.WithLabelValues(p.Op).Add(float64(len(p.Failed)))
	case push.Result:
		result := "sent"
		if evt.Kind == bus.KindPushFailed {
			result = "failed"
		}
		pushesTotal.WithLabelValues(p.Gateway, result).Inc()
	}
}

// Server serves /metrics on its own listener.
type Server struct {
	addr   string
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a metrics server for addr.
func NewServer(addr string, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		addr:   addr,
		srv:    &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
	}
}

// Start listens on addr and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.logger.Info("metrics listening", zap.String("addr", lis.Addr().String()))
	go func() {
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
