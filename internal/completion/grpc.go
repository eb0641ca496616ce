package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// completeMethod is the unary gateway method. Request and response are
// google.protobuf.Struct values: {prompt, max_tokens} and {text}.
const completeMethod = "/rallycoach.completion.v1.CompletionGateway/Complete"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCConfig configures the gateway connection.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGRPCConfig returns default connection settings for addr.
func DefaultGRPCConfig(addr string) GRPCConfig {
	return GRPCConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   60 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCGenerator implements Generator against a completion gateway.
type GRPCGenerator struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	timeout time.Duration
	logger  *slog.Logger
}

// NewGRPCGenerator dials the gateway and waits until the connection is ready.
func NewGRPCGenerator(cfg GRPCConfig, logger *slog.Logger) (*GRPCGenerator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		return nil, errors.New("completion gateway address not set")
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for completion gateway at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("completion gateway at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to completion gateway", "address", cfg.Address)
	return &GRPCGenerator{
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Generate invokes the gateway's Complete method.
func (g *GRPCGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	req, err := structpb.NewStruct(map[string]any{
		"prompt":     prompt,
		"max_tokens": maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, completeMethod, req, resp); err != nil {
		return "", classifyGRPC(err)
	}
	return resp.GetFields()["text"].GetStringValue(), nil
}

func classifyGRPC(err error) error {
	switch status.Code(err) {
	case codes.ResourceExhausted, codes.Unavailable:
		return fmt.Errorf("%w: %v", ErrOverloaded, err)
	}
	return fmt.Errorf("completion gateway: %w", err)
}

// Health reports whether the gateway's health service says SERVING.
func (g *GRPCGenerator) Health(ctx context.Context) error {
	resp, err := g.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("completion gateway status %s", resp.GetStatus())
	}
	return nil
}

// Close closes the gRPC connection.
func (g *GRPCGenerator) Close() {
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

var _ Generator = (*GRPCGenerator)(nil)
