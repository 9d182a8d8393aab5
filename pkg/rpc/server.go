package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/keyle/keylefinder/internal/logger"
	"github.com/keyle/keylefinder/pkg/worker"
)

// Server 将 Locate 调用转交给任务处理器执行
type Server struct {
	handler worker.TaskHandler
	log     *logger.Logger
}

// NewServer 创建定位服务
func NewServer(handler worker.TaskHandler) *Server {
	return &Server{
		handler: handler,
		log:     logger.Default(),
	}
}

// Locate 执行一次定位
func (s *Server) Locate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	payload, err := json.Marshal(req.AsMap())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "请求无效: %v", err)
	}

	res := s.handler.Handle(ctx, &worker.ExecuteTask{
		TaskId:      uuid.NewString(),
		TaskType:    worker.TaskTypeLocate,
		PayloadJson: string(payload),
	})
	if res == nil {
		return nil, status.Error(codes.Internal, "任务无结果")
	}
	if !res.Success {
		if ctx.Err() != nil {
			return nil, status.FromContextError(ctx.Err()).Err()
		}
		return nil, status.Error(codes.InvalidArgument, res.Message)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(res.ResultJson), &out); err != nil {
		return nil, status.Errorf(codes.Internal, "解析结果失败: %v", err)
	}
	resp, err := structpb.NewStruct(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "构建响应失败: %v", err)
	}
	return resp, nil
}

// loggingInterceptor 记录每次调用的耗时和结果
func loggingInterceptor(l *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		elapsed := float64(time.Since(start).Microseconds()) / 1000
		if err != nil {
			l.Warn("%s 失败 (%.1fms): %v", info.FullMethod, elapsed, err)
		} else {
			l.Info("%s 完成 (%.1fms)", info.FullMethod, elapsed)
		}
		return resp, err
	}
}

// NewGRPCServer 创建已注册定位服务的 gRPC 服务器
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.UnaryInterceptor(loggingInterceptor(s.log))}, opts...)
	gs := grpc.NewServer(opts...)
	RegisterLocatorServer(gs, s)
	return gs
}

// Serve 在 addr 上提供服务直到 ctx 取消
func Serve(ctx context.Context, addr string, s *Server) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", addr, err)
	}

	gs := NewGRPCServer(s)
	errCh := make(chan error, 1)
	go func() {
		errCh <- gs.Serve(lis)
	}()
	s.log.Info("gRPC 服务已启动: %s", lis.Addr())

	select {
	case <-ctx.Done():
		gs.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}
