package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/keyle/keylefinder/pkg/vision/cv"
)

// Client 定位服务客户端
type Client struct {
	conn *grpc.ClientConn
}

// Dial 连接定位服务（不加密）
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close 关闭连接
func (c *Client) Close() error {
	return c.conn.Close()
}

// Locate 在 reference 中定位 query，region 仅在 reference 为 "screen" 时生效
func (c *Client) Locate(ctx context.Context, reference, query, region string) (cv.LocateResult, error) {
	fields := map[string]any{
		"reference": reference,
		"query":     query,
	}
	if region != "" {
		fields["region"] = region
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return cv.NotFound(), err
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, LocateMethod, req, resp); err != nil {
		return cv.NotFound(), err
	}

	data, err := json.Marshal(resp.AsMap())
	if err != nil {
		return cv.NotFound(), err
	}
	var result cv.LocateResult
	if err := json.Unmarshal(data, &result); err != nil {
		return cv.NotFound(), fmt.Errorf("解析响应失败: %w", err)
	}
	return result, nil
}
