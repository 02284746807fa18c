// Package registryrpc 通过 gRPC 暴露/访问远程 bundle 运行时。
// 消息体统一使用 google.protobuf.Struct，不依赖生成的桩代码。
// file: internal/adapter/registry/registryrpc/codec.go
package registryrpc

import (
	"BundleConsole/internal/core/port"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName 是注册到 gRPC 的服务全名
const ServiceName = "bundleconsole.registry.v1.BundleRegistry"

// 方法名
const (
	methodBundles                 = "Bundles"
	methodBundle                  = "Bundle"
	methodExportedPackages        = "ExportedPackages"
	methodAllExportedPackages     = "AllExportedPackages"
	methodRegisteredServices      = "RegisteredServices"
	methodHasResource             = "HasResource"
	methodInitialBundleStartLevel = "InitialBundleStartLevel"
	methodStart                   = "Start"
	methodStop                    = "Stop"
	methodUninstall               = "Uninstall"
	methodRefresh                 = "Refresh"
)

// 请求与响应中的字段名
const (
	fieldBundleID = "bundle_id"
	fieldPath     = "path"
	fieldIDs      = "ids"
	fieldResult   = "result"
)

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// encodeResult 将任意可 JSON 序列化的值包装为 {"result": value}
func encodeResult(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("序列化响应失败: %w", err)
	}
	val := new(structpb.Value)
	if err := protojson.Unmarshal(raw, val); err != nil {
		return nil, fmt.Errorf("转换响应为 structpb.Value 失败: %w", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{fieldResult: val}}, nil
}

// decodeResult 将 {"result": value} 还原到 out
func decodeResult(resp *structpb.Struct, out any) error {
	val, ok := resp.GetFields()[fieldResult]
	if !ok || val == nil {
		return nil
	}
	raw, err := protojson.Marshal(val)
	if err != nil {
		return fmt.Errorf("转换响应为 JSON 失败: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("反序列化响应失败: %w", err)
	}
	return nil
}

func int64Field(req *structpb.Struct, key string) (int64, error) {
	val, ok := req.GetFields()[key]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "缺少字段 '%s'", key)
	}
	num, ok := val.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "字段 '%s' 不是数字", key)
	}
	return int64(num.NumberValue), nil
}

// 端口错误与 gRPC 状态码的双向映射
var errorCodes = []struct {
	err  error
	code codes.Code
}{
	{port.ErrBundleNotFound, codes.NotFound},
	{port.ErrSystemBundle, codes.PermissionDenied},
	{port.ErrIllegalState, codes.FailedPrecondition},
	{port.ErrUnresolvable, codes.Aborted},
}

// toStatus 把端口错误转换为带状态码的 gRPC 错误
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, m := range errorCodes {
		if errors.Is(err, m.err) {
			return status.Error(m.code, err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

// fromStatus 把 gRPC 错误还原为端口错误，保留远端的描述
func fromStatus(method string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("gRPC %s 调用失败: %w", method, err)
	}
	for _, m := range errorCodes {
		if st.Code() == m.code {
			return fmt.Errorf("%w (远端: %s)", m.err, st.Message())
		}
	}
	return fmt.Errorf("gRPC %s 调用失败: %w", method, err)
}
