// file: internal/adapter/registry/registryrpc/server.go
package registryrpc

import (
	"BundleConsole/internal/core/port"
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// registryService 是 ServiceDesc 的 HandlerType
type registryService interface {
	backend() (port.BundleRegistry, port.BundleLifecycle)
}

// Server 把本地的注册表与生命周期能力暴露为 gRPC 服务
type Server struct {
	registry  port.BundleRegistry
	lifecycle port.BundleLifecycle
}

// NewServer 创建 Server
func NewServer(registry port.BundleRegistry, lifecycle port.BundleLifecycle) *Server {
	return &Server{registry: registry, lifecycle: lifecycle}
}

func (s *Server) backend() (port.BundleRegistry, port.BundleLifecycle) {
	return s.registry, s.lifecycle
}

// Register 把服务注册到 gRPC server
func (s *Server) Register(g grpc.ServiceRegistrar) {
	g.RegisterService(&serviceDesc, s)
}

type handlerFunc func(ctx context.Context, reg port.BundleRegistry, lc port.BundleLifecycle, req *structpb.Struct) (any, error)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*registryService)(nil),
	Methods: []grpc.MethodDesc{
		unary(methodBundles, func(ctx context.Context, reg port.BundleRegistry, _ port.BundleLifecycle, _ *structpb.Struct) (any, error) {
			return reg.Bundles(ctx)
		}),
		unary(methodBundle, func(ctx context.Context, reg port.BundleRegistry, _ port.BundleLifecycle, req *structpb.Struct) (any, error) {
			id, err := int64Field(req, fieldBundleID)
			if err != nil {
				return nil, err
			}
			return reg.Bundle(ctx, id)
		}),
		unary(methodExportedPackages, func(ctx context.Context, reg port.BundleRegistry, _ port.BundleLifecycle, req *structpb.Struct) (any, error) {
			id, err := int64Field(req, fieldBundleID)
			if err != nil {
				return nil, err
			}
			return reg.ExportedPackages(ctx, id)
		}),
		unary(methodAllExportedPackages, func(ctx context.Context, reg port.BundleRegistry, _ port.BundleLifecycle, _ *structpb.Struct) (any, error) {
			return reg.AllExportedPackages(ctx)
		}),
		unary(methodRegisteredServices, func(ctx context.Context, reg port.BundleRegistry, _ port.BundleLifecycle, req *structpb.Struct) (any, error) {
			id, err := int64Field(req, fieldBundleID)
			if err != nil {
				return nil, err
			}
			return reg.RegisteredServices(ctx, id)
		}),
		unary(methodHasResource, func(ctx context.Context, reg port.BundleRegistry, _ port.BundleLifecycle, req *structpb.Struct) (any, error) {
			id, err := int64Field(req, fieldBundleID)
			if err != nil {
				return nil, err
			}
			return reg.HasResource(ctx, id, req.GetFields()[fieldPath].GetStringValue())
		}),
		unary(methodInitialBundleStartLevel, func(ctx context.Context, reg port.BundleRegistry, _ port.BundleLifecycle, _ *structpb.Struct) (any, error) {
			return reg.InitialBundleStartLevel(ctx)
		}),
		unary(methodStart, lifecycleCall(port.BundleLifecycle.Start)),
		unary(methodStop, lifecycleCall(port.BundleLifecycle.Stop)),
		unary(methodUninstall, lifecycleCall(port.BundleLifecycle.Uninstall)),
		unary(methodRefresh, func(ctx context.Context, _ port.BundleRegistry, lc port.BundleLifecycle, req *structpb.Struct) (any, error) {
			list, ok := req.GetFields()[fieldIDs]
			if !ok {
				return nil, lc.Refresh(ctx, nil)
			}
			var ids []int64
			for _, v := range list.GetListValue().GetValues() {
				ids = append(ids, int64(v.GetNumberValue()))
			}
			if ids == nil {
				ids = []int64{}
			}
			return nil, lc.Refresh(ctx, ids)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bundleconsole/registry/v1/registry.proto",
}

func lifecycleCall(fn func(port.BundleLifecycle, context.Context, int64) error) handlerFunc {
	return func(ctx context.Context, _ port.BundleRegistry, lc port.BundleLifecycle, req *structpb.Struct) (any, error) {
		id, err := int64Field(req, fieldBundleID)
		if err != nil {
			return nil, err
		}
		return nil, fn(lc, ctx, id)
	}
}

// unary 把 handlerFunc 包装成 Struct 进、Struct 出的一元方法
func unary(name string, fn handlerFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			call := func(ctx context.Context, req any) (any, error) {
				reg, lc := srv.(registryService).backend()
				if lc == nil && isLifecycleMethod(name) {
					return nil, status.Error(codes.Unimplemented, "远端运行时未开放生命周期操作")
				}
				slog.Debug("gRPC 注册表服务: 收到请求", "method", name)
				result, err := fn(ctx, reg, lc, req.(*structpb.Struct))
				if err != nil {
					slog.Warn("gRPC 注册表服务: 请求失败", "method", name, "error", err)
					return nil, toStatus(err)
				}
				return encodeResult(result)
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, call)
		},
	}
}

func isLifecycleMethod(name string) bool {
	switch name {
	case methodStart, methodStop, methodUninstall, methodRefresh:
		return true
	}
	return false
}
