// file: cmd/runtime_agent/main.go
package main

import (
	"BundleConsole/internal/adapter/registry/registryrpc"
	"BundleConsole/internal/adapter/registry/sqlite"
	"BundleConsole/internal/manifest"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"
	_ "modernc.org/sqlite"
)

const agentVersion = "1.0.0"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})))

	listenFlag := flag.String("listen", ":50051", "gRPC 监听地址")
	instanceDir := flag.String("instance_dir", "./instance", "实例目录的路径")
	deployDir := flag.String("deploy_dir", "./deploy", "bundle 描述文件所在目录，为空时不扫描")
	systemPackages := flag.String("system_packages", "", "系统 bundle 导出的包，逗号分隔")
	frameworkVersion := flag.String("framework_version", "1.0.0", "系统 bundle 的版本")
	startLevel := flag.Int("initial_start_level", 1, "新安装 bundle 的初始启动级别")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "用法: %s [选项]\n\n通过 gRPC 暴露本地 sqlite bundle 运行时。\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	slog.Info("🔌 运行时代理启动中...", "version", agentVersion, "listen", *listenFlag, "instance_dir", *instanceDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(*instanceDir, 0o755); err != nil {
		slog.Error("创建实例目录失败", "path", *instanceDir, "error", err)
		os.Exit(1)
	}
	reg, err := sqlite.Open(ctx, filepath.Join(*instanceDir, "registry.db"), manifest.NewParser(256, 10*time.Minute), sqlite.Options{
		SystemPackages:    normalizePackages(*systemPackages),
		FrameworkVersion:  *frameworkVersion,
		InitialStartLevel: *startLevel,
	})
	if err != nil {
		slog.Error("运行时代理无法打开注册表", "error", err)
		os.Exit(1)
	}
	defer reg.Close()
	slog.Info("成功打开本地注册表")

	if *deployDir != "" {
		if err := os.MkdirAll(*deployDir, 0o755); err != nil {
			slog.Error("创建部署目录失败", "path", *deployDir, "error", err)
			os.Exit(1)
		}
		n, err := reg.ScanDeployDir(ctx, *deployDir)
		if err != nil {
			slog.Error("扫描部署目录失败", "path", *deployDir, "error", err)
			os.Exit(1)
		}
		slog.Info("部署目录扫描完成", "path", *deployDir, "bundles", n)
		if err := reg.StartWatcher(ctx, *deployDir); err != nil {
			slog.Error("启动目录监视失败", "error", err)
			os.Exit(1)
		}
	}

	lis, err := net.Listen("tcp", *listenFlag)
	if err != nil {
		slog.Error("gRPC 服务监听端口失败", "listen", *listenFlag, "error", err)
		os.Exit(1)
	}

	grpcServer := grpc.NewServer()
	registryrpc.NewServer(reg, reg).Register(grpcServer)

	go func() {
		<-ctx.Done()
		slog.Info("收到停机信号，准备优雅关闭...")
		grpcServer.GracefulStop()
	}()

	slog.Info("✅ 运行时代理启动成功，开始提供服务...")
	if err := grpcServer.Serve(lis); err != nil {
		slog.Error("gRPC 服务启动失败", "error", err)
		os.Exit(1)
	}
}

// normalizePackages 把命令行中的包列表整理成 ", " 分隔的头部值
func normalizePackages(raw string) string {
	var pkgs []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			pkgs = append(pkgs, p)
		}
	}
	return strings.Join(pkgs, ", ")
}
