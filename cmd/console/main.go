// file: cmd/console/main.go

package main

import (
	"BundleConsole/internal/adapter/registry/registryrpc"
	"BundleConsole/internal/adapter/registry/sqlite"
	"BundleConsole/internal/aegconf"
	"BundleConsole/internal/aegmiddleware"
	"BundleConsole/internal/aegobserve"
	"BundleConsole/internal/core/port"
	"BundleConsole/internal/manifest"
	"BundleConsole/internal/service"
	"BundleConsole/internal/service/bundles"
	"BundleConsole/internal/transport/http/router"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	_ "modernc.org/sqlite"
)

const version = "v1.0.0"

const shutdownTimeout = 10 * time.Second

// backend 是选定的注册表后端
type backend struct {
	registry  port.BundleRegistry
	lifecycle port.BundleLifecycle
	recorder  port.ActionRecorder
	closer    io.Closer
	// local 仅在 sqlite 后端时非空
	local *sqlite.Registry
}

func main() {
	// 在日志系统完全初始化前，使用标准 log
	log.Printf("BundleConsole %s 正在启动...", version)

	configPath := os.Getenv("CONSOLE_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := aegconf.Load(configPath)
	if err != nil {
		log.Fatalf("CRITICAL: 加载配置失败: %v", err)
	}
	aegobserve.InitLogger(cfg.Server.LogLevel)
	slog.Info("配置加载并解析成功", "path", configPath, "backend", cfg.Registry.Backend)

	if err := run(cfg); err != nil {
		slog.Error("控制台异常退出", "error", err)
		os.Exit(1)
	}
	slog.Info("程序即将退出。")
}

func run(cfg *aegconf.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sysDB, err := service.OpenSystemDB(ctx, cfg.Auth.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		slog.Info("正在关闭系统数据库连接...")
		if err := sysDB.Close(); err != nil {
			slog.Error("关闭系统数据库时发生错误", "error", err)
		}
	}()
	if err := service.InitConsoleTables(ctx, sysDB); err != nil {
		return fmt.Errorf("初始化系统表失败: %w", err)
	}

	parser := manifest.NewParser(cfg.Framework.ManifestCacheSize, cfg.Framework.ManifestCacheTTL)
	be, err := openBackend(ctx, cfg, parser, sysDB)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.closer.Close(); err != nil {
			slog.Error("关闭注册表后端时发生错误", "error", err)
		}
	}()

	jwtKey := []byte(cfg.Auth.JWTKey)
	if len(jwtKey) == 0 {
		jwtKey = []byte(genToken())
		slog.Warn("未配置 auth.jwt_key，已生成随机密钥，重启后已签发的令牌全部失效。建议设置 CONSOLE_AUTH_JWT_KEY。")
	}
	auth, err := service.NewAuthenticator(sysDB, jwtKey, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("初始化鉴权服务失败: %w", err)
	}

	var setupToken string
	var setupTokenDeadline time.Time
	if auth.UserCount(ctx) == 0 {
		setupToken = genToken()
		setupTokenDeadline = time.Now().Add(cfg.Auth.SetupTokenTTL)
		slog.Warn("系统中无管理员，安装令牌已生成", "setup_token", setupToken, "valid_for", cfg.Auth.SetupTokenTTL.String())
	}

	limiter := aegmiddleware.NewActionRateLimiter(cfg.Limits.ActionRate, cfg.Limits.ActionBurst)
	defer limiter.Stop()

	console := bundles.NewConsole(be.registry, be.lifecycle, be.recorder,
		bundles.NewBootDelegation(cfg.Framework.BootDelegation), parser)
	slog.Info("服务层: bundle 控制台初始化完成", "boot_delegation", cfg.Framework.BootDelegation)

	aegobserve.Register()
	handler := router.New(router.Dependencies{
		Console:            console,
		Auth:               auth,
		ActionLimiter:      limiter,
		LoginLock:          aegmiddleware.NewLoginFailureLock(cfg.Auth.MaxFailures, cfg.Auth.Lockout),
		SetupToken:         setupToken,
		SetupTokenDeadline: setupTokenDeadline,
		ServeMetrics:       cfg.Server.MetricsAddress == "",
	})

	g, gctx := errgroup.WithContext(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveHTTP(g, gctx, server, "控制台")

	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", aegobserve.Handler())
		serveHTTP(g, gctx, &http.Server{Addr: cfg.Server.MetricsAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}, "metrics")
	}

	if pprofSrv := aegobserve.EnablePprof(cfg.Server.PprofAddress); pprofSrv != nil {
		g.Go(func() error {
			<-gctx.Done()
			return shutdown(pprofSrv)
		})
	}

	if be.local != nil {
		if err := startLocalRuntime(g, gctx, cfg, be.local); err != nil {
			return err
		}
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openBackend 按配置选择本地 sqlite 运行时或远程 gRPC 代理
func openBackend(ctx context.Context, cfg *aegconf.Config, parser *manifest.Parser, sysDB *sql.DB) (*backend, error) {
	switch cfg.Registry.Backend {
	case aegconf.BackendGRPC:
		client, err := registryrpc.Dial(cfg.Registry.GRPCAddress, cfg.Registry.CacheTTL)
		if err != nil {
			return nil, err
		}
		slog.Info("注册表: 使用远程运行时", "address", cfg.Registry.GRPCAddress, "cache_ttl", cfg.Registry.CacheTTL.String())
		return &backend{
			registry:  client,
			lifecycle: client,
			recorder:  service.NewActionLog(sysDB),
			closer:    client,
		}, nil
	default:
		reg, err := sqlite.Open(ctx, cfg.Registry.SQLitePath, parser, sqlite.Options{
			SystemPackages:    cfg.Framework.SystemPackagesHeader(),
			FrameworkVersion:  cfg.Framework.Version,
			InitialStartLevel: cfg.Framework.InitialStartLevel,
		})
		if err != nil {
			return nil, fmt.Errorf("打开本地运行时失败: %w", err)
		}
		slog.Info("注册表: 使用本地 sqlite 运行时", "path", cfg.Registry.SQLitePath)
		return &backend{registry: reg, lifecycle: reg, recorder: reg, closer: reg, local: reg}, nil
	}
}

// startLocalRuntime 扫描部署目录、启动目录监视，并按需通过 gRPC 暴露本地运行时
func startLocalRuntime(g *errgroup.Group, ctx context.Context, cfg *aegconf.Config, reg *sqlite.Registry) error {
	if dir := cfg.Registry.DeployDirectory; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建部署目录 '%s' 失败: %w", dir, err)
		}
		if _, err := reg.ScanDeployDir(ctx, dir); err != nil {
			return err
		}
		if err := reg.StartWatcher(ctx, dir); err != nil {
			return err
		}
	}

	if cfg.Registry.GRPCListen == "" {
		return nil
	}
	lis, err := net.Listen("tcp", cfg.Registry.GRPCListen)
	if err != nil {
		return fmt.Errorf("监听 gRPC 地址 '%s' 失败: %w", cfg.Registry.GRPCListen, err)
	}
	gs := grpc.NewServer()
	registryrpc.NewServer(reg, reg).Register(gs)

	g.Go(func() error {
		slog.Info("gRPC 注册表服务开始监听", "address", cfg.Registry.GRPCListen)
		return gs.Serve(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		gs.GracefulStop()
		slog.Info("gRPC 注册表服务已关闭。")
		return nil
	})
	return nil
}

func serveHTTP(g *errgroup.Group, ctx context.Context, srv *http.Server, name string) {
	g.Go(func() error {
		slog.Info("HTTP 服务开始监听", "name", name, "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s HTTP 服务启动失败: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("收到停机信号，准备优雅关闭...", "name", name)
		return shutdown(srv)
	})
}

func shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP服务优雅关闭失败: %w", err)
	}
	return nil
}

// genToken 生成一次性的安装令牌或临时签名密钥
func genToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "fallback_token_generation_failed"
	}
	return hex.EncodeToString(b)
}
