// Package cli 实现 consolectl 的命令
// file: internal/cli/root.go
package cli

import (
	"BundleConsole/internal/consoleclient"
	"BundleConsole/internal/output"
	"os"

	"github.com/spf13/cobra"
)

const (
	envServer     = "CONSOLE_SERVER"
	envToken      = "CONSOLE_TOKEN"
	defaultServer = "http://localhost:10224"
)

type globalOptions struct {
	server  string
	token   string
	verbose bool
}

func (o *globalOptions) client() *consoleclient.Client {
	return consoleclient.New(o.server, o.token, nil)
}

// NewRootCmd 创建 consolectl 根命令
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "consolectl",
		Short:         "bundle 管理控制台命令行",
		Long:          `consolectl 通过控制台 HTTP API 查看和管理 bundle 运行时。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			output.SetupLogging(cmd.ErrOrStderr(), opts.verbose)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr(envServer, defaultServer), "控制台地址 (env: "+envServer+")")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv(envToken), "管理员 JWT (env: "+envToken+")")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "输出调试日志")

	rootCmd.AddCommand(newListCmd(opts))
	rootCmd.AddCommand(newShowCmd(opts))
	for _, action := range []string{"start", "stop", "refresh", "uninstall"} {
		rootCmd.AddCommand(newActionCmd(opts, action))
	}
	rootCmd.AddCommand(newRefreshPackagesCmd(opts))
	rootCmd.AddCommand(newActionsCmd(opts))
	rootCmd.AddCommand(newLoginCmd(opts))
	rootCmd.AddCommand(newDeployCmd())

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
