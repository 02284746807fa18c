// file: internal/cli/bundles.go
package cli

import (
	"BundleConsole/internal/consoleclient"
	"BundleConsole/internal/output"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "列出所有 bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := opts.client().List(cmd.Context())
			if err != nil {
				return err
			}
			if list.Error != "" {
				output.Logger.Warn("服务端报告错误", "error", list.Error)
			}
			fmt.Fprint(cmd.OutOrStdout(), output.RenderBundleList(list))
			return nil
		},
	}
}

func newShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <bundle>",
		Short: "显示单个 bundle 的详细信息",
		Long:  "bundle 可以是 ID、symbolic name、symbolic name:version 或安装位置。",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := opts.client().Show(cmd.Context(), args[0])
			if errors.Is(err, consoleclient.ErrNoContent) {
				return fmt.Errorf("找不到 bundle '%s'", args[0])
			}
			if err != nil {
				return err
			}
			for _, b := range report.Data {
				fmt.Fprint(cmd.OutOrStdout(), output.RenderBundleDetails(b))
			}
			return nil
		},
	}
}

func newActionCmd(opts *globalOptions, action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <bundle>",
		Short: "对 bundle 执行 " + action + " 操作",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output.Logger.Debug("执行操作", "bundle", args[0], "action", action)
			resp, err := opts.client().Action(cmd.Context(), args[0], action)
			if err != nil {
				return fmt.Errorf("%s '%s' 失败: %w", action, args[0], err)
			}
			if resp.ID == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: 已提交\n", action)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d): %s\n",
				output.StyleNoun.Render(resp.Name), *resp.ID, output.StateStyle(resp.State).Render(resp.State))
			return nil
		},
	}
}

func newRefreshPackagesCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-packages",
		Short: "刷新全部包导入导出关系",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.client().Action(cmd.Context(), "", "refreshPackages"); err != nil {
				return fmt.Errorf("refreshPackages 失败: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "已请求刷新全部包")
			return nil
		},
	}
}

func newActionsCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "显示最近的操作审计记录",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := opts.client().RecentActions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), output.RenderActions(recs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "最多显示的记录数")
	return cmd
}

func newLoginCmd(opts *globalOptions) *cobra.Command {
	var user, pass string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "登录并输出 JWT",
		Long:  "登录成功后把令牌打印到标准输出，可通过 " + envToken + " 环境变量供后续命令使用。",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			status, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			if status == "needs_setup" {
				return errors.New("系统尚未安装，请先通过 /api/v1/system/setup 创建管理员")
			}
			res, err := c.Login(cmd.Context(), user, pass)
			if err != nil {
				return err
			}
			output.Logger.Info("登录成功", "user", res.User.Username, "role", res.User.Role)
			fmt.Fprintln(cmd.OutOrStdout(), res.Token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "用户名")
	cmd.Flags().StringVarP(&pass, "password", "p", "", "密码")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
