// file: internal/cli/deploy.go
package cli

import (
	"BundleConsole/internal/adapter/registry/sqlite"
	"BundleConsole/internal/downloader"
	"BundleConsole/internal/output"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

const maxDescriptorSize = 1 << 20

func newDeployCmd() *cobra.Command {
	var dir, name string
	cmd := &cobra.Command{
		Use:   "deploy <source>",
		Short: "把 bundle 描述文件部署到部署目录",
		Long: `source 可以是本地路径、file:// 或 http(s):// 地址。
描述文件会先经过校验，再写入部署目录，由运行中的控制台自动安装。`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := downloader.NewFetcher(nil).Fetch(cmd.Context(), args[0], maxDescriptorSize)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("创建部署目录 '%s' 失败: %w", dir, err)
			}
			abs, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("无法获取 '%s' 的绝对路径: %w", dir, err)
			}
			desc, err := sqlite.ParseDescriptor(data, "file:"+filepath.ToSlash(abs))
			if err != nil {
				return fmt.Errorf("描述文件 '%s' 非法: %w", args[0], err)
			}

			if name == "" {
				name = desc.SymbolicName
			}
			if name == "" {
				return fmt.Errorf("描述文件缺少 symbolic_name，请通过 --name 指定文件名")
			}
			if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
				name += ".yaml"
			}
			target := filepath.Join(dir, filepath.Base(name))

			// 目录监听只处理 .yaml/.yml，临时文件不会被提前安装
			tmp := target + ".tmp"
			if err := os.WriteFile(tmp, data, 0o644); err != nil {
				return fmt.Errorf("写入 '%s' 失败: %w", tmp, err)
			}
			if err := os.Rename(tmp, target); err != nil {
				_ = os.Remove(tmp)
				return fmt.Errorf("写入 '%s' 失败: %w", target, err)
			}

			output.Logger.Debug("描述文件已写入", "path", target)
			fmt.Fprintf(cmd.OutOrStdout(), "%s 已部署到 %s\n", output.StyleNoun.Render(desc.SymbolicName), target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "deploy", "部署目录")
	cmd.Flags().StringVar(&name, "name", "", "目标文件名，默认使用 symbolic name")
	return cmd
}
