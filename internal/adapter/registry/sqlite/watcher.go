// Package sqlite file: internal/adapter/registry/sqlite/watcher.go
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ScanDeployDir 安装部署目录下所有 YAML 描述文件，单个文件失败只记录日志
func (r *Registry) ScanDeployDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("读取部署目录 '%s' 失败: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() && isDescriptorFile(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	var installed int
	for _, p := range paths {
		if err := r.deployFile(ctx, p); err != nil {
			log.Printf("警告: [BundleRegistry] 部署描述文件 '%s' 失败: %v", p, err)
			continue
		}
		installed++
	}
	log.Printf("[BundleRegistry] 部署目录 '%s' 扫描完成，成功安装 %d 个 bundle。", dir, installed)
	return installed, nil
}

// StartWatcher 监视部署目录，描述文件新增或修改时安装/更新，删除时卸载。
// ctx 结束时监视器关闭。
func (r *Registry) StartWatcher(ctx context.Context, dir string) error {
	dir = filepath.Clean(dir)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建 fsnotify watcher 失败: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("添加部署目录 '%s' 到监视器失败: %w", dir, err)
	}
	log.Printf("信息: [BundleRegistry] 已开始监视部署目录 '%s'。", dir)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				log.Printf("信息: [BundleRegistry] 部署目录监视器已停止。")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					log.Printf("警告: [BundleRegistry] 文件监视器事件通道已关闭。")
					return
				}
				r.handleFsEvent(ctx, event)
			case errWatch, ok := <-watcher.Errors:
				if !ok {
					log.Printf("警告: [BundleRegistry] 文件监视器错误通道已关闭。")
					return
				}
				log.Printf("错误: [BundleRegistry] 文件监视器报告错误: %v", errWatch)
			}
		}
	}()
	return nil
}

// handleFsEvent 对描述文件事件做防抖
func (r *Registry) handleFsEvent(ctx context.Context, event fsnotify.Event) {
	cleanPath := filepath.Clean(event.Name)
	if !isDescriptorFile(cleanPath) || event.Op == fsnotify.Chmod {
		return
	}

	r.eventTimersMu.Lock()
	defer r.eventTimersMu.Unlock()
	if timer, exists := r.eventTimers[cleanPath]; exists {
		timer.Stop()
	}
	r.eventTimers[cleanPath] = time.AfterFunc(r.debounce, func() {
		r.processDebouncedEvent(ctx, cleanPath)
		r.eventTimersMu.Lock()
		delete(r.eventTimers, cleanPath)
		r.eventTimersMu.Unlock()
	})
}

// processDebouncedEvent 根据文件是否仍然存在决定安装还是卸载
func (r *Registry) processDebouncedEvent(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		r.deployedMu.Lock()
		location, ok := r.deployed[path]
		delete(r.deployed, path)
		r.deployedMu.Unlock()
		if !ok {
			return
		}
		if err := r.UninstallLocation(ctx, location); err != nil {
			log.Printf("错误: [BundleRegistry] 卸载 '%s' 失败: %v", location, err)
			return
		}
		log.Printf("信息: [BundleRegistry] 描述文件 '%s' 已删除，bundle '%s' 已卸载。", path, location)
		return
	}

	if err := r.deployFile(ctx, path); err != nil {
		log.Printf("错误: [BundleRegistry] 热部署 '%s' 失败: %v", path, err)
	}
}

func (r *Registry) deployFile(ctx context.Context, path string) error {
	d, err := LoadDescriptor(path)
	if err != nil {
		return err
	}

	r.deployedMu.Lock()
	previous, had := r.deployed[path]
	r.deployedMu.Unlock()
	// 描述文件改了 location，视为旧 bundle 被替换
	if had && previous != d.Location {
		if err := r.UninstallLocation(ctx, previous); err != nil {
			return err
		}
	}

	if _, err := r.Install(ctx, d); err != nil {
		return err
	}
	r.deployedMu.Lock()
	r.deployed[path] = d.Location
	r.deployedMu.Unlock()
	return nil
}
