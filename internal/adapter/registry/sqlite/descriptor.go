// Package sqlite file: internal/adapter/registry/sqlite/descriptor.go
package sqlite

import (
	"BundleConsole/internal/core/domain"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServiceDescriptor 描述 bundle 启动后注册的一个服务
type ServiceDescriptor struct {
	ObjectClass []string       `yaml:"object_class"`
	Properties  map[string]any `yaml:"properties,omitempty"`
}

// Descriptor 是部署目录中一个 bundle 的 YAML 描述
type Descriptor struct {
	Location     string              `yaml:"location,omitempty"`
	SymbolicName string              `yaml:"symbolic_name"`
	Version      string              `yaml:"version,omitempty"`
	Name         string              `yaml:"name,omitempty"`
	Exports      string              `yaml:"export_package,omitempty"`
	Imports      string              `yaml:"import_package,omitempty"`
	Headers      map[string]string   `yaml:"headers,omitempty"`
	Resources    []string            `yaml:"resources,omitempty"`
	Services     []ServiceDescriptor `yaml:"services,omitempty"`
	StartLevel   *int                `yaml:"start_level,omitempty"`
	AutoStart    bool                `yaml:"autostart,omitempty"`
}

// LoadDescriptor 读取并校验 YAML 描述文件；未声明 location 时使用 "file:" + 绝对路径
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取描述文件 '%s' 失败: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("无法获取 '%s' 的绝对路径: %w", path, err)
	}
	d, err := ParseDescriptor(data, "file:"+filepath.ToSlash(abs))
	if err != nil {
		return nil, fmt.Errorf("描述文件 '%s' 非法: %w", path, err)
	}
	return d, nil
}

// ParseDescriptor 解析并校验 YAML 描述；未声明 location 时使用 defaultLocation
func ParseDescriptor(data []byte, defaultLocation string) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("解析 YAML 失败: %w", err)
	}
	if d.Location == "" {
		d.Location = defaultLocation
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate 校验描述中的必填字段与版本格式
func (d *Descriptor) Validate() error {
	if strings.TrimSpace(d.Location) == "" {
		return errors.New("location 不能为空")
	}
	if d.Version != "" {
		if _, err := domain.ParseVersion(d.Version); err != nil {
			return fmt.Errorf("version 非法: %w", err)
		}
	}
	for i, svc := range d.Services {
		if len(svc.ObjectClass) == 0 {
			return fmt.Errorf("第 %d 个服务缺少 object_class", i+1)
		}
	}
	return nil
}

// ManifestHeaders 合并显式字段与 headers，显式字段优先
func (d *Descriptor) ManifestHeaders() map[string]string {
	headers := make(map[string]string, len(d.Headers)+5)
	for k, v := range d.Headers {
		headers[k] = v
	}
	set := func(name, value string) {
		if value != "" {
			headers[name] = value
		}
	}
	set(domain.HeaderBundleSymbolicName, d.SymbolicName)
	set(domain.HeaderBundleVersion, d.Version)
	set(domain.HeaderBundleName, d.Name)
	set(domain.HeaderExportPackage, d.Exports)
	set(domain.HeaderImportPackage, d.Imports)
	return headers
}

// serviceProperties 返回写入数据库的服务属性，objectClass 总是来自 ObjectClass 字段
func (s ServiceDescriptor) serviceProperties() map[string]any {
	props := make(map[string]any, len(s.Properties)+1)
	for k, v := range s.Properties {
		props[k] = v
	}
	props[domain.ServiceObjectClass] = s.ObjectClass
	return props
}

func isDescriptorFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
