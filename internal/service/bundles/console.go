// Package bundles 实现 bundle 管理控制台的核心：定位、boot delegation 判断、
// 导入导出报告、服务列表以及生命周期操作。
package bundles

import (
	"BundleConsole/internal/aegobserve"
	"BundleConsole/internal/core/domain"
	"BundleConsole/internal/core/port"
	"BundleConsole/internal/manifest"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// 控制台支持的生命周期操作
const (
	ActionStart           = "start"
	ActionStop            = "stop"
	ActionRefresh         = "refresh"
	ActionUninstall       = "uninstall"
	ActionRefreshPackages = "refreshPackages"
)

// NumActions 是列表页每行的操作按钮数
const NumActions = 4

// 没有任何 bundle 时列表页展示的提示
const msgNoBundles = "No Bundles installed currently"

// ActionResult 是一次生命周期操作之后返回给调用方的内容
type ActionResult struct {
	Reload   bool               `json:"reload,omitempty"`
	BundleID *int64             `json:"bundleId,omitempty"`
	Bundle   *domain.BundleInfo `json:"-"`
}

// Payload 返回应序列化给客户端的对象
func (r *ActionResult) Payload() any {
	if r.Bundle != nil {
		return r.Bundle
	}
	return r
}

// Console 组合注册表查询与生命周期控制，生成控制台所需的全部数据
type Console struct {
	registry  port.BundleRegistry
	lifecycle port.BundleLifecycle
	recorder  port.ActionRecorder
	locator   *Locator
	reporter  *Reporter
	logger    *slog.Logger
	now       func() time.Time
}

// NewConsole 创建 Console；recorder 可以为 nil，此时不记录审计日志
func NewConsole(
	registry port.BundleRegistry,
	lifecycle port.BundleLifecycle,
	recorder port.ActionRecorder,
	boot *BootDelegation,
	parser *manifest.Parser,
) *Console {
	return &Console{
		registry:  registry,
		lifecycle: lifecycle,
		recorder:  recorder,
		locator:   NewLocator(registry),
		reporter:  NewReporter(registry, boot, parser),
		logger:    slog.Default().With("component", "bundle_console"),
		now:       time.Now,
	}
}

// Locate 将请求路径解析为 bundle，找不到时返回 (nil, nil)
func (c *Console) Locate(ctx context.Context, pathInfo string) (*domain.Bundle, error) {
	return c.locator.Resolve(ctx, pathInfo)
}

// List 返回所有 bundle 的概要列表
func (c *Console) List(ctx context.Context) (*domain.BundleList, error) {
	return c.render(ctx, nil)
}

// Report 返回只包含单个 bundle(带详细属性)的列表，统计信息仍覆盖全部 bundle
func (c *Console) Report(ctx context.Context, b *domain.Bundle) (*domain.BundleList, error) {
	return c.render(ctx, b)
}

func (c *Console) render(ctx context.Context, only *domain.Bundle) (*domain.BundleList, error) {
	all, err := c.registry.Bundles(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询 bundle 列表失败: %w", err)
	}
	startLevel, err := c.registry.InitialBundleStartLevel(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询初始启动级别失败: %w", err)
	}

	list := &domain.BundleList{
		Summary:    summarize(all),
		StartLevel: startLevel,
		NumActions: NumActions,
	}

	if only != nil {
		info, err := c.Info(ctx, only, true)
		if err != nil {
			return nil, err
		}
		list.Data = []domain.BundleInfo{info}
		return list, nil
	}

	if len(all) == 0 {
		list.Error = msgNoBundles
		return list, nil
	}

	sorted := slices.Clone(all)
	sort.SliceStable(sorted, func(i, j int) bool {
		ni, nj := DisplayName(&sorted[i]), DisplayName(&sorted[j])
		if ni != nj {
			return ni < nj
		}
		return sorted[i].ID < sorted[j].ID
	})
	list.Data = make([]domain.BundleInfo, 0, len(sorted))
	for i := range sorted {
		info, err := c.Info(ctx, &sorted[i], false)
		if err != nil {
			return nil, err
		}
		list.Data = append(list.Data, info)
	}
	return list, nil
}

func summarize(all []domain.Bundle) domain.BundleSummary {
	s := domain.BundleSummary{Total: len(all)}
	for _, b := range all {
		switch b.State {
		case domain.StateActive:
			s.Active++
		case domain.StateResolved:
			s.Resolved++
		case domain.StateInstalled:
			s.Installed++
		}
	}
	return s
}

// Info 返回单个 bundle 的 JSON 表示；details 为 true 时附带详细属性行
func (c *Console) Info(ctx context.Context, b *domain.Bundle, details bool) (domain.BundleInfo, error) {
	info := domain.BundleInfo{
		ID:      b.ID,
		Name:    DisplayName(b),
		State:   b.State.String(),
		Actions: Actions(b),
	}
	if details {
		props, err := c.Details(ctx, b)
		if err != nil {
			return domain.BundleInfo{}, err
		}
		info.Props = props
	}
	return info, nil
}

// Actions 返回列表页的操作按钮，系统 bundle 的按钮全部禁用
func Actions(b *domain.Bundle) []domain.BundleAction {
	mutable := b.ID != domain.SystemBundleID
	installed := b.State == domain.StateInstalled
	resolved := b.State == domain.StateResolved
	active := b.State == domain.StateActive

	return []domain.BundleAction{
		{Enabled: mutable && (installed || resolved), Name: "Start", Link: ActionStart, Title: "Start"},
		{Enabled: mutable && active, Name: "Stop", Link: ActionStop, Title: "Stop"},
		{Enabled: mutable, Name: "Refresh", Link: ActionRefresh, Title: "Refresh Package Imports"},
		{Enabled: mutable && (installed || resolved || active), Name: "Uninstall", Link: ActionUninstall, Title: "Uninstall"},
	}
}

// Details 返回 bundle 详情页的属性行
func (c *Console) Details(ctx context.Context, b *domain.Bundle) ([]domain.KeyVal, error) {
	var props []domain.KeyVal
	add := func(key, value string) {
		if value != "" {
			props = append(props, domain.KeyVal{Key: key, Value: value})
		}
	}
	header := func(name string) string {
		v, _ := b.Header(name)
		return v
	}

	add("Symbolic Name", b.SymbolicName)
	add("Version", header(domain.HeaderBundleVersion))
	add("Location", b.Location)
	if !b.LastModified.IsZero() {
		add("Last Modification", b.LastModified.Format(time.UnixDate))
	}
	if doc := header(domain.HeaderBundleDocURL); doc != "" {
		add("Bundle Documentation", `<a href="`+doc+`" target="_blank">`+doc+`</a>`)
	}
	add("Vendor", header(domain.HeaderBundleVendor))
	add("Copyright", header(domain.HeaderBundleCopyright))
	add("Description", header(domain.HeaderBundleDescription))
	if b.StartLevel != nil {
		add("Start Level", strconv.Itoa(*b.StartLevel))
	}
	add("Bundle Classpath", header(domain.HeaderBundleClasspath))

	rows, err := c.reporter.ImportExport(ctx, b)
	if err != nil {
		return nil, err
	}
	props = append(props, rows...)

	services, err := c.registry.RegisteredServices(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("查询 bundle %d 的服务失败: %w", b.ID, err)
	}
	props = append(props, ServiceRows(services)...)

	return props, nil
}

// PerformAction 执行生命周期操作。操作本身的失败只记录日志与指标，
// 仍然返回操作后的 bundle 状态；只有定位或渲染失败才返回错误。
func (c *Console) PerformAction(ctx context.Context, pathInfo, action string) (*ActionResult, error) {
	if action == ActionRefreshPackages {
		err := c.lifecycle.Refresh(ctx, nil)
		c.afterAction(ctx, domain.SystemBundleID, action, err)
		return &ActionResult{Reload: true}, nil
	}

	switch action {
	case ActionStart, ActionStop, ActionRefresh, ActionUninstall:
	default:
		return nil, fmt.Errorf("%w: '%s'", port.ErrUnknownAction, action)
	}

	b, err := c.Locate(ctx, pathInfo)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: '%s'", port.ErrBundleNotFound, pathInfo)
	}
	id := b.ID

	var actionErr error
	if id == domain.SystemBundleID {
		actionErr = port.ErrSystemBundle
	} else {
		switch action {
		case ActionStart:
			actionErr = c.lifecycle.Start(ctx, id)
		case ActionStop:
			actionErr = c.lifecycle.Stop(ctx, id)
		case ActionRefresh:
			actionErr = c.lifecycle.Refresh(ctx, []int64{id})
		case ActionUninstall:
			actionErr = c.lifecycle.Uninstall(ctx, id)
		}
	}
	c.afterAction(ctx, id, action, actionErr)

	if action == ActionUninstall {
		return &ActionResult{BundleID: &id}, nil
	}

	current, err := c.registry.Bundle(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("操作后重新查询 bundle %d 失败: %w", id, err)
	}
	if current == nil {
		// 操作期间 bundle 已被移除
		return &ActionResult{BundleID: &id}, nil
	}
	info, err := c.Info(ctx, current, true)
	if err != nil {
		return nil, err
	}
	return &ActionResult{Bundle: &info}, nil
}

func (c *Console) afterAction(ctx context.Context, bundleID int64, action string, actionErr error) {
	aegobserve.ObserveAction(action, actionErr)

	rec := domain.ActionRecord{
		ActionID:  uuid.NewString(),
		BundleID:  bundleID,
		Action:    action,
		Succeeded: actionErr == nil,
		CreatedAt: c.now(),
	}
	if actionErr != nil {
		rec.Message = actionErr.Error()
		level := slog.LevelError
		if errors.Is(actionErr, port.ErrSystemBundle) || errors.Is(actionErr, port.ErrIllegalState) {
			level = slog.LevelWarn
		}
		c.logger.Log(ctx, level, "bundle 生命周期操作失败",
			"action_id", rec.ActionID, "bundle_id", bundleID, "action", action, "error", actionErr)
	} else {
		c.logger.Info("bundle 生命周期操作完成", "action_id", rec.ActionID, "bundle_id", bundleID, "action", action)
	}

	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordAction(ctx, rec); err != nil {
		c.logger.Warn("写入操作审计记录失败", "action_id", rec.ActionID, "error", err)
	}
}

// DisplayName 依次使用 Bundle-Name、符号名、位置，都没有时使用 ID
func DisplayName(b *domain.Bundle) string {
	if name, ok := b.Header(domain.HeaderBundleName); ok && name != "" {
		return name
	}
	if b.SymbolicName != "" {
		return b.SymbolicName
	}
	if b.Location != "" {
		return b.Location
	}
	return strconv.FormatInt(b.ID, 10)
}

// RecentActions 返回最近的审计记录，未配置 recorder 时返回空
func (c *Console) RecentActions(ctx context.Context, limit int) ([]domain.ActionRecord, error) {
	if c.recorder == nil {
		return nil, nil
	}
	recs, err := c.recorder.RecentActions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("查询操作审计记录失败: %w", err)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	return recs, nil
}
