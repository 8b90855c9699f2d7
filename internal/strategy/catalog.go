package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"quantdesk/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Override 覆盖单个参数域的部分字段，未填写的字段沿用策略声明。
type Override struct {
	Min     *float64 `yaml:"min"`
	Max     *float64 `yaml:"max"`
	Step    *float64 `yaml:"step"`
	Default any      `yaml:"default"`
	Choices []any    `yaml:"choices"`
}

// Entry 是目录中单个策略的配置。
type Entry struct {
	ID          string                 `yaml:"id"`
	Description string                 `yaml:"description"`
	Parameters  map[string]Override    `yaml:"parameters"`
	Schema      map[string]interface{} `yaml:"schema"`

	schemaCompiled *jsonschema.Schema
}

// CatalogFile 映射 strategies.yaml。
type CatalogFile struct {
	Strategies map[string]Entry `yaml:"strategies"`
}

// CatalogSnapshot 公开的目录快照。
type CatalogSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Entries  map[string]Entry
}

// CatalogListener 在目录重载后触发。
type CatalogListener func(CatalogSnapshot)

// Catalog 从 YAML 文件加载策略参数覆盖与 JSON schema 约束，文件变更时热加载。
type Catalog struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  CatalogSnapshot
	listeners []CatalogListener
}

// NewCatalog 读取目录文件并监听更新。
func NewCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("策略目录路径不能为空")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取策略目录失败: %w", err)
	}
	c := &Catalog{path: path, v: v}
	if err := c.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := c.Reload(); err != nil {
			logger.Errorf("[catalog] 热加载失败，保留旧版本: %v", err)
		}
	})
	v.WatchConfig()
	return c, nil
}

// Path 返回目录文件路径。
func (c *Catalog) Path() string { return c.path }

// Snapshot 返回当前目录。
func (c *Catalog) Snapshot() CatalogSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneCatalogSnapshot(c.snapshot)
}

// Entry 返回指定策略的目录配置。
func (c *Catalog) Entry(id string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.snapshot.Entries[strings.TrimSpace(id)]
	return e, ok
}

// Subscribe 注册重载回调。
func (c *Catalog) Subscribe(fn CatalogListener) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Reload 重新读取文件并通知监听者；解析失败时旧快照保持不变。
func (c *Catalog) Reload() error {
	if err := c.reload(); err != nil {
		return err
	}
	c.notifyListeners()
	return nil
}

func (c *Catalog) reload() error {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("读取策略目录失败: %w", err)
	}
	file, err := ParseCatalog(raw)
	if err != nil {
		return err
	}
	entries := make(map[string]Entry, len(file.Strategies))
	for name, entry := range file.Strategies {
		norm, err := normalizeEntry(name, entry)
		if err != nil {
			return err
		}
		entries[norm.ID] = norm
	}
	c.mu.Lock()
	c.snapshot = CatalogSnapshot{
		Version:  c.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Entries:  entries,
	}
	c.mu.Unlock()
	logger.Infof("[catalog] 已从 %s 加载 %d 个策略配置", filepath.Base(c.path), len(entries))
	return nil
}

func (c *Catalog) notifyListeners() {
	c.mu.RLock()
	snap := cloneCatalogSnapshot(c.snapshot)
	listeners := append([]CatalogListener(nil), c.listeners...)
	c.mu.RUnlock()
	for _, fn := range listeners {
		func(cb CatalogListener) {
			defer safeRecover("catalog listener")
			cb(snap)
		}(fn)
	}
}

// ParseCatalog 严格解析目录 YAML，未知字段视为错误。
func ParseCatalog(raw []byte) (CatalogFile, error) {
	var file CatalogFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return CatalogFile{}, fmt.Errorf("解析策略目录失败: %w", err)
	}
	return file, nil
}

func normalizeEntry(name string, e Entry) (Entry, error) {
	e.ID = strings.TrimSpace(e.ID)
	if e.ID == "" {
		e.ID = strings.TrimSpace(name)
	}
	e.Description = strings.TrimSpace(e.Description)
	if len(e.Schema) > 0 {
		compiled, err := compileSchema(e.Schema)
		if err != nil {
			return Entry{}, fmt.Errorf("策略 %s schema 编译失败: %w", e.ID, err)
		}
		e.schemaCompiled = compiled
	}
	return e, nil
}

// Apply 将覆盖合并到声明的参数域上；合并后不合法的覆盖被忽略。
func (e Entry) Apply(declared []Domain) []Domain {
	out := cloneDomains(declared)
	for i, d := range out {
		ov, ok := e.Parameters[d.Name]
		if !ok {
			continue
		}
		merged := d.clone()
		if ov.Min != nil {
			merged.Min = *ov.Min
		}
		if ov.Max != nil {
			merged.Max = *ov.Max
		}
		if ov.Step != nil {
			merged.Step = *ov.Step
		}
		if len(ov.Choices) > 0 {
			merged.Choices = append([]any(nil), ov.Choices...)
		}
		if ov.Default != nil {
			merged.Default = ov.Default
		}
		if err := merged.Validate(); err != nil {
			logger.Warnf("[catalog] 忽略策略 %s 参数 %s 的覆盖: %v", e.ID, d.Name, err)
			continue
		}
		if norm, err := merged.Normalize(merged.Default); err == nil {
			merged.Default = norm
		}
		out[i] = merged
	}
	return out
}

// UnknownParameters 返回覆盖中未被声明的参数名。
func (e Entry) UnknownParameters(declared []Domain) []string {
	known := make(map[string]bool, len(declared))
	for _, d := range declared {
		known[d.Name] = true
	}
	var out []string
	for name := range e.Parameters {
		if !known[name] {
			out = append(out, name)
		}
	}
	return out
}

// Validate 用 schema 校验一组完整参数。
func (e Entry) Validate(params Parameters) error {
	if e.schemaCompiled == nil {
		return nil
	}
	doc, err := jsonDocument(params)
	if err != nil {
		return err
	}
	return e.schemaCompiled.Validate(doc)
}

// jsonDocument 把参数转成 encoding/json 解码得到的形态，schema 校验只接受这种形态。
func jsonDocument(params Parameters) (any, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func compileSchema(data map[string]interface{}) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func cloneCatalogSnapshot(src CatalogSnapshot) CatalogSnapshot {
	dst := CatalogSnapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Entries:  make(map[string]Entry, len(src.Entries)),
	}
	for id, e := range src.Entries {
		dst.Entries[id] = e
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}
