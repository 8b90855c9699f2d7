package strategy

import (
	"fmt"
	"strings"
	"sync"

	"quantdesk/internal/logger"
)

// Info 是对外展示的策略描述。
type Info struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Parameters  []Domain `json:"parameters"`
}

// Registry 管理可用策略，并叠加目录中的参数域覆盖。
type Registry struct {
	mu      sync.RWMutex
	items   map[string]Strategy
	order   []string
	catalog *Catalog
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Strategy)}
}

// NewDefaultRegistry 返回已注册全部内置策略的注册表。
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, s := range Builtins() {
		r.MustRegister(s)
	}
	return r
}

// Register 注册策略，声明的参数域在此处校验。
func (r *Registry) Register(s Strategy) error {
	if s == nil {
		return fmt.Errorf("strategy 不能为空")
	}
	id := strings.TrimSpace(s.ID())
	if id == "" {
		return fmt.Errorf("策略 ID 不能为空")
	}
	seen := make(map[string]bool)
	for _, d := range s.Domains() {
		if seen[d.Name] {
			return invalidDomain(d.Name, "策略 %s 重复声明", id)
		}
		seen[d.Name] = true
		if err := d.Validate(); err != nil {
			return fmt.Errorf("策略 %s: %w", id, err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; ok {
		return fmt.Errorf("策略 %s 已注册", id)
	}
	r.items[id] = s
	r.order = append(r.order, id)
	return nil
}

func (r *Registry) MustRegister(s Strategy) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// AttachCatalog 关联策略目录，之后的查询都读取目录最新快照。
func (r *Registry) AttachCatalog(c *Catalog) {
	r.mu.Lock()
	r.catalog = c
	r.mu.Unlock()
	if c == nil {
		return
	}
	r.auditCatalog(c.Snapshot())
	c.Subscribe(r.auditCatalog)
}

func (r *Registry) auditCatalog(snap CatalogSnapshot) {
	for id, entry := range snap.Entries {
		s, err := r.Lookup(id)
		if err != nil {
			logger.Warnf("[strategy] 目录中的策略 %s 未注册，忽略", id)
			continue
		}
		for _, name := range entry.UnknownParameters(s.Domains()) {
			logger.Warnf("[strategy] 目录中策略 %s 的参数 %s 未声明，忽略", id, name)
		}
	}
}

// Lookup 按 ID 查找策略。
func (r *Registry) Lookup(id string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[strings.TrimSpace(id)]
	if !ok {
		return nil, &UnknownStrategyError{ID: id}
	}
	return s, nil
}

// List 按注册顺序返回所有策略及其生效的参数域。
func (r *Registry) List() []Info {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	r.mu.RUnlock()
	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		s, err := r.Lookup(id)
		if err != nil {
			continue
		}
		domains, _ := r.Domains(id)
		desc := s.Description()
		if entry, ok := r.entry(id); ok && entry.Description != "" {
			desc = entry.Description
		}
		out = append(out, Info{ID: id, Description: desc, Parameters: domains})
	}
	return out
}

// Domains 返回策略生效的参数域（声明 + 目录覆盖）。
func (r *Registry) Domains(id string) ([]Domain, error) {
	s, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	declared := s.Domains()
	if entry, ok := r.entry(id); ok {
		return entry.Apply(declared), nil
	}
	return cloneDomains(declared), nil
}

func (r *Registry) entry(id string) (Entry, bool) {
	r.mu.RLock()
	c := r.catalog
	r.mu.RUnlock()
	return c.Entry(id)
}

// Resolve 补全默认值并校验参数：未声明的参数名返回 UnknownParameterError，超出域返回 InvalidDomainError。
func (r *Registry) Resolve(id string, params Parameters) (Parameters, error) {
	domains, err := r.Domains(id)
	if err != nil {
		return nil, err
	}
	index := make(map[string]Domain, len(domains))
	for _, d := range domains {
		index[d.Name] = d
	}
	for _, name := range params.Names() {
		if _, ok := index[name]; !ok {
			return nil, &UnknownParameterError{Strategy: id, Name: name}
		}
	}
	resolved := make(Parameters, len(domains))
	for _, d := range domains {
		raw, ok := params[d.Name]
		if !ok || raw == nil {
			raw = d.Default
		}
		v, err := d.Normalize(raw)
		if err != nil {
			return nil, err
		}
		resolved[d.Name] = v
	}
	if entry, ok := r.entry(id); ok {
		if err := entry.Validate(resolved); err != nil {
			return nil, invalidDomain(id, "参数未通过 schema 校验: %v", err)
		}
	}
	return resolved, nil
}

// ValidateDomains 校验调用方提供的搜索域：名称必须已声明、类型一致、范围不超出生效域。
// 未提供的参数固定为默认值，返回结果按策略声明顺序排列。
func (r *Registry) ValidateDomains(id string, domains []Domain) ([]Domain, error) {
	declared, err := r.Domains(id)
	if err != nil {
		return nil, err
	}
	if len(domains) == 0 {
		return declared, nil
	}
	supplied := make(map[string]Domain, len(domains))
	for _, d := range domains {
		name := strings.TrimSpace(d.Name)
		if _, dup := supplied[name]; dup {
			return nil, invalidDomain(name, "重复提供")
		}
		d.Name = name
		supplied[name] = d
	}
	index := make(map[string]Domain, len(declared))
	for _, d := range declared {
		index[d.Name] = d
	}
	for _, d := range domains {
		if _, ok := index[strings.TrimSpace(d.Name)]; !ok {
			return nil, &UnknownParameterError{Strategy: id, Name: d.Name}
		}
	}
	out := make([]Domain, 0, len(declared))
	for _, base := range declared {
		d, ok := supplied[base.Name]
		if !ok {
			out = append(out, fixedDomain(base))
			continue
		}
		narrowed, err := narrow(base, d)
		if err != nil {
			return nil, err
		}
		out = append(out, narrowed)
	}
	return out, nil
}

// narrow 检查 d 是 base 的子域并补全缺省字段。
func narrow(base, d Domain) (Domain, error) {
	if d.Kind == "" {
		d.Kind = base.Kind
	}
	if d.Kind != base.Kind {
		return Domain{}, invalidDomain(d.Name, "类型 %s 与声明的 %s 不一致", d.Kind, base.Kind)
	}
	if d.Kind == KindCategorical {
		if len(d.Choices) == 0 {
			d.Choices = append([]any(nil), base.Choices...)
		}
		for i, c := range d.Choices {
			norm, err := base.Normalize(c)
			if err != nil {
				return Domain{}, err
			}
			d.Choices[i] = norm
		}
		if d.Default == nil {
			d.Default = d.Choices[0]
			if d.Contains(base.Default) {
				d.Default = base.Default
			}
		}
	} else {
		if d.Min < base.Min-tolerance(base.Min) || d.Max > base.Max+tolerance(base.Max) {
			return Domain{}, invalidDomain(d.Name, "范围 [%v, %v] 超出声明范围 [%v, %v]", d.Min, d.Max, base.Min, base.Max)
		}
		if d.Default == nil {
			d.Default = d.Min
			if d.Contains(base.Default) {
				d.Default = base.Default
			}
		}
	}
	if err := d.Validate(); err != nil {
		return Domain{}, err
	}
	norm, _ := d.Normalize(d.Default)
	d.Default = norm
	return d, nil
}

func fixedDomain(base Domain) Domain {
	d := base.clone()
	if d.Kind == KindCategorical {
		d.Choices = []any{d.Default}
		return d
	}
	f, _ := toFloat(d.Default)
	d.Min, d.Max, d.Step = f, f, 0
	return d
}
