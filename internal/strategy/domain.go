package strategy

import (
	"math"
	"math/rand"
	"strings"
)

// Kind 参数域类型。
type Kind string

const (
	KindInt         Kind = "int"
	KindFloat       Kind = "float"
	KindCategorical Kind = "categorical"
)

func (k Kind) valid() bool {
	switch k {
	case KindInt, KindFloat, KindCategorical:
		return true
	}
	return false
}

// Numeric 表示 int / float 域。
func (k Kind) Numeric() bool { return k == KindInt || k == KindFloat }

// Domain 描述单个参数允许的取值范围。
type Domain struct {
	Name    string  `json:"name" yaml:"name"`
	Kind    Kind    `json:"kind" yaml:"kind"`
	Min     float64 `json:"min" yaml:"min"`
	Max     float64 `json:"max" yaml:"max"`
	Step    float64 `json:"step,omitempty" yaml:"step"`
	Choices []any   `json:"choices,omitempty" yaml:"choices"`
	Default any     `json:"default" yaml:"default"`
}

// Validate 校验域自身是否合法（边界、步长、默认值）。
func (d Domain) Validate() error {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return invalidDomain(d.Name, "参数名不能为空")
	}
	if !d.Kind.valid() {
		return invalidDomain(name, "未知类型 %q", d.Kind)
	}
	if d.Kind == KindCategorical {
		if len(d.Choices) == 0 {
			return invalidDomain(name, "categorical 参数必须提供 choices")
		}
	} else {
		if len(d.Choices) > 0 {
			return invalidDomain(name, "%s 参数不支持 choices，请用 min/max/step 描述", d.Kind)
		}
		if math.IsNaN(d.Min) || math.IsNaN(d.Max) || math.IsInf(d.Min, 0) || math.IsInf(d.Max, 0) {
			return invalidDomain(name, "边界必须为有限数值")
		}
		if d.Min > d.Max {
			return invalidDomain(name, "min(%v) 大于 max(%v)", d.Min, d.Max)
		}
		if d.Step < 0 || math.IsNaN(d.Step) {
			return invalidDomain(name, "step 不能为负")
		}
		if d.Kind == KindInt {
			if !integral(d.Min) || !integral(d.Max) || !integral(d.Step) {
				return invalidDomain(name, "int 参数的 min/max/step 必须为整数")
			}
		}
	}
	if d.Default == nil {
		return invalidDomain(name, "缺少默认值")
	}
	if _, err := d.Normalize(d.Default); err != nil {
		return invalidDomain(name, "默认值 %v 不在域内", d.Default)
	}
	return nil
}

// Contains 判断 v 是否落在域内。
func (d Domain) Contains(v any) bool {
	_, err := d.Normalize(v)
	return err == nil
}

// Normalize 将取值转换为域的规范类型，超出域时返回 InvalidDomainError。
func (d Domain) Normalize(v any) (any, error) {
	switch d.Kind {
	case KindCategorical:
		for _, choice := range d.Choices {
			if sameValue(choice, v) {
				return choice, nil
			}
		}
		return nil, invalidDomain(d.Name, "取值 %v 不在 choices 中", v)
	case KindInt, KindFloat:
		f, ok := toFloat(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, invalidDomain(d.Name, "取值 %v 不是有效数值", v)
		}
		if f < d.Min-tolerance(d.Min) || f > d.Max+tolerance(d.Max) {
			return nil, invalidDomain(d.Name, "取值 %v 超出范围 [%v, %v]", v, d.Min, d.Max)
		}
		if d.Kind == KindInt {
			if !integral(f) {
				return nil, invalidDomain(d.Name, "取值 %v 不是整数", v)
			}
			return int(math.Round(f)), nil
		}
		return math.Min(math.Max(f, d.Min), d.Max), nil
	default:
		return nil, invalidDomain(d.Name, "未知类型 %q", d.Kind)
	}
}

// Values 枚举域内的离散取值：int 按步长（默认 1），float 按声明步长或等分为 floatSteps 个点，categorical 为 choices。
func (d Domain) Values(floatSteps int) []any {
	switch d.Kind {
	case KindCategorical:
		return append([]any(nil), d.Choices...)
	case KindInt:
		step := int(d.Step)
		if step <= 0 {
			step = 1
		}
		lo, hi := int(math.Round(d.Min)), int(math.Round(d.Max))
		out := make([]any, 0, (hi-lo)/step+1)
		for v := lo; v <= hi; v += step {
			out = append(out, v)
		}
		return out
	case KindFloat:
		if d.Min == d.Max {
			return []any{d.Min}
		}
		if d.Step > 0 {
			n := int(math.Floor((d.Max-d.Min)/d.Step + 1e-9))
			out := make([]any, 0, n+1)
			for k := 0; k <= n; k++ {
				out = append(out, roundFloat(d.Min+float64(k)*d.Step))
			}
			return out
		}
		if floatSteps < 2 {
			floatSteps = 2
		}
		out := make([]any, 0, floatSteps)
		span := d.Max - d.Min
		for k := 0; k < floatSteps-1; k++ {
			out = append(out, roundFloat(d.Min+span*float64(k)/float64(floatSteps-1)))
		}
		return append(out, d.Max)
	}
	return nil
}

// Random 在域内均匀采样一个取值。
func (d Domain) Random(rng *rand.Rand) any {
	switch d.Kind {
	case KindCategorical:
		return d.Choices[rng.Intn(len(d.Choices))]
	case KindInt:
		step := int(d.Step)
		if step <= 0 {
			step = 1
		}
		lo, hi := int(math.Round(d.Min)), int(math.Round(d.Max))
		count := (hi-lo)/step + 1
		return lo + step*rng.Intn(count)
	case KindFloat:
		if d.Step > 0 && d.Max > d.Min {
			vals := d.Values(0)
			return vals[rng.Intn(len(vals))]
		}
		return d.Min + rng.Float64()*(d.Max-d.Min)
	}
	return d.Default
}

// Fixed 判断域只包含单个取值。
func (d Domain) Fixed() bool {
	if d.Kind == KindCategorical {
		return len(d.Choices) == 1
	}
	return d.Min == d.Max
}

func (d Domain) clone() Domain {
	d.Choices = append([]any(nil), d.Choices...)
	return d
}

func cloneDomains(src []Domain) []Domain {
	out := make([]Domain, len(src))
	for i, d := range src {
		out[i] = d.clone()
	}
	return out
}

func integral(f float64) bool {
	return math.Abs(f-math.Round(f)) < 1e-9
}

func tolerance(bound float64) float64 {
	return 1e-9 * math.Max(1, math.Abs(bound))
}

// roundFloat 消除步长累加产生的浮点尾差。
func roundFloat(f float64) float64 {
	return math.Round(f*1e10) / 1e10
}
