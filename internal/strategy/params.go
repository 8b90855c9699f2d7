package strategy

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Parameters 是策略参数名到取值的映射。
// int 域的值为 int，float 域为 float64，categorical 域为 choices 中的原值。
type Parameters map[string]any

// Value 返回原始取值。
func (p Parameters) Value(name string) (any, bool) {
	v, ok := p[name]
	return v, ok
}

// Float 以 float64 读取数值参数，缺失或非数值时返回 0。
func (p Parameters) Float(name string) float64 {
	f, ok := toFloat(p[name])
	if !ok {
		return 0
	}
	return f
}

// Int 以 int 读取数值参数（四舍五入）。
func (p Parameters) Int(name string) int {
	f, ok := toFloat(p[name])
	if !ok {
		return 0
	}
	return int(math.Round(f))
}

// String 读取字符串参数。
func (p Parameters) String(name string) string {
	switch v := p[name].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func (p Parameters) Clone() Parameters {
	if p == nil {
		return nil
	}
	out := make(Parameters, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Names 返回排序后的参数名。
func (p Parameters) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Key 返回与 map 遍历顺序无关的规范化键，用于去重与记忆化。
func (p Parameters) Key() string {
	var b strings.Builder
	for i, name := range p.Names() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(formatValue(p[name]))
	}
	return b.String()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case int:
		return strconv.Itoa(val)
	case string:
		return strconv.Quote(val)
	default:
		return fmt.Sprint(val)
	}
}

// toFloat 兼容 JSON / YAML 解码出的各种数值形态，以及数字字符串。
func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func isNumber(v any) bool {
	switch v.(type) {
	case string, nil:
		return false
	}
	_, ok := toFloat(v)
	return ok
}

// sameValue 比较两个 categorical 取值，数值按大小比较。
func sameValue(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return fa == fb
	}
	return fmt.Sprint(a) == fmt.Sprint(b) && fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}
