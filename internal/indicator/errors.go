package indicator

import (
	"errors"
	"fmt"
)

// ErrInsufficientData 供 errors.Is 匹配所有数据不足错误。
var ErrInsufficientData = errors.New("insufficient data")

// InsufficientDataError 表示序列长度不足以计算指定窗口的指标。
type InsufficientDataError struct {
	Indicator string
	Need      int
	Have      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s 数据不足: 需要 %d 根，实际 %d 根", e.Indicator, e.Need, e.Have)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

func requireLen(name string, values []float64, need int) error {
	if len(values) < need {
		return &InsufficientDataError{Indicator: name, Need: need, Have: len(values)}
	}
	return nil
}

func requirePositive(name string, periods ...int) error {
	for _, p := range periods {
		if p <= 0 {
			return fmt.Errorf("%s 周期必须 > 0 (got %d)", name, p)
		}
	}
	return nil
}
