package market

import (
	"errors"
	"fmt"
)

// ErrDataUnavailable 供 errors.Is 判断所有行情不可用错误。
var ErrDataUnavailable = errors.New("market data unavailable")

// DataUnavailableError 表示行情源为空或不可达。对搜索而言是单次试验失败。
type DataUnavailableError struct {
	Symbol    string
	Timeframe string
	Reason    string
	Err       error
}

func (e *DataUnavailableError) Error() string {
	msg := fmt.Sprintf("行情不可用 %s@%s", e.Symbol, e.Timeframe)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

func (e *DataUnavailableError) Is(target error) bool { return target == ErrDataUnavailable }

// Unavailable 构造 DataUnavailableError。
func Unavailable(symbol, timeframe, reason string, err error) error {
	return &DataUnavailableError{Symbol: symbol, Timeframe: timeframe, Reason: reason, Err: err}
}
