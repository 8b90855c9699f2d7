package strategy

import (
	"errors"
	"fmt"
)

// UnknownStrategyError 表示注册表中不存在该策略。
type UnknownStrategyError struct {
	ID string
}

func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("未知策略: %s", e.ID)
}

// UnknownParameterError 表示参数名未在策略中声明。
type UnknownParameterError struct {
	Strategy string
	Name     string
}

func (e *UnknownParameterError) Error() string {
	return fmt.Sprintf("策略 %s 未声明参数 %s", e.Strategy, e.Name)
}

// InvalidDomainError 表示参数域本身不合法，或取值超出域。
type InvalidDomainError struct {
	Name   string
	Reason string
}

func (e *InvalidDomainError) Error() string {
	return fmt.Sprintf("参数域 %s 非法: %s", e.Name, e.Reason)
}

func invalidDomain(name, format string, args ...any) error {
	return &InvalidDomainError{Name: name, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError 判断 err 是否属于整个会话都无法继续的配置错误。
func IsConfigError(err error) bool {
	if err == nil {
		return false
	}
	var (
		us *UnknownStrategyError
		up *UnknownParameterError
		id *InvalidDomainError
	)
	return errors.As(err, &us) || errors.As(err, &up) || errors.As(err, &id)
}
