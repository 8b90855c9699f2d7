package strategy

import (
	"fmt"

	"quantdesk/internal/indicator"
	"quantdesk/internal/market"
)

// 内置策略 ID。
const (
	RSIStrategyID    = "rsi_strategy"
	MACDStrategyID   = "macd_strategy"
	MACrossoverID    = "ma_crossover"
	BollingerBandsID = "bollinger_bands"
)

// Builtins 返回内置策略，顺序即注册顺序。
func Builtins() []Strategy {
	return []Strategy{
		rsiStrategy{},
		macdStrategy{},
		maCrossover{},
		bollingerBands{},
	}
}

func intDomain(name string, def, lo, hi int) Domain {
	return Domain{Name: name, Kind: KindInt, Min: float64(lo), Max: float64(hi), Default: def}
}

func floatDomain(name string, def, lo, hi float64) Domain {
	return Domain{Name: name, Kind: KindFloat, Min: lo, Max: hi, Default: def}
}

func riskDomains(stop, stopMin, stopMax, take, takeMin, takeMax float64) []Domain {
	return []Domain{
		floatDomain(ParamStopLoss, stop, stopMin, stopMax),
		floatDomain(ParamTakeProfit, take, takeMin, takeMax),
	}
}

// ---- rsi_strategy ----

type rsiStrategy struct{}

func (rsiStrategy) ID() string { return RSIStrategyID }

func (rsiStrategy) Description() string { return "RSI 超卖买入、超买卖出" }

func (rsiStrategy) Domains() []Domain {
	return append([]Domain{
		intDomain("rsi_period", 14, 5, 50),
		floatDomain("oversold_level", 30, 20, 40),
		floatDomain("overbought_level", 70, 60, 80),
	}, riskDomains(0.02, 0.01, 0.05, 0.04, 0.02, 0.10)...)
}

func (rsiStrategy) Prepare(bars []market.Bar, params Parameters) (Indicators, error) {
	closes := market.Closes(bars)
	rsi, err := indicator.RSI(closes, params.Int("rsi_period"))
	if err != nil {
		return Indicators{}, fmt.Errorf("%s: %w", RSIStrategyID, err)
	}
	ind := NewIndicators(closes, params)
	ind.Set("rsi", rsi)
	return ind, nil
}

func (rsiStrategy) Decide(i int, ind Indicators, pos *PositionView) Signal {
	v := ind.At("rsi", i)
	if pos == nil {
		if v < ind.Params.Float("oversold_level") {
			return EnterLong
		}
		return Hold
	}
	if v > ind.Params.Float("overbought_level") {
		return Exit
	}
	return Hold
}

// ---- macd_strategy ----

type macdStrategy struct{}

func (macdStrategy) ID() string { return MACDStrategyID }

func (macdStrategy) Description() string { return "MACD 线上穿信号线买入、下穿卖出" }

func (macdStrategy) Domains() []Domain {
	return append([]Domain{
		intDomain("fast_period", 12, 8, 20),
		intDomain("slow_period", 26, 20, 35),
		intDomain("signal_period", 9, 5, 15),
	}, riskDomains(0.025, 0.01, 0.05, 0.05, 0.02, 0.10)...)
}

func (macdStrategy) Prepare(bars []market.Bar, params Parameters) (Indicators, error) {
	closes := market.Closes(bars)
	macd, err := indicator.MACD(closes, params.Int("fast_period"), params.Int("slow_period"), params.Int("signal_period"))
	if err != nil {
		return Indicators{}, fmt.Errorf("%s: %w", MACDStrategyID, err)
	}
	ind := NewIndicators(closes, params)
	ind.Set("macd", macd.Line)
	ind.Set("macd_signal", macd.Signal)
	return ind, nil
}

func (macdStrategy) Decide(i int, ind Indicators, pos *PositionView) Signal {
	line, sig := ind.Series("macd"), ind.Series("macd_signal")
	if pos == nil {
		if indicator.CrossedAbove(line, sig, i) {
			return EnterLong
		}
		return Hold
	}
	if indicator.CrossedBelow(line, sig, i) {
		return Exit
	}
	return Hold
}

// ---- ma_crossover ----

type maCrossover struct{}

func (maCrossover) ID() string { return MACrossoverID }

func (maCrossover) Description() string { return "快慢均线金叉买入、死叉卖出" }

func (maCrossover) Domains() []Domain {
	return append([]Domain{
		intDomain("fast_ma", 20, 10, 50),
		intDomain("slow_ma", 50, 30, 100),
	}, riskDomains(0.03, 0.01, 0.05, 0.06, 0.03, 0.12)...)
}

func (maCrossover) Prepare(bars []market.Bar, params Parameters) (Indicators, error) {
	closes := market.Closes(bars)
	fast, err := indicator.SMA(closes, params.Int("fast_ma"))
	if err != nil {
		return Indicators{}, fmt.Errorf("%s: %w", MACrossoverID, err)
	}
	slow, err := indicator.SMA(closes, params.Int("slow_ma"))
	if err != nil {
		return Indicators{}, fmt.Errorf("%s: %w", MACrossoverID, err)
	}
	ind := NewIndicators(closes, params)
	ind.Set("fast_ma", fast)
	ind.Set("slow_ma", slow)
	return ind, nil
}

func (maCrossover) Decide(i int, ind Indicators, pos *PositionView) Signal {
	fast, slow := ind.Series("fast_ma"), ind.Series("slow_ma")
	if pos == nil {
		if indicator.CrossedAbove(fast, slow, i) {
			return EnterLong
		}
		return Hold
	}
	if indicator.CrossedBelow(fast, slow, i) {
		return Exit
	}
	return Hold
}

// ---- bollinger_bands ----

type bollingerBands struct{}

func (bollingerBands) ID() string { return BollingerBandsID }

func (bollingerBands) Description() string { return "收盘价触及下轨买入、回到中轨卖出" }

func (bollingerBands) Domains() []Domain {
	return append([]Domain{
		intDomain("period", 20, 10, 30),
		floatDomain("std_dev", 2.0, 1.5, 2.5),
	}, riskDomains(0.02, 0.01, 0.04, 0.04, 0.02, 0.08)...)
}

func (bollingerBands) Prepare(bars []market.Bar, params Parameters) (Indicators, error) {
	closes := market.Closes(bars)
	bands, err := indicator.Bollinger(closes, params.Int("period"), params.Float("std_dev"))
	if err != nil {
		return Indicators{}, fmt.Errorf("%s: %w", BollingerBandsID, err)
	}
	ind := NewIndicators(closes, params)
	ind.Set("bb_upper", bands.Upper)
	ind.Set("bb_middle", bands.Middle)
	ind.Set("bb_lower", bands.Lower)
	return ind, nil
}

func (bollingerBands) Decide(i int, ind Indicators, pos *PositionView) Signal {
	price := ind.Close[i]
	if pos == nil {
		if price <= ind.At("bb_lower", i) {
			return EnterLong
		}
		return Hold
	}
	if price >= ind.At("bb_middle", i) {
		return Exit
	}
	return Hold
}
