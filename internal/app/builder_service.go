package app

import (
	"fmt"
	"strings"

	"quantdesk/internal/config"
	"quantdesk/internal/logger"
	"quantdesk/internal/notifier"
	apihttp "quantdesk/internal/transport/http/api"
)

func buildHTTPServer(cfg config.AppConfig, deps apihttp.Config) (*apihttp.Server, error) {
	deps.Addr = cfg.HTTPAddr
	server, err := apihttp.NewServer(deps)
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 失败: %w", err)
	}
	logger.Infof("✓ HTTP 接口监听 %s", server.Addr())
	return server, nil
}

// buildNotifier 未启用推送时返回 nil。
func buildNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	tg := cfg.Telegram
	if !tg.Enabled {
		return nil
	}
	t := notifier.NewTelegram(tg.BotToken, tg.ChatID)
	if base := strings.TrimSpace(tg.APIBase); base != "" {
		t.APIBase = base
	}
	logger.Infof("✓ Telegram 推送已启用 chat=%s", tg.ChatID)
	return t
}
