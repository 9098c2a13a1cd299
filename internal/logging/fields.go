package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供策略/来源/版本字段，供拦截请求日志复用。
func RequestFields(method, url, strategy, source, version string, crossOrigin bool) logrus.Fields {
	return logrus.Fields{
		"method":       method,
		"url":          url,
		"strategy":     strategy,
		"source":       source,
		"version":      version,
		"cross_origin": crossOrigin,
		"cache_hit":    source == "cache",
	}
}

// GenerationFields 描述一次生命周期事件涉及的 worker 代。
func GenerationFields(action string, generation uint64, version, state string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"generation": generation,
		"version":    version,
		"state":      state,
	}
}
