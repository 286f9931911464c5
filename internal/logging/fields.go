package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供缓存仓库/请求分类/策略/命中状态字段，供 fetch 日志复用。
func RequestFields(cacheName, class, strategy, source string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"cache_name": cacheName,
		"class":      class,
		"strategy":   strategy,
		"source":     source,
		"cache_hit":  cacheHit,
	}
}
