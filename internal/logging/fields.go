package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// StageFields 描述 pipeline 中某个 stage 的位置，供组装与主题切换日志复用。
func StageFields(action, tag string, index int) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"stage":  tag,
		"index":  index,
	}
}

// ThemeFields 记录主题切换前后的目录名。
func ThemeFields(action, from, to string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"theme_from": from,
		"theme_to":   to,
	}
}

// RequestFields 提供请求级字段，供 stage 内部日志复用。
func RequestFields(requestID, method, path string, status int) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
		"status":     status,
	}
}
