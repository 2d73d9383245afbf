// Package metrics 提供 Prometheus 指标收集。每个 Collector 持有独立的 Registry，
// 同一进程内可以并存多个 server 实例。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace 是所有指标的前缀。
const Namespace = "calipso"

// Collector 指标收集器。所有 Record 方法在 nil 接收者上是空操作，
// 未开启指标时调用方无需判空。
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	stylesheetCompiles *prometheus.CounterVec
	themeSwitches      *prometheus.CounterVec
	activeTheme        *prometheus.GaugeVec

	bootTotal           *prometheus.CounterVec
	bootDuration        prometheus.Histogram
	pipelineStages      prometheus.Gauge
	missingTranslations *prometheus.CounterVec
	uploadsTotal        prometheus.Counter
}

// NewCollector 创建指标收集器，并注册 Go runtime 与进程指标。
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		stylesheetCompiles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "stylesheet_compiles_total",
				Help:      "Theme stylesheet compilations by result",
			},
			[]string{"theme", "result"},
		),
		themeSwitches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "theme_switches_total",
				Help:      "Runtime theme switches by result",
			},
			[]string{"result"},
		),
		activeTheme: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "active_theme",
				Help:      "Set to 1 for the theme currently served",
			},
			[]string{"theme"},
		),

		bootTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "boot_total",
				Help:      "Boot attempts by result code",
			},
			[]string{"code"},
		),
		bootDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "boot_duration_seconds",
				Help:      "Time from boot start to a ready pipeline",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
		pipelineStages: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "pipeline_stages",
				Help:      "Number of attached pipeline stages",
			},
		),
		missingTranslations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "translation_missing_total",
				Help:      "Lookups of keys absent from the language file",
			},
			[]string{"language"},
		),
		uploadsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "uploads_total",
				Help:      "Uploaded files stored by the form stage",
			},
		),
	}
}

// Registry 返回底层 Registry，测试中用于 testutil 断言。
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler 返回 /-/metrics 使用的 http.Handler。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordStylesheetCompile 记录一次样式编译，result 为 ok 或 error。
func (c *Collector) RecordStylesheetCompile(theme, result string) {
	if c == nil {
		return
	}
	c.stylesheetCompiles.WithLabelValues(theme, result).Inc()
}

// RecordThemeSwitch 记录主题切换结果，成功时更新 active_theme。
func (c *Collector) RecordThemeSwitch(from, to string, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.themeSwitches.WithLabelValues("error").Inc()
		return
	}
	c.themeSwitches.WithLabelValues("ok").Inc()
	c.SetActiveTheme(from, to)
}

// SetActiveTheme 将 active_theme 从 from 切到 to。
func (c *Collector) SetActiveTheme(from, to string) {
	if c == nil {
		return
	}
	if from != "" && from != to {
		c.activeTheme.DeleteLabelValues(from)
	}
	c.activeTheme.WithLabelValues(to).Set(1)
}

// RecordBoot 记录启动结果，code 为空表示成功。
func (c *Collector) RecordBoot(code string, duration time.Duration) {
	if c == nil {
		return
	}
	if code == "" {
		code = "OK"
	}
	c.bootTotal.WithLabelValues(code).Inc()
	c.bootDuration.Observe(duration.Seconds())
}

// SetPipelineStages 记录当前 stage 数量。
func (c *Collector) SetPipelineStages(n int) {
	if c == nil {
		return
	}
	c.pipelineStages.Set(float64(n))
}

// RecordMissingTranslation 记录缺失的翻译 key。
func (c *Collector) RecordMissingTranslation(language string) {
	if c == nil {
		return
	}
	c.missingTranslations.WithLabelValues(language).Inc()
}

// RecordUpload 记录一次文件上传。
func (c *Collector) RecordUpload() {
	if c == nil {
		return
	}
	c.uploadsTotal.Inc()
}

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
