package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var supportedStorageDrivers = map[string]struct{}{
	StorageDriverLevelDB: {},
	StorageDriverFS:      {},
	StorageDriverMemory:  {},
}

const supportedStorageDriverList = "leveldb|fs|memory"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, ok := supportedStorageDrivers[g.StorageDriver]; !ok {
		return newFieldError("Global.StorageDriver", "仅支持 "+supportedStorageDriverList)
	}
	if g.StorageDriver != StorageDriverMemory && g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.NetworkTimeout.DurationValue() <= 0 {
		return newFieldError("Global.NetworkTimeout", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.UpdateInterval.DurationValue() < 0 {
		return newFieldError("Global.UpdateInterval", "不能为负数")
	}
	if interval := g.UpdateInterval.DurationValue(); interval > 0 && interval < time.Second {
		return newFieldError("Global.UpdateInterval", "不能小于 1s")
	}

	w := c.Worker
	if err := validateBaseURL(w.Origin); err != nil {
		return fmt.Errorf("%s: %w", workerField("Origin"), err)
	}
	if err := validateBaseURL(w.Upstream); err != nil {
		return fmt.Errorf("%s: %w", workerField("Upstream"), err)
	}
	for _, alias := range w.OriginAliases {
		if err := validateHost(alias); err != nil {
			return fmt.Errorf("%s: %w", workerField("OriginAliases"), err)
		}
	}
	if !strings.HasPrefix(w.APIPrefix, "/") || w.APIPrefix == "/" {
		return newFieldError(workerField("APIPrefix"), "必须以 / 开头且不能为根路径")
	}
	if !strings.HasPrefix(w.VersionEndpoint, "/") {
		return newFieldError(workerField("VersionEndpoint"), "必须以 / 开头")
	}
	if strings.TrimSpace(w.StaticSegment) == "" {
		return newFieldError(workerField("StaticSegment"), "不能为空")
	}
	if strings.TrimSpace(w.DataSegment) == "" {
		return newFieldError(workerField("DataSegment"), "不能为空")
	}
	for _, p := range w.Precache {
		if strings.Contains(p, "://") {
			return newFieldError(workerField("Precache"), fmt.Sprintf("只允许同源路径: %s", p))
		}
	}
	return nil
}

func validateHost(host string) error {
	if host == "" {
		return errors.New("Host 不能为空")
	}
	if strings.Contains(host, "/") {
		return errors.New("Host 不允许包含路径")
	}
	if strings.Contains(host, " ") {
		return errors.New("Host 不允许包含空格")
	}
	if strings.HasPrefix(host, "http") {
		return errors.New("Host 不应包含协议头")
	}
	return nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("缺少地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return fmt.Errorf("不允许包含路径: %s", raw)
	}
	return nil
}
