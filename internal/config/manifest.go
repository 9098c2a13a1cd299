package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// precacheManifest 对应 PrecacheFile 指向的 YAML 文件：
//
//	paths:
//	  - /login
//	  - /pco/dashboard
type precacheManifest struct {
	Paths []string `yaml:"paths"`
}

// LoadPrecacheFile 读取外部预缓存清单，返回按文件顺序排列的路径。
func LoadPrecacheFile(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取预缓存清单失败: %w", err)
	}
	var manifest precacheManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("解析预缓存清单失败: %w", err)
	}
	return manifest.Paths, nil
}

// mergePrecache 追加清单路径并去重，保留首次出现的位置。
func mergePrecache(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	result := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, p := range list {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			result = append(result, p)
		}
	}
	return result
}
