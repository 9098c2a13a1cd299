package config

import "testing"

func TestLoadFailsWithMissingFile(t *testing.T) {
	if _, err := Load(testConfigPath(t, "absent.toml")); err == nil {
		t.Fatalf("配置文件不存在时应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
NetworkTimeout = "boom"

[Worker]
Origin = "https://reports.example.com"
Upstream = "http://127.0.0.1:3001"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadMemoryDriverKeepsEmptyStoragePath(t *testing.T) {
	cfg := `
StorageDriver = "memory"
StoragePath = ""

[Worker]
Origin = "https://reports.example.com/"
Upstream = "http://127.0.0.1:3001/"
APIPrefix = "backend"
`
	path := writeTempConfig(t, cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.StoragePath != "" {
		t.Fatalf("memory 驱动不应补全 StoragePath: %s", loaded.Global.StoragePath)
	}
	if loaded.Worker.Origin != "https://reports.example.com" {
		t.Fatalf("Origin 尾部斜杠应被移除: %s", loaded.Worker.Origin)
	}
	if loaded.Worker.APIPrefix != "/backend" {
		t.Fatalf("APIPrefix 应补全前导斜杠: %s", loaded.Worker.APIPrefix)
	}
}

func TestLoadRejectsMissingPrecacheFile(t *testing.T) {
	cfg := `
[Worker]
Origin = "https://reports.example.com"
Upstream = "http://127.0.0.1:3001"
PrecacheFile = "nope.yaml"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("PrecacheFile 不存在时应失败")
	}
}
