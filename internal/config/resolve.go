package config

import (
	"os"
	"path/filepath"
)

// configDir 由外部通过 SetConfigDir 指定，优先级最高
var configDir string

// envSearchDirs .env 文件搜索目录
var envSearchDirs = []string{
	".",
	"..",
	"../..",
}

// defaultConfigPaths 项目根目录或其子目录下运行时的 configs/ 位置
var defaultConfigPaths = []string{
	"configs",
	"../configs",
	"../../configs",
}

// SetConfigDir 设置配置文件目录（用于 --config 命令行参数）
// 调用后 Load 只从该目录加载配置文件
func SetConfigDir(dir string) {
	configDir = dir
}

// effectiveConfigPaths 返回配置文件搜索路径
//
// 优先级：SetConfigDir > CONFIG_DIR > 默认路径
func effectiveConfigPaths() []string {
	if configDir != "" {
		return []string{configDir}
	}
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return []string{dir}
	}
	return defaultConfigPaths
}

// findConfigFile 在搜索路径中查找第一个存在的配置文件，找不到返回空串
func findConfigFile(name string) string {
	for _, base := range effectiveConfigPaths() {
		path := filepath.Join(base, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}
