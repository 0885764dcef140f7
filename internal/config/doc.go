// Package config 负责解析 ChainPilot 的 JSON 配置文件并补全默认值。
package config
