// Copyright 2026 The JobForge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package secrets 按 secret_ref 解析签名密钥等敏感值。值本身从不进入
// 日志、载荷或证据包；引用可以。
package secrets

import (
	"context"
	"fmt"
)

// Store Secret 存储接口
type Store interface {
	// Get 按引用取 secret 值
	Get(ctx context.Context, key string) (string, error)

	// Set 写入 secret 值；只读 provider 返回错误
	Set(ctx context.Context, key string, value string) error

	// Delete 删除 secret
	Delete(ctx context.Context, key string) error

	// List 列出指定前缀下的 secret 引用
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config Secret Store 配置
type Config struct {
	Provider   string `yaml:"provider"`    // env | vault | memory | file
	VaultAddr  string `yaml:"vault_addr"`  // vault 服务地址
	VaultToken string `yaml:"vault_token"` // vault 访问令牌
	// PathPrefix vault 的 secret 路径前缀；file provider 下是挂载目录
	PathPrefix string `yaml:"path_prefix"`
}

// NewStore 按配置创建 Secret Store；Provider 为空时默认 env
func NewStore(config Config) (Store, error) {
	switch config.Provider {
	case "", "env":
		return NewEnvStore(), nil
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(FileConfig{Dir: config.PathPrefix})
	case "vault":
		return NewVaultStore(VaultConfig{
			Address:    config.VaultAddr,
			Token:      config.VaultToken,
			PathPrefix: config.PathPrefix,
		})
	default:
		return nil, fmt.Errorf("secrets: unknown provider %q", config.Provider)
	}
}
