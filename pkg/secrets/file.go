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

package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileConfig 文件挂载 secret 配置；适配 Kubernetes Secret 卷等只读挂载
type FileConfig struct {
	// Dir 挂载目录，每个 secret 一个文件；默认 /etc/jobforge/secrets
	Dir string `yaml:"dir"`
}

type fileStore struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]string
}

// NewFileStore 创建文件 secret store；目录不存在时报错
func NewFileStore(config FileConfig) (Store, error) {
	dir := config.Dir
	if dir == "" {
		dir = "/etc/jobforge/secrets"
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("secrets: mount dir unavailable: %w", err)
	}
	return &fileStore{dir: dir, cache: make(map[string]string)}, nil
}

func (f *fileStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.RLock()
	if val, ok := f.cache[key]; ok {
		f.mu.RUnlock()
		return val, nil
	}
	f.mu.RUnlock()

	// key 只允许文件名，防止路径穿越
	if key != filepath.Base(key) {
		return "", fmt.Errorf("secrets: invalid key: %s", key)
	}
	data, err := os.ReadFile(filepath.Join(f.dir, key))
	if err != nil {
		return "", fmt.Errorf("secrets: not found: %s", key)
	}
	value := strings.TrimRight(string(data), "\n")

	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()
	return value, nil
}

// Set 挂载卷是只读的；仅更新进程内缓存
func (f *fileStore) Set(ctx context.Context, key string, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache[key] = value
	return nil
}

func (f *fileStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cache, key)
	return nil
}

func (f *fileStore) List(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("secrets: list mount dir: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if prefix == "" || strings.HasPrefix(e.Name(), prefix) {
			keys = append(keys, e.Name())
		}
	}
	return keys, nil
}
