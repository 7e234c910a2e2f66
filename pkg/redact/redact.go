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

// Package redact 实现 denylist 优先的敏感字段擦除：键名（大小写不敏感）命中
// denylist 片段即整体替换为标记串；可选 allowlist 之外的键同样擦除，denylist
// 永远优先。输出是新树，输入绝不被修改。
package redact

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultDenylist 默认键名片段集合
var DefaultDenylist = []string{
	"password",
	"secret",
	"api_key",
	"token",
	"bearer",
	"credential",
	"private_key",
	"authorization",
	"cookie",
	"credit_card",
	"ssn",
}

const (
	// Marker 默认替换标记
	Marker = "[REDACTED]"
	// DepthMarker 超过最大深度后的替换标记
	DepthMarker = "[REDACTED:depth]"
	// DefaultMaxDepth 默认递归深度上限
	DefaultMaxDepth = 8
)

// categoryOf 分类标记查表：启用时按命中的片段给出更可读的标记
var categoryOf = map[string]string{
	"authorization": "auth",
	"bearer":        "auth",
	"token":         "auth",
	"cookie":        "cookie",
	"password":      "key",
	"secret":        "key",
	"api_key":       "key",
	"private_key":   "key",
	"credential":    "key",
	"credit_card":   "pii",
	"ssn":           "pii",
}

// Options 擦除选项；零值等价于默认 denylist、无 allowlist、深度 8、单一标记
type Options struct {
	Denylist        []string
	Allowlist       []string
	MaxDepth        int
	CategoryMarkers bool
}

// Redactor 不可变擦除器，可并发使用
type Redactor struct {
	denylist        []string
	allowlist       map[string]bool
	maxDepth        int
	categoryMarkers bool
}

// New 构造 Redactor，选项缺省按 Options 文档补齐
func New(opts Options) *Redactor {
	deny := opts.Denylist
	if deny == nil {
		deny = DefaultDenylist
	}
	lowered := make([]string, len(deny))
	for i, d := range deny {
		lowered[i] = strings.ToLower(d)
	}
	var allow map[string]bool
	if opts.Allowlist != nil {
		allow = make(map[string]bool, len(opts.Allowlist))
		for _, a := range opts.Allowlist {
			allow[strings.ToLower(a)] = true
		}
	}
	depth := opts.MaxDepth
	if depth <= 0 {
		depth = DefaultMaxDepth
	}
	return &Redactor{
		denylist:        lowered,
		allowlist:       allow,
		maxDepth:        depth,
		categoryMarkers: opts.CategoryMarkers,
	}
}

// Default 默认配置的共享实例
var Default = New(Options{})

// Redact 用默认配置擦除
func Redact(v any) any {
	return Default.Redact(v)
}

// Redact 返回 v 的擦除副本
func (r *Redactor) Redact(v any) any {
	return r.walk(v, 0)
}

func (r *Redactor) walk(v any, depth int) any {
	if depth > r.maxDepth {
		return DepthMarker
	}
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if frag, hit := r.deniedBy(k); hit {
				out[k] = r.marker(frag)
				continue
			}
			if r.allowlist != nil && !r.allowlist[strings.ToLower(k)] {
				out[k] = r.marker("")
				continue
			}
			out[k] = r.walk(item, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.walk(item, depth+1)
		}
		return out
	default:
		return val
	}
}

// deniedBy 返回命中的 denylist 片段
func (r *Redactor) deniedBy(key string) (string, bool) {
	lk := strings.ToLower(key)
	for _, frag := range r.denylist {
		if strings.Contains(lk, frag) {
			return frag, true
		}
	}
	return "", false
}

func (r *Redactor) marker(fragment string) string {
	if !r.categoryMarkers {
		return Marker
	}
	if cat, ok := categoryOf[fragment]; ok {
		return fmt.Sprintf("[REDACTED:%s]", cat)
	}
	return Marker
}

// IsMarker 判断字符串是否为本包输出的标记
func IsMarker(s string) bool {
	return strings.HasPrefix(s, "[REDACTED") && strings.HasSuffix(s, "]")
}

// RedactJSON 对序列化后的 JSON 字节做擦除，返回新的 JSON 字节
func (r *Redactor) RedactJSON(data []byte) ([]byte, error) {
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("redact: %w", err)
	}
	return json.Marshal(r.Redact(tree))
}
