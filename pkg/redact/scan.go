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

package redact

import (
	"fmt"
	"sort"
)

// Scan 遍历序列化值，返回键名命中 denylist 且取值为非标记字符串的字段路径。
// 对已擦除的树必然返回空。
func Scan(v any) []string {
	return Default.Scan(v)
}

// Scan 同包级 Scan，使用本擦除器的 denylist
func (r *Redactor) Scan(v any) []string {
	var leaks []string
	r.scan(v, "", &leaks)
	sort.Strings(leaks)
	return leaks
}

func (r *Redactor) scan(v any, path string, leaks *[]string) {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			if _, hit := r.deniedBy(k); hit {
				if s, ok := item.(string); ok && !IsMarker(s) {
					*leaks = append(*leaks, childPath)
					continue
				}
			}
			r.scan(item, childPath, leaks)
		}
	case []any:
		for i, item := range val {
			r.scan(item, fmt.Sprintf("%s[%d]", path, i), leaks)
		}
	}
}
