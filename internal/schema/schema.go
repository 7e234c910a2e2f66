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

// Package schema 提供启动时注册、带语义版本的 shape 校验；它是入站形状的唯一边界检查，
// 下游组件信任已通过校验的输入。
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Kind 字段类型
type Kind string

const (
	String  Kind = "string"
	Number  Kind = "number"
	Integer Kind = "integer"
	Bool    Kind = "bool"
	Object  Kind = "object"
	Array   Kind = "array"
	// Any 不做类型检查，payload / metadata / inputs 这类对核心不透明的值用它
	Any Kind = "any"
)

// Issue 一条校验问题：JSON 路径 + 人类可读消息
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// Messages 将问题列表转为 "path: message" 字符串列表
func Messages(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.String())
	}
	return out
}

// Field 单个字段的规格；可序列化，模板的 input/output schema 以 JSON 形式落库
type Field struct {
	Name     string `json:"name"`
	Type     Kind   `json:"type,omitempty"`
	Required bool   `json:"required,omitempty"`
	// MaxLen 字符串最大长度（字节），0 表示不限制
	MaxLen int `json:"max_len,omitempty"`
	// Min/Max 数值范围，nil 表示不限制
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
	// Enum 字符串枚举，非空时取值必须在其中
	Enum []string `json:"enum,omitempty"`
	// Fields Object 类型的嵌套字段；为空表示对象内容不校验
	Fields []Field `json:"fields,omitempty"`
	// Elem Array 类型的元素规格；nil 表示元素不校验
	Elem *Field `json:"elem,omitempty"`
}

// Schema 一个命名、带语义版本的 shape
type Schema struct {
	Name    string  `json:"name,omitempty"`
	Version string  `json:"version,omitempty"` // 语义版本，如 "1.0.0"
	Fields  []Field `json:"fields"`
	// AllowUnknown 允许未声明字段；外层信封默认 false（拒绝未知字段）
	AllowUnknown bool `json:"allow_unknown,omitempty"`
}

// Validate 校验 value（期望为对象），返回问题列表；空切片表示通过
func (s *Schema) Validate(value any) []Issue {
	return s.ValidateAt(value, "")
}

// ValidateAt 同 Validate，path 为所有问题路径的前缀（如 "payload"）
func (s *Schema) ValidateAt(value any, path string) []Issue {
	obj, ok := asObject(value)
	if !ok {
		return []Issue{{Path: path, Message: "must be an object"}}
	}
	var issues []Issue
	validateFields(obj, s.Fields, s.AllowUnknown, path, &issues)
	return issues
}

func validateFields(obj map[string]any, fields []Field, allowUnknown bool, path string, issues *[]Issue) {
	declared := make(map[string]bool, len(fields))
	for _, f := range fields {
		declared[f.Name] = true
		v, present := obj[f.Name]
		p := joinPath(path, f.Name)
		if !present || v == nil {
			if f.Required {
				*issues = append(*issues, Issue{Path: p, Message: "is required"})
			}
			continue
		}
		validateValue(v, f, p, issues)
	}
	if !allowUnknown {
		for k := range obj {
			if !declared[k] {
				*issues = append(*issues, Issue{Path: joinPath(path, k), Message: "unknown field"})
			}
		}
	}
}

func validateValue(v any, f Field, path string, issues *[]Issue) {
	switch f.Type {
	case Any, "":
		return
	case String:
		s, ok := v.(string)
		if !ok {
			*issues = append(*issues, Issue{Path: path, Message: "must be a string"})
			return
		}
		if f.MaxLen > 0 && len(s) > f.MaxLen {
			*issues = append(*issues, Issue{Path: path, Message: fmt.Sprintf("must be at most %d bytes", f.MaxLen)})
		}
		if len(f.Enum) > 0 && !contains(f.Enum, s) {
			*issues = append(*issues, Issue{Path: path, Message: "must be one of " + strings.Join(f.Enum, ", ")})
		}
	case Number, Integer:
		n, ok := asNumber(v)
		if !ok {
			*issues = append(*issues, Issue{Path: path, Message: "must be a number"})
			return
		}
		if f.Type == Integer && n != math.Trunc(n) {
			*issues = append(*issues, Issue{Path: path, Message: "must be an integer"})
			return
		}
		if f.Min != nil && n < *f.Min {
			*issues = append(*issues, Issue{Path: path, Message: fmt.Sprintf("must be >= %v", *f.Min)})
		}
		if f.Max != nil && n > *f.Max {
			*issues = append(*issues, Issue{Path: path, Message: fmt.Sprintf("must be <= %v", *f.Max)})
		}
	case Bool:
		if _, ok := v.(bool); !ok {
			*issues = append(*issues, Issue{Path: path, Message: "must be a boolean"})
		}
	case Object:
		obj, ok := asObject(v)
		if !ok {
			*issues = append(*issues, Issue{Path: path, Message: "must be an object"})
			return
		}
		// 未声明嵌套字段时对象内容不校验（payload 语义）
		if len(f.Fields) > 0 {
			validateFields(obj, f.Fields, false, path, issues)
		}
	case Array:
		arr, ok := v.([]any)
		if !ok {
			*issues = append(*issues, Issue{Path: path, Message: "must be an array"})
			return
		}
		if f.Elem != nil {
			for i, item := range arr {
				validateValue(item, *f.Elem, fmt.Sprintf("%s[%d]", path, i), issues)
			}
		}
	default:
		*issues = append(*issues, Issue{Path: path, Message: "unknown schema type " + string(f.Type)})
	}
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func asObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// MinMax 便捷构造 Min/Max 指针
func MinMax(min, max float64) (*float64, *float64) {
	return &min, &max
}

// MinOf 便捷构造 Min 指针
func MinOf(min float64) *float64 {
	return &min
}

// MaxOf 便捷构造 Max 指针
func MaxOf(max float64) *float64 {
	return &max
}
