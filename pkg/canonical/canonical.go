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

// Package canonical 实现确定性 JSON 序列化：键按字典序排序、数字最短往返形式、
// 无多余空白。等价输入（键序不同、结构体/Map 表示不同）产生逐字节相同的输出。
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// maxDepth 超过该深度视为循环引用，直接拒绝
const maxDepth = 256

// Marshal 输出 v 的规范 JSON 字节。包含 NaN/Inf 或循环引用时报错。
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	w := &walker{seen: make(map[uintptr]bool)}
	if err := w.write(&buf, v, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type walker struct {
	// seen 记录当前路径上的 map/slice 指针，用于环检测
	seen map[uintptr]bool
}

func (w *walker) write(buf *bytes.Buffer, v any, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("canonical: depth %d exceeded, value is cyclic or too deep", maxDepth)
	}

	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		return encodeString(buf, val)
	case json.Number:
		return writeNumber(buf, val)
	case float64:
		return writeFloat(buf, val)
	case float32:
		return writeFloat(buf, float64(val))
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
		return nil
	case int8:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
		return nil
	case int16:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
		return nil
	case int32:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
		return nil
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
		return nil
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
		return nil
	case uint8:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
		return nil
	case uint16:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
		return nil
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
		return nil
	case uint64:
		buf.WriteString(strconv.FormatUint(val, 10))
		return nil
	case map[string]any:
		return w.writeObject(buf, val, depth)
	case []any:
		return w.writeArray(buf, val, depth)
	default:
		// 其余类型（结构体、typed map/slice、time.Time 等）先经一次
		// encoding/json 往返展平成 JSON 树再递归；该路径天然拒绝 NaN 与环。
		return w.writeForeign(buf, v, depth)
	}
}

func (w *walker) writeObject(buf *bytes.Buffer, m map[string]any, depth int) error {
	ptr := reflect.ValueOf(m).Pointer()
	if w.seen[ptr] {
		return fmt.Errorf("canonical: cyclic reference through object")
	}
	w.seen[ptr] = true
	defer delete(w.seen, ptr)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := w.write(buf, m[k], depth+1); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func (w *walker) writeArray(buf *bytes.Buffer, arr []any, depth int) error {
	if len(arr) > 0 {
		ptr := reflect.ValueOf(arr).Pointer()
		if w.seen[ptr] {
			return fmt.Errorf("canonical: cyclic reference through array")
		}
		w.seen[ptr] = true
		defer delete(w.seen, ptr)
	}

	buf.WriteByte('[')
	for i, item := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := w.write(buf, item, depth+1); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func (w *walker) writeForeign(buf *bytes.Buffer, v any, depth int) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("canonical: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return fmt.Errorf("canonical: %w", err)
	}
	return w.write(buf, tree, depth)
}

// writeNumber 归一化 json.Number：能精确表示为整数的走整数路径，其余走浮点最短形式
func writeNumber(buf *bytes.Buffer, n json.Number) error {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			buf.WriteString(strconv.FormatInt(i, 10))
			return nil
		}
		// 超出 int64 的裸整数字面量按原样保留，避免精度损失
		buf.WriteString(s)
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canonical: bad number %q: %w", s, err)
	}
	return writeFloat(buf, f)
}

// writeFloat 浮点最短往返格式；整数值且在安全范围内写成无小数点形式
func writeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canonical: non-finite number %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

// encodeString 标准 JSON 字符串转义，不做 HTML 安全转义
func encodeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}
