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

package connectors

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// blockedHosts 无条件拒绝的目标主机，含云元数据端点
var blockedHosts = map[string]struct{}{
	"localhost":                {},
	"127.0.0.1":                {},
	"0.0.0.0":                  {},
	"169.254.169.254":          {},
	"metadata.google.internal": {},
}

// blockedSuffixes 内部域名后缀
var blockedSuffixes = []string{".localhost", ".local", ".internal"}

// privateNetworks 私有与链路本地地址段；IP 字面量命中即拒绝
var privateNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"0.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("connectors: bad cidr %s: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}

// ValidateTarget 出站 SSRF 防护：只放行 http/https，拒绝封禁主机、内部域名
// 后缀与私网 IP 字面量；allowlist 非空时主机还必须命中其中一项（支持 `*`
// 通配和域名后缀匹配）。通过返回 nil。
func ValidateTarget(rawURL string, allowlist []string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported protocol: %s", u.Scheme)
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return fmt.Errorf("target hostname is required")
	}

	if _, ok := blockedHosts[hostname]; ok {
		return fmt.Errorf("blocked host: %s", hostname)
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(hostname, suffix) {
			return fmt.Errorf("blocked host: %s", hostname)
		}
	}

	if ip := net.ParseIP(hostname); ip != nil {
		for _, n := range privateNetworks {
			if n.Contains(ip) {
				return fmt.Errorf("private address not allowed: %s", hostname)
			}
		}
	}

	if len(allowlist) > 0 && !hostAllowed(hostname, allowlist) {
		return fmt.Errorf("host not in allowlist: %s", hostname)
	}
	return nil
}

// hostAllowed 白名单匹配：`*` 作通配符；无通配时精确匹配或作为域名后缀匹配
func hostAllowed(hostname string, allowlist []string) bool {
	for _, pattern := range allowlist {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if strings.Contains(pattern, "*") {
			expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
			if ok, _ := regexp.MatchString(expr, hostname); ok {
				return true
			}
			continue
		}
		if hostname == pattern || strings.HasSuffix(hostname, "."+pattern) {
			return true
		}
	}
	return false
}
