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

package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"jobforge/pkg/client"
)

func apiBaseURL() string {
	if u := os.Getenv("JOBFORGE_API_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func tenantEnv() string {
	return os.Getenv("JOBFORGE_TENANT")
}

func actorEnv() string {
	return os.Getenv("JOBFORGE_ACTOR")
}

func newClient() *client.Client {
	opts := []client.Option{}
	if t := tenantEnv(); t != "" {
		opts = append(opts, client.WithTenant(t))
	}
	if a := actorEnv(); a != "" {
		opts = append(opts, client.WithActor(a))
	}
	if tok := os.Getenv("JOBFORGE_TOKEN"); tok != "" {
		opts = append(opts, client.WithToken(tok))
	}
	return client.New(apiBaseURL(), opts...)
}

// readInput 按约定读取 JSON 入参：- 读 stdin，@path 读文件，其余按字面量处理。
func readInput(arg string) (json.RawMessage, error) {
	switch {
	case arg == "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(b), nil
	case strings.HasPrefix(arg, "@"):
		b, err := os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return nil, err
		}
		return json.RawMessage(b), nil
	default:
		return json.RawMessage(arg), nil
	}
}

func prettyJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
