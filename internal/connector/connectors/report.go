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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/unidoc/unipdf/v3/creator"

	"jobforge/internal/connector"
	"jobforge/pkg/auth"
)

// artifactThreshold 输出超过该字节数时附带产物引用，而不只内联返回
const artifactThreshold = 100_000

type reportPayload struct {
	ReportType string         `json:"report_type"`
	InputsRef  string         `json:"inputs_ref"`
	InputsData map[string]any `json:"inputs_data"`
	Format     []string       `json:"format"`
	Options    map[string]any `json:"options"`
}

type reportGenerator func(inputs, options map[string]any) map[string]any

var reportGenerators = map[string]reportGenerator{
	"usage-summary": usageSummaryReport,
	"job-analytics": jobAnalyticsReport,
	"tenant-usage":  tenantUsageReport,
}

// NewReportGenerate 构造 report_generate 连接器。报告先生成 JSON 形态，
// 再按 format 附加 html/csv/pdf 渲染；总输出超过阈值时登记产物引用。
func NewReportGenerate() connector.Func {
	return func(ctx context.Context, in map[string]any) (map[string]any, *connector.StatusError) {
		var p reportPayload
		if serr := decode(in, &p); serr != nil {
			return nil, serr
		}
		if p.ReportType == "" {
			return nil, badRequest("report_type is required")
		}
		gen, ok := reportGenerators[p.ReportType]
		if !ok {
			return nil, badRequest("unknown report type: " + p.ReportType)
		}
		formats := p.Format
		if len(formats) == 0 {
			formats = []string{"json"}
		}
		for _, f := range formats {
			switch f {
			case "json", "html", "csv", "pdf":
			default:
				return nil, badRequest("format entries must be json, html, csv or pdf")
			}
		}
		if p.InputsRef != "" && len(p.InputsData) == 0 {
			return nil, badRequest("inputs_ref requires external storage integration")
		}

		reportJSON := gen(p.InputsData, p.Options)
		raw, err := json.Marshal(reportJSON)
		if err != nil {
			return nil, &connector.StatusError{Code: 500, Message: "report serialization failed: " + err.Error()}
		}
		outputSize := len(raw)

		out := map[string]any{
			"report_type": p.ReportType,
			"formats":     formats,
			"report_json": reportJSON,
		}
		title := "Report: " + p.ReportType
		for _, f := range formats {
			switch f {
			case "html":
				rendered := renderReportHTML(reportJSON, title)
				out["report_html"] = rendered
				outputSize += len(rendered)
			case "csv":
				rendered := renderReportCSV(reportJSON)
				out["report_csv"] = rendered
				outputSize += len(rendered)
			case "pdf":
				pdf, err := renderReportPDF(reportJSON, title)
				if err != nil {
					return nil, &connector.StatusError{Code: 500, Message: "pdf rendering failed: " + err.Error()}
				}
				out["report_pdf_base64"] = base64.StdEncoding.EncodeToString(pdf)
				outputSize += len(pdf)
			}
		}

		if outputSize > artifactThreshold {
			tenant := auth.GetTenantID(ctx)
			if tenant == "" {
				tenant = "unknown"
			}
			jobID := connector.JobIDFrom(ctx)
			if jobID == "" {
				jobID = "unknown"
			}
			out["artifact_ref"] = fmt.Sprintf("reports/%s/%s.json", tenant, jobID)
		}

		out["metadata"] = map[string]any{
			"generated_at":      time.Now().UTC().Format(time.RFC3339),
			"input_count":       len(p.InputsData),
			"output_size_bytes": outputSize,
		}
		return out, nil
	}
}

func usageSummaryReport(inputs, options map[string]any) map[string]any {
	events := anySlice(inputs["events"])
	users := make(map[string]struct{})
	for _, e := range events {
		if m, ok := e.(map[string]any); ok {
			if uid, ok := m["user_id"]; ok {
				users[fmt.Sprint(uid)] = struct{}{}
			}
		}
	}
	return map[string]any{
		"total_events": len(events),
		"period":       stringOr(inputs["period"], "unknown"),
		"summary": map[string]any{
			"unique_users":  len(users),
			"total_actions": len(events),
		},
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	}
}

func jobAnalyticsReport(inputs, options map[string]any) map[string]any {
	jobs := anySlice(inputs["jobs"])
	statusCounts := make(map[string]any)
	totalAttempts := 0.0
	for _, j := range jobs {
		m, ok := j.(map[string]any)
		if !ok {
			continue
		}
		status := stringOr(m["status"], "unknown")
		if n, ok := statusCounts[status].(int); ok {
			statusCounts[status] = n + 1
		} else {
			statusCounts[status] = 1
		}
		if attempts, ok := m["attempts"].(float64); ok {
			totalAttempts += attempts
		}
	}
	avg := 0.0
	if len(jobs) > 0 {
		avg = totalAttempts / float64(len(jobs))
	}
	return map[string]any{
		"total_jobs":       len(jobs),
		"status_breakdown": statusCounts,
		"avg_attempts":     avg,
		"generated_at":     time.Now().UTC().Format(time.RFC3339),
	}
}

func tenantUsageReport(inputs, options map[string]any) map[string]any {
	return map[string]any{
		"tenant_id":       inputs["tenant_id"],
		"job_count":       len(anySlice(inputs["jobs"])),
		"connector_count": len(anySlice(inputs["connectors"])),
		"period":          stringOr(inputs["period"], "unknown"),
		"generated_at":    time.Now().UTC().Format(time.RFC3339),
	}
}

// renderReportHTML 单表 HTML 渲染；键排序保证输出稳定
func renderReportHTML(data map[string]any, title string) string {
	var rows strings.Builder
	for _, key := range sortedKeys(data) {
		rows.WriteString("<tr><th>")
		rows.WriteString(html.EscapeString(key))
		rows.WriteString("</th><td>")
		rows.WriteString(renderHTMLValue(data[key]))
		rows.WriteString("</td></tr>\n")
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>%s</title>
  <style>
    body { font-family: system-ui, sans-serif; padding: 2rem; max-width: 1200px; margin: 0 auto; }
    h1 { color: #333; }
    table { width: 100%%; border-collapse: collapse; margin-top: 1rem; }
    th, td { padding: 0.75rem; text-align: left; border-bottom: 1px solid #ddd; }
    th { background-color: #f5f5f5; font-weight: 600; }
    pre { background: #f5f5f5; padding: 0.5rem; border-radius: 4px; overflow-x: auto; }
  </style>
</head>
<body>
  <h1>%s</h1>
  <table>%s</table>
</body>
</html>`, html.EscapeString(title), html.EscapeString(title), rows.String())
}

func renderHTMLValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "<em>null</em>"
	case map[string]any, []any:
		pretty, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			return html.EscapeString(fmt.Sprint(val))
		}
		return "<pre>" + html.EscapeString(string(pretty)) + "</pre>"
	default:
		return html.EscapeString(fmt.Sprint(val))
	}
}

// renderReportCSV 两列 CSV：每个字段一行，复合值内联为 JSON
func renderReportCSV(data map[string]any) string {
	rows := []string{"Key,Value"}
	for _, key := range sortedKeys(data) {
		rows = append(rows, fmt.Sprintf("%q,%q", key, renderScalar(data[key])))
	}
	return strings.Join(rows, "\n")
}

// renderReportPDF 键值表 PDF，一页一份报告
func renderReportPDF(data map[string]any, title string) ([]byte, error) {
	c := creator.New()
	c.SetPageMargins(50, 50, 50, 50)
	c.NewPage()

	heading := c.NewParagraph(title)
	heading.SetFontSize(16)
	heading.SetMargins(0, 0, 0, 12)
	if err := c.Draw(heading); err != nil {
		return nil, err
	}

	table := c.NewTable(2)
	if err := table.SetColumnWidths(0.35, 0.65); err != nil {
		return nil, err
	}
	keyBg := creator.ColorRGBFrom8bit(0xf5, 0xf5, 0xf5)
	for _, key := range sortedKeys(data) {
		kc := table.NewCell()
		kc.SetBackgroundColor(keyBg)
		kc.SetBorder(creator.CellBorderSideAll, creator.CellBorderStyleSingle, 0.5)
		kp := c.NewParagraph(key)
		kp.SetMargins(4, 4, 4, 4)
		if err := kc.SetContent(kp); err != nil {
			return nil, err
		}

		vc := table.NewCell()
		vc.SetBorder(creator.CellBorderSideAll, creator.CellBorderStyleSingle, 0.5)
		vp := c.NewParagraph(renderScalar(data[key]))
		vp.SetFontSize(10)
		vp.SetMargins(4, 4, 4, 4)
		if err := vc.SetContent(vp); err != nil {
			return nil, err
		}
	}
	if err := c.Draw(table); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := c.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderScalar(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case map[string]any, []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	default:
		return fmt.Sprint(val)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func anySlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
