package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"jobforge/pkg/client"
	jferrors "jobforge/pkg/errors"
)

func main() {
	os.Exit(dispatch(os.Args[1:], os.Stdout, os.Stderr))
}

// dispatch 解析子命令并执行，返回进程退出码：0 成功，1 失败，2 参数或校验错误。
func dispatch(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stdout)
		return 0
	}
	cmd := args[0]
	rest := args[1:]
	switch cmd {
	case "version":
		fmt.Fprintln(stdout, "jobforge cli 0.1.0")
		return 0
	case "health":
		return runHealth(stdout, stderr)
	case "enqueue":
		return runEnqueue(rest, stdout, stderr)
	case "list":
		return runList(rest, stdout, stderr)
	case "get":
		return runGet(rest, stdout, stderr)
	case "result":
		return runResult(rest, stdout, stderr)
	case "cancel":
		return runCancel(rest, stdout, stderr)
	case "reschedule":
		return runReschedule(rest, stdout, stderr)
	case "request":
		return runRequest(rest, stdout, stderr)
	case "submit-event":
		return runSubmitEvent(rest, stdout, stderr)
	case "events":
		return runEvents(rest, stdout, stderr)
	case "templates":
		return runTemplates(rest, stdout, stderr)
	case "manifest":
		return runManifest(rest, stdout, stderr)
	case "issue-token":
		return runIssueToken(rest, stdout, stderr)
	case "audit":
		return runAudit(rest, stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "未知命令: %s\n", cmd)
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: jobforge <command> [args]")
	fmt.Fprintln(w, "  version                                 - 显示版本")
	fmt.Fprintln(w, "  health                                  - 探测 API 健康状态")
	fmt.Fprintln(w, "  enqueue <type> <payload> [idem-key]     - 入队任务，payload 为 JSON、@文件 或 -（stdin）")
	fmt.Fprintln(w, "  list [status,...] [type]                - 列出当前租户的任务")
	fmt.Fprintln(w, "  get <job_id>                            - 查询任务详情")
	fmt.Fprintln(w, "  result <job_id>                         - 查询任务终局结果")
	fmt.Fprintln(w, "  cancel <job_id>                         - 取消任务")
	fmt.Fprintln(w, "  reschedule <job_id> <run_at>            - 将 queued 任务改期到 RFC3339 时刻")
	fmt.Fprintln(w, "  request <template_key> <inputs> [token] - 按模板请求任务，动作模板需策略令牌")
	fmt.Fprintln(w, "  submit-event <envelope>                 - 提交事件信封 JSON（@文件 或 - 读 stdin）")
	fmt.Fprintln(w, "  events [event_type]                     - 列出当前租户的事件")
	fmt.Fprintln(w, "  templates [key]                         - 列出全部模板，或查询指定模板")
	fmt.Fprintln(w, "  manifest <run_id>                       - 查询运行清单")
	fmt.Fprintln(w, "  issue-token <scopes,...> [ttl] [once]   - 签发策略令牌，once 表示一次性")
	fmt.Fprintln(w, "  audit [action]                          - 查询审计日志")
	fmt.Fprintln(w, "环境变量: JOBFORGE_API_URL（默认 http://localhost:8080）、JOBFORGE_TENANT、JOBFORGE_ACTOR、JOBFORGE_TOKEN")
}

// fail 输出错误并映射退出码：校验类错误 2，其余 1。
func fail(stderr io.Writer, action string, err error) int {
	fmt.Fprintf(stderr, "%s: %v\n", action, err)
	if jferrors.IsKind(err, jferrors.KindValidation) {
		return 2
	}
	return 1
}

func runHealth(stdout, stderr io.Writer) int {
	if err := newClient().Health(context.Background()); err != nil {
		return fail(stderr, "健康检查失败", err)
	}
	fmt.Fprintln(stdout, "ok")
	return 0
}

func runEnqueue(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(stderr, "Usage: jobforge enqueue <type> <payload> [idem-key]")
		return 2
	}
	payload, err := readInput(args[1])
	if err != nil {
		fmt.Fprintf(stderr, "读取 payload 失败: %v\n", err)
		return 2
	}
	params := client.EnqueueParams{
		TenantID: tenantEnv(),
		Type:     args[0],
		Payload:  payload,
	}
	if len(args) > 2 {
		params.IdempotencyKey = args[2]
	}
	job, err := newClient().EnqueueJob(context.Background(), params)
	if err != nil {
		return fail(stderr, "入队失败", err)
	}
	fmt.Fprintln(stdout, prettyJSON(job))
	return 0
}

func runList(args []string, stdout, stderr io.Writer) int {
	params := client.ListJobsParams{TenantID: tenantEnv()}
	if len(args) > 0 && args[0] != "" {
		params.Status = strings.Split(args[0], ",")
	}
	if len(args) > 1 {
		params.Type = args[1]
	}
	jobs, err := newClient().ListJobs(context.Background(), params)
	if err != nil {
		return fail(stderr, "列出任务失败", err)
	}
	fmt.Fprintln(stdout, prettyJSON(jobs))
	return 0
}

func runGet(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: jobforge get <job_id>")
		return 2
	}
	job, err := newClient().GetJob(context.Background(), args[0], tenantEnv())
	if err != nil {
		return fail(stderr, "查询任务失败", err)
	}
	fmt.Fprintln(stdout, prettyJSON(job))
	return 0
}

func runResult(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: jobforge result <job_id>")
		return 2
	}
	result, err := newClient().GetJobResult(context.Background(), args[0], tenantEnv())
	if err != nil {
		return fail(stderr, "查询任务结果失败", err)
	}
	fmt.Fprintln(stdout, prettyJSON(result))
	return 0
}

func runCancel(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: jobforge cancel <job_id>")
		return 2
	}
	if err := newClient().CancelJob(context.Background(), args[0], tenantEnv()); err != nil {
		return fail(stderr, "取消任务失败", err)
	}
	fmt.Fprintln(stdout, "cancelled")
	return 0
}

func runReschedule(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(stderr, "Usage: jobforge reschedule <job_id> <run_at RFC3339>")
		return 2
	}
	runAt, err := time.Parse(time.RFC3339, args[1])
	if err != nil {
		fmt.Fprintf(stderr, "run_at 解析失败: %v\n", err)
		return 2
	}
	if err := newClient().RescheduleJob(context.Background(), args[0], tenantEnv(), runAt); err != nil {
		return fail(stderr, "任务改期失败", err)
	}
	fmt.Fprintln(stdout, "rescheduled")
	return 0
}

func runRequest(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(stderr, "Usage: jobforge request <template_key> <inputs> [policy-token]")
		return 2
	}
	inputs, err := readInput(args[1])
	if err != nil {
		fmt.Fprintf(stderr, "读取 inputs 失败: %v\n", err)
		return 2
	}
	params := client.RequestJobParams{
		TenantID:    tenantEnv(),
		TemplateKey: args[0],
		Inputs:      inputs,
		ActorID:     actorEnv(),
	}
	if len(args) > 2 {
		params.PolicyToken = args[2]
	}
	result, err := newClient().RequestJob(context.Background(), params)
	if err != nil {
		return fail(stderr, "模板请求失败", err)
	}
	fmt.Fprintln(stdout, prettyJSON(result))
	return 0
}

func runSubmitEvent(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: jobforge submit-event <envelope-json|@file|->")
		return 2
	}
	envelope, err := readInput(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "读取事件信封失败: %v\n", err)
		return 2
	}
	event, err := newClient().SubmitEvent(context.Background(), envelope)
	if err != nil {
		return fail(stderr, "提交事件失败", err)
	}
	fmt.Fprintln(stdout, prettyJSON(event))
	return 0
}

func runEvents(args []string, stdout, stderr io.Writer) int {
	params := client.ListEventsParams{TenantID: tenantEnv()}
	if len(args) > 0 {
		params.EventType = args[0]
	}
	events, err := newClient().ListEvents(context.Background(), params)
	if err != nil {
		return fail(stderr, "列出事件失败", err)
	}
	fmt.Fprintln(stdout, prettyJSON(events))
	return 0
}

func runTemplates(args []string, stdout, stderr io.Writer) int {
	ctx := context.Background()
	if len(args) > 0 {
		tpl, err := newClient().GetTemplate(ctx, args[0])
		if err != nil {
			return fail(stderr, "查询模板失败", err)
		}
		fmt.Fprintln(stdout, prettyJSON(tpl))
		return 0
	}
	templates, err := newClient().ListTemplates(ctx)
	if err != nil {
		return fail(stderr, "列出模板失败", err)
	}
	fmt.Fprintln(stdout, prettyJSON(templates))
	return 0
}

func runManifest(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: jobforge manifest <run_id>")
		return 2
	}
	manifest, err := newClient().GetRunManifest(context.Background(), args[0], tenantEnv())
	if err != nil {
		return fail(stderr, "查询运行清单失败", err)
	}
	fmt.Fprintln(stdout, prettyJSON(manifest))
	return 0
}

func runIssueToken(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: jobforge issue-token <scopes,...> [ttl] [once]")
		return 2
	}
	params := client.IssueTokenParams{
		TenantID: tenantEnv(),
		Scopes:   strings.Split(args[0], ","),
	}
	if len(args) > 1 {
		params.TTL = args[1]
	}
	if len(args) > 2 && args[2] == "once" {
		params.SingleUse = true
	}
	token, err := newClient().IssuePolicyToken(context.Background(), params)
	if err != nil {
		return fail(stderr, "签发令牌失败", err)
	}
	// 令牌明文只在签发响应里出现一次，之后接口不再返回
	fmt.Fprintln(stdout, prettyJSON(token))
	return 0
}

func runAudit(args []string, stdout, stderr io.Writer) int {
	params := client.ListAuditParams{TenantID: tenantEnv()}
	if len(args) > 0 {
		params.Action = args[0]
	}
	entries, err := newClient().ListAuditLog(context.Background(), params)
	if err != nil {
		return fail(stderr, "查询审计日志失败", err)
	}
	fmt.Fprintln(stdout, prettyJSON(entries))
	return 0
}
