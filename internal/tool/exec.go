package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"mvdan.cc/sh/v3/syntax"

	"github.com/eclia/gateway/internal/apperror"
	"github.com/eclia/gateway/internal/artifact"
	"github.com/eclia/gateway/internal/toolhost"
	"github.com/eclia/gateway/pkg/types"
)

// AccessMode mirrors the chat request's tool access mode: "full" skips the
// allowlist check entirely, "safe" requires an allowlist match or an
// approval before a command runs.
type AccessMode string

const (
	AccessFull AccessMode = types.ToolAccessFull
	AccessSafe AccessMode = types.ToolAccessSafe
)

// MatchKind discriminates an AllowRule's matching strategy.
type MatchKind string

const (
	MatchPrefix MatchKind = "matchPrefix"
	MatchExact  MatchKind = "matchExact"
)

// AllowRule is one entry of the exec allowlist loaded from the gateway
// JSON config (spec §4.6): a command is allowed without approval in "safe" mode
// if it matches any rule.
type AllowRule struct {
	Kind    MatchKind
	Command string
	Args    []string // only consulted for MatchExact; nil means "any args"
}

// parsedCommand is the subset of a shell command extractCommand needs to
// evaluate an AllowRule against, grounded on the teacher's BashCommand shape.
type parsedCommand struct {
	Name string
	Args []string
}

func parseShellCommand(command string) ([]parsedCommand, error) {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(false))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}

	var out []parsedCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		name := wordToString(call.Args[0])
		if name == "" {
			return true
		}
		pc := parsedCommand{Name: name}
		for _, a := range call.Args[1:] {
			pc.Args = append(pc.Args, wordToString(a))
		}
		out = append(out, pc)
		return true
	})
	return out, nil
}

func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

func matchesRule(rule AllowRule, cmd parsedCommand) bool {
	switch rule.Kind {
	case MatchPrefix:
		return cmd.Name == rule.Command
	case MatchExact:
		if cmd.Name != rule.Command {
			return false
		}
		if rule.Args == nil {
			return true
		}
		if len(rule.Args) != len(cmd.Args) {
			return false
		}
		for i, a := range rule.Args {
			if a != cmd.Args[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// isAllowlisted reports whether every parsed command in the shell line
// matches at least one rule.
func isAllowlisted(rules []AllowRule, command string) bool {
	commands, err := parseShellCommand(command)
	if err != nil || len(commands) == 0 {
		return false
	}
	for _, cmd := range commands {
		ok := false
		for _, r := range rules {
			if matchesRule(r, cmd) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

const (
	execTimeout      = 60 * time.Second
	maxInlineOutput  = 32 * 1024
	truncationMarker = "\n...[truncated]"
)

// ExecTool is the MCP-hosted "exec" native tool.
type ExecTool struct {
	Host  *toolhost.Client
	Rules []AllowRule
	Root  string // filesystem root backing artifact writes

	// Mode, if non-nil, reports the access mode the allowlist check runs
	// under; nil means AccessFull. It is set once when the tool is built
	// (the gateway binary fixes it to AccessSafe) and is not derived from
	// the chat request's toolAccessMode, so a "full" request still gets the
	// allowlist check and approval when Mode reports AccessSafe.
	Mode func() AccessMode
}

type execArgs struct {
	Command string `json:"command"`
}

func (t *ExecTool) Name() string        { return "exec" }
func (t *ExecTool) Description() string { return "Runs a shell command via the exec tool host." }
func (t *ExecTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string"},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, tc *Context, argsRaw string) (*Result, error) {
	var args execArgs
	if err := json.Unmarshal([]byte(argsRaw), &args); err != nil {
		return nil, apperror.Wrap(apperror.KindBadArgumentsJSON, err, "exec: bad arguments")
	}
	if strings.TrimSpace(args.Command) == "" {
		return nil, apperror.New(apperror.KindBadArgumentsJSON, "exec: command is required")
	}

	mode := AccessFull
	if t.Mode != nil {
		mode = t.Mode()
	}
	if mode == AccessSafe && !isAllowlisted(t.Rules, args.Command) {
		if tc.RequestApproval == nil {
			return &Result{OK: false, ErrorCode: string(apperror.KindApprovalDenied), ErrorMsg: "no approval channel available"}, nil
		}
		decision, err := tc.RequestApproval(fmt.Sprintf("run %q", args.Command))
		if err != nil {
			return nil, err
		}
		switch decision {
		case types.DecisionApprove:
		case types.DecisionDeny:
			return &Result{OK: false, ErrorCode: string(apperror.KindApprovalDenied), ErrorMsg: "command denied"}, nil
		case types.DecisionTimeout:
			return &Result{OK: false, ErrorCode: string(apperror.KindApprovalTimeout), ErrorMsg: "approval timed out"}, nil
		case types.DecisionCancelled:
			return &Result{OK: false, ErrorCode: string(apperror.KindApprovalCancelled), ErrorMsg: "approval cancelled"}, nil
		}
	}

	env := toolhost.Envelope{SessionID: tc.SessionID, CallID: tc.CallID}
	hostResult, err := t.Host.CallTool(ctx, env, "exec", map[string]any{"command": args.Command}, execTimeout)
	if err != nil {
		if kindErr, ok := asKinded(err); ok {
			return &Result{OK: false, ErrorCode: string(kindErr.Kind()), ErrorMsg: kindErr.Error()}, nil
		}
		return &Result{OK: false, ErrorCode: string(apperror.KindToolhostError), ErrorMsg: err.Error()}, nil
	}

	return t.sanitize(tc, hostResult), nil
}

// sanitize replaces binary stdout with a pointer to an artifact file and
// truncates very large text output with a marker, per spec §4.6.
func (t *ExecTool) sanitize(tc *Context, res *toolhost.Result) *Result {
	text := res.Text
	if !utf8.ValidString(text) {
		art, err := artifact.Write(t.Root, tc.SessionID, tc.CallID, "stdout.bin", []byte(text))
		if err == nil {
			return &Result{
				OK:         !res.IsError,
				Output:     fmt.Sprintf("binary output saved to %s", art.Ref),
				Structured: res.StructuredContent,
			}
		}
	}
	if len(text) > maxInlineOutput {
		text = text[:maxInlineOutput] + truncationMarker
	}
	return &Result{OK: !res.IsError, Output: text, Structured: res.StructuredContent}
}

// kinded is the shape every apperror type satisfies (apperror.Error,
// apperror.UpstreamHTTPError, apperror.UpstreamNetworkError).
type kinded interface {
	error
	Kind() apperror.Kind
}

// asKinded walks err's Unwrap() chain looking for a kinded apperror type.
func asKinded(err error) (kinded, bool) {
	for err != nil {
		if k, ok := err.(kinded); ok {
			return k, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrapper.Unwrap()
	}
	return nil, false
}
