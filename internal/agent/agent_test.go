package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const sampleStream = `{"type":"system","subtype":"init","session_id":"sess-1"}
{"type":"assistant","message":{"content":[{"type":"text","text":"Reading inbox."},{"type":"tool_use","name":"Read"}]},"session_id":"sess-1"}
not json at all
{"type":"user","message":{"content":[{"type":"tool_result"}]}}
{"type":"assistant","message":{"content":[{"type":"text","text":"Done."}]},"session_id":"sess-1"}
{"type":"result","subtype":"success","is_error":false,"duration_ms":5120,"total_cost_usd":0.0123,"session_id":"sess-2","result":"Done."}
`

func TestParseStream(t *testing.T) {
	var got []Message
	result, err := ParseStream(strings.NewReader(sampleStream), func(m Message) { got = append(got, m) })
	if err != nil {
		t.Fatalf("ParseStream returned error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d: %+v", len(got), got)
	}
	if got[0].Type != TypeAssistant || got[0].Text != "Reading inbox." || got[0].SessionID != "sess-1" {
		t.Fatalf("unexpected first message %+v", got[0])
	}
	if result == nil || result.SessionID != "sess-2" || !result.HasCost || result.CostUSD != 0.0123 || result.DurationMS != 5120 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestClassify(t *testing.T) {
	if Classify(nil) != nil {
		t.Fatalf("nil should stay nil")
	}
	for _, text := range []string{"429 Rate limited", "usage limit reached", "Quota exceeded", "prompt is too long: token budget"} {
		if !IsRateLimited(Classify(errors.New(text))) {
			t.Fatalf("%q should classify as rate-limited", text)
		}
	}
	err := Classify(errors.New("exit status 1: permission denied"))
	var inv *InvocationError
	if !errors.As(err, &inv) || inv.Kind != KindOther {
		t.Fatalf("expected KindOther, got %v", err)
	}
	if Classify(err) != err {
		t.Fatalf("classified errors should pass through")
	}
	if IsRateLimited(Classify(context.Canceled)) {
		t.Fatalf("cancellation is not a rate limit")
	}
}

func TestArgs(t *testing.T) {
	cli := &ClaudeCLI{}
	args := cli.Args(Request{
		Model:          "sonnet",
		SystemPrompt:   "be brief",
		Tools:          []string{"Read", "Write"},
		PermissionMode: PermissionBypass,
		MaxTurns:       10,
		Resume:         "sess-1",
	})
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-p --output-format stream-json --verbose",
		"--model sonnet",
		"--allowedTools Read,Write",
		"--permission-mode bypassPermissions",
		"--max-turns 10",
		"--resume sess-1",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args %q missing %q", joined, want)
		}
	}
	if strings.Contains(strings.Join(cli.Args(Request{Model: "haiku"}), " "), "--resume") {
		t.Fatalf("fresh sessions must not pass --resume")
	}
}
