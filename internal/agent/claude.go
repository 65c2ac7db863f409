package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

const stderrTail = 4096

// ClaudeCLI runs sessions through the Claude Code CLI in print mode with
// stream-json output. The prompt is written to stdin.
type ClaudeCLI struct {
	// Binary is the claude executable; empty means "claude" on PATH.
	Binary string
	// Env is appended to the inherited environment.
	Env []string
}

// Query implements Runtime.
func (c *ClaudeCLI) Query(ctx context.Context, req Request, yield func(Message)) error {
	binary := c.Binary
	if binary == "" {
		binary = "claude"
	}
	cmd := exec.CommandContext(ctx, binary, c.Args(req)...)
	cmd.Dir = req.Cwd
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdin = strings.NewReader(req.Prompt)
	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Classify(fmt.Errorf("creating stdout pipe: %w", err))
	}
	if err := cmd.Start(); err != nil {
		return Classify(fmt.Errorf("starting claude: %w", err))
	}

	result, parseErr := ParseStream(stdout, yield)
	// Drain so the child never blocks on a full pipe after a parse error.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	switch {
	case waitErr != nil:
		detail := strings.TrimSpace(stderr.String())
		if detail == "" && result != nil && result.IsError {
			detail = result.Text
		}
		if ctx.Err() != nil {
			return Classify(ctx.Err())
		}
		return Classify(fmt.Errorf("claude exited: %w: %s", waitErr, detail))
	case parseErr != nil:
		return Classify(fmt.Errorf("reading claude output: %w", parseErr))
	case result != nil && result.IsError:
		return Classify(errors.New(result.Text))
	}
	return nil
}

// Args renders the CLI flags for req.
func (c *ClaudeCLI) Args(req Request) []string {
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}
	if len(req.Tools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.Tools, ","))
	}
	if req.PermissionMode != "" {
		args = append(args, "--permission-mode", req.PermissionMode)
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	if req.Resume != "" {
		args = append(args, "--resume", req.Resume)
	}
	return args
}

// streamLine is the subset of a stream-json line the runner consumes.
type streamLine struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	Message   struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
	DurationMS   int64    `json:"duration_ms"`
	TotalCostUSD *float64 `json:"total_cost_usd"`
	IsError      bool     `json:"is_error"`
	Result       string   `json:"result"`
}

// ParseStream reads stream-json output line by line, yielding assistant text
// and the terminal result. Lines that are not JSON, and event types the
// runner has no use for, are skipped. The result message, if any, is also
// returned.
func ParseStream(r io.Reader, yield func(Message)) (*Message, error) {
	scanner := bufio.NewScanner(r)
	// Tool results can carry whole files.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var result *Message
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var event streamLine
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		switch event.Type {
		case "assistant":
			var text []string
			for _, block := range event.Message.Content {
				if block.Type == "text" && block.Text != "" {
					text = append(text, block.Text)
				}
			}
			if len(text) == 0 && event.SessionID == "" {
				continue
			}
			yield(Message{Type: TypeAssistant, Text: strings.Join(text, "\n"), SessionID: event.SessionID})
		case "result":
			msg := Message{
				Type:       TypeResult,
				Text:       event.Result,
				SessionID:  event.SessionID,
				DurationMS: event.DurationMS,
				IsError:    event.IsError,
			}
			if event.TotalCostUSD != nil {
				msg.CostUSD = *event.TotalCostUSD
				msg.HasCost = true
			}
			result = &msg
			yield(msg)
		}
	}
	return result, scanner.Err()
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
