package updater

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// TerminalPrompter 在终端上询问 y/N。
type TerminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalPrompter 使用给定输入输出构造提示器。
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(in), out: out}
}

// Prompt 实现 Prompter。读取失败（包括 EOF）视为拒绝。
func (p *TerminalPrompter) Prompt(ctx context.Context, update Update) (bool, error) {
	version := update.Version
	if version == "" {
		version = "unknown"
	}
	if _, err := fmt.Fprintf(p.out, "A new version (%s) is available. Reload now? [y/N]: ", version); err != nil {
		return false, err
	}

	type answer struct {
		line string
		err  error
	}
	result := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		result <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case ans := <-result:
		if ans.err != nil && ans.err != io.EOF {
			return false, ans.err
		}
		switch strings.ToLower(strings.TrimSpace(ans.line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
