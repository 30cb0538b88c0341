package speakers

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/yegors/diarscribe/internal/transcript"
)

// Console prompts for speaker names on a terminal. A single goroutine owns the
// input, so a prompt abandoned by a cancelled context hands its pending line to the
// next prompt instead of racing it for the reader.
type Console struct {
	in  *bufio.Reader
	out io.Writer

	once  sync.Once
	lines chan answer
}

// NewConsole creates a console prompter reading answers from in
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out, lines: make(chan answer)}
}

// readLines delivers input lines until the reader fails, then closes lines
func (c *Console) readLines() {
	defer close(c.lines)
	for {
		line, err := c.in.ReadString('\n')
		c.lines <- answer{line, err}
		if err != nil {
			return
		}
	}
}

type answer struct {
	line string
	err  error
}

// PromptName implements Prompter. An empty answer, "skip" or end of input keeps the
// placeholder.
func (c *Console) PromptName(ctx context.Context, p Prompt) (string, bool, error) {
	if p.Problem == "" {
		fmt.Fprintf(c.out, "\n🗣️  %s (%d of %d)", p.Placeholder, p.Ordinal, p.Total)
		if p.Excerpt != "" {
			fmt.Fprintf(c.out, " at %s: %q", transcript.FormatTimestamp(p.Start), p.Excerpt)
		}
		fmt.Fprintln(c.out)
	} else {
		fmt.Fprintf(c.out, "⚠️  %s\n", p.Problem)
	}
	fmt.Fprintf(c.out, "Name (enter to skip): ")

	c.once.Do(func() { go c.readLines() })

	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case a, ok := <-c.lines:
		if !ok {
			return "", true, nil
		}
		if a.err != nil && a.err != io.EOF {
			return "", false, a.err
		}
		line := strings.TrimSpace(a.line)
		if line == "" || strings.EqualFold(line, "skip") {
			return "", true, nil
		}
		return line, false, nil
	}
}
