package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"agriguard/internal/domain"
)

// CLI implements domain.Channel for interactive terminal sessions. A field
// officer types one question per line; the advisory is printed in place.
type CLI struct {
	logger    *slog.Logger
	in        io.Reader
	out       io.Writer
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
}

type CLIOptions struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(opts CLIOptions) *CLI {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &CLI{
		logger: opts.Logger,
		in:     opts.In,
		out:    opts.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the interactive prompt and blocks until the context is
// cancelled or the input reaches EOF.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	_, _ = fmt.Fprintln(c.out, "AgriGuard advisory CLI. Ask a farming question and press Enter. Type /quit to exit.")
	_, _ = fmt.Fprint(c.out, "You> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			_, _ = fmt.Fprint(c.out, "You> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		c.startThinking()
		bus.Publish(domain.InboundMessage{
			Channel:   "cli",
			ChatID:    "direct",
			SenderID:  "cli-user",
			Content:   line,
			Timestamp: time.Now(),
		})
	}
}

func (c *CLI) Stop() error {
	c.stopThinking()
	return nil
}

// Send prints the advisory back to the terminal.
func (c *CLI) Send(ctx context.Context, chatID string, content string) error {
	c.stopThinking()
	_, _ = fmt.Fprintln(c.out, "\r\033[K") // clear spinner line
	_, _ = fmt.Fprintln(c.out, "--- AgriGuard ---")
	_, _ = fmt.Fprintln(c.out, content)
	_, _ = fmt.Fprintln(c.out, "-----------------")
	_, _ = fmt.Fprint(c.out, "You> ")
	return nil
}

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go func(stop chan struct{}) {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}(c.thinkStop)
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}
