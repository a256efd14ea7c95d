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

	"github.com/charmbracelet/glamour"

	"wordchat/internal/domain"
)

const cliPrompt = "You> "

// CLI implements domain.Channel for interactive terminal chat.
type CLI struct {
	bus      domain.MessageBus
	logger   *slog.Logger
	in       io.Reader
	out      io.Writer
	renderer *glamour.TermRenderer

	outMu     sync.Mutex
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
	thinkDone chan struct{}
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
	Render bool // render markdown replies with glamour
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &CLI{
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
	}
	if cfg.Render {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(80),
		)
		if err != nil {
			cfg.Logger.Warn("markdown renderer unavailable, printing plain text", "err", err)
		} else {
			c.renderer = r
		}
	}
	return c
}

func (c *CLI) Name() string { return "cli" }

// Start runs the interactive REPL and blocks until the input ends, the user
// quits or ctx is cancelled.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus
	bus.OnOutbound("cli", c.deliver)

	c.print("wordchat CLI. Type your message and press Enter. Type /help for commands, /quit to exit.\n" + cliPrompt)

	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			c.stopThinking()
			return nil
		case err := <-errCh:
			c.stopThinking()
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				c.print(cliPrompt)
				continue
			}
			if line == "/quit" || line == "/exit" || line == "/q" {
				c.logger.Info("user requested quit")
				c.stopThinking()
				return nil
			}
			c.bus.Publish(domain.InboundMessage{
				Channel:   "cli",
				ChatID:    "direct",
				SenderID:  "user",
				Content:   line,
				Timestamp: time.Now(),
			})
		}
	}
}

// deliver prints one outbound event. Thinking starts the spinner, done brings
// the prompt back.
func (c *CLI) deliver(msg domain.OutboundMessage) {
	if msg.StreamEvent != nil {
		switch msg.StreamEvent.Type {
		case domain.StreamThinking:
			c.startThinking()
			return
		case domain.StreamDone:
			c.stopThinking()
			c.print(cliPrompt)
			return
		}
	}

	c.stopThinking()
	var sb strings.Builder
	sb.WriteString("\r\033[K")
	if msg.Title != "" {
		fmt.Fprintf(&sb, "\n[%s] ", msg.Title)
	}
	if msg.Label != "" {
		fmt.Fprintf(&sb, "--- %s ---\n", msg.Label)
	}
	sb.WriteString(c.render(msg.Content, msg.Format))
	for _, a := range msg.Attachments {
		fmt.Fprintf(&sb, "\n  image: %s", a)
	}
	sb.WriteString("\n")
	if msg.StreamEvent == nil {
		// Unsolicited deliveries such as reminders have no done event.
		sb.WriteString(cliPrompt)
	}
	c.print(sb.String())
}

func (c *CLI) render(content, format string) string {
	text := plainText(content, format)
	if c.renderer == nil || format != "markdown" {
		return text
	}
	out, err := c.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

func (c *CLI) print(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprint(c.out, s)
}

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	c.thinkDone = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				c.print("\r\033[K")
				return
			case <-ticker.C:
				c.print(fmt.Sprintf("\r%s Thinking...", frames[i%len(frames)]))
				i++
			}
		}
	}(c.thinkStop, c.thinkDone)
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
	<-c.thinkDone
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(_ context.Context, _ string, content string) error {
	c.print(content + "\n")
	return nil
}
