package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"wordchat/internal/memory"
	"wordchat/internal/reminder"
)

// ChatCommand represents a parsed slash command.
type ChatCommand struct {
	Name    string   // command name without "/"
	Args    []string // arguments after the command
	Raw     string   // original full text
	Session string   // session key of the sender, set by the loop
}

// CommandResult holds the response for a handled command.
type CommandResult struct {
	Response string
	Handled  bool // false for unknown commands; they still get a static reply
}

// startTime records when the process started for /status.
var startTime = time.Now()

// version is set by the build system. Default fallback.
var version = "0.1.0"

// SetVersion sets the version string used by commands.
func SetVersion(v string) {
	version = v
}

// Version returns the version string reported by /status.
func Version() string { return version }

// ParseCommand checks if a message starts with "/" and parses it into a ChatCommand.
// Returns nil if the message is not a command.
func ParseCommand(text string) *ChatCommand {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}
	parts := strings.Fields(text)
	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if name == "" {
		return nil
	}
	return &ChatCommand{Name: name, Args: parts[1:], Raw: text}
}

// HandleCommand runs a slash command against the session's conversations.
// Slash commands never reach the dispatcher or a provider.
func (l *Loop) HandleCommand(ctx context.Context, cmd *ChatCommand, store *memory.Store) CommandResult {
	switch cmd.Name {
	case "help":
		return handled(helpText())

	case "new", "clear":
		c, err := store.New(ctx)
		if err != nil {
			return handled(fmt.Sprintf("Could not start a new conversation: %v", err))
		}
		return handled(fmt.Sprintf("Started a new conversation (`%s`).", shortID(c.ID)))

	case "list":
		return handled(l.listText(ctx, store))

	case "switch":
		if len(cmd.Args) == 0 {
			return handled("Usage: /switch <id-prefix>")
		}
		c, err := store.Switch(ctx, cmd.Args[0])
		if err != nil {
			return handled(refError(cmd.Args[0], err))
		}
		return handled(fmt.Sprintf("Switched to **%s** (`%s`, %d messages).", c.Title, shortID(c.ID), len(c.Messages)))

	case "delete":
		if len(cmd.Args) == 0 {
			return handled("Usage: /delete <id-prefix>")
		}
		id, err := store.Delete(ctx, cmd.Args[0])
		if err != nil {
			return handled(refError(cmd.Args[0], err))
		}
		return handled(fmt.Sprintf("Deleted conversation `%s`.", shortID(id)))

	case "export":
		data, err := store.Export(ctx)
		if err != nil {
			return handled(fmt.Sprintf("Export failed: %v", err))
		}
		return handled("```json\n" + string(data) + "\n```")

	case "commands":
		return handled(l.commandsText())

	case "status":
		return handled(l.statusText())

	case "reminders":
		return handled(l.remindersText(ctx, cmd))

	default:
		return CommandResult{Response: fmt.Sprintf("Unknown command /%s. Type /help for the list.", cmd.Name)}
	}
}

func handled(text string) CommandResult {
	return CommandResult{Response: text, Handled: true}
}

func refError(ref string, err error) string {
	if errors.Is(err, memory.ErrNotFound) {
		return fmt.Sprintf("No conversation matches `%s`.", ref)
	}
	return fmt.Sprintf("Could not use `%s`: %v", ref, err)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func helpText() string {
	return `**Commands**

/help - Show this help message
/new - Start a new conversation
/clear - Same as /new
/list - List conversations, newest first
/switch <id> - Switch to a conversation by id or id prefix
/delete <id> - Delete a conversation by id or id prefix
/export - Show every conversation as JSON
/commands - List trigger words
/reminders - List pending reminders and timers
/reminders cancel <id> - Cancel one by id or id prefix
/status - Show bot status and counters`
}

func (l *Loop) listText(ctx context.Context, store *memory.Store) string {
	list, err := store.List(ctx)
	if err != nil {
		return fmt.Sprintf("Could not list conversations: %v", err)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Conversations** (%d)\n\n", len(list))
	for _, c := range list {
		marker := " "
		if c.Active {
			marker = "*"
		}
		created := time.UnixMilli(c.CreatedAt).UTC().Format("2006-01-02 15:04")
		fmt.Fprintf(&sb, "%s `%s` %s (%d messages, %s)\n", marker, shortID(c.ID), c.Title, c.Messages, created)
	}
	return sb.String()
}

func (l *Loop) commandsText() string {
	var words []string
	if l.registry != nil {
		for _, e := range l.registry.Entries() {
			words = append(words, fmt.Sprintf("%s -> %s", e.Trigger, e.Handler))
		}
	}
	if l.catalog != nil {
		for _, name := range l.catalog.Names() {
			if l.registry != nil {
				if _, ok := l.registry.Lookup(name); ok {
					continue
				}
			}
			words = append(words, name)
		}
	}
	slices.Sort(words)
	if len(words) == 0 {
		return "No commands are registered."
	}
	return "**Trigger words**\n\n" + strings.Join(words, "\n")
}

// remindersText lists the session's pending reminders, or cancels one of them
// by id prefix.
func (l *Loop) remindersText(ctx context.Context, cmd *ChatCommand) string {
	if l.reminders == nil {
		return "Reminders are disabled."
	}
	pending := l.reminders.List(cmd.Session)

	switch {
	case len(cmd.Args) == 0:
	case len(cmd.Args) == 2 && strings.EqualFold(cmd.Args[0], "cancel"):
		ref := cmd.Args[1]
		var matches []reminder.Reminder
		for _, r := range pending {
			if strings.HasPrefix(r.ID, ref) {
				matches = append(matches, r)
			}
		}
		switch len(matches) {
		case 0:
			return fmt.Sprintf("No pending reminder matches `%s`.", ref)
		case 1:
		default:
			return fmt.Sprintf("`%s` matches more than one reminder.", ref)
		}
		ok, err := l.reminders.Cancel(ctx, matches[0].ID)
		if err != nil {
			return fmt.Sprintf("Could not cancel `%s`: %v", shortID(matches[0].ID), err)
		}
		if !ok {
			return fmt.Sprintf("Reminder `%s` already fired.", shortID(matches[0].ID))
		}
		return fmt.Sprintf("Cancelled %s.", describeReminder(matches[0]))
	default:
		return "Usage: /reminders [cancel <id-prefix>]"
	}

	if len(pending) == 0 {
		return "No pending reminders."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Pending reminders** (%d)\n\n", len(pending))
	for _, r := range pending {
		at := time.UnixMilli(r.TriggerAt).UTC().Format("2006-01-02 15:04:05")
		fmt.Fprintf(&sb, "`%s` %s UTC, %s\n", shortID(r.ID), at, describeReminder(r))
	}
	return sb.String()
}

func describeReminder(r reminder.Reminder) string {
	if r.Kind == reminder.KindTimer {
		return fmt.Sprintf("timer for %s %s(s)", strconv.FormatFloat(r.Amount, 'f', -1, 64), r.Unit)
	}
	return fmt.Sprintf("reminder \"%s\"", r.Text)
}

func (l *Loop) statusText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**wordchat v%s**\n\n", version)
	fmt.Fprintf(&sb, "Uptime: %s\n", time.Since(startTime).Round(time.Second))
	if l.metrics != nil {
		s := l.metrics.Snapshot()
		fmt.Fprintf(&sb, "Messages: %d\n", s.Messages)
		fmt.Fprintf(&sb, "Handler invocations: %d (%d failed)\n", s.HandlerInvocations, s.HandlerFailures)
		fmt.Fprintf(&sb, "Provider requests: %d (%d without answer)\n", s.ProviderRequests, s.ProviderNoAnswer)
		fmt.Fprintf(&sb, "Reminders fired: %d\n", s.RemindersFired)
	}
	fmt.Fprintf(&sb, "Runtime: %s/%s, Go %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
	return sb.String()
}
