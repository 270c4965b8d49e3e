package menu

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/DeafMist/opportunity-indexer/internal/logger"
)

// Prompter reads answers line by line and writes prompts. Input is read on
// a background goroutine so a cancelled context ends a pending Ask.
type Prompter struct {
	in    io.Reader
	out   io.Writer
	once  sync.Once
	lines chan string
}

// NewPrompter wraps in and out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: in, out: out}
}

func (p *Prompter) start() {
	p.once.Do(func() {
		p.lines = make(chan string)
		go func() {
			defer close(p.lines)
			sc := bufio.NewScanner(p.in)
			for sc.Scan() {
				p.lines <- sc.Text()
			}
		}()
	})
}

// Ask prints prompt and returns the trimmed answer. ok is false at EOF or
// when ctx is done.
func (p *Prompter) Ask(ctx context.Context, prompt string) (string, bool) {
	p.start()
	fmt.Fprint(p.out, prompt)
	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return "", false
	case line, ok := <-p.lines:
		if !ok {
			fmt.Fprintln(p.out)
			return "", false
		}
		return strings.TrimSpace(line), true
	}
}

// Confirm asks a y/N question. Anything but y or yes is no.
func (p *Prompter) Confirm(ctx context.Context, question string) bool {
	answer, ok := p.Ask(ctx, question+" (y/N): ")
	if !ok {
		return false
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}

// Printf writes to the output.
func (p *Prompter) Printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

// Writer exposes the output for renderers.
func (p *Prompter) Writer() io.Writer { return p.out }

// Handler runs one menu action.
type Handler func(ctx context.Context, p *Prompter) error

// Action is one selectable menu entry.
type Action struct {
	Key     string
	Label   string
	Handler Handler
	// Exit ends the loop after Handler (if any) returns.
	Exit bool
}

// Menu dispatches choices to actions until exit, EOF or cancellation.
type Menu struct {
	title   string
	actions []Action
	p       *Prompter
	log     *slog.Logger
}

// New builds a menu over actions in display order.
func New(title string, actions []Action, p *Prompter, log *slog.Logger) *Menu {
	if log == nil {
		log = logger.Discard()
	}
	return &Menu{title: title, actions: actions, p: p, log: log}
}

func (m *Menu) lookup(key string) (Action, bool) {
	for _, a := range m.actions {
		if strings.EqualFold(a.Key, key) {
			return a, true
		}
	}
	return Action{}, false
}

func (m *Menu) render() {
	m.p.Printf("\n%s\n", m.title)
	for _, a := range m.actions {
		m.p.Printf("   %s. %s\n", a.Key, a.Label)
	}
}

func (m *Menu) keys() string {
	keys := make([]string, 0, len(m.actions))
	for _, a := range m.actions {
		keys = append(keys, a.Key)
	}
	return strings.Join(keys, ", ")
}

// Run loops over choices. Handler errors are shown and the loop continues.
func (m *Menu) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.render()
		choice, ok := m.p.Ask(ctx, "\nEnter your choice: ")
		if !ok {
			return ctx.Err()
		}

		action, found := m.lookup(choice)
		if !found {
			m.p.Printf("Invalid choice %q. Please select one of %s.\n", choice, m.keys())
			continue
		}

		m.log.Debug("menu action", slog.String("key", action.Key), slog.String("label", action.Label))
		if action.Handler != nil {
			if err := action.Handler(ctx, m.p); err != nil {
				m.log.Error("menu action failed", slog.String("label", action.Label), slog.Any("err", err))
				m.p.Printf("Error: %v\n", err)
			}
		}
		if action.Exit {
			return nil
		}
	}
}
