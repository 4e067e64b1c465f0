// Package tui is the terminal front end of the translator: a tview
// application whose output pane is the consumer's render surface.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/tjfontaine/pmdev-translator/internal/consumer"
	"github.com/tjfontaine/pmdev-translator/internal/relay"
)

// ScrollThreshold is the auto-scroll threshold in rows.
const ScrollThreshold = 2

const keyHelp = "F2 切换方向  Ctrl+S 翻译  Ctrl+R 清空  Ctrl+Y 复制  Esc 取消"

// App is the terminal UI. It implements consumer.Surface; every surface call
// is queued onto the tview event loop.
type App struct {
	app     *tview.Application
	header  *tview.TextView
	input   *tview.TextArea
	output  *tview.TextView
	status  *tview.TextView
	session *consumer.Session
	logger  *slog.Logger

	ctx  context.Context
	done chan struct{}

	scrollPending atomic.Bool

	// Touched only on the event loop.
	loading     bool
	copyVisible bool
	copyLabel   string
	notice      string
}

var _ consumer.Surface = (*App)(nil)

// Option configures an App.
type Option func(*App)

// WithScreen draws on screen instead of the controlling terminal.
func WithScreen(screen tcell.Screen) Option {
	return func(a *App) {
		a.app.SetScreen(screen)
	}
}

// New builds the UI. Bind a session before calling Run.
func New(logger *slog.Logger, opts ...Option) *App {
	a := &App{
		app:       tview.NewApplication(),
		logger:    logger,
		copyLabel: consumer.CopyLabel,
		ctx:       context.Background(),
		done:      make(chan struct{}),
	}
	a.app.EnableMouse(true)
	a.app.EnablePaste(true)
	for _, opt := range opts {
		opt(a)
	}

	a.header = tview.NewTextView().SetDynamicColors(true)

	a.input = tview.NewTextArea()
	a.input.SetBorder(true)

	a.output = tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true).
		SetScrollable(true)
	a.output.SetBorder(true)
	a.output.SetMouseCapture(func(action tview.MouseAction, event *tcell.EventMouse) (tview.MouseAction, *tcell.EventMouse) {
		if action == tview.MouseScrollUp || action == tview.MouseScrollDown {
			a.scrollPending.Store(true)
		}
		return action, event
	})
	a.output.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if isScrollKey(event) {
			a.scrollPending.Store(true)
		}
		return event
	})

	a.status = tview.NewTextView().SetDynamicColors(true)

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.header, 1, 0, false).
		AddItem(a.input, 8, 0, true).
		AddItem(a.output, 0, 1, false).
		AddItem(a.status, 1, 0, false)

	a.app.SetRoot(layout, true).SetFocus(a.input)
	a.app.SetInputCapture(a.handleKey)
	a.app.SetAfterDrawFunc(func(tcell.Screen) { a.reportScroll() })

	return a
}

// Bind attaches the session the keys drive.
func (a *App) Bind(s *consumer.Session) {
	a.session = s
}

// Run paints the session and blocks until the user quits or ctx ends. An App
// runs once.
func (a *App) Run(ctx context.Context) error {
	if a.session == nil {
		return errors.New("tui: no session bound")
	}
	a.ctx = ctx
	defer a.session.Close()

	go func() {
		select {
		case <-ctx.Done():
			a.await(func() { a.app.QueueUpdate(a.app.Stop) })
		case <-a.done:
		}
	}()

	// Surface calls wait for the event loop, so the first paint cannot
	// happen on this goroutine.
	go a.session.Refresh()

	err := a.app.Run()
	close(a.done)
	return err
}

func (a *App) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch {
	case event.Key() == tcell.KeyF2, event.Key() == tcell.KeyCtrlT:
		go a.toggleDirection()
	case event.Key() == tcell.KeyCtrlS,
		event.Key() == tcell.KeyEnter && event.Modifiers()&tcell.ModCtrl != 0:
		if !a.loading {
			content := a.input.GetText()
			go a.submit(content)
		}
	case event.Key() == tcell.KeyCtrlR:
		go a.run("reset", a.session.Reset)
	case event.Key() == tcell.KeyCtrlY:
		go a.run("copy", a.session.Copy)
	case event.Key() == tcell.KeyEscape:
		go a.session.Cancel()
	case event.Key() == tcell.KeyTab:
		if a.input.HasFocus() {
			a.app.SetFocus(a.output)
		} else {
			a.app.SetFocus(a.input)
		}
	default:
		return event
	}
	return nil
}

func (a *App) submit(content string) {
	err := a.session.Translate(a.ctx, content)
	if err != nil && !consumer.IsCanceled(err) && !errors.Is(err, consumer.ErrEmptyContent) {
		a.logger.Warn("translate failed", slog.String("error", err.Error()))
	}
}

func (a *App) toggleDirection() {
	next := relay.DevToPM
	if a.session.Direction() == relay.DevToPM {
		next = relay.PMToDev
	}
	a.run("switch direction", func() error { return a.session.SwitchDirection(next) })
}

func (a *App) run(op string, fn func() error) {
	if err := fn(); err != nil {
		a.logger.Debug(op+" rejected", slog.String("error", err.Error()))
	}
}

// reportScroll hands the output pane's position to the session after a
// scroll input has been applied.
func (a *App) reportScroll() {
	if a.session == nil || !a.scrollPending.Swap(false) {
		return
	}
	row, _ := a.output.GetScrollOffset()
	_, _, _, height := a.output.GetInnerRect()
	a.session.OnScroll(a.output.GetWrappedLineCount(), row, height)
}

func isScrollKey(event *tcell.EventKey) bool {
	switch event.Key() {
	case tcell.KeyUp, tcell.KeyDown, tcell.KeyPgUp, tcell.KeyPgDn, tcell.KeyHome, tcell.KeyEnd:
		return true
	case tcell.KeyRune:
		return strings.ContainsRune("jkgG", event.Rune())
	}
	return false
}

// queue runs f on the event loop and redraws.
func (a *App) queue(f func()) {
	a.await(func() { a.app.QueueUpdateDraw(f) })
}

// await runs a blocking hand-off to the event loop. It gives up once the loop
// has stopped; a hand-off already waiting is abandoned.
func (a *App) await(handoff func()) {
	select {
	case <-a.done:
		return
	default:
	}

	handed := make(chan struct{})
	go func() {
		handoff()
		close(handed)
	}()
	select {
	case <-handed:
	case <-a.done:
	}
}

func (a *App) SetDirection(d relay.Direction, labels consumer.Labels) {
	a.queue(func() {
		a.header.SetText(directionHeader(d))
		a.input.SetTitle(" " + labels.Input + " ")
		a.input.SetPlaceholder(labels.InputPlaceholder)
		a.output.SetTitle(" " + labels.Output + " ")
	})
}

func (a *App) ClearInput() {
	a.queue(func() {
		a.input.SetText("", false)
		a.app.SetFocus(a.input)
	})
}

func (a *App) SetLoading(loading bool) {
	a.queue(func() {
		a.loading = loading
		a.input.SetDisabled(loading)
		a.notice = ""
		a.drawStatus()
	})
}

func (a *App) ShowPlaceholder() {
	a.queue(func() {
		a.output.SetText("[gray]" + tview.Escape(consumer.PlaceholderText) + "[-]")
		a.output.ScrollToBeginning()
	})
}

func (a *App) ShowOutput(rendered string) {
	a.queue(func() {
		a.output.SetText(rendered)
	})
}

func (a *App) ShowError(message string) {
	a.queue(func() {
		a.output.SetText("[red]" + tview.Escape(message) + "[-]")
	})
}

func (a *App) ShowValidation(message string) {
	a.queue(func() {
		a.notice = message
		a.drawStatus()
	})
}

func (a *App) SetCopyVisible(visible bool) {
	a.queue(func() {
		a.copyVisible = visible
		a.drawStatus()
	})
}

func (a *App) SetCopyLabel(label string) {
	a.queue(func() {
		a.copyLabel = label
		a.drawStatus()
	})
}

func (a *App) ScrollToBottom() {
	a.queue(func() {
		a.output.ScrollToEnd()
	})
}

// drawStatus must run on the event loop.
func (a *App) drawStatus() {
	a.status.SetText(statusLine(a.loading, a.copyVisible, a.copyLabel, a.notice))
}

func directionHeader(d relay.Direction) string {
	pm, dev := " PM → Dev ", " Dev → PM "
	if d == relay.DevToPM {
		return fmt.Sprintf("%s[::r]%s[::-]", pm, dev)
	}
	return fmt.Sprintf("[::r]%s[::-]%s", pm, dev)
}

func statusLine(loading, copyVisible bool, copyLabel, notice string) string {
	var parts []string
	if loading {
		parts = append(parts, "[yellow]翻译中...[-]")
	}
	if notice != "" {
		parts = append(parts, "[red]"+tview.Escape(notice)+"[-]")
	}
	if copyVisible && !loading {
		parts = append(parts, "[green]"+tview.Escape(copyLabel)+"[-]")
	}
	parts = append(parts, "[gray]"+keyHelp+"[-]")
	return strings.Join(parts, "  ")
}
