package consumer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tjfontaine/pmdev-translator/internal/relay"
)

const (
	// ScrollThreshold is how far from the bottom, in surface units, the
	// output may sit and still count as following the stream.
	ScrollThreshold = 30

	// DefaultCopyRevert is how long the copied acknowledgment stays up.
	DefaultCopyRevert = 2 * time.Second
)

// State is a session's position in the translation lifecycle.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRenderer sets how accumulated output is converted for the surface.
func WithRenderer(r Renderer) SessionOption {
	return func(s *Session) {
		s.renderer = r
	}
}

// WithClipboard sets the copy target.
func WithClipboard(c Clipboard) SessionOption {
	return func(s *Session) {
		s.clipboard = c
	}
}

// WithLogger sets the session's logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = l
	}
}

// WithCopyRevert sets how long the copy label shows CopiedLabel.
func WithCopyRevert(d time.Duration) SessionOption {
	return func(s *Session) {
		s.copyRevert = d
	}
}

// WithScrollThreshold overrides ScrollThreshold, for surfaces that measure
// in rows rather than pixels.
func WithScrollThreshold(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.scrollThreshold = n
		}
	}
}

// WithDirection sets the initial direction. Unknown directions are ignored.
func WithDirection(d relay.Direction) SessionOption {
	return func(s *Session) {
		if d.Valid() {
			s.direction = d
		}
	}
}

// Session owns one consumer's translation state and drives its Surface.
//
// At most one translation is in flight. Every request gets a new generation;
// updates carrying an older generation are dropped, so output of a canceled
// request never reaches the surface. Surface calls are serialized and made
// without the state lock held.
type Session struct {
	translator Translator
	surface    Surface
	renderer   Renderer
	clipboard  Clipboard
	logger     *slog.Logger
	copyRevert time.Duration

	scrollThreshold int

	// paintMu orders surface updates. Acquired before mu.
	paintMu sync.Mutex

	mu           sync.Mutex
	state        State
	direction    relay.Direction
	output       strings.Builder
	userScrolled bool
	generation   uint64
	cancel       context.CancelFunc
	copyTimer    *time.Timer
	closed       bool
}

// view is what a paint needs from the session.
type view struct {
	direction    relay.Direction
	output       string
	loading      bool
	userScrolled bool
}

// NewSession creates an idle session.
func NewSession(t Translator, surface Surface, opts ...SessionOption) *Session {
	s := &Session{
		translator: t,
		surface:    surface,
		renderer:   NewHTMLRenderer(),
		clipboard:  SystemClipboard{},
		logger:     slog.Default(),
		copyRevert: DefaultCopyRevert,
		direction:  relay.PMToDev,

		scrollThreshold: ScrollThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh repaints the whole surface from the current state.
func (s *Session) Refresh() {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	s.update(gen, nil, func(v view) {
		labels, _ := LabelsFor(v.direction)
		s.surface.SetDirection(v.direction, labels)
		s.surface.SetLoading(v.loading)
		s.draw(v)
	})
}

// Translate submits content in the current direction and consumes the
// response until it ends. It blocks for the whole stream; callers driving a
// UI run it on its own goroutine.
//
// Blank content is rejected with ErrEmptyContent and a validation message.
// A request superseded by Cancel, Reset or Close returns ErrCanceled. Any
// other failure is shown on the surface and returned.
func (s *Session) Translate(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		s.surface.ShowValidation(EmptyInputMessage)
		return ErrEmptyContent
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.loadingLocked() {
		s.mu.Unlock()
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	s.generation++
	gen := s.generation
	s.cancel = cancel
	s.state = StateRequesting
	s.output.Reset()
	s.userScrolled = false
	req := relay.TranslateRequest{Content: content, Direction: s.direction}
	s.mu.Unlock()
	defer cancel()

	s.update(gen, nil, func(v view) {
		s.surface.SetLoading(true)
		s.draw(v)
	})

	s.logger.Debug("translation started",
		slog.Uint64("generation", gen),
		slog.String("direction", req.Direction.String()),
	)

	body, err := s.translator.Translate(ctx, req)
	if err != nil {
		return s.fail(gen, err)
	}
	defer body.Close()

	if !s.update(gen, func() { s.state = StateStreaming }, func(view) {}) {
		return ErrCanceled
	}

	err = Stream(ctx, body, func(delta string) {
		s.update(gen, func() { s.output.WriteString(delta) }, s.draw)
	}, WithStreamLogger(s.logger))
	if err != nil {
		return s.fail(gen, err)
	}

	ok := s.update(gen, func() { s.finishLocked(StateCompleted) }, func(v view) {
		s.surface.SetLoading(false)
		s.draw(v)
	})
	if !ok {
		return ErrCanceled
	}

	s.logger.Debug("translation completed", slog.Uint64("generation", gen))
	return nil
}

func (s *Session) fail(gen uint64, err error) error {
	ok := s.update(gen, func() { s.finishLocked(StateFailed) }, func(view) {
		s.surface.SetLoading(false)
		s.surface.ShowError(FailurePrefix + err.Error())
	})
	if !ok {
		return ErrCanceled
	}

	s.logger.Error("translation failed",
		slog.Uint64("generation", gen),
		slog.String("error", err.Error()),
	)
	return err
}

// OnScroll records the user's scroll position while a translation is in
// flight. Leaving the output at least the scroll threshold away from its bottom
// suspends auto-scroll; coming back within it resumes auto-scroll on the next
// render. It never touches the surface, so it is safe to call from the UI
// thread.
func (s *Session) OnScroll(scrollHeight, scrollTop, clientHeight int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loadingLocked() {
		return
	}
	s.userScrolled = scrollHeight-scrollTop-clientHeight >= s.scrollThreshold
}

// SwitchDirection selects d, clearing input and output. It is rejected with
// ErrBusy while a translation is in flight.
func (s *Session) SwitchDirection(d relay.Direction) error {
	labels, ok := LabelsFor(d)
	if !ok {
		return ErrUnknownDirection
	}

	gen, err := s.clear(func() { s.direction = d })
	if err != nil {
		return err
	}

	s.update(gen, nil, func(v view) {
		s.surface.SetDirection(v.direction, labels)
		s.surface.ClearInput()
		s.draw(v)
	})
	return nil
}

// Reset clears input and output. It is rejected with ErrBusy while a
// translation is in flight.
func (s *Session) Reset() error {
	gen, err := s.clear(nil)
	if err != nil {
		return err
	}

	s.update(gen, nil, func(v view) {
		s.surface.ClearInput()
		s.draw(v)
	})
	return nil
}

func (s *Session) clear(mutate func()) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if s.loadingLocked() {
		return 0, ErrBusy
	}
	if mutate != nil {
		mutate()
	}
	s.generation++
	s.state = StateIdle
	s.output.Reset()
	s.userScrolled = false
	return s.generation, nil
}

// Cancel aborts the in-flight translation, keeping what has arrived so far
// as the final output. It reports whether there was anything to cancel.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	if !s.loadingLocked() {
		s.mu.Unlock()
		return false
	}
	s.generation++
	gen := s.generation
	s.finishLocked(StateIdle)
	s.mu.Unlock()

	s.logger.Debug("translation canceled", slog.Uint64("generation", gen-1))

	s.update(gen, nil, func(v view) {
		s.surface.SetLoading(false)
		s.draw(v)
	})
	return true
}

// Close cancels any in-flight translation and stops all surface updates.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.copyTimer != nil {
		s.copyTimer.Stop()
		s.copyTimer = nil
	}
}

// Copy writes the raw accumulated output to the clipboard and shows
// CopiedLabel until the revert delay passes. Clipboard failures are logged and
// returned but never shown. Copying empty output does nothing.
func (s *Session) Copy() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	text := s.output.String()
	s.mu.Unlock()

	if text == "" {
		return nil
	}

	if err := s.clipboard.WriteAll(text); err != nil {
		s.logger.Warn("copy failed", slog.String("error", err.Error()))
		return err
	}

	s.paintCopyLabel(CopiedLabel)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.copyTimer != nil {
		s.copyTimer.Stop()
	}
	s.copyTimer = time.AfterFunc(s.copyRevert, func() { s.paintCopyLabel(CopyLabel) })
	return nil
}

func (s *Session) paintCopyLabel(label string) {
	s.paintMu.Lock()
	defer s.paintMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		s.surface.SetCopyLabel(label)
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Output returns the raw accumulated output.
func (s *Session) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output.String()
}

// Direction returns the selected direction.
func (s *Session) Direction() relay.Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direction
}

// UserScrolled reports whether auto-scroll is suspended.
func (s *Session) UserScrolled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userScrolled
}

// Loading reports whether a translation is in flight.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingLocked()
}

func (s *Session) loadingLocked() bool {
	return s.state == StateRequesting || s.state == StateStreaming
}

func (s *Session) finishLocked(state State) {
	s.state = state
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// update applies mutate and then paint, but only while gen is still the
// current generation. It reports whether it ran.
func (s *Session) update(gen uint64, mutate func(), paint func(view)) bool {
	s.paintMu.Lock()
	defer s.paintMu.Unlock()

	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return false
	}
	if mutate != nil {
		mutate()
	}
	v := view{
		direction:    s.direction,
		output:       s.output.String(),
		loading:      s.loadingLocked(),
		userScrolled: s.userScrolled,
	}
	s.mu.Unlock()

	paint(v)
	return true
}

// draw is the render pass.
func (s *Session) draw(v view) {
	if v.output == "" {
		s.surface.ShowPlaceholder()
		s.surface.SetCopyVisible(false)
		return
	}

	text := v.output
	if v.loading {
		text = RepairMarkup(text)
	}

	rendered, err := s.renderer.Render(text)
	if err != nil {
		s.logger.Warn("render failed", slog.String("error", err.Error()))
		rendered = text
	}

	s.surface.ShowOutput(rendered)
	s.surface.SetCopyVisible(true)
	if !v.userScrolled {
		s.surface.ScrollToBottom()
	}
}

// IsCanceled reports whether err means the translation was superseded.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, ErrClosed)
}
