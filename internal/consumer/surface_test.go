package consumer

import (
	"fmt"
	"sync"

	"github.com/tjfontaine/pmdev-translator/internal/relay"
)

// surfaceState is what a recordingSurface currently shows.
type surfaceState struct {
	events      []string
	loading     bool
	output      string
	errText     string
	validation  string
	copyVisible bool
	copyLabel   string
	labels      Labels
	direction   relay.Direction
	scrolls     int
}

// recordingSurface keeps every call as a short event string.
type recordingSurface struct {
	mu sync.Mutex
	st surfaceState
}

func newRecordingSurface() *recordingSurface {
	return &recordingSurface{st: surfaceState{copyLabel: CopyLabel}}
}

func (s *recordingSurface) record(format string, args ...any) {
	s.st.events = append(s.st.events, fmt.Sprintf(format, args...))
}

func (s *recordingSurface) SetDirection(d relay.Direction, labels Labels) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.direction, s.st.labels = d, labels
	s.record("direction %s", d)
}

func (s *recordingSurface) ClearInput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("clear-input")
}

func (s *recordingSurface) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.loading = loading
	s.record("loading %t", loading)
}

func (s *recordingSurface) ShowPlaceholder() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.output, s.st.errText = "", ""
	s.record("placeholder")
}

func (s *recordingSurface) ShowOutput(rendered string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.output, s.st.errText = rendered, ""
	s.record("output %s", rendered)
}

func (s *recordingSurface) ShowError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.errText = message
	s.record("error %s", message)
}

func (s *recordingSurface) ShowValidation(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.validation = message
	s.record("validation %s", message)
}

func (s *recordingSurface) SetCopyVisible(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.copyVisible = visible
}

func (s *recordingSurface) SetCopyLabel(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.copyLabel = label
	s.record("copy-label %s", label)
}

func (s *recordingSurface) ScrollToBottom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.scrolls++
}

func (s *recordingSurface) state() surfaceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st
	st.events = append([]string(nil), s.st.events...)
	return st
}

// rawRenderer shows markdown as-is so tests can see exactly what was rendered.
type rawRenderer struct{}

func (rawRenderer) Render(markdown string) (string, error) { return markdown, nil }
