package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/pmdev-translator/internal/config"
	"github.com/tjfontaine/pmdev-translator/internal/relay"
)

var discardLogger = slog.New(slog.DiscardHandler)

func deltaLine(content string) string {
	payload, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"delta": map[string]string{"content": content}}},
	})
	return "data: " + string(payload) + "\n\n"
}

// newRelay starts a relay in front of an upstream served by upstream.
func newRelay(t *testing.T, upstream http.HandlerFunc) *httptest.Server {
	t.Helper()

	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)

	h := relay.NewHandler(config.UpstreamConfig{
		Name:    "DeepSeek",
		BaseURL: up.URL,
		APIKey:  "sk-test",
		Model:   "deepseek-chat",
	}, relay.WithLogger(discardLogger))

	r := chi.NewRouter()
	h.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

// pipeTranslator hands out a body the test writes to. It ignores ctx, like a
// transport that only notices cancellation between reads.
type pipeTranslator struct {
	mu   sync.Mutex
	reqs []relay.TranslateRequest
	pr   *io.PipeReader
	pw   *io.PipeWriter
}

func newPipeTranslator(t *testing.T) *pipeTranslator {
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	return &pipeTranslator{pr: pr, pw: pw}
}

func (p *pipeTranslator) Translate(ctx context.Context, req relay.TranslateRequest) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	return p.pr, nil
}

func (p *pipeTranslator) send(t *testing.T, content string) {
	t.Helper()
	_, err := io.WriteString(p.pw, deltaLine(content))
	require.NoError(t, err)
}

func (p *pipeTranslator) requests() []relay.TranslateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]relay.TranslateRequest(nil), p.reqs...)
}

// failingTranslator fails every call and counts them.
type failingTranslator struct {
	calls int
	err   error
}

func (f *failingTranslator) Translate(context.Context, relay.TranslateRequest) (io.ReadCloser, error) {
	f.calls++
	return nil, f.err
}

type fakeClipboard struct {
	mu   sync.Mutex
	text string
	err  error
}

func (c *fakeClipboard) WriteAll(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.text = text
	return nil
}

func newTestSession(t Translator, surface Surface, opts ...SessionOption) *Session {
	base := []SessionOption{WithRenderer(rawRenderer{}), WithLogger(discardLogger), WithClipboard(&fakeClipboard{})}
	return NewSession(t, surface, append(base, opts...)...)
}

// startTranslate runs Translate in the background and waits for streaming.
func startTranslate(t *testing.T, s *Session, content string) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Translate(context.Background(), content) }()
	require.Eventually(t, func() bool { return s.State() == StateStreaming }, time.Second, time.Millisecond)
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("translation did not finish")
		return nil
	}
}

func TestSession_TranslateThroughRelay(t *testing.T) {
	var got relay.TranslateRequest
	srv := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, deltaLine("技术"))
		w.(http.Flusher).Flush()
		io.WriteString(w, deltaLine("方案"))
		io.WriteString(w, "data: [DONE]\n\n")
	})

	surface := newRecordingSurface()
	recorder := &recordingTranslator{next: NewClient(srv.URL), got: &got}
	s := newTestSession(recorder, surface)

	err := s.Translate(context.Background(), "  用户登录功能\n")
	require.NoError(t, err)

	assert.Equal(t, "技术方案", s.Output())
	assert.Equal(t, StateCompleted, s.State())
	assert.Equal(t, relay.TranslateRequest{Content: "用户登录功能", Direction: relay.PMToDev}, got)

	st := surface.state()
	assert.False(t, st.loading)
	assert.Equal(t, "技术方案", st.output)
	assert.True(t, st.copyVisible)
	assert.Empty(t, st.errText)
	assert.Equal(t, []string{"loading true", "placeholder"}, st.events[:2])
	assert.Equal(t, "loading false", st.events[len(st.events)-2])
}

type recordingTranslator struct {
	next Translator
	got  *relay.TranslateRequest
}

func (r *recordingTranslator) Translate(ctx context.Context, req relay.TranslateRequest) (io.ReadCloser, error) {
	*r.got = req
	return r.next.Translate(ctx, req)
}

func TestSession_UpstreamFailure(t *testing.T) {
	srv := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"Authentication Fails"}}`)
	})

	surface := newRecordingSurface()
	s := newTestSession(NewClient(srv.URL), surface)

	err := s.Translate(context.Background(), "用户登录功能")

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
	assert.Equal(t, StateFailed, s.State())

	st := surface.state()
	assert.False(t, st.loading)
	assert.Equal(t,
		`翻译失败: HTTP error! status: 500: DeepSeek API error: {"error":{"message":"Authentication Fails"}}`,
		st.errText)
}

func TestSession_TransportFailureIsRecoverable(t *testing.T) {
	surface := newRecordingSurface()
	ft := &failingTranslator{err: &TransportError{Op: "request", Err: errors.New("connection refused")}}
	s := newTestSession(ft, surface)

	err := s.Translate(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, "翻译失败: request failed: connection refused", surface.state().errText)

	// Controls are back: a second submit reaches the translator again.
	require.Error(t, s.Translate(context.Background(), "hello"))
	assert.Equal(t, 2, ft.calls)
}

func TestSession_EmptyContent(t *testing.T) {
	surface := newRecordingSurface()
	ft := &failingTranslator{err: errors.New("unused")}
	s := newTestSession(ft, surface)

	for _, content := range []string{"", "   ", "\n\t"} {
		assert.ErrorIs(t, s.Translate(context.Background(), content), ErrEmptyContent)
	}

	assert.Zero(t, ft.calls)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, EmptyInputMessage, surface.state().validation)
}

func TestSession_RepairsOnlyWhileStreaming(t *testing.T) {
	pt := newPipeTranslator(t)
	surface := newRecordingSurface()
	s := newTestSession(pt, surface)

	done := startTranslate(t, s, "需求")

	pt.send(t, "**重点")
	require.Eventually(t, func() bool { return surface.state().output == "**重点**" }, time.Second, time.Millisecond)
	assert.Equal(t, "**重点", s.Output())

	pt.pw.Close()
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, "**重点", surface.state().output)
}

func TestSession_ScrollIntent(t *testing.T) {
	pt := newPipeTranslator(t)
	surface := newRecordingSurface()
	s := newTestSession(pt, surface)

	done := startTranslate(t, s, "需求")

	pt.send(t, "a")
	require.Eventually(t, func() bool { return surface.state().scrolls == 1 }, time.Second, time.Millisecond)

	// Far from the bottom: auto-scroll is suspended.
	s.OnScroll(200, 0, 50)
	assert.True(t, s.UserScrolled())

	pt.send(t, "b")
	require.Eventually(t, func() bool { return surface.state().output == "ab" }, time.Second, time.Millisecond)
	assert.Equal(t, 1, surface.state().scrolls)

	// Back within the threshold: the next render scrolls again.
	s.OnScroll(200, 140, 50)
	assert.False(t, s.UserScrolled())

	pt.send(t, "c")
	require.Eventually(t, func() bool { return surface.state().scrolls == 2 }, time.Second, time.Millisecond)

	pt.pw.Close()
	require.NoError(t, waitDone(t, done))

	// Scrolling after completion changes nothing.
	s.OnScroll(200, 0, 50)
	assert.False(t, s.UserScrolled())
}

func TestSession_ScrollThresholdBoundary(t *testing.T) {
	pt := newPipeTranslator(t)
	s := newTestSession(pt, newRecordingSurface())
	done := startTranslate(t, s, "需求")

	s.OnScroll(100, 100-20-ScrollThreshold+1, 20)
	assert.False(t, s.UserScrolled())
	s.OnScroll(100, 100-20-ScrollThreshold, 20)
	assert.True(t, s.UserScrolled())

	pt.pw.Close()
	require.NoError(t, waitDone(t, done))
}

func TestSession_BusyWhileStreaming(t *testing.T) {
	pt := newPipeTranslator(t)
	surface := newRecordingSurface()
	s := newTestSession(pt, surface)

	done := startTranslate(t, s, "需求")
	pt.send(t, "技术")
	require.Eventually(t, func() bool { return s.Output() == "技术" }, time.Second, time.Millisecond)

	assert.ErrorIs(t, s.SwitchDirection(relay.DevToPM), ErrBusy)
	assert.ErrorIs(t, s.Reset(), ErrBusy)
	assert.ErrorIs(t, s.Translate(context.Background(), "again"), ErrBusy)

	assert.Equal(t, relay.PMToDev, s.Direction())
	assert.Equal(t, "技术", s.Output())
	assert.Len(t, pt.requests(), 1)

	pt.pw.Close()
	require.NoError(t, waitDone(t, done))
}

func TestSession_SwitchDirectionWhileIdle(t *testing.T) {
	pt := newPipeTranslator(t)
	surface := newRecordingSurface()
	s := newTestSession(pt, surface)

	done := startTranslate(t, s, "需求")
	pt.send(t, "技术方案")
	pt.pw.Close()
	require.NoError(t, waitDone(t, done))
	require.True(t, surface.state().copyVisible)

	require.NoError(t, s.SwitchDirection(relay.DevToPM))

	assert.Equal(t, relay.DevToPM, s.Direction())
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, s.Output())

	st := surface.state()
	assert.Equal(t, relay.DevToPM, st.direction)
	assert.Equal(t, Labels{Input: "技术描述", Output: "业务价值", InputPlaceholder: "请输入技术实现描述..."}, st.labels)
	assert.Contains(t, st.events, "clear-input")
	assert.Equal(t, "placeholder", st.events[len(st.events)-1])
	assert.False(t, st.copyVisible)

	assert.ErrorIs(t, s.SwitchDirection("sideways"), ErrUnknownDirection)
}

func TestSession_Reset(t *testing.T) {
	pt := newPipeTranslator(t)
	surface := newRecordingSurface()
	s := newTestSession(pt, surface, WithDirection(relay.DevToPM))

	done := startTranslate(t, s, "需求")
	pt.send(t, "价值")
	pt.pw.Close()
	require.NoError(t, waitDone(t, done))

	require.NoError(t, s.Reset())
	assert.Empty(t, s.Output())
	assert.Equal(t, relay.DevToPM, s.Direction())
	assert.Equal(t, relay.DevToPM, pt.requests()[0].Direction)
	assert.Equal(t, []string{"clear-input", "placeholder"}, surface.state().events[len(surface.state().events)-2:])
}

func TestSession_CancelDropsLateDeltas(t *testing.T) {
	pt := newPipeTranslator(t)
	surface := newRecordingSurface()
	s := newTestSession(pt, surface)

	done := startTranslate(t, s, "需求")
	pt.send(t, "早")
	require.Eventually(t, func() bool { return surface.state().output == "早" }, time.Second, time.Millisecond)

	require.True(t, s.Cancel())
	assert.False(t, s.Cancel())

	// The transport has not noticed yet and delivers one more delta.
	pt.send(t, "晚")

	assert.ErrorIs(t, waitDone(t, done), ErrCanceled)
	assert.Equal(t, "早", s.Output())
	assert.Equal(t, StateIdle, s.State())

	st := surface.state()
	assert.False(t, st.loading)
	assert.Equal(t, "早", st.output)
	assert.Empty(t, st.errText)
	assert.NotContains(t, st.events, "output 早晚")

	// A fresh submission is possible.
	assert.NoError(t, s.Reset())
}

func TestSession_Copy(t *testing.T) {
	pt := newPipeTranslator(t)
	surface := newRecordingSurface()
	cb := &fakeClipboard{}
	s := newTestSession(pt, surface, WithClipboard(cb), WithCopyRevert(20*time.Millisecond))

	require.NoError(t, s.Copy())
	assert.Equal(t, CopyLabel, surface.state().copyLabel, "empty output is not copied")

	done := startTranslate(t, s, "需求")
	pt.send(t, "**技术**方案")
	pt.pw.Close()
	require.NoError(t, waitDone(t, done))

	require.NoError(t, s.Copy())
	assert.Equal(t, "**技术**方案", cb.text)
	assert.Equal(t, CopiedLabel, surface.state().copyLabel)

	require.Eventually(t, func() bool { return surface.state().copyLabel == CopyLabel }, time.Second, time.Millisecond)
}

// exclusiveSurface flags any surface call that starts while another is
// still running.
type exclusiveSurface struct {
	*recordingSurface
	active  atomic.Int32
	overlap atomic.Bool
}

func (s *exclusiveSurface) enter() func() {
	if s.active.Add(1) > 1 {
		s.overlap.Store(true)
	}
	time.Sleep(50 * time.Microsecond)
	return func() { s.active.Add(-1) }
}

func (s *exclusiveSurface) SetDirection(d relay.Direction, labels Labels) {
	defer s.enter()()
	s.recordingSurface.SetDirection(d, labels)
}

func (s *exclusiveSurface) ShowOutput(rendered string) {
	defer s.enter()()
	s.recordingSurface.ShowOutput(rendered)
}

func (s *exclusiveSurface) SetCopyLabel(label string) {
	defer s.enter()()
	s.recordingSurface.SetCopyLabel(label)
}

func TestSession_CopyLabelIsSerializedWithPaints(t *testing.T) {
	pt := newPipeTranslator(t)
	surface := &exclusiveSurface{recordingSurface: newRecordingSurface()}
	s := newTestSession(pt, surface, WithCopyRevert(time.Microsecond))

	done := startTranslate(t, s, "需求")
	pt.send(t, "方案")
	pt.pw.Close()
	require.NoError(t, waitDone(t, done))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 200 {
			assert.NoError(t, s.Copy())
		}
	}()
	go func() {
		defer wg.Done()
		for range 200 {
			s.Refresh()
		}
	}()
	wg.Wait()

	assert.False(t, surface.overlap.Load(), "surface calls overlapped")

	s.Close()
	st := surface.state()
	assert.Contains(t, st.events, "copy-label "+CopiedLabel)
}

func TestSession_CopyFailureIsSilent(t *testing.T) {
	pt := newPipeTranslator(t)
	surface := newRecordingSurface()
	cb := &fakeClipboard{err: errors.New("no clipboard utility")}
	s := newTestSession(pt, surface, WithClipboard(cb))

	done := startTranslate(t, s, "需求")
	pt.send(t, "方案")
	pt.pw.Close()
	require.NoError(t, waitDone(t, done))

	assert.Error(t, s.Copy())

	st := surface.state()
	assert.Equal(t, CopyLabel, st.copyLabel)
	assert.Empty(t, st.errText)
	assert.Equal(t, "方案", st.output)
}

func TestSession_Close(t *testing.T) {
	pt := newPipeTranslator(t)
	s := newTestSession(pt, newRecordingSurface())
	s.Close()
	s.Close()

	assert.ErrorIs(t, s.Translate(context.Background(), "需求"), ErrClosed)
	assert.ErrorIs(t, s.Reset(), ErrClosed)
	assert.True(t, IsCanceled(ErrClosed))
}

func TestSession_Refresh(t *testing.T) {
	surface := newRecordingSurface()
	s := newTestSession(newPipeTranslator(t), surface, WithDirection(relay.DevToPM))

	s.Refresh()

	st := surface.state()
	assert.Equal(t, []string{"direction dev-to-pm", "loading false", "placeholder"}, st.events)
	assert.Equal(t, "业务价值", st.labels.Output)
}

func TestSession_CustomScrollThreshold(t *testing.T) {
	pt := newPipeTranslator(t)
	s := newTestSession(pt, newRecordingSurface(), WithScrollThreshold(2))
	done := startTranslate(t, s, "需求")

	s.OnScroll(40, 29, 10)
	assert.False(t, s.UserScrolled())
	s.OnScroll(40, 28, 10)
	assert.True(t, s.UserScrolled())

	pt.pw.Close()
	require.NoError(t, waitDone(t, done))
}
