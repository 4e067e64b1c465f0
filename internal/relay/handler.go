package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/pmdev-translator/internal/api/openai"
	"github.com/tjfontaine/pmdev-translator/internal/config"
	"github.com/tjfontaine/pmdev-translator/internal/server"
	"github.com/tjfontaine/pmdev-translator/internal/tokens"
)

const (
	// ServiceName is reported by the liveness endpoint.
	ServiceName = "PM-Dev Translator API"

	// TranslatePath is where HandleTranslate is mounted.
	TranslatePath = "/api/translate"

	copyBufferSize = 32 * 1024
)

// TranslateRequest is the body of POST /api/translate.
type TranslateRequest struct {
	Content   string    `json:"content"`
	Direction Direction `json:"direction"`
}

// Validate checks the request against the relay contract.
func (r TranslateRequest) Validate() error {
	if strings.TrimSpace(r.Content) == "" || r.Direction == "" {
		return ErrInvalidRequest("Missing content or direction")
	}
	if !r.Direction.Valid() {
		return ErrInvalidRequest("Invalid direction")
	}
	return nil
}

// HealthResponse is the body of GET /.
type HealthResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Option configures a Handler.
type Option func(*Handler)

// WithHTTPClient sets the client used for upstream calls.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Handler) {
		h.httpClient = c
	}
}

// WithLogger sets the handler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithTokenCounter enables prompt token counts in request logs.
func WithTokenCounter(c *tokens.Counter) Option {
	return func(h *Handler) {
		h.counter = c
	}
}

// Handler serves the relay endpoints. It holds no per-request state and is
// safe for concurrent use.
type Handler struct {
	upstream   config.UpstreamConfig
	httpClient *http.Client
	counter    *tokens.Counter
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewHandler creates a handler forwarding to the given upstream.
func NewHandler(upstream config.UpstreamConfig, opts ...Option) *Handler {
	h := &Handler{
		upstream:   upstream,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
		tracer:     otel.Tracer("github.com/tjfontaine/pmdev-translator/internal/relay"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the relay endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.HandleHealth)
	r.Post(TranslatePath, h.HandleTranslate)
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Message: ServiceName, Status: "ok"})
}

// HandleTranslate validates the request, opens an upstream stream and copies
// it to the caller as it arrives.
func (h *Handler) HandleTranslate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "relay.translate")
	defer span.End()

	var req TranslateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, r, span, ErrInvalidRequest("Invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(w, r, span, err)
		return
	}

	span.SetAttributes(attribute.String("translate.direction", req.Direction.String()))
	server.AddLogField(ctx, "direction", req.Direction.String())
	server.AddLogField(ctx, "content_chars", strconv.Itoa(len([]rune(req.Content))))

	if h.upstream.APIKey == "" {
		h.fail(w, r, span, ErrConfiguration("API key not configured"))
		return
	}

	instruction, _ := req.Direction.Instruction()
	messages := []openai.ChatCompletionMessage{
		{Role: openai.RoleSystem, Content: instruction},
		{Role: openai.RoleUser, Content: req.Content},
	}

	if h.counter != nil {
		count := h.counter.CountMessages(h.upstream.Model, messages)
		server.AddLogField(ctx, "prompt_tokens", strconv.Itoa(count.Tokens))
		span.SetAttributes(attribute.Int("translate.prompt_tokens", count.Tokens))
	}

	clientOpts := []openai.ClientOption{
		openai.WithBaseURL(h.upstream.BaseURL),
		openai.WithHTTPClient(h.httpClient),
	}
	if h.upstream.UserAgent != "" {
		clientOpts = append(clientOpts, openai.WithUserAgent(h.upstream.UserAgent))
	}
	client := openai.NewClient(h.upstream.APIKey, clientOpts...)

	body, err := client.OpenStream(ctx, &openai.ChatCompletionRequest{
		Model:    h.upstream.Model,
		Messages: messages,
	})
	if err != nil {
		h.fail(w, r, span, h.upstreamError(err))
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	n, err := copyStream(w, body)
	span.SetAttributes(attribute.Int64("translate.stream_bytes", n))
	if err != nil {
		// Headers are gone; all that is left is to record it.
		span.RecordError(err)
		server.AddError(ctx, fmt.Errorf("stream interrupted: %w", err))
		h.logger.Warn("upstream stream interrupted",
			slog.String("request_id", server.GetRequestID(ctx)),
			slog.Int64("bytes", n),
			slog.String("error", err.Error()),
		)
	}
}

func (h *Handler) upstreamError(err error) *APIError {
	name := h.upstream.Name
	if name == "" {
		name = "Upstream"
	}

	var statusErr *openai.StatusError
	if errors.As(err, &statusErr) {
		return ErrUpstream(fmt.Sprintf("%s API error: %s", name, statusErr.Body), err)
	}
	return ErrUpstream(fmt.Sprintf("%s API error: %v", name, err), err)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	server.AddError(r.Context(), err)
	WriteError(w, err)
}

// copyStream writes everything read from src to w, flushing after every read
// so each upstream frame reaches the caller as soon as it arrives.
func copyStream(w http.ResponseWriter, src io.Reader) (int64, error) {
	rc := http.NewResponseController(w)
	buf := make([]byte, copyBufferSize)

	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			m, err := w.Write(buf[:n])
			written += int64(m)
			if err != nil {
				return written, err
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return written, err
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}
