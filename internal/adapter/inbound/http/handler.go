package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/olegmukhin/thoughtgate/internal/domain/policy"
	"github.com/olegmukhin/thoughtgate/internal/service"
	"github.com/olegmukhin/thoughtgate/internal/telemetry"
	"github.com/olegmukhin/thoughtgate/pkg/jsonrpc"
)

// maxRequestBodySize bounds the inbound JSON-RPC envelope. There is no
// need to stream the request leg: the full envelope must be parsed to
// classify the method and run it through policy before anything is
// forwarded, and the spec's own size cap keeps that parse bounded. The
// streaming component applies to the response leg instead, where a tool
// call's result can be arbitrarily large.
const maxRequestBodySize = 1 << 20

// Handler is the JSON-RPC entry point: bounded body read, parse, policy
// dispatch via the orchestrator, then either a streamed upstream forward
// or a locally-produced error response.
type Handler struct {
	orchestrator *service.Orchestrator
	lifecycle    *service.Lifecycle
	upstream     *http.Client
	upstreamURL  string
	principal    policy.Principal
	logger       *slog.Logger
	metrics      *Metrics
	providers    *telemetry.Providers

	streamReadTimeout  time.Duration
	streamWriteTimeout time.Duration
	streamTotalTimeout time.Duration

	// livenessCheck gates the post-approval liveness re-check. It must
	// default to true; disabling it reopens the zombie-execution window
	// and is only ever meant for tests.
	livenessCheck bool
}

// NewHandler wires the orchestrator and lifecycle manager to the upstream
// HTTP client. principal is the identity inferred once at process startup;
// ThoughtGate carries one principal per process, not per request. providers
// may be nil, in which case requests are dispatched without a tracing span.
func NewHandler(orchestrator *service.Orchestrator, lifecycle *service.Lifecycle, upstream *http.Client, upstreamURL string, principal policy.Principal, streamReadTimeout, streamWriteTimeout, streamTotalTimeout time.Duration, livenessCheck bool, providers *telemetry.Providers, metrics *Metrics, logger *slog.Logger) *Handler {
	return &Handler{
		orchestrator:       orchestrator,
		lifecycle:          lifecycle,
		upstream:           upstream,
		upstreamURL:        upstreamURL,
		principal:          principal,
		logger:             logger,
		metrics:            metrics,
		providers:          providers,
		streamReadTimeout:  streamReadTimeout,
		streamWriteTimeout: streamWriteTimeout,
		streamTotalTimeout: streamTotalTimeout,
		livenessCheck:      livenessCheck,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	correlationID := CorrelationIDFromContext(r.Context())

	release, ok := h.lifecycle.AcquireSlot()
	if !ok {
		if h.lifecycle.ShuttingDown() {
			h.writeErrorStatus(w, nil, jsonrpc.NewError(jsonrpc.CodeShuttingDown, "server is shutting down", correlationID), http.StatusServiceUnavailable)
		} else {
			h.writeErrorStatus(w, nil, jsonrpc.NewRetriableError(jsonrpc.CodeServiceUnavailable, "too many concurrent streams", correlationID, 1000), http.StatusServiceUnavailable)
		}
		return
	}
	defer release()

	if h.metrics != nil {
		h.metrics.InFlightStreams.Inc()
		defer h.metrics.InFlightStreams.Dec()
	}

	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		h.writeError(w, nil, jsonrpc.NewError(jsonrpc.CodeParseError, "parse error: content type must be application/json", correlationID))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, nil, jsonrpc.NewError(jsonrpc.CodeParseError, "parse error: request body exceeds the 1MB limit", correlationID))
			return
		}
		h.writeError(w, nil, jsonrpc.NewError(jsonrpc.CodeParseError, "parse error: failed to read request body", correlationID))
		return
	}

	reqs, isBatch, err := jsonrpc.Parse(body)
	if err != nil {
		h.writeError(w, nil, rebindCorrelation(err, correlationID))
		return
	}

	if h.providers != nil {
		method := "batch"
		if !isBatch {
			method = reqs[0].Method
		}
		ctx, span := h.providers.StartRequestSpan(r.Context(), method, correlationID)
		defer span.End()
		r = r.WithContext(ctx)
	}

	start := time.Now()
	clientAlive := func() bool { return true }
	if h.livenessCheck {
		clientAlive = func() bool { return r.Context().Err() == nil }
	}

	if isBatch {
		h.handleBatch(w, r, reqs, correlationID, clientAlive)
	} else {
		h.handleSingle(w, r, reqs[0], correlationID, clientAlive)
	}

	if h.metrics != nil {
		h.metrics.RequestDuration.WithLabelValues(categoryLabel(reqs)).Observe(time.Since(start).Seconds())
	}
}

func (h *Handler) handleSingle(w http.ResponseWriter, r *http.Request, req *jsonrpc.Request, correlationID string, clientAlive func() bool) {
	outcome := h.orchestrator.Dispatch(r.Context(), req, h.principal, correlationID, clientAlive)

	switch {
	case outcome.Forward:
		h.forwardSingle(w, r, req, correlationID, clientAlive)
	case outcome.Response != nil:
		h.writeResponse(w, outcome.Response)
	default:
		// A notification that was dropped (rejected, or approved after the
		// client disconnected) expects no reply at all.
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) forwardSingle(w http.ResponseWriter, r *http.Request, req *jsonrpc.Request, correlationID string, clientAlive func() bool) {
	if !clientAlive() {
		h.countZombiePrevented()
		return
	}

	envelope, err := requestEnvelope(req)
	if err != nil {
		h.writeLocalError(w, req, jsonrpc.NewError(jsonrpc.CodeInternalError, "failed to build upstream request", correlationID))
		return
	}

	resp, err := h.doUpstream(r.Context(), envelope)
	if err != nil {
		if req.IsNotification() {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		h.writeLocalError(w, req, jsonrpc.NewError(jsonrpc.CodeUpstreamUnavailable, "upstream unavailable", correlationID))
		return
	}

	if req.IsNotification() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if _, err := h.streamResponse(w, resp, r.Context().Done()); err != nil && h.logger != nil {
		h.logger.Warn("stream forward ended with error", "error", err, "correlation_id", correlationID)
	}
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request, reqs []*jsonrpc.Request, correlationID string, clientAlive func() bool) {
	outcomes, _ := h.orchestrator.DispatchBatch(r.Context(), reqs, h.principal, correlationID, clientAlive)

	forwardIdx := make([]int, 0, len(reqs))
	for i, oc := range outcomes {
		if oc.Forward {
			forwardIdx = append(forwardIdx, i)
		}
	}

	switch {
	case len(forwardIdx) == 0:
		h.writeLocalBatch(w, outcomes)
	case len(forwardIdx) == len(reqs):
		h.streamBatchForward(w, r, reqs, correlationID, clientAlive)
	default:
		h.mergeBatch(w, r, reqs, outcomes, forwardIdx, correlationID, clientAlive)
	}
}

// streamBatchForward handles the pure Green path batch: every element
// forwards, so the upstream's own batch response array can be relayed
// byte-for-byte with no merge step.
func (h *Handler) streamBatchForward(w http.ResponseWriter, r *http.Request, reqs []*jsonrpc.Request, correlationID string, clientAlive func() bool) {
	if !clientAlive() {
		h.countZombiePrevented()
		return
	}

	body, err := marshalRequestBatch(reqs)
	if err != nil {
		h.writeUpstreamErrorBatch(w, reqs, jsonrpc.NewError(jsonrpc.CodeInternalError, "failed to build upstream batch request", correlationID))
		return
	}

	resp, err := h.doUpstream(r.Context(), body)
	if err != nil {
		h.writeUpstreamErrorBatch(w, reqs, jsonrpc.NewError(jsonrpc.CodeUpstreamUnavailable, "upstream unavailable", correlationID))
		return
	}

	if _, err := h.streamResponse(w, resp, r.Context().Done()); err != nil && h.logger != nil {
		h.logger.Warn("batch stream forward ended with error", "error", err, "correlation_id", correlationID)
	}
}

// mergeBatch handles a batch with a genuine mix of forward-needed and
// already-resolved-locally elements: the forward-needed subset is sent
// upstream as its own batch, matched back to the original order by id, and
// merged with the local outcomes before the combined array is written.
func (h *Handler) mergeBatch(w http.ResponseWriter, r *http.Request, reqs []*jsonrpc.Request, outcomes []service.Outcome, forwardIdx []int, correlationID string, clientAlive func() bool) {
	if !clientAlive() {
		h.countZombiePrevented()
		return
	}

	forwardReqs := make([]*jsonrpc.Request, len(forwardIdx))
	for j, i := range forwardIdx {
		forwardReqs[j] = reqs[i]
	}

	body, err := marshalRequestBatch(forwardReqs)
	if err != nil {
		fillUpstreamError(outcomes, reqs, forwardIdx, jsonrpc.NewError(jsonrpc.CodeInternalError, "failed to build upstream batch request", correlationID))
		h.writeLocalBatch(w, outcomes)
		return
	}

	upstreamResps, err := h.postUpstreamBatch(r.Context(), body)
	if err != nil {
		fillUpstreamError(outcomes, reqs, forwardIdx, jsonrpc.NewError(jsonrpc.CodeUpstreamUnavailable, "upstream unavailable", correlationID))
		h.writeLocalBatch(w, outcomes)
		return
	}

	byID := make(map[string]*jsonrpc.Response, len(upstreamResps))
	for _, resp := range upstreamResps {
		byID[string(resp.ID)] = resp
	}
	for _, i := range forwardIdx {
		if reqs[i].IsNotification() {
			continue
		}
		if resp, ok := byID[string(reqs[i].ID)]; ok {
			outcomes[i].Response = resp
		} else {
			outcomes[i].Response = &jsonrpc.Response{
				ID:    reqs[i].ID,
				Error: jsonrpc.NewError(jsonrpc.CodeUpstreamUnavailable, "upstream did not return a response for this element", correlationID),
			}
		}
	}
	h.writeLocalBatch(w, outcomes)
}

func fillUpstreamError(outcomes []service.Outcome, reqs []*jsonrpc.Request, forwardIdx []int, rpcErr *jsonrpc.Error) {
	for _, i := range forwardIdx {
		if reqs[i].IsNotification() {
			continue
		}
		outcomes[i].Response = &jsonrpc.Response{ID: reqs[i].ID, Error: rpcErr}
	}
}

func (h *Handler) writeUpstreamErrorBatch(w http.ResponseWriter, reqs []*jsonrpc.Request, rpcErr *jsonrpc.Error) {
	resps := make([]*jsonrpc.Response, 0, len(reqs))
	for _, req := range reqs {
		if req.IsNotification() {
			continue
		}
		resps = append(resps, &jsonrpc.Response{ID: req.ID, Error: rpcErr})
	}
	h.writeLocalBatch(w, wrapResponses(resps))
}

func wrapResponses(resps []*jsonrpc.Response) []service.Outcome {
	out := make([]service.Outcome, len(resps))
	for i, r := range resps {
		out[i] = service.Outcome{Response: r}
	}
	return out
}

func (h *Handler) writeLocalBatch(w http.ResponseWriter, outcomes []service.Outcome) {
	resps := make([]*jsonrpc.Response, len(outcomes))
	for i, oc := range outcomes {
		resps[i] = oc.Response
	}
	assembled, ok := jsonrpc.AssembleBatch(resps)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	body, err := jsonrpc.EncodeBatch(assembled)
	if err != nil {
		writeInternalError(w, "")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) writeLocalError(w http.ResponseWriter, req *jsonrpc.Request, rpcErr *jsonrpc.Error) {
	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	h.writeResponse(w, &jsonrpc.Response{ID: req.ID, Error: rpcErr})
}

// writeResponse writes a JSON-RPC response body at HTTP 200 — the wire
// protocol's normal status, since the JSON-RPC error object (if any)
// already carries the real outcome for the caller to branch on.
func (h *Handler) writeResponse(w http.ResponseWriter, resp *jsonrpc.Response) {
	h.writeResponseStatus(w, resp, http.StatusOK)
}

// writeResponseStatus writes a JSON-RPC response body at an explicit HTTP
// status. Used for the handful of cases the spec ties to a real HTTP status
// rather than the usual 200 — semaphore exhaustion (503) and shutdown
// refusal (503).
func (h *Handler) writeResponseStatus(w http.ResponseWriter, resp *jsonrpc.Response, status int) {
	body, err := jsonrpc.Encode(resp)
	if err != nil {
		writeInternalError(w, "")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError writes a single top-level error not tied to any parsed
// request (malformed body), at HTTP 200. id is nil unless the caller
// already knows which request the error belongs to.
func (h *Handler) writeError(w http.ResponseWriter, id json.RawMessage, rpcErr *jsonrpc.Error) {
	h.writeResponse(w, &jsonrpc.Response{ID: id, Error: rpcErr})
}

// writeErrorStatus is writeError with an explicit HTTP status, for the
// cases that must surface as something other than 200.
func (h *Handler) writeErrorStatus(w http.ResponseWriter, id json.RawMessage, rpcErr *jsonrpc.Error, status int) {
	h.writeResponseStatus(w, &jsonrpc.Response{ID: id, Error: rpcErr}, status)
}

func (h *Handler) countZombiePrevented() {
	if h.metrics != nil {
		h.metrics.ZombiesPrevented.Inc()
	}
}

func (h *Handler) doUpstream(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.upstreamURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return h.upstream.Do(req)
}

// rawResponse mirrors jsonrpc.Response's wire shape for decoding an
// upstream-returned array without re-deriving jsonrpc's own unmarshaling.
type rawResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *jsonrpc.Error  `json:"error,omitempty"`
}

func (h *Handler) postUpstreamBatch(ctx context.Context, body []byte) ([]*jsonrpc.Response, error) {
	resp, err := h.doUpstream(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var raws []rawResponse
	if err := json.Unmarshal(data, &raws); err != nil {
		var single rawResponse
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return nil, err
		}
		raws = []rawResponse{single}
	}

	out := make([]*jsonrpc.Response, len(raws))
	for i, rw := range raws {
		out[i] = &jsonrpc.Response{ID: rw.ID, Result: rw.Result, Error: rw.Error}
	}
	return out, nil
}

// requestEnvelope re-marshals a parsed request back into the wire envelope
// the upstream server expects. ID and Params are already json.RawMessage,
// so this round-trips every byte of the id field exactly; only the id
// field's byte-for-byte fidelity matters for correlation, not the whole
// original request body's.
func requestEnvelope(req *jsonrpc.Request) ([]byte, error) {
	type wire struct {
		Version string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id,omitempty"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}
	return json.Marshal(wire{Version: jsonrpc.Version, ID: req.ID, Method: req.Method, Params: req.Params})
}

func marshalRequestBatch(reqs []*jsonrpc.Request) ([]byte, error) {
	envelopes := make([]json.RawMessage, len(reqs))
	for i, req := range reqs {
		b, err := requestEnvelope(req)
		if err != nil {
			return nil, err
		}
		envelopes[i] = b
	}
	return json.Marshal(envelopes)
}

// rebindCorrelation re-attaches correlationID to a parse-time error, which
// jsonrpc.Parse necessarily builds without one.
func rebindCorrelation(err error, correlationID string) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return jsonrpc.NewError(rpcErr.Code, rpcErr.Message, correlationID)
	}
	return jsonrpc.NewError(jsonrpc.CodeParseError, "parse error", correlationID)
}

func categoryLabel(reqs []*jsonrpc.Request) string {
	if len(reqs) == 0 {
		return "unknown"
	}
	if len(reqs) > 1 {
		return "batch"
	}
	switch jsonrpc.Classify(reqs[0].Method) {
	case jsonrpc.PolicyGoverned:
		return "policy_governed"
	case jsonrpc.InternalTaskHandler:
		return "internal_task"
	default:
		return "pass_through"
	}
}

// writeInternalError writes the fixed -32603 internal-error envelope the
// recovery middleware and any terminal marshaling failure fall back to.
// It never carries more than a correlation id in Data.
func writeInternalError(w http.ResponseWriter, correlationID string) {
	resp := jsonrpc.Response{Error: jsonrpc.NewError(jsonrpc.CodeInternalError, "internal error", correlationID)}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	body, err := jsonrpc.Encode(&resp)
	if err != nil {
		return
	}
	_, _ = w.Write(body)
}
