package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuber-it/heinzel-ki/costs"
	"github.com/cuber-it/heinzel-ki/model"
	"github.com/cuber-it/heinzel-ki/retry"
)

// maxErrorBody bounds how much of an upstream error body is retained.
const maxErrorBody = 64 * 1024

// Chat performs one non-streaming chat call: translate, send with retry,
// decode, log dialog entries and insert one cost row on every exit path.
func (b *Base) Chat(ctx context.Context, req *model.ChatRequest) (*model.ChatResponse, error) {
	b.ensureConnected()
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		start   = time.Now()
		rc      = req.Ctx()
		modelID = req.Model
		status  = costs.StatusSuccess
		errMsg  string
		usage   model.Usage
	)
	if modelID == "" {
		modelID = b.DefaultModel()
	}
	defer func() {
		b.logCost(ctx, modelID, usage, time.Since(start), rc, status, errMsg)
	}()

	payload, err := b.translator.EncodeRequest(req, false)
	if err != nil {
		status, errMsg = costs.StatusError, err.Error()
		b.dlg.Error(ctx, "/chat", errMsg, rc)
		return nil, err
	}
	b.dlg.Request(ctx, "/chat", payload, rc)

	var body []byte
	err = retry.Do(ctx, b.retryCfg, b.tracker, func(ctx context.Context) error {
		if err := b.pace(ctx); err != nil {
			return err
		}
		httpReq, err := jsonRequest(ctx, http.MethodPost, b.translator.Endpoint(modelID, false), b.translator.Headers(), payload)
		if err != nil {
			return err
		}
		body, err = b.send(httpReq)
		return err
	})
	if err != nil {
		status = costs.StatusError
		var rl *retry.RateLimitError
		if errors.As(err, &rl) {
			status = costs.StatusRateLimit
		}
		var se *retry.StatusError
		if errors.As(err, &se) {
			var ex *retry.ExhaustedError
			if !errors.As(err, &ex) {
				err = model.NewUpstreamError(b.name, "/chat", se.Status, upstreamMessage([]byte(se.Body)), se)
			}
		}
		errMsg = err.Error()
		b.dlg.Error(ctx, "/chat", errMsg, rc)
		return nil, err
	}

	resp, err := b.translator.DecodeResponse(body)
	if err != nil {
		status = costs.StatusError
		errMsg = err.Error()
		b.dlg.Error(ctx, "/chat", errMsg, rc)
		return nil, fmt.Errorf("provider: decode %s response: %w", b.name, err)
	}
	usage = resp.Usage
	if resp.Model != "" {
		modelID = resp.Model
	}
	b.dlg.Response(ctx, "/chat", http.StatusOK, resp, rc)
	return resp, nil
}

// ChatStream performs one streaming chat call. Chunks are delivered through
// send in upstream arrival order. Connection establishment goes through the
// retry engine; once the body is being consumed, upstream failures surface
// as a single error chunk and a nil return. The dialog summary and cost row
// are written on every exit path, including downstream disconnect.
func (b *Base) ChatStream(ctx context.Context, req *model.ChatRequest, send func(model.StreamChunk) error) error {
	b.ensureConnected()
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return err
	}

	var (
		start   = time.Now()
		rc      = req.Ctx()
		modelID = req.Model
		status  = costs.StatusSuccess
		errMsg  string
		usage   model.Usage
	)
	if modelID == "" {
		modelID = b.DefaultModel()
	}
	defer func() {
		latency := time.Since(start)
		b.dlg.Response(ctx, "/chat/stream", http.StatusOK, map[string]any{
			"model":         modelID,
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
			"latency_ms":    latency.Milliseconds(),
		}, rc)
		b.logCost(ctx, modelID, usage, latency, rc, status, errMsg)
	}()

	fail := func(err error) error {
		status = costs.StatusError
		var rl *retry.RateLimitError
		if errors.As(err, &rl) {
			status = costs.StatusRateLimit
		}
		var se *retry.StatusError
		if errors.As(err, &se) {
			var ex *retry.ExhaustedError
			if !errors.As(err, &ex) {
				err = model.NewUpstreamError(b.name, "/chat/stream", se.Status, upstreamMessage([]byte(se.Body)), se)
			}
		}
		errMsg = err.Error()
		b.dlg.Error(ctx, "/chat/stream", errMsg, rc)
		return send(model.StreamChunk{Type: model.ChunkTypeError, Error: errMsg})
	}

	payload, err := b.translator.EncodeRequest(req, true)
	if err != nil {
		return fail(err)
	}
	b.dlg.Request(ctx, "/chat/stream", payload, rc)

	var resp *http.Response
	err = retry.Do(ctx, b.retryCfg, b.tracker, func(ctx context.Context) error {
		if err := b.pace(ctx); err != nil {
			return err
		}
		httpReq, err := jsonRequest(ctx, http.MethodPost, b.translator.Endpoint(modelID, true), b.translator.Headers(), payload)
		if err != nil {
			return err
		}
		r, err := b.client.Do(httpReq)
		if err != nil {
			return err
		}
		if r.StatusCode < 200 || r.StatusCode > 299 {
			defer r.Body.Close()
			return statusError(r)
		}
		resp = r
		return nil
	})
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := line[len("data: "):]
		if strings.TrimSpace(data) == "[DONE]" {
			break
		}
		chunk, err := b.translator.ParseStreamLine(data)
		if err != nil {
			return fail(err)
		}
		if chunk == nil {
			continue
		}
		if chunk.Type == model.ChunkTypeUsage {
			chunk.Usage.Apply(&usage)
		}
		if chunk.Model != "" {
			modelID = chunk.Model
		}
		if err := send(*chunk); err != nil {
			// Downstream consumer is gone; finalize with accumulated usage.
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fail(err)
	}
	return nil
}

// DoJSON performs one non-chat upstream call without retry, decoding the
// response into out when non-nil. Non-2xx responses become UpstreamErrors
// tagged with op.
func (b *Base) DoJSON(ctx context.Context, op, method, url string, headers http.Header, payload, out any) error {
	b.ensureConnected()
	if err := b.pace(ctx); err != nil {
		return err
	}
	httpReq, err := jsonRequest(ctx, method, url, headers, payload)
	if err != nil {
		return err
	}
	body, err := b.send(httpReq)
	if err != nil {
		return b.wrapUpstream(op, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("provider: decode %s %s response: %w", b.name, op, err)
	}
	return nil
}

// DoBody performs one upstream call with a caller-built body (multipart
// forms, raw uploads) and returns the raw response body.
func (b *Base) DoBody(ctx context.Context, op, method, url string, headers http.Header, contentType string, body io.Reader) ([]byte, error) {
	b.ensureConnected()
	if err := b.pace(ctx); err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("provider: build %s request: %w", op, err)
	}
	copyHeaders(httpReq, headers)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	out, err := b.send(httpReq)
	if err != nil {
		return nil, b.wrapUpstream(op, err)
	}
	return out, nil
}

// wrapUpstream converts a StatusError into the caller-facing UpstreamError.
func (b *Base) wrapUpstream(op string, err error) error {
	var se *retry.StatusError
	if errors.As(err, &se) {
		return model.NewUpstreamError(b.name, op, se.Status, upstreamMessage([]byte(se.Body)), se)
	}
	return err
}

// send executes the request and returns the body. Non-2xx responses yield a
// *retry.StatusError carrying the body and any Retry-After header.
func (b *Base) send(req *http.Request) ([]byte, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("provider: read response body: %w", err)
	}
	return body, nil
}

func (b *Base) logCost(ctx context.Context, modelID string, usage model.Usage, latency time.Duration, rc model.RequestContext, status, errMsg string) {
	if b.store == nil {
		return
	}
	// Cost rows are written even when the request context is cancelled.
	b.store.Insert(context.WithoutCancel(ctx), costs.Row{
		Provider:     b.name,
		Model:        modelID,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		LatencyMS:    int(latency.Milliseconds()),
		HeinzelID:    rc.HeinzelID,
		SessionID:    rc.SessionID,
		TaskID:       rc.TaskID,
		Status:       status,
		ErrorMessage: errMsg,
	})
}

func jsonRequest(ctx context.Context, method, url string, headers http.Header, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("provider: marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("provider: build request: %w", err)
	}
	copyHeaders(req, headers)
	if payload != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func copyHeaders(req *http.Request, headers http.Header) {
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}

// statusError builds the retryable error for a non-2xx response.
func statusError(resp *http.Response) *retry.StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &retry.StatusError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			se.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return se
}

// upstreamMessage extracts error.message from an upstream error body,
// falling back to the raw text.
func upstreamMessage(body []byte) string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Error) > 0 {
		var detail struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(envelope.Error, &detail); err == nil && detail.Message != "" {
			return detail.Message
		}
		var s string
		if err := json.Unmarshal(envelope.Error, &s); err == nil && s != "" {
			return s
		}
	}
	return string(body)
}
