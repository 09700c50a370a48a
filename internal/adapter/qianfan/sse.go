package qianfan

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"qianfan-chat/internal/domain"
)

// StreamResult is one item of a chunk stream: either a chunk or the error
// that ended the stream. An error is always the last item.
type StreamResult struct {
	Chunk *ChatCompletionChunk
	Err   error
}

const maxSSELine = 1024 * 1024

// parseSSEStream reads SSE-formatted lines from body and decodes each data
// payload into a chunk. The channel is unbuffered so no event is read ahead
// of the consumer. It is closed when the stream ends, the body fails, or ctx
// is cancelled; the body is always closed.
func parseSSEStream(ctx context.Context, body io.ReadCloser) <-chan StreamResult {
	ch := make(chan StreamResult)
	go func() {
		defer close(ch)
		defer body.Close()

		send := func(r StreamResult) bool {
			select {
			case ch <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}

			line := scanner.Bytes()

			// Skip empty lines and comments.
			if len(line) == 0 || line[0] == ':' {
				continue
			}

			// We only care about "data:" lines.
			data, ok := bytes.CutPrefix(line, []byte("data:"))
			if !ok {
				continue
			}
			data = bytes.TrimSpace(data)

			// Common termination signal.
			if bytes.Equal(data, []byte("[DONE]")) {
				return
			}

			chunk, err := decodeChunk(data)
			if err != nil {
				send(StreamResult{Err: err})
				return
			}
			if !send(StreamResult{Chunk: chunk}) {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			send(StreamResult{Err: &domain.TransportError{Op: "qianfan.stream", Cause: err}})
		}
	}()
	return ch
}

// decodeChunk parses one event payload. Error payloads sent in-band become
// provider errors.
func decodeChunk(data []byte) (*ChatCompletionChunk, error) {
	var envelope struct {
		ChatCompletionChunk
		ErrorCode flexCode `json:"error_code"`
		ErrorMsg  string   `json:"error_msg"`
		Error     *struct {
			Code    any    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, domain.NewTransportError("qianfan.stream", http.StatusOK, domain.ErrProviderError,
			"malformed event: "+err.Error())
	}
	switch {
	case envelope.ErrorMsg != "":
		return nil, providerError("qianfan.stream", envelope.ErrorCode, envelope.ErrorMsg)
	case envelope.Error != nil && envelope.Error.Message != "":
		return nil, providerError("qianfan.stream", flexCode(fmt.Sprint(envelope.Error.Code)), envelope.Error.Message)
	}
	chunk := envelope.ChatCompletionChunk
	return &chunk, nil
}
