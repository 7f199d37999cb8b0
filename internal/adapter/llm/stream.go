package llm

import (
	"bufio"
	"context"
	"io"
	"log/slog"

	"chatcore/internal/domain"
)

// ParseLines reads the response body line by line and converts each line
// into a StreamChunk using the adapter's ParseStreamChunk. Lines the adapter
// reports as nil (keep-alives, comments, stream framing) are skipped; parse
// errors are logged and skipped rather than terminating the stream. The
// returned channel is closed when a chunk with Finished is delivered, the
// body ends, or ctx is cancelled.
func ParseLines(ctx context.Context, body io.ReadCloser, parse func(line []byte) (*domain.StreamChunk, error), logger *slog.Logger) <-chan domain.StreamChunk {
	ch := make(chan domain.StreamChunk, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			chunk, err := parse(scanner.Bytes())
			if err != nil {
				logger.Debug("skipping unparseable stream line", "error", err)
				continue
			}
			if chunk == nil {
				continue
			}

			select {
			case ch <- *chunk:
			case <-ctx.Done():
				return
			}

			if chunk.Finished {
				return
			}
		}
		// A read error mid-stream still terminates the turn; deliver a
		// final chunk so consumers do not wait forever.
		if err := scanner.Err(); err != nil {
			logger.Warn("stream read error", "error", err)
			select {
			case ch <- domain.StreamChunk{Finished: true}:
			case <-ctx.Done():
			}
		}
	}()
	return ch
}
