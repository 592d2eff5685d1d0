package platform

import (
	"bufio"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"cityeye-service/internal/model"
)

const maxEventLine = 1 << 20

// StreamCommandStatus follows the server-sent status events for messageID and
// hands each decoded event to fn until fn returns false, the stream ends, or
// ctx is done. Comment lines and undecodable payloads are skipped.
func (c *Client) StreamCommandStatus(ctx context.Context, token, messageID string, fn func(model.CommandStatusEvent) bool) error {
	path := "/api/sse/commands/status/" + url.PathEscape(messageID)
	resp, err := c.execute(ctx, c.stream, "stream_command_status", http.MethodGet, path, token, nil, "text/event-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), maxEventLine)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			payload := data.String()
			data.Reset()

			var event model.CommandStatusEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				c.log.Debug().Str("message_id", messageID).Err(err).Msg("skipping undecodable status event")
				continue
			}
			if event.MessageID == "" {
				event.MessageID = messageID
			}
			if !fn(event) {
				return nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	// a final event without a trailing blank line
	if data.Len() > 0 {
		var event model.CommandStatusEvent
		if err := json.Unmarshal([]byte(data.String()), &event); err == nil {
			if event.MessageID == "" {
				event.MessageID = messageID
			}
			fn(event)
		}
	}
	return nil
}
