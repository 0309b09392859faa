package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/fentz26/pgxdash/internal/models"
)

// classifyStatus maps an HTTP status to an error kind. 2xx returns nil.
func classifyStatus(source string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return models.Errorf(models.ErrorKindNotFound, "%s: not found", source)
	case status == http.StatusTooManyRequests:
		return models.Errorf(models.ErrorKindRateLimit, "%s: rate limited (HTTP 429)", source)
	case status >= 500, status == http.StatusRequestTimeout:
		return models.Errorf(models.ErrorKindNetwork, "%s: HTTP %d", source, status)
	default:
		return models.Errorf(models.ErrorKindMalformed, "%s: unexpected HTTP %d: %s", source, status, snippet(body))
	}
}

// classifyTransport maps a transport failure to an error kind.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return models.NewTaskError(models.ErrorKindCancelled, err)
	}
	return models.NewTaskError(models.ErrorKindNetwork, err)
}

// DecodeJSON unmarshals body into v, reporting failures as malformed responses.
func DecodeJSON(source string, body []byte, v any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return models.Errorf(models.ErrorKindMalformed, "%s: empty response body", source)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return models.NewTaskError(models.ErrorKindMalformed, fmt.Errorf("%s: decode response: %w", source, err))
	}
	return nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
