package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// Result is a successful response. JSON content types are validated and
// exposed through Decode; anything else is exposed as text.
type Result struct {
	Status      int
	ContentType string
	Body        []byte
	IsJSON      bool
}

// Text returns the raw body.
func (r *Result) Text() string {
	return string(r.Body)
}

// Decode unmarshals a JSON body into v.
func (r *Result) Decode(v any) error {
	if !r.IsJSON {
		return malformedError(r.Status, fmt.Errorf("expected JSON response, got %q", r.ContentType))
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return malformedError(r.Status, err)
	}
	return nil
}

// Value returns the JSON body as a generic value, or the text if not JSON.
func (r *Result) Value() (any, error) {
	if !r.IsJSON {
		return r.Text(), nil
	}
	var v any
	if err := r.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func isJSONContentType(ct string) bool {
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// interpret reads and closes resp.Body.
func interpret(resp *http.Response) (*Result, error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(err)
	}
	ct := resp.Header.Get("Content-Type")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errorFromBody(resp.StatusCode, ct, data)
	}

	res := &Result{Status: resp.StatusCode, ContentType: ct, Body: data}
	if isJSONContentType(ct) && len(bytes.TrimSpace(data)) > 0 {
		if !json.Valid(data) {
			return nil, malformedError(resp.StatusCode, fmt.Errorf("invalid JSON body"))
		}
		res.IsJSON = true
	}
	return res, nil
}

// errorFromBody extracts the user-facing message from an error response.
// A body that is declared or shaped as JSON must parse; the parse failure is
// returned rather than hidden.
func errorFromBody(status int, ct string, data []byte) error {
	text := string(data)
	trimmed := bytes.TrimSpace(data)
	shaped := len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')

	if !isJSONContentType(ct) && !shaped {
		return protocolError(status, fallbackText(status, text))
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return malformedError(status, err)
	}

	switch body := v.(type) {
	case map[string]any:
		for _, field := range []string{"error", "message"} {
			if msg, ok := body[field].(string); ok && msg != "" {
				return protocolError(status, msg)
			}
		}
	case string:
		return protocolError(status, fallbackText(status, body))
	}
	return protocolError(status, fallbackText(status, text))
}

func fallbackText(status int, text string) string {
	if strings.TrimSpace(text) == "" {
		return fmt.Sprintf("request failed with status %d", status)
	}
	return text
}
