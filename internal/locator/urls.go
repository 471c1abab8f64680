package locator

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// URLProvider yields the remote location of the payload container.
// An empty URL means no remote source is configured.
type URLProvider interface {
	URL(ctx context.Context) (string, error)
}

// URLFunc adapts a plain function to URLProvider.
type URLFunc func(ctx context.Context) (string, error)

func (f URLFunc) URL(ctx context.Context) (string, error) { return f(ctx) }

// StaticURL returns a fixed URL. When Base64 is set the value is stored
// encoded and decoded on every call.
type StaticURL struct {
	Value  string
	Base64 bool
}

func (s StaticURL) URL(ctx context.Context) (string, error) {
	raw := strings.TrimSpace(s.Value)
	if raw == "" || !s.Base64 {
		return raw, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		// some launchers strip the padding
		decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(raw, "="))
		if err != nil {
			return "", fmt.Errorf("decode remote url: %w", err)
		}
	}
	return strings.TrimSpace(string(decoded)), nil
}
