package tutor

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no generator is
// configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) StreamReply(ctx context.Context, req ReplyRequest, onDelta DeltaHandler) (Reply, error) {
	select {
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	default:
	}

	text := buildMockReply(req)
	if onDelta != nil && text != "" {
		if err := onDelta(text); err != nil {
			return Reply{}, err
		}
	}
	return Reply{Text: text}, nil
}

func buildMockReply(req ReplyRequest) string {
	base := strings.TrimSpace(req.Transcript)
	if base == "" {
		base = "I am listening."
	}

	if len(req.History) == 0 {
		return fmt.Sprintf("Good try! You said: %s", base)
	}

	last := strings.TrimSpace(req.History[len(req.History)-1].Content)
	if last == "" {
		return fmt.Sprintf("Good try! You said: %s", base)
	}

	return fmt.Sprintf("Good try! You said: %s\nEarlier we talked about: %s", base, last)
}
