package connector

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/flowdeck-labs/flowdeck-go/internal/credential"
)

// Tracker is the issue tracker adapter used by plan stages.
type Tracker struct {
	client *Client
}

func NewTracker(auth credential.Auth, sink LogSink, opts ...Option) *Tracker {
	return &Tracker{client: NewClient(auth, sink, opts...)}
}

// ValidateIssue checks that a ticket reference exists and is readable.
func (t *Tracker) ValidateIssue(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("issue key is required")
	}
	_, err := t.client.do(ctx, "tracker.issue", request{
		method: "GET",
		path:   "/rest/api/2/issue/" + url.PathEscape(key),
	})
	if err != nil {
		return err
	}
	t.client.sink.Logf("ticket %s validated against tracker", key)
	return nil
}

// Authenticate verifies the resolved credentials against the tracker
// without touching any ticket.
func (t *Tracker) Authenticate(ctx context.Context) error {
	_, err := t.client.do(ctx, "tracker.myself", request{
		method: "GET",
		path:   "/rest/api/2/myself",
	})
	if err != nil {
		return err
	}
	t.client.sink.Logf("tracker authentication verified")
	return nil
}
