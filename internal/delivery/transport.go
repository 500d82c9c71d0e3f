// Package delivery sends rendered messages through an email vendor.
// Two transports exist: the Mailreef HTTP API and AWS SES. Both return
// the vendor message ID on success; a send that fails here leaves the
// contact's claim in place for operator review.
package delivery

import (
	"context"

	"github.com/ignite/outreach-dispatcher/internal/content"
	"github.com/ignite/outreach-dispatcher/internal/domain"
)

// Transport hands one message to the vendor for the given sending
// identity. Implementations must treat a non-nil error as "delivery
// state unknown": the caller never retries a failed Send for the same
// claim, because the vendor may have accepted it before failing.
type Transport interface {
	Send(ctx context.Context, identity string, contact *domain.Contact, msg content.Message) (messageID string, err error)
}
