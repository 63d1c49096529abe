package notification

import (
	"context"
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/leafscan/leafscan/internal/errors"
)

// ShoutrrrProvider sends via nicholas-fedor/shoutrrr.
// Creates a single sender for multiple URLs.
type ShoutrrrProvider struct {
	urls   []string
	sender *router.ServiceRouter
}

// NewShoutrrrProvider validates urls and builds the sender.
func NewShoutrrrProvider(urls []string, timeout time.Duration) (*ShoutrrrProvider, error) {
	if len(urls) == 0 {
		return nil, errors.ValidationError("notification", "at least one shoutrrr URL is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		// the URLs may carry tokens, so they are not added as context
		return nil, errors.New(err).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("urls", len(urls)).
			Build()
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrProvider{urls: slices.Clone(urls), sender: sender}, nil
}

func (s *ShoutrrrProvider) Name() string { return "shoutrrr" }

// Send delivers the message to every URL; the router applies its own timeout.
func (s *ShoutrrrProvider) Send(_ context.Context, n *Notification) error {
	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}
	return errors.Join(s.sender.Send(n.Message, &params)...)
}
