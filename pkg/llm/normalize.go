package llm

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
)

// classified lets providers tag errors with their taxonomy class directly.
type classified struct {
	class error
	msg   string
}

func (c *classified) Error() string { return c.msg }
func (c *classified) Unwrap() error { return c.class }

// classify wraps a provider error with a taxonomy sentinel. The message is
// scrubbed immediately so raw provider text never escapes this package.
func classify(class error, msg string) error {
	return &classified{class: class, msg: Scrub(msg)}
}

// Normalize maps an arbitrary provider failure onto the error taxonomy.
// Already-classified errors pass through.
func Normalize(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, corpuserr.ErrProviderUnavailable),
		errors.Is(err, corpuserr.ErrProviderRateLimited),
		errors.Is(err, corpuserr.ErrProviderInvalidRequest):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return classify(corpuserr.ErrProviderUnavailable, netErr.Error())
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"), strings.Contains(msg, "overloaded"):
		return classify(corpuserr.ErrProviderRateLimited, err.Error())
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "400"), strings.Contains(msg, "bad request"):
		return classify(corpuserr.ErrProviderInvalidRequest, err.Error())
	default:
		return classify(corpuserr.ErrProviderUnavailable, err.Error())
	}
}
