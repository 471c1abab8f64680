package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/pspdemo/isoload/internal/domain"
	"github.com/pspdemo/isoload/internal/infra/logger"
)

type Options struct {
	ConnectTimeout time.Duration
	HeaderTimeout  time.Duration

	// Client overrides the HTTP client built from the timeouts.
	Client *http.Client

	Logger *logger.Logger
}

// Opener turns a resolved location into a byte stream.
type Opener struct {
	client *http.Client
	log    *logger.Logger
}

func New(opts Options) *Opener {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	client := opts.Client
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.ConnectTimeout > 0 {
			transport.DialContext = (&net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
			transport.TLSHandshakeTimeout = opts.ConnectTimeout
		}
		if opts.HeaderTimeout > 0 {
			transport.ResponseHeaderTimeout = opts.HeaderTimeout
		}
		// no overall timeout: the body of a large container may stream for a long time
		client = &http.Client{Transport: transport}
	}

	return &Opener{client: client, log: opts.Logger}
}

// Open returns the container stream for loc and its expected size (0 when unknown).
// The caller owns the returned reader.
func (o *Opener) Open(ctx context.Context, loc domain.PayloadLocation) (io.ReadCloser, int64, error) {
	switch loc.Mode {
	case domain.ModeLocalBundle:
		return o.openBundle(loc.Path)
	case domain.ModeRemote:
		return o.openRemote(ctx, loc.URL)
	default:
		return nil, 0, domain.NewError(domain.KindResolution, "open", fmt.Errorf("location %q has nothing to open", loc.Mode))
	}
}

func (o *Opener) openBundle(path string) (io.ReadCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, domain.NewError(domain.KindFilesystem, "open bundle", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, domain.NewError(domain.KindFilesystem, "stat bundle", err)
	}

	o.log.Debug("Opened bundle %s (%d bytes)", path, info.Size())
	return f, info.Size(), nil
}

func (o *Opener) openRemote(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, domain.NewError(domain.KindNetwork, "build request", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, domain.NewError(domain.KindCanceled, "fetch", ctx.Err())
		}
		return nil, 0, domain.NewError(domain.KindNetwork, "fetch", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, 0, domain.NewError(domain.KindNetwork, "fetch", fmt.Errorf("remote returned status: %d", resp.StatusCode))
	}

	size := resp.ContentLength
	if size < 0 {
		size = 0
	}

	o.log.Debug("Fetching %s (%d bytes announced)", url, size)
	return resp.Body, size, nil
}
