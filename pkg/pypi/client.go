package pypi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-http-utils/headers"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultBaseURL is the root of the public PyPI simple repository API.
	DefaultBaseURL = "https://pypi.org/simple"

	// acceptSimpleJSON selects the PEP 691 JSON rendering of a project page.
	acceptSimpleJSON = "application/vnd.pypi.simple.v1+json"
)

// ErrProjectNotFound is returned when the index has no project under the
// requested name.
var ErrProjectNotFound = errors.New("pypi: project not found")

// Client queries a simple repository index. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures a Client.
type Option func(c *Client)

// WithHTTPClient sets the underlying *http.Client used for index requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithBaseURL points the client at an alternative index, e.g. a private
// mirror.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// NewClient returns a Client against the public PyPI index unless options
// say otherwise.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		baseURL:    DefaultBaseURL,
	}
	for i := range opts {
		opts[i](c)
	}
	return c
}

// Project fetches the index page of a package: its list of released files
// with their URLs, hashes and yank status.
func (c *Client) Project(ctx context.Context, name PackageName) (*Project, error) {
	url := fmt.Sprintf("%s/%s/", c.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(headers.Accept, acceptSimpleJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "pypi: fetching %s", url)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.Wrapf(ErrProjectNotFound, "%q", name)
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Errorf("pypi: %s: unexpected status %q", url, resp.Status)
	}

	var project Project
	if err := json.NewDecoder(resp.Body).Decode(&project); err != nil {
		return nil, errors.Wrapf(err, "pypi: decoding project %q", name)
	}
	log.WithFields(log.Fields{
		"project": name,
		"files":   len(project.Files),
	}).Debug("fetched project page")
	return &project, nil
}
