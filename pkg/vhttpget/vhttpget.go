package vhttpget

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"time"
)

// UserAgent is sent with every request unless overridden through Opts.Header
const UserAgent = "fleet"

type Option interface {
	Set(o *Opts)
}

type Opts struct {
	Header map[string]string

	// Timeout bounds the whole request including reading the body. Zero means no timeout.
	Timeout time.Duration
}

func (o Opts) Set(another *Opts) {
	*another = o
}

type Getter interface {
	DoRequest(ctx context.Context, url string, opt ...Option) (string, error)
}

type getter struct {
	responseBodyFor func(ctx context.Context, url string, opts Opts) (io.ReadCloser, error)
}

func New() Getter {
	return NewWithClient(http.DefaultClient)
}

func NewWithClient(client *http.Client) Getter {
	return &getter{
		responseBodyFor: func(ctx context.Context, url string, opts Opts) (io.ReadCloser, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, err
			}

			req.Header.Set("User-Agent", UserAgent)

			if header := opts.Header; header != nil {
				for k, v := range header {
					req.Header.Set(k, v)
				}
			}

			res, err := client.Do(req)
			if err != nil {
				return nil, err
			}

			if res.StatusCode < 200 || res.StatusCode >= 300 {
				defer res.Body.Close()
				body, _ := ioutil.ReadAll(io.LimitReader(res.Body, 512))
				snippet := string(body)
				if len(snippet) > 0 {
					return nil, fmt.Errorf("GET %s: %s: %s", url, res.Status, snippet)
				}
				return nil, fmt.Errorf("GET %s: %s", url, res.Status)
			}

			return res.Body, nil
		},
	}
}

// NewTester returns a Getter serving bodies from expectations.
// An expectation whose value is an error fails the request with it.
func NewTester(expectations map[string]interface{}) Getter {
	return &getter{
		responseBodyFor: func(ctx context.Context, url string, opts Opts) (io.ReadCloser, error) {
			res, ok := expectations[url]
			if !ok {
				return nil, fmt.Errorf("unexpected input: url=%v, opts=%v", url, opts)
			}
			switch typed := res.(type) {
			case error:
				return nil, typed
			case string:
				return ioutil.NopCloser(bytes.NewReader([]byte(typed))), nil
			default:
				return nil, fmt.Errorf("unsupported expectation for %s: %T", url, res)
			}
		},
	}
}

func (t *getter) DoRequest(ctx context.Context, url string, opt ...Option) (string, error) {
	opts := &Opts{}
	for _, o := range opt {
		o.Set(opts)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	res, err := t.responseBodyFor(ctx, url, *opts)
	if err != nil {
		return "", err
	}
	defer res.Close()

	bytes, err := ioutil.ReadAll(res)
	if err != nil {
		return "", err
	}

	return string(bytes), nil
}
