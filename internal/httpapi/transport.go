package httpapi

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// NewClient builds an http client presenting cert and trusting only servers
// whose certificate fingerprint the authorizer accepts. Chain verification is
// skipped: both sides are self-signed and pinned by fingerprint.
func NewClient(cert tls.Certificate, timeout time.Duration, auth Authorizer) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSHandshakeTimeout: time.Second * 15,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
				Certificates:       []tls.Certificate{cert},
				VerifyPeerCertificate: func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
					for _, raw := range rawCerts {
						if auth.TrustsCert(Fingerprint(raw)) {
							return nil
						}
					}
					e := &UntrustedServerError{Fingerprint: "unknown"}
					if len(rawCerts) > 0 {
						e.Fingerprint = Fingerprint(rawCerts[0])
					}
					return e
				},
			},
		},
	}
}

// UntrustedServerError is returned when the station's certificate does not
// match the pinned fingerprint.
type UntrustedServerError struct {
	Fingerprint string
}

func (e *UntrustedServerError) Error() string {
	return "the station's certificate fingerprint is not trusted: " + e.Fingerprint
}

// UntrustedClientError is returned when the station rejected the client's
// certificate.
type UntrustedClientError struct{}

func (e *UntrustedClientError) Error() string {
	return "the station does not trust your certificate - check its trusted fingerprint list"
}

// Client wraps an http client with the station's error conventions: non-2xx
// responses become errors, a 403 becomes UntrustedClientError.
type Client struct {
	*http.Client
	BaseURL string
}

func NewStationClient(baseURL string, cert tls.Certificate, timeout time.Duration, auth Authorizer) *Client {
	return &Client{
		Client:  NewClient(cert, timeout, auth),
		BaseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (c *Client) GET(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) POST(ctx context.Context, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == 403 {
		resp.Body.Close()
		return nil, &UntrustedClientError{}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("server error status: %d, body: %s", resp.StatusCode, body)
	}
	return resp, nil
}
