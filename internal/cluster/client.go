package cluster

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single peer call when none is configured.
const DefaultTimeout = 30 * time.Second

// ErrPeerUnavailable wraps transport-level failures talking to a peer:
// refused connections, resets, TLS errors and timeouts.
var ErrPeerUnavailable = errors.New("peer unavailable")

// StatusError is returned when a peer answered with an unexpected status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// IsNotFound reports whether err is a 404 answer from a peer.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// ClientOptions configures the peer client. All inter-node calls share the
// same transport and therefore the same trust policy.
type ClientOptions struct {
	// Timeout bounds HEAD probes, replicate pushes and listings end to end,
	// and bounds the wait for response headers on streamed fetches.
	Timeout time.Duration
	// TLS is used for https peers. Nil means the system defaults.
	TLS *tls.Config
}

// Client speaks the node protocol to peers.
type Client struct {
	// bounded is used for calls whose body is small or sent by us.
	bounded *http.Client
	// streaming has no overall deadline since relayed bodies can be long;
	// the transport's ResponseHeaderTimeout bounds the wait for an answer.
	streaming *http.Client
	logger    zerolog.Logger
}

// NewClient builds a peer client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 90 * time.Second
	transport.ResponseHeaderTimeout = timeout
	if opts.TLS != nil {
		transport.TLSClientConfig = opts.TLS
	}

	return &Client{
		bounded:   &http.Client{Timeout: timeout, Transport: transport},
		streaming: &http.Client{Transport: transport},
		logger:    logger.With().Str("component", "peer-client").Logger(),
	}
}

func objectURL(node NodeInfo, name string) string {
	return node.URL("/" + url.PathEscape(name))
}

func unavailable(node NodeInfo, err error) error {
	return fmt.Errorf("%s: %w: %w", node.ID, ErrPeerUnavailable, err)
}

// Head asks node whether it holds name. A non-200 answer is reported as
// absence; only transport failures return an error.
func (c *Client) Head(ctx context.Context, node NodeInfo, name string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, objectURL(node, name), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.bounded.Do(req)
	if err != nil {
		return false, unavailable(node, err)
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// Probe checks nodes in order and returns the first that holds name.
// Unreachable nodes count as not holding it.
func (c *Client) Probe(ctx context.Context, nodes []NodeInfo, name string) (NodeInfo, bool) {
	for _, node := range nodes {
		ok, err := c.Head(ctx, node, name)
		if err != nil {
			c.logger.Warn().Err(err).Str("node", node.ID).Str("object", name).Msg("probe failed")
			continue
		}
		if ok {
			return node, true
		}
	}
	return NodeInfo{}, false
}

// Fetch starts a streamed GET of name from node. On 200 the caller owns the
// returned body and must close it. Any other status yields a *StatusError.
func (c *Client) Fetch(ctx context.Context, node NodeInfo, name string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, objectURL(node, name), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.streaming.Do(req)
	if err != nil {
		return nil, unavailable(node, err)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return resp.Body, nil
}

// Replicate pushes payload to node as name using the multipart replicate
// protocol.
func (c *Client) Replicate(ctx context.Context, node NodeInfo, name string, payload []byte) error {
	contentType, body, length, err := replicateBody(name, payload)
	if err != nil {
		return fmt.Errorf("encode replicate body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, node.URL(ReplicatePath), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = length

	resp, err := c.bounded.Do(req)
	if err != nil {
		return unavailable(node, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// ListObjects fetches the object catalog from node.
func (c *Client) ListObjects(ctx context.Context, node NodeInfo) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node.URL(ListPath), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.bounded.Do(req)
	if err != nil {
		return nil, unavailable(node, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}
	var names []string
	if err := json.NewDecoder(resp.Body).Decode(&names); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	return names, nil
}

// Health checks node's liveness endpoint.
func (c *Client) Health(ctx context.Context, node NodeInfo) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node.URL(HealthPath), nil)
	if err != nil {
		return err
	}
	resp, err := c.bounded.Do(req)
	if err != nil {
		return unavailable(node, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// replicateBody frames payload as a multipart form without copying it: the
// part headers and closing boundary are rendered separately and stitched
// around the payload.
func replicateBody(name string, payload []byte) (string, io.Reader, int64, error) {
	var head, tail bytes.Buffer
	sw := &switchWriter{w: &head}
	mw := multipart.NewWriter(sw)

	if err := mw.WriteField(FieldName, name); err != nil {
		return "", nil, 0, err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		FieldVideo, quoteEscaper.Replace(name)))
	h.Set("Content-Type", ContentTypeVideo)
	if _, err := mw.CreatePart(h); err != nil {
		return "", nil, 0, err
	}

	sw.w = &tail
	if err := mw.Close(); err != nil {
		return "", nil, 0, err
	}

	length := int64(head.Len() + len(payload) + tail.Len())
	body := io.MultiReader(bytes.NewReader(head.Bytes()), bytes.NewReader(payload), bytes.NewReader(tail.Bytes()))
	return mw.FormDataContentType(), body, length, nil
}

type switchWriter struct{ w io.Writer }

func (s *switchWriter) Write(p []byte) (int, error) { return s.w.Write(p) }
