package handle

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/http2"

	"rmcore/events"
	"rmcore/logger"
	"rmcore/rpc"
)

// httpConn talks to a broker over its HTTP/JSON transport. Plain http URIs
// are upgraded to HTTP/2 via h2c so event streams and RPCs multiplex over
// one connection.
type httpConn struct {
	base   string
	client *http.Client
}

// connectHTTP is the default Connector. It dials cfg.URI and performs a
// hello exchange so a bad address fails at connect time, not on the first
// real operation's error path.
func connectHTTP(cfg Config) (Conn, error) {
	base := strings.TrimRight(cfg.URI, "/")
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid broker uri %q: %w", cfg.URI, err)
	}

	conn := &httpConn{
		base: base,
		client: &http.Client{
			Transport: &http2.Transport{
				AllowHTTP: true,
				DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, network, addr)
				},
			},
		},
	}

	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	var hello rpc.HelloResponse
	if err := conn.RPC(ctx, rpc.TopicHello, nil, &hello); err != nil {
		return nil, fmt.Errorf("connect %s: %w", base, err)
	}
	logger.Debug("connected to broker",
		"uri", base, "version", hello.Version, "rootseq", hello.RootSeq)
	return conn, nil
}

func (c *httpConn) RPC(ctx context.Context, topic string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("encode %s request: %w", topic, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/rpc/"+topic, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", topic, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc %s: unexpected status %s", topic, httpResp.Status)
	}

	var resp rpc.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return fmt.Errorf("decode %s response: %w", topic, err)
	}
	if resp.Err != nil {
		return resp.Err
	}
	if out != nil {
		if len(resp.Payload) == 0 {
			return fmt.Errorf("rpc %s: empty response payload", topic)
		}
		if err := json.Unmarshal(resp.Payload, out); err != nil {
			return fmt.Errorf("decode %s payload: %w", topic, err)
		}
	}
	return nil
}

func (c *httpConn) Events(ctx context.Context, pattern string) (<-chan events.Event, error) {
	uri := c.base + "/events"
	if pattern != "" {
		uri += "?topic=" + url.QueryEscape(pattern)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subscribe %q: %w", pattern, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		httpResp.Body.Close()
		return nil, fmt.Errorf("subscribe %q: unexpected status %s", pattern, httpResp.Status)
	}

	ch := make(chan events.Event)
	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var ev events.Event
			if err := json.Unmarshal(line, &ev); err != nil {
				logger.Warn("dropping undecodable event", "error", err)
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (c *httpConn) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
