// Package engine is the coordination core's Engine Adapter (spec
// component C1): a client for the audio engine's telnet-style line
// protocol, grounded on
// _examples/original_source/liquidsoap_connection_pool.py's connection
// handling and metadata_daemon.py's command shape.
package engine

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"airadio/logger"
)

// Adapter is the interface the rest of the coordination core talks to.
type Adapter interface {
	Now(ctx context.Context) (TrackInfo, error)
	Upcoming(ctx context.Context, n int) ([]TrackInfo, error)
	EnqueueTTS(ctx context.Context, path string) error
	Skip(ctx context.Context) error
	Close()
}

type request struct {
	cmd     string
	respond chan response
}

type response struct {
	lines []string
	err   error
}

// Client is a single-connection Adapter: one worker goroutine owns the
// net.Conn and serializes every command through it, so at most one
// request is ever in flight (spec §8 property 6).
type Client struct {
	host, port string
	queueName  string
	ingestor   *HTTPIngestor

	cmdTimeout    time.Duration
	enqTimeout    time.Duration
	reconnectMin  time.Duration
	reconnectMax  time.Duration

	reqs chan request
	stop chan struct{}
	wg   sync.WaitGroup
}

// Config bundles the dial and timing parameters a Client needs.
type Config struct {
	Host            string
	Port            string
	QueueName       string
	IngestURL       string
	CmdTimeout      time.Duration
	EnqueueTimeout  time.Duration
	ReconnectMin    time.Duration
	ReconnectMax    time.Duration
}

// New starts the worker goroutine and returns a ready Adapter.
func New(cfg Config) *Client {
	c := &Client{
		host:         cfg.Host,
		port:         cfg.Port,
		queueName:    cfg.QueueName,
		cmdTimeout:   cfg.CmdTimeout,
		enqTimeout:   cfg.EnqueueTimeout,
		reconnectMin: cfg.ReconnectMin,
		reconnectMax: cfg.ReconnectMax,
		reqs:         make(chan request),
		stop:         make(chan struct{}),
	}
	if cfg.IngestURL != "" {
		c.ingestor = NewHTTPIngestor(cfg.IngestURL, cfg.EnqueueTimeout)
	}
	c.wg.Add(1)
	go c.run()
	return c
}

func (c *Client) Close() {
	close(c.stop)
	c.wg.Wait()
}

func (c *Client) run() {
	defer c.wg.Done()

	var conn net.Conn
	backoff := c.reconnectMin

	dial := func() net.Conn {
		for {
			select {
			case <-c.stop:
				return nil
			default:
			}
			d := net.Dialer{Timeout: c.cmdTimeout}
			nc, err := d.Dial("tcp", net.JoinHostPort(c.host, c.port))
			if err == nil {
				backoff = c.reconnectMin
				return nc
			}
			logger.Warn("engine dial failed, backing off",
				logger.ErrorField(err), logger.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-c.stop:
				return nil
			}
			backoff *= 2
			if backoff > c.reconnectMax {
				backoff = c.reconnectMax
			}
		}
	}

	for {
		select {
		case <-c.stop:
			if conn != nil {
				conn.Close()
			}
			return
		case req := <-c.reqs:
			if conn == nil {
				conn = dial()
				if conn == nil {
					req.respond <- response{err: ErrEngineUnavailable}
					continue
				}
			}
			lines, err := c.exchange(conn, req.cmd)
			if err != nil {
				conn.Close()
				conn = nil
				req.respond <- response{err: fmt.Errorf("%w: %v", ErrEngineUnavailable, err)}
				continue
			}
			req.respond <- response{lines: lines}
		}
	}
}

func (c *Client) exchange(conn net.Conn, cmd string) ([]string, error) {
	deadline := time.Now().Add(c.cmdTimeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		return nil, err
	}

	var raw strings.Builder
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		raw.WriteString(line)
		if strings.TrimSpace(line) == "END" {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return splitLines(raw.String()), nil
}

func (c *Client) do(ctx context.Context, cmd string) ([]string, error) {
	respCh := make(chan response, 1)
	select {
	case c.reqs <- request{cmd: cmd, respond: respCh}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrEngineTimeout, ctx.Err())
	}

	select {
	case resp := <-respCh:
		return resp.lines, resp.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrEngineTimeout, ctx.Err())
	}
}

// Now reports the currently playing request, following
// liquidsoap_queue_http.py's request.all -> request.metadata pattern.
func (c *Client) Now(ctx context.Context) (TrackInfo, error) {
	ids, err := c.requestIDs(ctx)
	if err != nil {
		return TrackInfo{}, err
	}
	if len(ids) == 0 {
		return TrackInfo{}, ErrEngineRejected
	}
	return c.metadataFor(ctx, ids[0])
}

// Upcoming reports up to n queued requests after the currently playing
// one.
func (c *Client) Upcoming(ctx context.Context, n int) ([]TrackInfo, error) {
	ids, err := c.requestIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) <= 1 {
		return nil, nil
	}
	ids = ids[1:]
	if n > 0 && len(ids) > n {
		ids = ids[:n]
	}
	out := make([]TrackInfo, 0, len(ids))
	for _, id := range ids {
		info, err := c.metadataFor(ctx, id)
		if err != nil {
			logger.Warn("engine metadata lookup failed", logger.String("rid", id), logger.ErrorField(err))
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

func (c *Client) requestIDs(ctx context.Context) ([]string, error) {
	lines, err := c.do(ctx, "request.all")
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, nil
	}
	return strings.Fields(lines[0]), nil
}

func (c *Client) metadataFor(ctx context.Context, rid string) (TrackInfo, error) {
	lines, err := c.do(ctx, "request.metadata "+rid)
	if err != nil {
		return TrackInfo{}, err
	}
	kv := parseKVLines(lines)
	return trackInfoFromKV(rid, kv), nil
}

// EnqueueTTS pushes a synthesized audio file onto the engine's DJ queue.
// It prefers the HTTP ingestion port when configured, falling back to
// the telnet queue push command otherwise, per spec's ruling collapsing
// the original's tts.push/djq.push/request.push churn into one
// configured queue name.
func (c *Client) EnqueueTTS(ctx context.Context, path string) error {
	if c.ingestor != nil {
		return c.ingestor.Enqueue(ctx, path)
	}
	ctx, cancel := context.WithTimeout(ctx, c.enqTimeout)
	defer cancel()
	_, err := c.do(ctx, fmt.Sprintf("%s.push %s", c.queueName, path))
	return err
}

// Skip advances the engine past the currently playing request.
func (c *Client) Skip(ctx context.Context) error {
	ids, err := c.requestIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return ErrEngineRejected
	}
	_, err = c.do(ctx, fmt.Sprintf("%s.skip %s", c.queueName, ids[0]))
	return err
}

