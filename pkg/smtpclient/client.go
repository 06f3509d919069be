// Package smtpclient hand-rolls the SMTP conversation at the byte level.
// The transport has to allow wrapping an already-open plaintext socket in
// TLS mid-conversation, which is exactly what STARTTLS requires and what
// tls.Client provides.
package smtpclient

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

const (
	// implicitTLSPort connections perform the TLS handshake before any SMTP
	// traffic.
	implicitTLSPort = 465

	// stageTimeout bounds stream setup, the TLS handshake, and each
	// command/response exchange.
	stageTimeout = 30 * time.Second

	ehloName = "folio.local"
)

// Config describes the server and account to use. The password is supplied
// per send and never stored here.
type Config struct {
	Host     string
	Port     int
	Username string
	UseTLS   bool
}

// Client executes one SMTP conversation per Send call. Within a
// conversation every command completes before the next is issued.
type Client struct {
	config Config
	log    logger.Logger

	// dialer is swappable for tests.
	dialer func(ctx context.Context, addr string) (net.Conn, error)
	// tlsConfig is swappable for tests talking to self-signed fixtures.
	tlsConfig *tls.Config
}

func New(config Config) *Client {
	return &Client{
		config: config,
		log:    logger.New(),
		dialer: func(ctx context.Context, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: stageTimeout}
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

// conversation carries the per-send connection state.
type conversation struct {
	conn   net.Conn
	reader *bufio.Reader
	ctx    context.Context
}

// Send runs the full dialog: connect, greet, optional STARTTLS upgrade,
// AUTH LOGIN, envelope, data, quit. Cancelling ctx closes the socket and
// surfaces ErrCancelled.
func (c *Client) Send(ctx context.Context, password, recipient string, msg *Message) error {
	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))

	conn, err := c.dialer(ctx, addr)
	if err != nil {
		return errors.Wrap(ErrStreamSetup, err.Error())
	}

	// Cancellation closes the socket so blocked reads fail promptly.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	// Implicit TLS handshakes before any data is read.
	if c.config.Port == implicitTLSPort {
		tlsConn := tls.Client(conn, c.tlsConfigFor())
		if err := c.handshake(ctx, tlsConn); err != nil {
			conn.Close()
			return err
		}
		conn = tlsConn
	}

	conv := &conversation{conn: conn, reader: bufio.NewReader(conn), ctx: ctx}
	defer conn.Close()

	err = c.converse(conv, password, recipient, msg)
	if err != nil {
		// Best-effort QUIT so well-behaved servers can clean up. A 4xx/5xx
		// rejection abandons the connection without another command.
		var rejected *ServerRejectedError
		if !errors.As(err, &rejected) {
			c.quit(conv)
		}
		return c.mapError(ctx, err)
	}

	return nil
}

func (c *Client) converse(conv *conversation, password, recipient string, msg *Message) error {
	// Greeting.
	if _, err := c.read(conv, 220); err != nil {
		return err
	}

	if _, err := c.command(conv, "EHLO "+ehloName, 250); err != nil {
		return err
	}

	// Opportunistic TLS: upgrade the same socket, then re-EHLO.
	if c.config.UseTLS && c.config.Port != implicitTLSPort {
		if _, err := c.command(conv, "STARTTLS", 220); err != nil {
			return err
		}
		tlsConn := tls.Client(conv.conn, c.tlsConfigFor())
		if err := c.handshake(conv.ctx, tlsConn); err != nil {
			return err
		}
		conv.conn = tlsConn
		conv.reader = bufio.NewReader(tlsConn)

		if _, err := c.command(conv, "EHLO "+ehloName, 250); err != nil {
			return err
		}
	}

	// AUTH LOGIN.
	if _, err := c.command(conv, "AUTH LOGIN", 334); err != nil {
		return err
	}
	if _, err := c.command(conv, encodeB64(c.config.Username), 334); err != nil {
		return c.asAuthError(err)
	}
	if _, err := c.command(conv, encodeB64(password), 235); err != nil {
		return c.asAuthError(err)
	}

	// Envelope.
	if _, err := c.command(conv, fmt.Sprintf("MAIL FROM:<%s>", c.config.Username), 250); err != nil {
		return err
	}
	if _, err := c.command(conv, fmt.Sprintf("RCPT TO:<%s>", recipient), 250); err != nil {
		return err
	}

	// Data.
	if _, err := c.command(conv, "DATA", 354); err != nil {
		return err
	}
	if err := c.writeData(conv, msg.Build()); err != nil {
		return err
	}
	if _, err := c.read(conv, 250); err != nil {
		return err
	}

	c.quit(conv)
	return nil
}

// command writes one CRLF-terminated line and awaits a well-formed reply
// with the expected code.
func (c *Client) command(conv *conversation, line string, expect int) (*Response, error) {
	if err := c.write(conv, []byte(line+"\r\n")); err != nil {
		return nil, err
	}
	return c.read(conv, expect)
}

// writeData sends the message body dot-stuffed, terminated by CRLF.CRLF, as
// a single write.
func (c *Client) writeData(conv *conversation, body []byte) error {
	stuffed := dotStuff(body)
	if !bytes.HasSuffix(stuffed, []byte("\r\n")) {
		stuffed = append(stuffed, '\r', '\n')
	}
	stuffed = append(stuffed, '.', '\r', '\n')
	return c.write(conv, stuffed)
}

func (c *Client) write(conv *conversation, data []byte) error {
	if err := conv.conn.SetWriteDeadline(time.Now().Add(stageTimeout)); err != nil {
		return errors.WithStack(err)
	}
	_, err := conv.conn.Write(data)
	return errors.WithStack(err)
}

func (c *Client) read(conv *conversation, expect int) (*Response, error) {
	if err := conv.conn.SetReadDeadline(time.Now().Add(stageTimeout)); err != nil {
		return nil, errors.WithStack(err)
	}

	resp, err := readResponse(conv.reader)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if resp.IsError() {
		return nil, errors.WithStack(&ServerRejectedError{Code: resp.Code, Text: resp.Text()})
	}
	if resp.Code != expect {
		return nil, errors.Wrapf(ErrUnexpectedReply, "got %d, want %d: %s", resp.Code, expect, resp.Text())
	}
	return resp, nil
}

// quit is best-effort; the conversation is already over.
func (c *Client) quit(conv *conversation) {
	_ = c.write(conv, []byte("QUIT\r\n"))
}

func (c *Client) handshake(ctx context.Context, conn *tls.Conn) error {
	hsCtx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()
	if err := conn.HandshakeContext(hsCtx); err != nil {
		return errors.Wrap(ErrTLSHandshake, err.Error())
	}
	return nil
}

func (c *Client) tlsConfigFor() *tls.Config {
	if c.tlsConfig != nil {
		return c.tlsConfig
	}
	return &tls.Config{ServerName: c.config.Host, MinVersion: tls.VersionTLS12}
}

// asAuthError reclassifies a rejection during the AUTH exchange.
func (c *Client) asAuthError(err error) error {
	var rejected *ServerRejectedError
	if errors.As(err, &rejected) {
		return errors.Wrapf(ErrAuthentication, "server said %d: %s", rejected.Code, rejected.Text)
	}
	return err
}

// mapError folds transport-level failures into the client's error taxonomy.
func (c *Client) mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.WithStack(ErrCancelled)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(ErrTimeout, err.Error())
	}
	return err
}

// dotStuff prefixes any body line beginning with '.' with another '.'.
func dotStuff(body []byte) []byte {
	lines := bytes.Split(body, []byte("\r\n"))
	for i, line := range lines {
		if len(line) > 0 && line[0] == '.' {
			lines[i] = append([]byte("."), line...)
		}
	}
	return bytes.Join(lines, []byte("\r\n"))
}

func encodeB64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}
