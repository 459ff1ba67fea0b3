package shadow

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/beevik/etree"
)

// Description is what the service reports about itself in its greeting.
type Description struct {
	Service string
	Version string
}

// Options for Dial.
type Options struct {
	DialTimeout time.Duration
	// ReadTimeout bounds a single message read, 0 disables it.
	ReadTimeout time.Duration
}

// Client reads frames from one service connection. It is not safe for
// concurrent use.
type Client struct {
	conn        net.Conn
	r           *bufio.Reader
	readTimeout time.Duration
	buf         []byte
	desc        Description
}

// Dial connects to addr and sends the subscription request.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("shadow: dial %s: %w", addr, err)
	}
	c := NewClient(conn, opts.ReadTimeout)
	if err := c.Subscribe(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, readTimeout time.Duration) *Client {
	return &Client{
		conn:        conn,
		r:           bufio.NewReaderSize(conn, 64<<10),
		readTimeout: readTimeout,
	}
}

// Description returns the last service description received.
func (c *Client) Description() Description { return c.desc }

// Subscribe asks the service for the Gq and c channels of every node.
func (c *Client) Subscribe() error {
	body, err := SubscriptionRequest()
	if err != nil {
		return err
	}
	if err := WriteMessage(c.conn, body); err != nil {
		return fmt.Errorf("shadow: subscribe: %w", err)
	}
	return nil
}

// ReadMessage returns the next raw payload. The slice is only valid until
// the next call.
func (c *Client) ReadMessage() ([]byte, error) {
	if c.readTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)
	}
	if cap(c.buf) < int(n) {
		c.buf = make([]byte, n)
	}
	c.buf = c.buf[:n]
	if _, err := io.ReadFull(c.r, c.buf); err != nil {
		return nil, err
	}
	return c.buf, nil
}

// ReadFrame reads messages until a binary frame arrives and decodes it into
// f. XML messages in between update Description. A malformed frame returns
// an error wrapping ErrMalformed, the connection stays usable.
func (c *Client) ReadFrame(f *Frame) error {
	for {
		msg, err := c.ReadMessage()
		if err != nil {
			return err
		}
		if len(msg) > 0 && msg[0] == '<' {
			if d, ok := parseDescription(msg); ok {
				c.desc = d
			}
			continue
		}
		return DecodeFrame(msg, f)
	}
}

func (c *Client) Close() error { return c.conn.Close() }

// WriteMessage writes one length-prefixed message.
func WriteMessage(w io.Writer, payload []byte) error {
	b := make([]byte, 4, 4+len(payload))
	binary.BigEndian.PutUint32(b, uint32(len(payload)))
	_, err := w.Write(append(b, payload...))
	return err
}

// SubscriptionRequest builds the configurable channel request.
func SubscriptionRequest() ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0"`)
	root := doc.CreateElement("configurable")
	root.CreateElement("Gq")
	root.CreateElement("c")
	b, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("shadow: build subscription: %w", err)
	}
	return b, nil
}

// DescriptionMessage builds the greeting a service sends on connect.
func DescriptionMessage(d Description) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0"`)
	root := doc.CreateElement("service")
	root.CreateAttr("name", d.Service)
	root.CreateAttr("version", d.Version)
	return doc.WriteToBytes()
}

func parseDescription(b []byte) (Description, bool) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(bytes.TrimRight(b, "\x00")); err != nil {
		return Description{}, false
	}
	root := doc.Root()
	if root == nil || root.Tag != "service" {
		return Description{}, false
	}
	return Description{
		Service: root.SelectAttrValue("name", ""),
		Version: root.SelectAttrValue("version", ""),
	}, true
}

// ParseSubscription returns the channel names requested by a subscription
// message.
func ParseSubscription(b []byte) ([]string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(b); err != nil {
		return nil, fmt.Errorf("shadow: parse subscription: %w", err)
	}
	root := doc.SelectElement("configurable")
	if root == nil {
		return nil, fmt.Errorf("shadow: not a subscription request")
	}
	out := make([]string, 0, 2)
	for _, el := range root.ChildElements() {
		out = append(out, el.Tag)
	}
	return out, nil
}
