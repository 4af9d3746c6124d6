// Package httpclient is a minimal, hand-rolled HTTP/1.1 client built
// directly on net.Conn. It exists because the Lambda Runtime API is a
// loopback service the bootstrap process talks to on every single
// invocation, and pulling in net/http's connection pooling, transport
// negotiation, and redirect/cookie machinery costs binary size and
// init time this runtime cannot afford to spend. One TCP connection is
// opened per call; nothing is pooled or kept alive across calls.
package httpclient

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/paiml/lambdaruntime/lambdaerrors"
)

// Header is an ordered (name, value) pair as received on the wire. Names
// are stored lower-cased; Get compares case-insensitively, since HTTP
// header names carry no case meaning.
type Headers []Header

type Header struct {
	Name  string
	Value string
}

// Get returns the value of the first header whose name matches name
// case-insensitively, and whether it was present.
func (h Headers) Get(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, header := range h {
		if header.Name == name {
			return header.Value, true
		}
	}
	return "", false
}

// Response is the parsed result of a single HTTP/1.1 exchange.
type Response struct {
	StatusCode int
	Headers    Headers
	Body       []byte
}

// Get performs a blocking GET against path on endpoint (host:port) and
// returns the full response. No read deadline is set: the Runtime API's
// /invocation/next endpoint intentionally holds the connection open until
// an event is ready, and that long poll must not be mistaken for a stall.
func Get(endpoint, path string) (*Response, error) {
	return do("GET", endpoint, path, nil)
}

// Post performs a blocking POST of body (sent as application/json) against
// path on endpoint, succeeding on any 2xx status.
func Post(endpoint, path string, body []byte) (*Response, error) {
	return do("POST", endpoint, path, body)
}

func do(method, endpoint, path string, body []byte) (*Response, error) {
	conn, err := net.Dial("tcp", endpoint)
	if err != nil {
		return nil, lambdaerrors.Wrap(lambdaerrors.KindIO, err, "dial "+endpoint)
	}
	defer conn.Close()

	if err := writeRequest(conn, method, endpoint, path, body); err != nil {
		return nil, err
	}

	resp, err := readResponse(conn)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, lambdaerrors.HTTPStatus(resp.StatusCode)
	}

	return resp, nil
}

func writeRequest(w io.Writer, method, endpoint, path string, body []byte) error {
	if !httpguts.ValidHeaderFieldValue(endpoint) {
		return lambdaerrors.Newf(lambdaerrors.KindProtocol, "invalid Host header value %q", endpoint)
	}

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(path)
	b.WriteString(" HTTP/1.1\r\n")
	b.WriteString("Host: ")
	b.WriteString(endpoint)
	b.WriteString("\r\n")
	b.WriteString("Accept: application/json\r\n")
	b.WriteString("Connection: close\r\n")

	if method == "POST" {
		b.WriteString("Content-Type: application/json\r\n")
		b.WriteString("Content-Length: ")
		b.WriteString(strconv.Itoa(len(body)))
		b.WriteString("\r\n")
	}

	b.WriteString("\r\n")

	if err := writeFull(w, []byte(b.String())); err != nil {
		return err
	}
	if len(body) > 0 {
		if err := writeFull(w, body); err != nil {
			return err
		}
	}
	return nil
}

// writeFull loops until every byte has been flushed, since net.Conn.Write
// is permitted to write fewer bytes than requested.
func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return lambdaerrors.Wrap(lambdaerrors.KindIO, err, "writing request")
		}
		buf = buf[n:]
	}
	return nil
}

func readResponse(conn net.Conn) (*Response, error) {
	r := bufio.NewReader(conn)

	statusLine, err := readLine(r)
	if err != nil {
		return nil, lambdaerrors.Wrap(lambdaerrors.KindProtocol, err, "reading status line")
	}

	statusCode, err := parseStatusLine(statusLine)
	if err != nil {
		return nil, err
	}

	headers, contentLength, err := readHeaders(r)
	if err != nil {
		return nil, err
	}

	body, err := readBody(r, contentLength)
	if err != nil {
		return nil, err
	}

	return &Response{StatusCode: statusCode, Headers: headers, Body: body}, nil
}

// readLine reads up to and including the trailing CRLF (or LF), and
// returns the line with the terminator stripped.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func parseStatusLine(line string) (int, error) {
	// "HTTP/1.1 200 OK"
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return 0, lambdaerrors.Newf(lambdaerrors.KindProtocol, "malformed status line %q", line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, lambdaerrors.Wrapf(lambdaerrors.KindProtocol, err, "parsing status code from %q", line)
	}
	return code, nil
}

// readHeaders reads header lines until the blank line that terminates
// them, lower-casing names for downstream case-insensitive lookup.
// Folded (continuation) header lines are not supported: the Runtime API
// never sends them.
func readHeaders(r *bufio.Reader) (Headers, int, error) {
	var headers Headers
	contentLength := -1

	for {
		line, err := readLine(r)
		if err != nil {
			return nil, 0, lambdaerrors.Wrap(lambdaerrors.KindProtocol, err, "reading header line")
		}
		if line == "" {
			break
		}

		idx := strings.Index(line, ":")
		if idx < 0 {
			return nil, 0, lambdaerrors.Newf(lambdaerrors.KindProtocol, "malformed header line %q", line)
		}

		name := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		headers = append(headers, Header{Name: name, Value: value})

		if name == "content-length" {
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, 0, lambdaerrors.Wrap(lambdaerrors.KindProtocol, err, "parsing Content-Length")
			}
			contentLength = n
		}
	}

	return headers, contentLength, nil
}

func readBody(r *bufio.Reader, contentLength int) ([]byte, error) {
	if contentLength >= 0 {
		body := make([]byte, contentLength)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, lambdaerrors.Wrap(lambdaerrors.KindIO, err, "reading response body")
		}
		return body, nil
	}

	// No Content-Length: read until the server closes the connection.
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, lambdaerrors.Wrap(lambdaerrors.KindIO, err, "reading response body until EOF")
	}
	return body, nil
}
