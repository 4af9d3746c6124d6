package runtimeapi

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiml/lambdaruntime/lambdaerrors"
)

func serve(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()

	return ln.Addr().String()
}

func readRequestLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line
}

func drainHeaders(r *bufio.Reader) {
	for {
		l, err := r.ReadString('\n')
		if err != nil || l == "\r\n" {
			return
		}
	}
}

func TestNewFromEnv_MissingEndpoint(t *testing.T) {
	original, had := os.LookupEnv(envRuntimeAPI)
	os.Unsetenv(envRuntimeAPI)
	defer func() {
		if had {
			os.Setenv(envRuntimeAPI, original)
		}
	}()

	_, err := NewFromEnv()
	require.Error(t, err)

	var kindErr *lambdaerrors.Error
	require.True(t, lambdaerrors.As(err, &kindErr))
	assert.Equal(t, lambdaerrors.KindConfig, kindErr.Kind)
}

func TestNewFromEnv_Present(t *testing.T) {
	os.Setenv(envRuntimeAPI, "127.0.0.1:9001")
	defer os.Unsetenv(envRuntimeAPI)

	c, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9001", c.endpoint)
}

func TestNextEvent_HappyPath(t *testing.T) {
	addr := serve(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		line := readRequestLine(t, r)
		assert.Equal(t, "GET /2018-06-01/runtime/invocation/next HTTP/1.1\r\n", line)
		drainHeaders(r)

		fmt.Fprint(conn, "HTTP/1.1 200 OK\r\nLambda-Runtime-Aws-Request-Id: abc-123\r\nContent-Length: 2\r\n\r\n{}")
	})

	c := &Client{endpoint: addr}
	inv, err := c.NextEvent()
	require.NoError(t, err)
	assert.Equal(t, "abc-123", inv.RequestID)
	assert.Equal(t, []byte("{}"), inv.Body)
}

func TestPostResponse_SendsExactBody(t *testing.T) {
	addr := serve(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		line := readRequestLine(t, r)
		assert.Equal(t, "POST /2018-06-01/runtime/invocation/abc-123/response HTTP/1.1\r\n", line)
		drainHeaders(r)

		fmt.Fprint(conn, "HTTP/1.1 202 Accepted\r\nContent-Length: 0\r\n\r\n")
	})

	c := &Client{endpoint: addr}
	body := []byte(`{"statusCode":200,"body":"ok"}`)
	err := c.PostResponse("abc-123", body)
	require.NoError(t, err)
}

func TestNextEvent_MissingRequestID(t *testing.T) {
	addr := serve(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		drainHeaders(r)
		fmt.Fprint(conn, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\n{}")
	})

	c := &Client{endpoint: addr}
	inv, err := c.NextEvent()
	require.Error(t, err)
	assert.Nil(t, inv)

	var kindErr *lambdaerrors.Error
	require.True(t, lambdaerrors.As(err, &kindErr))
	assert.Equal(t, lambdaerrors.KindMissingRequestID, kindErr.Kind)
}

func TestPostResponse_TransientFailure(t *testing.T) {
	addr := serve(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		drainHeaders(r)
		fmt.Fprint(conn, "HTTP/1.1 500 Internal Server Error\r\nContent-Length: 0\r\n\r\n")
	})

	c := &Client{endpoint: addr}
	err := c.PostResponse("req-1", []byte("{}"))
	require.Error(t, err)

	var kindErr *lambdaerrors.Error
	require.True(t, lambdaerrors.As(err, &kindErr))
	assert.Equal(t, lambdaerrors.KindHTTPStatus, kindErr.Kind)
	assert.Equal(t, 500, kindErr.Status)
}

func TestNextEvent_PropagatesOptionalHeaders(t *testing.T) {
	addr := serve(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		drainHeaders(r)
		fmt.Fprint(conn, "HTTP/1.1 200 OK\r\n"+
			"Lambda-Runtime-Aws-Request-Id: req-f\r\n"+
			"Lambda-Runtime-Deadline-Ms: 1700000000000\r\n"+
			"Lambda-Runtime-Trace-Id: Root=1-abc\r\n"+
			"Lambda-Runtime-Invoked-Function-Arn: arn:aws:lambda:us-east-1:1:function:f\r\n"+
			"Content-Length: 2\r\n\r\n{}")
	})

	c := &Client{endpoint: addr}
	inv, err := c.NextEvent()
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), inv.DeadlineMs)
	assert.Equal(t, "Root=1-abc", inv.TraceID)
	assert.Equal(t, "arn:aws:lambda:us-east-1:1:function:f", inv.InvokedFunctionArn)
}

func TestPostError_MarshalsErrorRecord(t *testing.T) {
	var gotBody string

	addr := serve(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		line := readRequestLine(t, r)
		assert.Equal(t, "POST /2018-06-01/runtime/invocation/req-456/error HTTP/1.1\r\n", line)
		drainHeaders(r)

		buf := make([]byte, 4096)
		n, _ := r.Read(buf)
		gotBody = string(buf[:n])

		fmt.Fprint(conn, "HTTP/1.1 202 Accepted\r\nContent-Length: 0\r\n\r\n")
	})

	c := &Client{endpoint: addr}
	err := c.PostError("req-456", &lambdaerrors.ErrorResponse{Type: "Error", Message: "test error"})
	require.NoError(t, err)
	assert.Contains(t, gotBody, `"errorMessage":"test error"`)
	assert.Contains(t, gotBody, `"errorType":"Error"`)
}
