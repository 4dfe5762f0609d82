package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"

	"github.com/blang/semver"
	"github.com/pkg/errors"

	"krypt.co/krbtle/boundary"
	"krypt.co/krbtle/common/socket"
	. "krypt.co/krbtle/common/util"
	. "krypt.co/krbtle/daemon/control"
)

var ErrNotSeen = fmt.Errorf("Service has not been seen by the current scan")

func dial() (conn net.Conn, err error) {
	unixFile, err := socket.KrDirFile(socket.DAEMON_SOCKET_FILENAME)
	if err != nil {
		err = ErrConnectingToDaemon
		return
	}
	conn, err = socket.DaemonDialWithTimeout(unixFile)
	if err != nil {
		err = ErrConnectingToDaemon
		return
	}
	return
}

func newRequest(method, path string, body interface{}) (httpRequest *http.Request, err error) {
	var reader io.Reader
	if body != nil {
		var encoded []byte
		encoded, err = json.Marshal(body)
		if err != nil {
			return
		}
		reader = bytes.NewReader(encoded)
	}
	httpRequest, err = http.NewRequest(method, path, reader)
	if err != nil {
		return
	}
	if body != nil {
		httpRequest.Header.Set("Content-Type", "application/json")
	}
	return
}

func roundTrip(conn net.Conn, httpRequest *http.Request) (httpResponse *http.Response, err error) {
	err = httpRequest.Write(conn)
	if err != nil {
		err = ErrConnectingToDaemon
		return
	}
	httpResponse, err = http.ReadResponse(bufio.NewReader(conn), httpRequest)
	if err != nil {
		err = ErrConnectingToDaemon
		return
	}
	return
}

// non-OK statuses still carry a Result body
func makeResultRequest(conn net.Conn, method, path string, body interface{}) (result boundary.Result, err error) {
	httpRequest, err := newRequest(method, path, body)
	if err != nil {
		return
	}
	httpResponse, err := roundTrip(conn, httpRequest)
	if err != nil {
		return
	}
	defer httpResponse.Body.Close()
	if httpResponse.StatusCode == http.StatusBadRequest && httpResponse.ContentLength == 0 {
		err = errors.Wrap(ErrDaemonResponse, "malformed request")
		return
	}
	err = json.NewDecoder(httpResponse.Body).Decode(&result)
	if err != nil {
		err = errors.Wrapf(ErrDaemonResponse, "status %d", httpResponse.StatusCode)
		return
	}
	return
}

func makeRequest(conn net.Conn, method, path string, body interface{}) (responseBody []byte, err error) {
	httpRequest, err := newRequest(method, path, body)
	if err != nil {
		return
	}
	httpResponse, err := roundTrip(conn, httpRequest)
	if err != nil {
		return
	}
	defer httpResponse.Body.Close()
	if httpResponse.StatusCode != http.StatusOK {
		err = errors.Wrapf(ErrDaemonResponse, "status %d", httpResponse.StatusCode)
		return
	}
	responseBody, err = ioutil.ReadAll(httpResponse.Body)
	return
}

func RequestVersionOver(conn net.Conn) (v semver.Version, err error) {
	body, err := makeRequest(conn, http.MethodGet, "/version", nil)
	if err != nil {
		return
	}
	v, err = semver.Parse(string(body))
	return
}

func RequestVersion() (v semver.Version, err error) {
	conn, err := dial()
	if err != nil {
		return
	}
	defer conn.Close()
	v, err = RequestVersionOver(conn)
	return
}

func RequestAddServiceOver(conn net.Conn, uuid string, characteristics map[string][]byte) (boundary.Result, error) {
	return makeResultRequest(conn, http.MethodPut, "/advertise", AddServiceRequest{
		UUID:            uuid,
		Characteristics: characteristics,
	})
}

func RequestAddService(uuid string, characteristics map[string][]byte) (result boundary.Result, err error) {
	conn, err := dial()
	if err != nil {
		return
	}
	defer conn.Close()
	result, err = RequestAddServiceOver(conn, uuid, characteristics)
	return
}

func RequestRemoveServiceOver(conn net.Conn, uuid string) (err error) {
	_, err = makeRequest(conn, http.MethodDelete, "/advertise", RemoveServiceRequest{UUID: uuid})
	return
}

func RequestRemoveService(uuid string) (err error) {
	conn, err := dial()
	if err != nil {
		return
	}
	defer conn.Close()
	err = RequestRemoveServiceOver(conn, uuid)
	return
}

func RequestCountOver(conn net.Conn) (count int, err error) {
	body, err := makeRequest(conn, http.MethodGet, "/advertise", nil)
	if err != nil {
		return
	}
	var response CountResponse
	err = json.Unmarshal(body, &response)
	count = response.Count
	return
}

func RequestCount() (count int, err error) {
	conn, err := dial()
	if err != nil {
		return
	}
	defer conn.Close()
	count, err = RequestCountOver(conn)
	return
}

func RequestWriteOver(conn net.Conn, data []byte) (boundary.Result, error) {
	return makeResultRequest(conn, http.MethodPut, "/write", WriteRequest{Data: data})
}

func RequestWrite(data []byte) (result boundary.Result, err error) {
	conn, err := dial()
	if err != nil {
		return
	}
	defer conn.Close()
	result, err = RequestWriteOver(conn, data)
	return
}

func RequestRotateDelayOver(conn net.Conn) (seconds float64, err error) {
	body, err := makeRequest(conn, http.MethodGet, "/rotate", nil)
	if err != nil {
		return
	}
	var response RotateRequest
	err = json.Unmarshal(body, &response)
	seconds = response.Seconds
	return
}

func RequestSetRotateDelayOver(conn net.Conn, seconds float64) (boundary.Result, error) {
	return makeResultRequest(conn, http.MethodPut, "/rotate", RotateRequest{Seconds: seconds})
}

func RequestSetRotateDelay(seconds float64) (result boundary.Result, err error) {
	conn, err := dial()
	if err != nil {
		return
	}
	defer conn.Close()
	result, err = RequestSetRotateDelayOver(conn, seconds)
	return
}

func RequestStartScanOver(conn net.Conn, request ScanRequest) (boundary.Result, error) {
	return makeResultRequest(conn, http.MethodPut, "/scan", request)
}

func RequestStartScan(request ScanRequest) (result boundary.Result, err error) {
	conn, err := dial()
	if err != nil {
		return
	}
	defer conn.Close()
	result, err = RequestStartScanOver(conn, request)
	return
}

func RequestStopScanOver(conn net.Conn) (err error) {
	_, err = makeRequest(conn, http.MethodDelete, "/scan", nil)
	return
}

func RequestStopScan() (err error) {
	conn, err := dial()
	if err != nil {
		return
	}
	defer conn.Close()
	err = RequestStopScanOver(conn)
	return
}

func RequestLastSeenOver(conn net.Conn, uuid string) (discovery boundary.Discovery, err error) {
	httpRequest, err := newRequest(http.MethodGet, "/scan/seen?uuid="+url.QueryEscape(uuid), nil)
	if err != nil {
		return
	}
	httpResponse, err := roundTrip(conn, httpRequest)
	if err != nil {
		return
	}
	defer httpResponse.Body.Close()
	switch httpResponse.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		err = ErrNotSeen
		return
	default:
		err = errors.Wrapf(ErrDaemonResponse, "status %d", httpResponse.StatusCode)
		return
	}
	err = json.NewDecoder(httpResponse.Body).Decode(&discovery)
	return
}

func RequestDebugOver(conn net.Conn) (debug string, err error) {
	body, err := makeRequest(conn, http.MethodGet, "/debug", nil)
	debug = string(body)
	return
}

func RequestDebug() (debug string, err error) {
	conn, err := dial()
	if err != nil {
		return
	}
	defer conn.Close()
	debug, err = RequestDebugOver(conn)
	return
}

func RequestShutdownOver(conn net.Conn) (err error) {
	_, err = makeRequest(conn, http.MethodPost, "/shutdown", nil)
	return
}

func RequestShutdown() (err error) {
	conn, err := dial()
	if err != nil {
		return
	}
	defer conn.Close()
	err = RequestShutdownOver(conn)
	return
}

// streamOver calls onLine for each line until ctx is done or the daemon
// closes the stream
func streamOver(ctx context.Context, conn net.Conn, path string, onLine func([]byte) error) (err error) {
	httpRequest, err := newRequest(http.MethodGet, path, nil)
	if err != nil {
		return
	}
	httpResponse, err := roundTrip(conn, httpRequest)
	if err != nil {
		return
	}
	defer httpResponse.Body.Close()
	if httpResponse.StatusCode != http.StatusOK {
		err = errors.Wrapf(ErrDaemonResponse, "status %d", httpResponse.StatusCode)
		return
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	lines := bufio.NewScanner(httpResponse.Body)
	lines.Buffer(make([]byte, 64*1024), 1024*1024)
	for lines.Scan() {
		if len(lines.Bytes()) == 0 {
			continue
		}
		if err = onLine(lines.Bytes()); err != nil {
			return
		}
	}
	if ctx.Err() != nil {
		err = ctx.Err()
		return
	}
	err = lines.Err()
	return
}

func StreamDiscoveriesOver(ctx context.Context, conn net.Conn, onDiscovery func(boundary.Discovery)) error {
	return streamOver(ctx, conn, "/scan/events", func(line []byte) (err error) {
		var discovery boundary.Discovery
		if err = json.Unmarshal(line, &discovery); err != nil {
			return
		}
		onDiscovery(discovery)
		return
	})
}

func StreamDiscoveries(ctx context.Context, onDiscovery func(boundary.Discovery)) (err error) {
	conn, err := dial()
	if err != nil {
		return
	}
	defer conn.Close()
	err = StreamDiscoveriesOver(ctx, conn, onDiscovery)
	return
}

func StreamMessagesOver(ctx context.Context, conn net.Conn, onMessage func([]byte)) error {
	return streamOver(ctx, conn, "/data/events", func(line []byte) (err error) {
		var message ReceivedMessage
		if err = json.Unmarshal(line, &message); err != nil {
			return
		}
		onMessage(message.Data)
		return
	})
}

func StreamMessages(ctx context.Context, onMessage func([]byte)) (err error) {
	conn, err := dial()
	if err != nil {
		return
	}
	defer conn.Close()
	err = StreamMessagesOver(ctx, conn, onMessage)
	return
}

func RequestRotateDelay() (seconds float64, err error) {
	conn, err := dial()
	if err != nil {
		return
	}
	defer conn.Close()
	seconds, err = RequestRotateDelayOver(conn)
	return
}

func RequestLastSeen(uuid string) (discovery boundary.Discovery, err error) {
	conn, err := dial()
	if err != nil {
		return
	}
	defer conn.Close()
	discovery, err = RequestLastSeenOver(conn, uuid)
	return
}
