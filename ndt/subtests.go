// SPDX-License-Identifier: GPL-3.0-or-later

package ndt

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/measurement-kit/netcore/buffer"
)

// jsonMsg is the `{"msg": "..."}` envelope every TEST_MSG/TEST_PREPARE/
// TEST_START body uses.
type jsonMsg struct {
	Msg string `json:"msg"`
}

func decodeMsg(payload []byte) string {
	var m jsonMsg
	if err := json.Unmarshal(payload, &m); err != nil {
		return strings.TrimSpace(string(payload))
	}
	return m.Msg
}

// expectFrame reads one frame and checks its type.
func expectFrame(ctx context.Context, c *Context, want MessageType) (*Message, error) {
	msg, err := c.Stream.ReadFrame(ctx)
	if err != nil {
		return nil, err
	}
	if msg.Type != want {
		return nil, fmt.Errorf("%s: expected type %d, got %d", KindRunningTests, want, msg.Type)
	}
	return msg, nil
}

func dataConnAddr(c *Context, portField string) (string, error) {
	port, err := strconv.Atoi(strings.TrimSpace(portField))
	if err != nil {
		return "", fmt.Errorf("%s: bad data port %q: %w", KindRunningTests, portField, err)
	}
	return net.JoinHostPort(c.Address, strconv.Itoa(port)), nil
}

// runC2S measures upload throughput: the client streams bytes to the server
// on a fresh data connection for the configured runtime.
func runC2S(ctx context.Context, c *Context) error {
	prep, err := expectFrame(ctx, c, TestPrepare)
	if err != nil {
		return err
	}
	addr, err := dataConnAddr(c, decodeMsg(prep.Payload))
	if err != nil {
		return err
	}

	conn, err := c.Options.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := expectFrame(ctx, c, TestStart); err != nil {
		return err
	}

	var fill buffer.Buffer
	if err := fill.WriteRandomPrintable(8192); err != nil {
		return err
	}
	block := fill.Bytes()
	deadline := time.Now().Add(c.Options.Runtime)
	conn.SetWriteDeadline(deadline.Add(5 * time.Second))
	var sent int64
	for time.Now().Before(deadline) {
		n, werr := conn.Write(block)
		sent += int64(n)
		if werr != nil {
			break
		}
	}

	result, err := expectFrame(ctx, c, TestMsg)
	if err != nil {
		return err
	}
	kbps, _ := strconv.ParseFloat(decodeMsg(result.Payload), 64)
	c.Result.SubTests = append(c.Result.SubTests, SubTestResult{TestID: TestC2S, ThroughputKbps: kbps})

	if _, err := expectFrame(ctx, c, TestFinalize); err != nil {
		return err
	}
	return nil
}

// runS2C measures download throughput: the server streams bytes to the
// client on a fresh data connection, and the client reports what it saw
// back to the server over the control connection.
func runS2C(ctx context.Context, c *Context) error {
	prep, err := expectFrame(ctx, c, TestPrepare)
	if err != nil {
		return err
	}
	addr, err := dataConnAddr(c, decodeMsg(prep.Payload))
	if err != nil {
		return err
	}

	conn, err := c.Options.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := expectFrame(ctx, c, TestStart); err != nil {
		return err
	}

	start := time.Now()
	var received int64
	block := make([]byte, 8192)
	conn.SetReadDeadline(start.Add(c.Options.Runtime + 5*time.Second))
	for {
		n, rerr := conn.Read(block)
		received += int64(n)
		if rerr != nil {
			break
		}
	}
	elapsed := time.Since(start).Seconds()
	var kbps float64
	if elapsed > 0 {
		kbps = float64(received) * 8 / 1000 / elapsed
	}

	if err := c.Stream.WriteJSONMessage(TestMsg, strconv.FormatFloat(kbps, 'f', -1, 64)); err != nil {
		return err
	}

	// The server echoes its own web100-derived TEST_MSG variables; drain
	// them until TEST_FINALIZE.
	for {
		msg, err := c.Stream.ReadFrame(ctx)
		if err != nil {
			return err
		}
		if msg.Type == TestFinalize {
			break
		}
		if msg.Type != TestMsg {
			return fmt.Errorf("%s: expected TEST_MSG or TEST_FINALIZE, got %d", KindRunningTests, msg.Type)
		}
	}

	c.Result.SubTests = append(c.Result.SubTests, SubTestResult{TestID: TestS2C, ThroughputKbps: kbps})
	return nil
}

// runMeta exchanges client metadata over the control connection only; it
// opens no data connection.
func runMeta(ctx context.Context, c *Context) error {
	if _, err := expectFrame(ctx, c, TestPrepare); err != nil {
		return err
	}
	if _, err := expectFrame(ctx, c, TestStart); err != nil {
		return err
	}

	fields := []string{
		"client.version:" + c.Options.ClientVersion,
		"client.application:" + c.Options.ClientApplication,
	}
	for _, f := range fields {
		if err := c.Stream.WriteJSONMessage(TestMsg, f); err != nil {
			return err
		}
	}
	if err := c.Stream.WriteJSONMessage(TestMsg, ""); err != nil {
		return err
	}

	if _, err := expectFrame(ctx, c, TestFinalize); err != nil {
		return err
	}
	c.Result.SubTests = append(c.Result.SubTests, SubTestResult{TestID: TestMeta})
	return nil
}
