// SPDX-License-Identifier: GPL-3.0-or-later

package ndt

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/measurement-kit/netcore"
	"github.com/measurement-kit/netcore/connector"
	"github.com/measurement-kit/netcore/reactor"
)

// phase adapts a plain (context.Context, *Context) error function into a
// [netcore.Func[*Context, *Context]], applying the resource cleanup
// contract documented on [netcore.Func]: on error, the in-flight Transport
// (if any) is closed before the error is returned, so a short-circuited
// pipeline never leaks the control connection.
func phase(kind string, fn func(ctx context.Context, c *Context) error) netcore.Func[*Context, *Context] {
	return netcore.FuncAdapter[*Context, *Context](func(ctx context.Context, c *Context) (*Context, error) {
		if err := fn(ctx, c); err != nil {
			if c.Stream != nil {
				c.Stream.Transport().Close(nil)
			}
			return nil, wrapPhaseError(kind, err)
		}
		return c, nil
	})
}

func connectPhase(ctx context.Context, c *Context) error {
	tr, err := connector.Connect(ctx, c.Options.Dialer, c.Options.Resolver, c.Reactor, c.Address, c.Port,
		connector.Options{NetTimeout: c.Options.Timeout})
	if err != nil {
		return err
	}
	tr.SetTimeout(c.Options.Timeout)
	c.Stream = NewStream(tr)
	return nil
}

func sendExtendedLoginPhase(ctx context.Context, c *Context) error {
	body := fmt.Sprintf(`{"msg":%q,"tests":%q}`, "v3.7.0 (netcore)", strconv.Itoa(c.Options.Tests))
	return c.Stream.WriteMessage(MsgExtendedLogin, []byte(body))
}

func recvAndIgnoreKickoffPhase(ctx context.Context, c *Context) error {
	got, err := c.Stream.ReadN(ctx, len(kickoffPrelude))
	if err != nil {
		return err
	}
	if string(got) != kickoffPrelude {
		return fmt.Errorf("%s: got %q", KindInvalidKickoffMessage, got)
	}
	return nil
}

func waitInQueuePhase(ctx context.Context, c *Context) error {
	msg, err := c.Stream.ReadFrame(ctx)
	if err != nil {
		return err
	}
	if msg.Type != SrvQueue {
		return fmt.Errorf("%s: expected SRV_QUEUE, got type %d", KindWaitingInQueue, msg.Type)
	}
	wait := strings.TrimSpace(string(msg.Payload))
	if wait != "" && wait != "0" {
		return fmt.Errorf("%s: wait=%q", KindUnhandledSrvQueueMessage, wait)
	}
	return nil
}

func recvVersionPhase(ctx context.Context, c *Context) error {
	msg, err := c.Stream.ReadFrame(ctx)
	if err != nil {
		return err
	}
	if msg.Type != MsgLogin {
		return fmt.Errorf("%s: expected MSG_LOGIN, got type %d", KindReadingVersion, msg.Type)
	}
	c.Result.ServerVersion = string(msg.Payload)
	return nil
}

func recvTestsIDPhase(ctx context.Context, c *Context) error {
	msg, err := c.Stream.ReadFrame(ctx)
	if err != nil {
		return err
	}
	if msg.Type != MsgLogin {
		return fmt.Errorf("%s: expected MSG_LOGIN, got type %d", KindReadingTestsID, msg.Type)
	}
	for _, field := range strings.Fields(string(msg.Payload)) {
		id, err := strconv.Atoi(field)
		if err != nil {
			return fmt.Errorf("%s: %w", KindReadingTestsID, err)
		}
		c.GrantedSuite |= id
		c.Result.GrantedSuite |= id
	}
	return nil
}

func runTestsPhase(ctx context.Context, c *Context) error {
	for _, id := range []int{TestC2S, TestS2C, TestMeta} {
		if c.GrantedSuite&id == 0 {
			continue
		}
		var err error
		switch id {
		case TestC2S:
			err = runC2S(ctx, c)
		case TestS2C:
			err = runS2C(ctx, c)
		case TestMeta:
			err = runMeta(ctx, c)
		default:
			err = fmt.Errorf("%s: %d", KindUnknownTestID, id)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func recvResultsAndLogoutPhase(ctx context.Context, c *Context) error {
	for i := 0; i < maxResultsMessages; i++ {
		msg, err := c.Stream.ReadFrame(ctx)
		if err != nil {
			return err
		}
		switch msg.Type {
		case MsgResults:
			for _, line := range strings.Split(string(msg.Payload), "\n") {
				if line == "" {
					continue
				}
				c.Result.ResultsLines = append(c.Result.ResultsLines, line)
				c.Logger.Info("ndtResultsLine", "line", line)
			}
		case MsgLogout:
			return nil
		default:
			return fmt.Errorf("%s: type %d", KindNotResultsOrLogout, msg.Type)
		}
	}
	return fmt.Errorf("%s: exceeded %d frames", KindTooManyResultsMessages, maxResultsMessages)
}

func waitClosePhase(ctx context.Context, c *Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	data, err := c.Stream.ReadN(waitCtx, 1)
	switch {
	case err == nil:
		return fmt.Errorf("%s: got %d bytes after logout", KindDataAfterLogout, len(data))
	case err == ErrTimeout:
		return nil
	default:
		// Any transport-level error (including EOF) here means the
		// server closed as expected.
		return nil
	}
}

func disconnectAndCallbackPhase(ctx context.Context, c *Context) error {
	if c.Stream != nil {
		c.Stream.Transport().Close(nil)
	}
	return nil
}

// buildPipeline composes the ten named phases in their canonical order.
func buildPipeline() netcore.Func[*Context, *Context] {
	first8 := netcore.Compose8(
		phase(KindConnecting, connectPhase),
		phase(KindWritingExtendedLogin, sendExtendedLoginPhase),
		phase(KindReadingKickoffMessage, recvAndIgnoreKickoffPhase),
		phase(KindWaitingInQueue, waitInQueuePhase),
		phase(KindReadingVersion, recvVersionPhase),
		phase(KindReadingTestsID, recvTestsIDPhase),
		phase(KindRunningTests, runTestsPhase),
		phase(KindReadingResultsAndLogout, recvResultsAndLogoutPhase),
	)
	last2 := netcore.Compose2(
		phase(KindWaitingClose, waitClosePhase),
		phase("ndt: disconnect", disconnectAndCallbackPhase),
	)
	return netcore.Compose2(first8, last2)
}

// RunWithSpecificServer executes the full NDT v3.7.0 sequence against
// address:port and returns the accumulated [*Result].
//
// If address is empty, it is first resolved via [LookupServer] against
// mlab-ns, reusing opts.Dialer and opts.Resolver for the lookup itself.
func RunWithSpecificServer(ctx context.Context, address string, port int, opts Options,
	logger netcore.SLogger, r *reactor.Reactor) (*Result, error) {
	if address == "" {
		fqdn, err := lookupServerFQDN(ctx, opts, logger)
		if err != nil {
			return nil, wrapPhaseError(KindServerLookup, err)
		}
		address = fqdn
	}
	c := NewContext(address, port, opts, logger, r)
	out, err := buildPipeline().Call(ctx, c)
	if err != nil {
		return c.Result, err
	}
	return out.Result, nil
}

// lookupServerFQDN asks mlab-ns for a nearby NDT server, reusing the
// control-connection's own Dialer/Resolver for the mlab-ns HTTP lookup.
func lookupServerFQDN(ctx context.Context, opts Options, logger netcore.SLogger) (string, error) {
	cfg := netcore.NewConfig()
	if opts.Dialer != nil {
		cfg.Dialer = opts.Dialer
	}
	info, err := LookupServer(ctx, cfg, opts.Resolver, nil, logger, "ndt")
	if err != nil {
		return "", err
	}
	return info.FQDN, nil
}
