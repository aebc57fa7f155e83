// Package deploy pushes a staged build onto a device running
// vitacompanion and drives its plaintext command channel.
package deploy

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/fatihdgn/tstlpp-vita/pkg/project"
	"github.com/fatihdgn/tstlpp-vita/pkg/vlog"
)

const commandTimeout = 10 * time.Second

// CommandClient sends newline terminated commands to the vitacompanion
// command port. Connection attempts are bounded; there is no background
// reconnect loop.
type CommandClient struct {
	Address  string
	Attempts int
	Interval time.Duration
}

// NewCommandClient configures a client from the project descriptor.
func NewCommandClient(cfg *project.Config) *CommandClient {
	return &CommandClient{
		Address:  net.JoinHostPort(cfg.RemoteAddress, strconv.Itoa(cfg.Ports.CommandPort)),
		Attempts: cfg.CommandRetry.Attempts,
		Interval: time.Duration(cfg.CommandRetry.IntervalSeconds) * time.Second,
	}
}

// Send transmits one command line and returns the device's reply, if any.
// Failed connections are retried on a fixed interval up to the configured
// attempt cap, then reported as terminal.
func (c *CommandClient) Send(ctx context.Context, command string) (string, error) {
	attempts := c.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			vlog.Log(ctx).Warn().
				Msgf("connection to %s failed, retrying in %s (attempt %d of %d)",
					c.Address, c.Interval, attempt, attempts)

			select {
			case <-ctx.Done():
				return "", eris.Wrap(ctx.Err(), "gave up while waiting to retry")
			case <-time.After(c.Interval):
			}
		}

		reply, err := c.sendOnce(ctx, command)
		if err == nil {
			return reply, nil
		}
		lastErr = err
	}

	return "", eris.Wrapf(lastErr, "could not reach the command channel at %s after %d attempts",
		c.Address, attempts)
}

func (c *CommandClient) sendOnce(ctx context.Context, command string) (string, error) {
	dialer := net.Dialer{Timeout: commandTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		return "", eris.Wrapf(err, "failed to connect to %s", c.Address)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(commandTimeout))
	_, err = fmt.Fprintf(conn, "%s\n", command)
	if err != nil {
		return "", eris.Wrapf(err, "failed to send %q", command)
	}

	// the reply is best effort; some firmware builds close the socket
	// without sending one
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && reply == "" {
		return "", nil
	}

	return strings.TrimSpace(reply), nil
}

// Destroy closes whatever application is running on the device.
func (c *CommandClient) Destroy(ctx context.Context) error {
	return c.simple(ctx, "destroy")
}

// Launch starts the application with the given title id.
func (c *CommandClient) Launch(ctx context.Context, id string) error {
	return c.simple(ctx, "launch "+id)
}

func (c *CommandClient) simple(ctx context.Context, command string) error {
	vlog.Log(ctx).Debug().Msgf("sending %q to %s", command, c.Address)

	reply, err := c.Send(ctx, command)
	if err != nil {
		return err
	}

	if reply != "" {
		vlog.Log(ctx).Debug().Msgf("device replied %q", reply)
	}

	return nil
}
