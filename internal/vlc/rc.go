package vlc

import (
	"bufio"
	"fmt"
	"net"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// endpoint is where a VLC process listens for rc commands.
type endpoint struct {
	network string
	addr    string
}

// newEndpoint picks a fresh rc endpoint: a Unix socket under dir, or a
// loopback TCP port on Windows where VLC has no rc-unix.
func newEndpoint(dir string) (endpoint, error) {
	if runtime.GOOS != "windows" {
		return endpoint{network: "unix", addr: filepath.Join(dir, "livewall-"+uuid.NewString()[:8]+".sock")}, nil
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return endpoint{}, fmt.Errorf("reserve rc port: %w", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return endpoint{network: "tcp", addr: addr}, nil
}

const (
	rcMaxRetries      = 3
	rcRetryDelay      = 100 * time.Millisecond
	rcReadDeadline    = time.Second
	rcControlDeadline = 250 * time.Millisecond
)

// rcClient speaks VLC's line-based remote-control protocol. Each command
// uses its own connection; VLC serves one rc client at a time.
type rcClient struct {
	ep endpoint
}

// control sends a command once with a short deadline. Used from the
// session goroutine, which must not wait on a busy VLC.
func (c *rcClient) control(command string) error {
	if _, err := c.once(command, false, rcControlDeadline); err != nil {
		return fmt.Errorf("rc %s: %w", command, err)
	}
	return nil
}

// query sends a command and returns its first reply line, retrying
// briefly. Only the status monitor queries.
func (c *rcClient) query(command string) (string, error) {
	return c.do(command)
}

// queryInt sends a command whose reply is an integer.
func (c *rcClient) queryInt(command string) (int, error) {
	line, err := c.query(command)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(line)
	if err != nil {
		return 0, fmt.Errorf("rc %s: unexpected reply %q", command, line)
	}
	return n, nil
}

func (c *rcClient) do(command string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < rcMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(rcRetryDelay)
		}
		reply, err := c.once(command, true, rcReadDeadline)
		if err == nil {
			return reply, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("rc %s failed after %d attempts: %w", command, rcMaxRetries, lastErr)
}

func (c *rcClient) once(command string, wantReply bool, deadline time.Duration) (string, error) {
	conn, err := net.DialTimeout(c.ep.network, c.ep.addr, deadline)
	if err != nil {
		return "", fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(deadline)); err != nil {
		return "", fmt.Errorf("set deadline: %w", err)
	}
	if _, err := conn.Write([]byte(command + "\n")); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	if !wantReply {
		return "", nil
	}

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		if line := cleanReply(sc.Text()); line != "" {
			return line, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	return "", fmt.Errorf("read: connection closed without reply")
}

// cleanReply strips prompts and drops asynchronous status lines.
func cleanReply(line string) string {
	line = strings.TrimSpace(line)
	for strings.HasPrefix(line, ">") {
		line = strings.TrimSpace(strings.TrimPrefix(line, ">"))
	}
	if strings.HasPrefix(line, "status change:") {
		return ""
	}
	return line
}
