// Package dockerd implements replay.Runtime against the Docker Engine
// API, spoken directly over the daemon's unix socket.
package dockerd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hupe1980/baggo/replay"
)

// Options configure the Docker runtime.
type Options struct {
	// SocketPath is the Docker daemon socket.
	SocketPath string

	// APIVersion pins the Engine API version prefix.
	APIVersion string

	// Command overrides the image entrypoint. The default expects the
	// image to read newline-delimited JSON messages on stdin.
	Command []string
}

// DefaultOptions are the runtime defaults.
var DefaultOptions = Options{
	SocketPath: "/var/run/docker.sock",
	APIVersion: "v1.41",
}

// Runtime provisions one container per replay session. Messages are
// delivered as newline-delimited JSON over the container's stdin via a
// hijacked attach stream; output is drained from the container logs.
type Runtime struct {
	opts   Options
	client *http.Client

	mu    sync.Mutex
	stdin map[replay.Handle]*attachConn
}

type attachConn struct {
	conn net.Conn
	mu   sync.Mutex
}

// New creates a Docker-backed runtime.
func New(optFns ...func(o *Options)) *Runtime {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", opts.SocketPath)
		},
	}
	return &Runtime{
		opts:  opts,
		stdin: map[replay.Handle]*attachConn{},
		client: &http.Client{
			Transport: transport,
			Timeout:   5 * time.Minute,
		},
	}
}

var _ replay.Runtime = (*Runtime)(nil)

func (r *Runtime) api(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://docker/"+r.opts.APIVersion+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("docker: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return r.client.Do(req)
}

func apiError(resp *http.Response, op string) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return fmt.Errorf("docker %s: %s: %s", op, resp.Status, bytes.TrimSpace(detail))
}

// Launch creates and starts a container, then attaches to its stdin.
func (r *Runtime) Launch(ctx context.Context, image string, limits replay.Limits, labels map[string]string) (replay.Handle, error) {
	networkMode := limits.NetworkMode
	if networkMode == "" {
		networkMode = "none"
	}
	createBody := map[string]any{
		"Image":           image,
		"OpenStdin":       true,
		"AttachStdin":     true,
		"AttachStdout":    true,
		"AttachStderr":    true,
		"Labels":          labels,
		"NetworkDisabled": networkMode == "none",
		"HostConfig": map[string]any{
			"Memory":      limits.MemoryBytes,
			"CpuQuota":    limits.CPUQuota,
			"NetworkMode": networkMode,
			"AutoRemove":  false,
		},
	}
	if len(r.opts.Command) > 0 {
		createBody["Cmd"] = r.opts.Command
	}

	resp, err := r.api(ctx, http.MethodPost, "/containers/create", createBody)
	if err != nil {
		return "", fmt.Errorf("docker create: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", apiError(resp, "create")
	}
	var created struct {
		ID string `json:"Id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("docker create: %w", err)
	}
	h := replay.Handle(created.ID)

	startResp, err := r.api(ctx, http.MethodPost, "/containers/"+created.ID+"/start", nil)
	if err != nil {
		r.removeContainer(created.ID)
		return "", fmt.Errorf("docker start: %w", err)
	}
	_ = startResp.Body.Close()
	if startResp.StatusCode != http.StatusNoContent {
		r.removeContainer(created.ID)
		return "", apiError(startResp, "start")
	}

	stdin, err := r.attach(ctx, created.ID)
	if err != nil {
		r.removeContainer(created.ID)
		return "", err
	}
	r.mu.Lock()
	r.stdin[h] = stdin
	r.mu.Unlock()
	return h, nil
}

// attach hijacks an attach stream for stdin delivery.
func (r *Runtime) attach(ctx context.Context, id string) (*attachConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", r.opts.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("docker attach: %w", err)
	}

	path := fmt.Sprintf("/%s/containers/%s/attach?stream=1&stdin=1", r.opts.APIVersion, id)
	req, err := http.NewRequest(http.MethodPost, "http://docker"+path, nil)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	req.Header.Set("Upgrade", "tcp")
	req.Header.Set("Connection", "Upgrade")
	if err := req.Write(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("docker attach: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("docker attach: %w", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols && resp.StatusCode != http.StatusOK {
		_ = conn.Close()
		return nil, fmt.Errorf("docker attach: unexpected status %s", resp.Status)
	}
	return &attachConn{conn: conn}, nil
}

// wireMessage is the JSON line format delivered on container stdin.
type wireMessage struct {
	Topic    string `json:"topic"`
	Type     string `json:"type"`
	TimeNano int64  `json:"time_ns"`
	Data     []byte `json:"data"` // base64 per encoding/json
}

// Send writes one message as a JSON line to the container's stdin.
func (r *Runtime) Send(ctx context.Context, h replay.Handle, msg replay.Message) error {
	r.mu.Lock()
	stdin, ok := r.stdin[h]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("docker send: no attached environment %s", h)
	}

	line, err := json.Marshal(wireMessage{
		Topic:    msg.Topic,
		Type:     msg.Type,
		TimeNano: msg.Time.UnixNano(),
		Data:     msg.Data,
	})
	if err != nil {
		return err
	}
	line = append(line, '\n')

	stdin.mu.Lock()
	defer stdin.mu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = stdin.conn.SetWriteDeadline(deadline)
		defer stdin.conn.SetWriteDeadline(time.Time{}) //nolint:errcheck
	}
	if _, err := stdin.conn.Write(line); err != nil {
		return fmt.Errorf("docker send: %w", err)
	}
	return nil
}

// CollectOutput drains the container's stdout/stderr logs, demuxing
// the Engine's multiplexed stream framing.
func (r *Runtime) CollectOutput(ctx context.Context, h replay.Handle) ([]byte, error) {
	resp, err := r.api(ctx, http.MethodGet, "/containers/"+string(h)+"/logs?stdout=1&stderr=1", nil)
	if err != nil {
		return nil, fmt.Errorf("docker logs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp, "logs")
	}
	return demux(resp.Body)
}

// demux strips the 8-byte frame headers of Docker's multiplexed log
// stream: [stream:1][pad:3][size:4 big-endian][payload].
func demux(r io.Reader) ([]byte, error) {
	var out bytes.Buffer
	var header [8]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return out.Bytes(), nil
			}
			return nil, err
		}
		size := binary.BigEndian.Uint32(header[4:8])
		if _, err := io.CopyN(&out, r, int64(size)); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return out.Bytes(), nil
			}
			return nil, err
		}
	}
}

// Terminate closes the stdin stream and removes the container. It is
// idempotent: terminating an already-removed container is not an error.
func (r *Runtime) Terminate(ctx context.Context, h replay.Handle) error {
	r.mu.Lock()
	if stdin, ok := r.stdin[h]; ok {
		_ = stdin.conn.Close()
		delete(r.stdin, h)
	}
	r.mu.Unlock()

	resp, err := r.api(ctx, http.MethodDelete, "/containers/"+string(h)+"?force=1", nil)
	if err != nil {
		return fmt.Errorf("docker remove: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return apiError(resp, "remove")
	}
}

// List returns the live containers carrying the replay session label.
func (r *Runtime) List(ctx context.Context) ([]replay.Handle, error) {
	filters := url.QueryEscape(fmt.Sprintf(`{"label":[%q]}`, replay.SessionLabel))
	resp, err := r.api(ctx, http.MethodGet, "/containers/json?filters="+filters, nil)
	if err != nil {
		return nil, fmt.Errorf("docker list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp, "list")
	}

	var containers []struct {
		ID string `json:"Id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&containers); err != nil {
		return nil, fmt.Errorf("docker list: %w", err)
	}
	handles := make([]replay.Handle, 0, len(containers))
	for _, c := range containers {
		handles = append(handles, replay.Handle(c.ID))
	}
	return handles, nil
}

func (r *Runtime) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resp, err := r.api(ctx, http.MethodDelete, "/containers/"+id+"?force=1", nil)
	if err == nil {
		_ = resp.Body.Close()
	}
}
