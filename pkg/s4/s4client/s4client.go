// Package s4client is an in-process client for the prepare/confirm
// wire protocol, used by mapops instead of forking the "s4 cp" CLI.
// This directly implements the "Re-entrant maps" redesign note in
// spec.md §9: a map worker that needs to write its output back into
// the store no longer spawns a subprocess for that, it calls this
// package. Protocol shape grounded on
// original_source/s4/cli.py:cp's s4-to-s4 put branch.
package s4client

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/jigth/s4/pkg/s4/shardmap"
	"github.com/jigth/s4/pkg/s4/shell"
	"github.com/jigth/s4/pkg/s4/types"
)

// sanityDigest is a local-only integrity check, distinct from the
// wire-protocol's xxh3 digest: it catches a hasher subprocess that
// died mid-stream and printed a truncated or non-hex stderr line,
// before that garbage is ever trusted into a confirm call. It is not
// a substitute for the real xxh3 comparison the server performs.
func sanityDigest(stderrLine string) bool {
	if stderrLine == "" {
		return false
	}
	_, err := hex.DecodeString(stderrLine)
	return err == nil
}

// Client dials other nodes in the cluster using the shard map to
// locate the owner of a destination key, then speaks the same
// prepare/confirm HTTP + side-channel TCP protocol a remote `s4 cp`
// would.
type Client struct {
	Shards    *shardmap.Map
	Shell     *shell.Runner
	HasherCmd string
	Timeout   time.Duration
	HTTP      *http.Client
}

// New builds a Client over the given shard map.
func New(shards *shardmap.Map, runner *shell.Runner, hasherCmd string, timeout time.Duration) *Client {
	return &Client{
		Shards:    shards,
		Shell:     runner,
		HasherCmd: hasherCmd,
		Timeout:   timeout,
		HTTP:      &http.Client{Timeout: timeout + 5*time.Second},
	}
}

// PutFile uploads the local file at localPath to dstKey, following the
// put half of the wire protocol: prepare_put, stream through the
// hasher into the allocated port via an nc subprocess, confirm_put.
func (c *Client) PutFile(ctx context.Context, localPath string, dstKey types.Key) error {
	owner := c.Shards.Owner(dstKey)

	prepResp, err := c.post(ctx, owner, "/prepare_put", fmt.Sprintf("key=%s", dstKey), nil)
	if err != nil {
		return fmt.Errorf("prepare_put: %w", err)
	}
	var prep struct {
		UUID string
		Port int
	}
	var raw [2]interface{}
	if err := json.Unmarshal(prepResp, &raw); err != nil {
		return fmt.Errorf("decoding prepare_put response: %w", err)
	}
	prep.UUID, _ = raw[0].(string)
	if f, ok := raw[1].(float64); ok {
		prep.Port = int(f)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	script := fmt.Sprintf("%s --stream | nc -N %s %d", c.HasherCmd, string(owner[:indexOfColon(string(owner))]), prep.Port)
	stderr, exitCode, runErr := c.Shell.Stream(ctx, script, f, io.Discard, shell.RunOptions{Timeout: c.Timeout})
	if runErr != nil || exitCode != 0 {
		return fmt.Errorf("streaming put: %v (exit %d)", runErr, exitCode)
	}
	if !sanityDigest(stderr) {
		return fmt.Errorf("hasher produced a malformed digest, subprocess likely died mid-stream: %q", stderr)
	}
	checksum := stderr

	_, err = c.post(ctx, owner, "/confirm_put", fmt.Sprintf("uuid=%s&checksum=%s", prep.UUID, checksum), nil)
	if err != nil {
		return fmt.Errorf("confirm_put: %w", err)
	}
	return nil
}

// GetToLocal downloads srcKey to localPath, the get half of the
// protocol: open a local listener, prepare_get, stream through it,
// confirm_get.
func (c *Client) GetToLocal(ctx context.Context, srcKey types.Key, localPath string) error {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	owner := c.Shards.Owner(srcKey)
	prepResp, err := c.post(ctx, owner, "/prepare_get", fmt.Sprintf("key=%s&port=%d", srcKey, port), nil)
	if err != nil {
		return fmt.Errorf("prepare_get: %w", err)
	}
	uuid := string(bytes.Trim(prepResp, `"`))

	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	defer conn.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", localPath, err)
	}
	defer out.Close()

	script := fmt.Sprintf("%s --stream", c.HasherCmd)
	stderr, exitCode, runErr := c.Shell.Stream(ctx, script, conn, out, shell.RunOptions{Timeout: c.Timeout})
	if runErr != nil || exitCode != 0 {
		return fmt.Errorf("streaming get: %v (exit %d)", runErr, exitCode)
	}
	if !sanityDigest(stderr) {
		return fmt.Errorf("hasher produced a malformed digest, subprocess likely died mid-stream: %q", stderr)
	}
	checksum := stderr

	_, err = c.post(ctx, owner, "/confirm_get", fmt.Sprintf("uuid=%s&checksum=%s", uuid, checksum), nil)
	if err != nil {
		return fmt.Errorf("confirm_get: %w", err)
	}
	return nil
}

// PutSpec pairs a local source file with the destination key it
// should become.
type PutSpec struct {
	LocalPath string
	DstKey    types.Key
}

// PutFiles uploads multiple files concurrently, bounded to
// concurrency workers, cancelling the remaining uploads on the first
// failure. This is what MapToN's per-output-file copy loop is built
// on (Map and MapFromN copy a single output with PutFile), matching spec.md §4.J's
// "any nonzero exit cancels all sibling tasks".
func (c *Client) PutFiles(ctx context.Context, specs []PutSpec, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	batchTag := xxhash.Sum64String(fmt.Sprintf("%d", len(specs)))
	for _, spec := range specs {
		spec := spec
		g.Go(func() error {
			if err := c.PutFile(gctx, spec.LocalPath, spec.DstKey); err != nil {
				return fmt.Errorf("batch %x: putting %s: %w", batchTag, spec.LocalPath, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// post sends one request to owner. A 429 (the owner's io pool is
// saturated) is retried up to 5 times with exponential backoff
// starting at 100ms; any other non-200 status is returned as an error.
func (c *Client) post(ctx context.Context, owner types.Address, path, query string, body io.Reader) ([]byte, error) {
	url := fmt.Sprintf("http://%s%s?%s", owner, path, query)
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
		if err != nil {
			return nil, err
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return nil, err
		}
		b, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusTooManyRequests && attempt < 5 {
			select {
			case <-time.After(time.Duration(100<<attempt) * time.Millisecond):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
		}
		return b, nil
	}
}

func indexOfColon(s string) int {
	for i, r := range s {
		if r == ':' {
			return i
		}
	}
	return len(s)
}
