package e2etests

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apimachinerywait "k8s.io/apimachinery/pkg/util/wait"

	clientv1 "github.com/f5qa/respool/pkg/server/clientset/v1"
)

// This file contains the helpers shared by the e2e tests. Every test gets
// its own bolt file, shared by all the processes it starts.

const poolsConfig = `
pools:
  numbers:
    type: range
    args:
      start: 0
      size: %d
  bip:
    type: ip_port
    timeout: 1h
    args:
      start: 10.0.0.1
      stop: 10.0.0.2
      portStart: 20000
      portStop: 20001
ranges:
  ports:
    type: port
    args:
      start: 30000
      stop: 30100
`

type environment struct {
	dir    string
	config string
}

// newEnvironment writes a configuration whose numbers pool holds size
// values
func newEnvironment(t *testing.T, size int, extra string) *environment {
	dir := t.TempDir()
	cfg := fmt.Sprintf("cache:\n  type: bolt\n  path: %s\n  timeout: 30s\n", filepath.Join(dir, "respool.db")) +
		fmt.Sprintf(poolsConfig, size) + extra

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return &environment{dir: dir, config: path}
}

// ctl runs respoolctl against the environment and returns the items it
// printed
func (e *environment) ctl(args ...string) ([]clientv1.Item, error) {
	cmd := fmt.Sprintf("%s --config %s -o json %s", respoolctl, e.config, strings.Join(args, " "))
	p := runCommand(cmd)
	if p.Err() != nil {
		return nil, fmt.Errorf("%s: %w: %s", cmd, p.Err(), p.Result())
	}

	var items []clientv1.Item
	if err := json.Unmarshal([]byte(p.Result()), &items); err != nil {
		return nil, fmt.Errorf("%s: unexpected output %q: %w", cmd, p.Result(), err)
	}
	return items, nil
}

func (e *environment) tryCtl(t *testing.T, args ...string) []clientv1.Item {
	items, err := e.ctl(args...)
	require.NoError(t, err)
	return items
}

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// startServer runs respool-api on the environment until the end of the
// test, and returns a client connected to it
func (e *environment) startServer(t *testing.T, token string) *clientv1.RespoolV1Client {
	port := freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := osexec.CommandContext(ctx, respoolAPI,
		"-config", e.config,
		"-port", fmt.Sprint(port),
		"-log-level", "debug")
	logs, err := os.Create(filepath.Join(e.dir, "respool-api.log"))
	require.NoError(t, err)
	cmd.Stdout = logs
	cmd.Stderr = logs
	require.NoError(t, cmd.Start())

	t.Cleanup(func() {
		cancel()
		_ = cmd.Wait()
		logs.Close()
		if t.Failed() {
			if data, err := os.ReadFile(logs.Name()); err == nil {
				t.Logf("respool-api logs:\n%s", data)
			}
		}
	})

	client, err := clientv1.NewForHost(fmt.Sprintf("http://127.0.0.1:%d", port), token)
	require.NoError(t, err)

	waitFor(t, func(ctx context.Context) (bool, error) {
		_, err := client.Pools().List(ctx)
		return err == nil, nil
	})
	return client
}

func waitFor(t *testing.T, condition apimachinerywait.ConditionWithContextFunc, seconds ...int) {
	timeout := 30 * time.Second
	if len(seconds) > 0 {
		timeout = time.Duration(seconds[0]) * time.Second
	}

	err := apimachinerywait.PollUntilContextTimeout(context.Background(), 100*time.Millisecond, timeout, true, condition)
	assert.NoError(t, err)
}

func keys(items []clientv1.Item) []string {
	return lo.Map(items, func(i clientv1.Item, _ int) string {
		return i.Key
	})
}
