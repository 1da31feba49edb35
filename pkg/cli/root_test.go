package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/f5qa/respool/pkg/cache"
	"github.com/f5qa/respool/pkg/config"
	"github.com/f5qa/respool/pkg/respool"
	"github.com/f5qa/respool/pkg/server"
	clientv1 "github.com/f5qa/respool/pkg/server/clientset/v1"
)

const testConfig = `
cache:
  type: memory
pools:
  numbers:
    type: range
    args:
      start: 0
      size: 3
      template: "item_{}"
  bip:
    type: ip_port
    args:
      start: 1.1.1.10
ranges:
  ports:
    type: port
    args:
      start: 30000
      stop: 30001
`

func execute(cmdCtx *CmdCtx, args ...string) (string, error) {
	out := &bytes.Buffer{}
	cmd := NewRespoolCtlCmd(cmdCtx)
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func executeJSON(t *testing.T, cmdCtx *CmdCtx, args ...string) []clientv1.Item {
	out, err := execute(cmdCtx, append(args, "-o", "json")...)
	require.NoError(t, err)

	var items []clientv1.Item
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	return items
}

func keys(items []clientv1.Item) []string {
	return lo.Map(items, func(i clientv1.Item, _ int) string {
		return i.Key
	})
}

// processes returns n command contexts sharing the same cache, as
// separate respoolctl invocations would
func processes(t *testing.T, n int) []*CmdCtx {
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)

	shared := cache.NewMemoryCache()
	return lo.Times(n, func(int) *CmdCtx {
		return &CmdCtx{Config: cfg, Cache: shared}
	})
}

func TestGetAndFree(t *testing.T) {
	procs := processes(t, 2)

	items := executeJSON(t, procs[0], "get", "numbers", "--name", "n1")
	require.Len(t, items, 1)
	assert.Equal(t, "0", items[0].Key)
	assert.Equal(t, "n1", items[0].Name)
	assert.Equal(t, "item_0", items[0].Display)

	items = executeJSON(t, procs[1], "get", "numbers", "--name", "n2")
	require.Len(t, items, 1)
	assert.Equal(t, "1", items[0].Key)

	// Same name, same item
	items = executeJSON(t, procs[1], "get", "numbers", "--name", "n1")
	assert.Equal(t, []string{"0"}, keys(items))

	assert.ElementsMatch(t, []string{"0", "1"}, keys(executeJSON(t, procs[1], "status", "numbers")))

	items = executeJSON(t, procs[0], "free", "numbers", "n2")
	assert.Equal(t, []string{"1"}, keys(items))

	// Already released
	assert.Empty(t, executeJSON(t, procs[1], "free", "numbers", "n2"))

	assert.Equal(t, []string{"0"}, keys(executeJSON(t, procs[1], "status", "numbers")))
}

func TestGetMultiple(t *testing.T) {
	procs := processes(t, 2)

	items := executeJSON(t, procs[0], "get", "numbers", "--count", "2", "--name", "node%d", "--prefix", "m1-")
	assert.Equal(t, []string{"0", "1"}, keys(items))
	assert.Equal(t, "m1-node2", items[1].FullName)

	_, err := execute(procs[1], "get", "numbers", "-c", "2")
	assert.ErrorIs(t, err, respool.ErrPoolExhausted)

	items = executeJSON(t, procs[1], "free-all", "numbers", "--prefix", "m1-")
	assert.ElementsMatch(t, []string{"0", "1"}, keys(items))

	assert.Empty(t, executeJSON(t, procs[0], "status"))
}

func TestStatusTable(t *testing.T) {
	procs := processes(t, 1)

	_, err := execute(procs[0], "get", "bip", "--name", "bip1")
	require.NoError(t, err)

	out, err := execute(procs[0], "status")
	require.NoError(t, err)
	assert.Contains(t, out, "POOL")
	assert.Contains(t, out, "1.1.1.10:20000")
	assert.Contains(t, out, "bip1")
}

func TestSync(t *testing.T) {
	procs := processes(t, 2)

	_, err := execute(procs[0], "get", "numbers", "--name", "n1")
	require.NoError(t, err)

	assert.Equal(t, []string{"0"}, keys(executeJSON(t, procs[1], "sync", "numbers")))
}

func TestRangeNext(t *testing.T) {
	procs := processes(t, 2)

	out, err := execute(procs[0], "range-next", "ports", "-c", "2")
	require.NoError(t, err)
	assert.Equal(t, "30000\n30001\n", out)

	_, err = execute(procs[0], "range-next", "ports")
	assert.ErrorIs(t, err, respool.ErrPoolExhausted)

	// Ranges are per process
	out, err = execute(procs[1], "range-next", "ports")
	require.NoError(t, err)
	assert.Equal(t, "30000\n", out)
}

func TestCommandErrors(t *testing.T) {
	cases := []struct {
		name        string
		args        []string
		expectedErr error
		expectedMsg string
	}{
		{
			name:        "unknown pool",
			args:        []string{"get", "disks"},
			expectedErr: ErrNotConfigured,
		},
		{
			name:        "unknown range",
			args:        []string{"range-next", "macs"},
			expectedErr: ErrNotConfigured,
		},
		{
			name:        "missing name",
			args:        []string{"free", "numbers"},
			expectedMsg: "the free command takes 2 argument(s), got 1",
		},
		{
			name:        "invalid count",
			args:        []string{"get", "numbers", "--count", "0"},
			expectedMsg: "invalid count 0",
		},
		{
			name:        "invalid output",
			args:        []string{"status", "-o", "yaml"},
			expectedMsg: "invalid output format 'yaml'",
		},
		{
			name:        "invalid log level",
			args:        []string{"status", "--log-level", "trace"},
			expectedMsg: "invalid log level 'trace'",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(processes(t, 1)[0], tc.args...)
			require.Error(t, err)
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
			}
			if tc.expectedMsg != "" {
				assert.Contains(t, err.Error(), tc.expectedMsg)
			}
		})
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := fmt.Sprintf(`
cache:
  type: bolt
  path: %s
pools:
  numbers:
    type: range
    args:
      start: 10
      size: 5
`, filepath.Join(dir, "respool.db"))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	items := executeJSON(t, &CmdCtx{}, "--config", path, "get", "numbers", "--name", "a")
	assert.Equal(t, []string{"10"}, keys(items))

	// A new invocation sees the allocation through the file
	items = executeJSON(t, &CmdCtx{}, "--config", path, "get", "numbers", "--name", "b")
	assert.Equal(t, []string{"11"}, keys(items))

	items = executeJSON(t, &CmdCtx{}, "--config", path, "status")
	assert.ElementsMatch(t, []string{"10", "11"}, keys(items))

	_, err := execute(&CmdCtx{}, "--config", filepath.Join(dir, "missing.yaml"), "status")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRemote(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)

	f := respool.NewFactory(cache.NewMemoryCache(), respool.FactoryOptions{})
	_, err = f.Pools(ctx, cfg.Pools)
	require.NoError(t, err)
	_, err = f.Ranges(cfg.Ranges)
	require.NoError(t, err)

	api := server.NewRespoolAPI("0", f, map[string]string{"secret": "numbers"}, logr.Discard())
	require.NoError(t, api.Init())
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	remote := func(token string, args ...string) []string {
		return append([]string{"--server", srv.URL, "--token", token}, args...)
	}

	items := executeJSON(t, &CmdCtx{}, remote("secret", "get", "numbers", "--name", "n1")...)
	assert.Equal(t, []string{"0"}, keys(items))
	assert.Equal(t, "numbers", items[0].Pool)

	// Only the pools of the token are listed
	items = executeJSON(t, &CmdCtx{}, remote("secret", "status")...)
	assert.Equal(t, []string{"0"}, keys(items))

	items = executeJSON(t, &CmdCtx{}, remote("secret", "free", "numbers", "n1")...)
	assert.Equal(t, []string{"0"}, keys(items))

	_, err = execute(&CmdCtx{}, remote("secret", "get", "bip")...)
	assert.ErrorIs(t, err, clientv1.ErrUnauthorized)

	_, err = execute(&CmdCtx{}, remote("other", "get", "numbers")...)
	assert.ErrorIs(t, err, clientv1.ErrUnauthorized)
}
