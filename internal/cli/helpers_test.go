package cli

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const validConfig = `
configuration:
  - {name: alice, ip: 127.0.0.1, port: 12344, memberOf: [g1]}
  - {name: bob, ip: 127.0.0.1, port: 14255, memberOf: [g1]}
groups:
  - {name: g1, members: [alice, bob]}
sendRules:
  - {action: drop, kind: Ack}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func tcpConfig(t *testing.T) (path string, logger int) {
	t.Helper()
	logger = freePort(t)
	doc := fmt.Sprintf(`
configuration:
  - {name: alice, ip: 127.0.0.1, port: %d, memberOf: [g1]}
  - {name: bob, ip: 127.0.0.1, port: %d, memberOf: [g1]}
groups:
  - {name: g1, members: [alice, bob]}
logger:
  - {ip: 127.0.0.1, port: %d}
`, freePort(t), freePort(t), logger)
	return writeFile(t, "testbed.yaml", doc), logger
}

func writeTo(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
