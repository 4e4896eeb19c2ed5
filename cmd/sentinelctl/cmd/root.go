package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/projectsentinel/sentineld/internal/config"
)

var (
	socketPath string
	dialTimeout = 3 * time.Second
)

var (
	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("197")).Bold(true)
	styleKey  = lipgloss.NewStyle().Foreground(lipgloss.Color("111"))
)

var rootCmd = &cobra.Command{
	Use:           "sentinelctl",
	Short:         "Operate and inspect a running sentineld daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	defaultSocket := "/run/sentineld/sentineld.sock"
	if cfg, err := config.Load(); err == nil {
		defaultSocket = cfg.RPC.SocketPath
	}
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", defaultSocket, "path to sentineld's unix domain socket")

	rootCmd.AddCommand(statusCmd, authCmd, enrollCmd, usersCmd, intrusionsCmd, configCmd)
}

// client holds one unix connection for the lifetime of a single
// sentinelctl command and sends that command's requests over it one at
// a time; nothing stays open between commands.
type client struct {
	conn *net.UnixConn
	rd   *bufio.Scanner
	id   int
}

func dial(ctx context.Context) (*client, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	uc := conn.(*net.UnixConn)
	sc := bufio.NewScanner(uc)
	sc.Buffer(make([]byte, 4096), 4*1024*1024)
	return &client{conn: uc, rd: sc}, nil
}

func (c *client) Close() error { return c.conn.Close() }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  map[string]any  `json:"result,omitempty"`
	Error   *rpcErrorObject `json:"error,omitempty"`
}

type rpcErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call issues one JSON-RPC request and reads its single-line reply. It
// returns the domain-level result map on success, or an error wrapping
// either a transport-level JSON-RPC error or an I/O failure.
func (c *client) call(method string, params any) (map[string]any, error) {
	c.id++
	req := rpcRequest{JSONRPC: "2.0", ID: c.id, Method: method, Params: params}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	b = append(b, '\n')
	if _, err := c.conn.Write(b); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	if !c.rd.Scan() {
		if err := c.rd.Err(); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return nil, fmt.Errorf("daemon closed connection without replying")
	}
	var resp rpcResponse
	if err := json.Unmarshal(c.rd.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

// printResult renders a result map with domain-aware coloring: the first
// present of the "error", "state", "status" or "result" fields drives
// the headline, everything else is listed as plain key: value pairs in
// sorted key order.
func printResult(result map[string]any) {
	if v, ok := result["error"]; ok {
		fmt.Println(styleErr.Render(fmt.Sprintf("error: %v", v)))
		delete(result, "error")
	} else if v, ok := result["state"]; ok {
		fmt.Println(headlineStyle(fmt.Sprintf("%v", v)).Render(fmt.Sprintf("state: %v", v)))
	} else if v, ok := result["status"]; ok {
		fmt.Println(headlineStyle(fmt.Sprintf("%v", v)).Render(fmt.Sprintf("status: %v", v)))
	} else if v, ok := result["result"]; ok {
		fmt.Println(headlineStyle(fmt.Sprintf("%v", v)).Render(fmt.Sprintf("result: %v", v)))
	}

	for _, k := range sortedKeys(result) {
		switch k {
		case "state", "status", "result":
			continue
		case "frame":
			fmt.Printf("  %s <%d bytes of base64 jpeg omitted>\n", styleKey.Render(k+":"), len(fmt.Sprintf("%v", result[k])))
		default:
			fmt.Printf("  %s %v\n", styleKey.Render(k+":"), result[k])
		}
	}
}

func headlineStyle(word string) lipgloss.Style {
	switch word {
	case "SUCCESS", "ready", "true":
		return styleOK
	case "FAILURE", "TIMEOUT", "BLOCKED_INTRUDER", "LOCKOUT", "ERROR":
		return styleErr
	default:
		return styleWarn
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
