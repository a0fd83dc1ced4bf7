package app

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// newHealthcheckCmd は実行中の同期プロセスの /health を確認するコマンドを返す。
// distroless環境でのDockerヘルスチェック用。
func newHealthcheckCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:    "healthcheck",
		Short:  "Probe the ops endpoint of a running sync",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if st.cfg.MetricsAddr == "" {
				return fmt.Errorf("metrics_addr is not configured")
			}
			return runHealthcheck(healthURL(st.cfg.MetricsAddr))
		},
	}
}

// healthURL はリッスンアドレスから /health のURLを組み立てる。
// ホストが省略された場合はlocalhostを使用する。
func healthURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + "/health"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/health"
}

// runHealthcheck は /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}
