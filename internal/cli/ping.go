package cli

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var pingAddr string

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Probe a running runtime",
	Long:  `Ping fetches GET /ping from a running runtime and prints the health document.`,
	RunE:  runPing,
}

func init() {
	pingCmd.Flags().StringVar(&pingAddr, "addr", "127.0.0.1:8080", "runtime address")
	rootCmd.AddCommand(pingCmd)
}

func runPing(cmd *cobra.Command, args []string) error {
	return pingRuntime(pingAddr, cmd.OutOrStdout())
}

func pingRuntime(addr string, out io.Writer) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/ping")
	if err != nil {
		return fmt.Errorf("failed to reach runtime: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("runtime error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Fprintln(out, strings.TrimSpace(string(body)))
	return nil
}
