package cli

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/theumbrella1/agentcore/pkg/runtime"
)

var (
	invokeAddr    string
	invokeSession string
)

var invokeCmd = &cobra.Command{
	Use:   "invoke [payload]",
	Short: "Send a payload to a running runtime",
	Long: `Invoke posts a JSON payload to POST /invocations on a running runtime
and prints the result. Streaming answers are printed one event per line.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInvoke,
}

func init() {
	invokeCmd.Flags().StringVar(&invokeAddr, "addr", "127.0.0.1:8080", "runtime address")
	invokeCmd.Flags().StringVar(&invokeSession, "session", "", "session id header to send")
	rootCmd.AddCommand(invokeCmd)
}

func runInvoke(cmd *cobra.Command, args []string) error {
	payload := "{}"
	if len(args) == 1 {
		payload = args[0]
	}
	return invokeRuntime(invokeAddr, invokeSession, payload, cmd.OutOrStdout())
}

// invokeRuntime posts payload to the runtime at addr and writes the answer
// to out, one line per SSE event for streaming responses.
func invokeRuntime(addr, session, payload string, out io.Writer) error {
	req, err := http.NewRequest(http.MethodPost, "http://"+addr+"/invocations", strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set(runtime.HeaderSessionID, session)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach runtime: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("runtime error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				fmt.Fprintln(out, strings.TrimPrefix(line, "data: "))
			}
		}
		return scanner.Err()
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	fmt.Fprintln(out, strings.TrimSpace(string(body)))
	return nil
}
