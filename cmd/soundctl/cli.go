package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"soundd/pkg/types"
)

// buildRootCmd constructs the soundctl command tree. Every subcommand talks
// to a running soundd over its HTTP API.
func buildRootCmd() *cobra.Command {
	var (
		server string
		owner  string
		device string
	)
	root := &cobra.Command{
		Use:           "soundctl",
		Short:         "Operate a running soundd daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&server, "server", envOr("SOUNDD_SERVER", "http://127.0.0.1:8080"), "soundd base URL")
	root.PersistentFlags().StringVar(&owner, "owner", os.Getenv("SOUNDD_OWNER"), "Owner id sent as X-Owner-Id")
	root.PersistentFlags().StringVar(&device, "device", os.Getenv("SOUNDD_DEVICE"), "Device id sent as X-Device-Id")

	cl := &apiClient{server: &server, owner: &owner, device: &device}

	var (
		kind     string
		prompt   string
		duration int
		loopable bool
		seed     int64
	)
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit a generation job",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := types.SubmitRequest{
				Kind:        types.ModelKind(kind),
				Prompt:      prompt,
				DurationSec: duration,
				Loopable:    loopable,
				Seed:        seed,
			}
			return cl.postJSON("/v1/jobs", req)
		},
	}
	submit.Flags().StringVar(&kind, "kind", "music", "Model kind: music|audio|magnet|voice")
	submit.Flags().StringVar(&prompt, "prompt", "", "Prompt text")
	submit.Flags().IntVar(&duration, "duration", 10, "Clip duration in seconds")
	submit.Flags().BoolVar(&loopable, "loopable", false, "Request a loopable clip")
	submit.Flags().Int64Var(&seed, "seed", 0, "Generation seed (0 = engine default)")

	status := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.get("/v1/jobs/" + args[0])
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued job (advisory while processing)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.delete("/v1/jobs/" + args[0])
		},
	}

	skip := &cobra.Command{
		Use:   "skip <job-id>",
		Short: "Pay to move a queued job to the front",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.postJSON("/v1/jobs/"+args[0]+"/skip", nil)
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue and residency stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.get("/v1/queue/stats")
		},
	}

	root.AddCommand(submit, status, cancel, skip, stats)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type apiClient struct {
	server *string
	owner  *string
	device *string
}

func (c *apiClient) do(method, path string, body io.Reader) error {
	req, err := http.NewRequest(method, *c.server+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if *c.owner != "" {
		req.Header.Set("X-Owner-Id", *c.owner)
	}
	if *c.device != "" {
		req.Header.Set("X-Device-Id", *c.device)
	}
	cli := &http.Client{Timeout: 30 * time.Second}
	resp, err := cli.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, out, "", "  ") == nil {
		out = pretty.Bytes()
	}
	fmt.Println(string(out))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}

func (c *apiClient) get(path string) error    { return c.do(http.MethodGet, path, nil) }
func (c *apiClient) delete(path string) error { return c.do(http.MethodDelete, path, nil) }

func (c *apiClient) postJSON(path string, payload any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader([]byte("{}"))
	}
	return c.do(http.MethodPost, path, body)
}
