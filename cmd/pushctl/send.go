package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const sendTimeout = 2 * time.Minute

type sendOptions struct {
	server  string
	token   string
	title   string
	message string
	userID  string
	url     string
	tag     string
	async   bool
}

type sendRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	UserID  string `json:"userId,omitempty"`
	URL     string `json:"url,omitempty"`
	Tag     string `json:"tag,omitempty"`
	Async   bool   `json:"async,omitempty"`
}

type sendResponse struct {
	Message string `json:"message"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Total   int    `json:"total"`
	Queued  bool   `json:"queued"`
	JobID   string `json:"jobId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newSendCommand() *cobra.Command {
	opts := sendOptions{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Dispatch a notification through the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.token == "" {
				opts.token = os.Getenv("PUSHCTL_TOKEN")
			}
			client := newAdminClient(opts.server, opts.token)

			var (
				out    sendResponse
				failed errorResponse
			)
			resp, err := client.R().
				SetContext(cmd.Context()).
				SetBody(sendRequest{
					Title:   opts.title,
					Message: opts.message,
					UserID:  opts.userID,
					URL:     opts.url,
					Tag:     opts.tag,
					Async:   opts.async,
				}).
				SetResult(&out).
				SetError(&failed).
				Post("/admin/send-notification")
			if err != nil {
				return fmt.Errorf("send request failed: %w", err)
			}
			if resp.IsError() {
				return fmt.Errorf("server rejected send (%d): %s", resp.StatusCode(), failed.Error)
			}

			w := cmd.OutOrStdout()
			if out.Queued {
				fmt.Fprintf(w, "queued job %s\n", out.JobID)
				return nil
			}
			fmt.Fprintf(w, "%s: sent=%d failed=%d total=%d\n", out.Message, out.Sent, out.Failed, out.Total)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.server, "server", "http://localhost:8080/api", "push-engine API base URL")
	flags.StringVar(&opts.token, "token", "", "admin bearer token (defaults to $PUSHCTL_TOKEN)")
	flags.StringVar(&opts.title, "title", "", "notification title")
	flags.StringVar(&opts.message, "message", "", "notification body")
	flags.StringVar(&opts.userID, "user", "all", "target user identity or \"all\"")
	flags.StringVar(&opts.url, "url", "", "click-through URL")
	flags.StringVar(&opts.tag, "tag", "", "delivery tag, generated when empty")
	flags.BoolVar(&opts.async, "async", false, "queue the dispatch instead of waiting for the fan-out")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("message")

	return cmd
}

func newAdminClient(server, token string) *resty.Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(server, "/")).
		SetTimeout(sendTimeout).
		SetHeader("Content-Type", "application/json")
	client.SetJSONMarshaler(json.Marshal)
	client.SetJSONUnmarshaler(json.Unmarshal)
	if token = strings.TrimSpace(token); token != "" {
		client.SetAuthToken(token)
	}
	return client
}
