// Package askcsvctl implements the askcsv command-line client. Every command
// maps onto one HTTP API route, except ask which chains generate, run and
// answer the way the web client does.
package askcsvctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// httpError is returned for responses with status >= 400.
type httpError struct {
	StatusCode int
	Body       []byte
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// usageError marks flag and argument mistakes, which exit with status 2.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type runner struct {
	defaults Options
	stdout   io.Writer
	stderr   io.Writer

	baseURL    string
	apiKey     string
	timeout    time.Duration
	jsonOutput bool
}

// Run executes one command and returns the process exit code: 0 on success,
// 1 when the request failed and 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	r := &runner{defaults: defaults, stdout: defaults.Stdout, stderr: defaults.Stderr}
	if r.stdout == nil {
		r.stdout = io.Discard
	}
	if r.stderr == nil {
		r.stderr = io.Discard
	}

	root := r.rootCommand()
	if args == nil {
		// cobra falls back to os.Args for a nil slice.
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var usage *usageError
	if errors.As(err, &usage) || isCobraUsageError(err) {
		_, _ = fmt.Fprintf(r.stderr, "%v\n\n", err)
		_, _ = fmt.Fprint(r.stderr, root.UsageString())
		return 2
	}
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		_, _ = fmt.Fprintln(r.stderr, httpErr.Error())
		return 1
	}
	_, _ = fmt.Fprintf(r.stderr, "request failed: %v\n", err)
	return 1
}

func (r *runner) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "askcsvctl",
		Short:         "Ask questions about an uploaded CSV or Parquet dataset",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return &usageError{err: errors.New("a command is required")}
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	flags := root.PersistentFlags()
	flags.StringVar(&r.baseURL, "base-url", firstNonEmpty(r.defaults.BaseURL, defaultBaseURL), "askcsv API base URL")
	flags.StringVar(&r.apiKey, "api-key", r.defaults.APIKey, "API key for authenticated requests")
	flags.DurationVar(&r.timeout, "timeout", durationOr(r.defaults.Timeout, defaultTimeout), "HTTP timeout (e.g. 30s)")
	flags.BoolVar(&r.jsonOutput, "json", false, "print raw JSON responses")

	root.AddCommand(
		r.statusCommand("health", "/v1/health"),
		r.statusCommand("ready", "/v1/ready"),
		r.uploadCommand(),
		r.importCommand(),
		r.objectsCommand(),
		r.schemaCommand(),
		r.generateCommand(),
		r.refineCommand(),
		r.runCommand(),
		r.answerCommand(),
		r.askCommand(),
	)
	return root
}

func (r *runner) client() *client {
	httpClient := r.defaults.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: r.timeout}
	}
	return &client{baseURL: strings.TrimRight(r.baseURL, "/"), apiKey: r.apiKey, http: httpClient}
}

func (r *runner) statusCommand(name, path string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: "GET " + path,
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := r.client().getJSON(cmd.Context(), path)
			if err != nil {
				return err
			}
			return r.printJSON(body)
		},
	}
}

func (r *runner) uploadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Replace the dataset with a local CSV or Parquet file",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := r.client().upload(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if r.jsonOutput {
				return r.printJSON(body)
			}
			return r.printLoad(body)
		},
	}
}

func (r *runner) importCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <object-key>",
		Short: "Replace the dataset with an object from the configured bucket",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := r.client().postJSON(cmd.Context(), "/v1/dataset/import", map[string]any{"object_key": args[0]})
			if err != nil {
				return err
			}
			if r.jsonOutput {
				return r.printJSON(body)
			}
			return r.printLoad(body)
		},
	}
}

func (r *runner) objectsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "objects",
		Short: "List objects that can be imported",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := r.client().getJSON(cmd.Context(), "/v1/dataset/objects")
			if err != nil {
				return err
			}
			if r.jsonOutput {
				return r.printJSON(body)
			}
			return r.printObjects(body)
		},
	}
}

func (r *runner) schemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Show the columns of uploaded_data",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := r.client().getJSON(cmd.Context(), "/v1/schema")
			if err != nil {
				return err
			}
			if r.jsonOutput {
				return r.printJSON(body)
			}
			return r.printSchema(body)
		},
	}
}

func (r *runner) generateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <question>",
		Short: "Generate a query for a question",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := r.client().postJSON(cmd.Context(), "/v1/query/generate", map[string]any{"question": strings.Join(args, " ")})
			if err != nil {
				return err
			}
			return r.printCandidate(body)
		},
	}
}

func (r *runner) refineCommand() *cobra.Command {
	var question, previous, feedback string
	cmd := &cobra.Command{
		Use:   "refine",
		Short: "Revise a previous query using feedback",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := r.client().postJSON(cmd.Context(), "/v1/query/refine", map[string]any{
				"question":       question,
				"previous_query": previous,
				"feedback":       feedback,
			})
			if err != nil {
				return err
			}
			return r.printCandidate(body)
		},
	}
	cmd.Flags().StringVar(&question, "question", "", "original question")
	cmd.Flags().StringVar(&previous, "previous", "", "query or response to revise")
	cmd.Flags().StringVar(&feedback, "feedback", "", "what should change")
	for _, name := range []string{"question", "previous", "feedback"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (r *runner) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <sql>",
		Short: "Execute a query against uploaded_data",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := r.client().postJSON(cmd.Context(), "/v1/query", map[string]any{"sql": strings.Join(args, " ")})
			if err != nil {
				return err
			}
			if r.jsonOutput {
				return r.printJSON(body)
			}
			return r.printResult(body)
		},
	}
}

func (r *runner) answerCommand() *cobra.Command {
	var question, result string
	cmd := &cobra.Command{
		Use:   "answer",
		Short: "Describe a query result in prose",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := r.client().postJSON(cmd.Context(), "/v1/answer", map[string]any{
				"question": question,
				"result":   resultPayload(result),
			})
			if err != nil {
				return err
			}
			return r.printAnswer(body)
		},
	}
	cmd.Flags().StringVar(&question, "question", "", "question the result answers")
	cmd.Flags().StringVar(&result, "result", "", "result as JSON or plain text")
	for _, name := range []string{"question", "result"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// askCommand runs generate, run and answer in sequence. It stops at the first
// failing step; nothing is retried or refined automatically.
func (r *runner) askCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Generate a query, run it and describe the result",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := r.client()
			question := strings.Join(args, " ")

			generated, err := c.postJSON(ctx, "/v1/query/generate", map[string]any{"question": question})
			if err != nil {
				return err
			}
			var candidate struct {
				SQL string `json:"sql_query"`
			}
			if err := json.Unmarshal(generated, &candidate); err != nil {
				return fmt.Errorf("decode generate response: %w", err)
			}

			executed, err := c.postJSON(ctx, "/v1/query", map[string]any{"sql": candidate.SQL})
			if err != nil {
				return err
			}
			var result struct {
				Result json.RawMessage `json:"result"`
			}
			if err := json.Unmarshal(executed, &result); err != nil {
				return fmt.Errorf("decode query response: %w", err)
			}

			answered, err := c.postJSON(ctx, "/v1/answer", map[string]any{"question": question, "result": result.Result})
			if err != nil {
				return err
			}

			if r.jsonOutput {
				combined := map[string]json.RawMessage{"query": generated, "result": executed, "answer": answered}
				raw, err := json.Marshal(combined)
				if err != nil {
					return err
				}
				return r.printJSON(raw)
			}
			if err := r.printCandidate(generated); err != nil {
				return err
			}
			if err := r.printResult(executed); err != nil {
				return err
			}
			return r.printAnswer(answered)
		},
	}
}

func (c *client) getJSON(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, "", nil)
}

func (c *client) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(body))
}

func (c *client) upload(ctx context.Context, filePath string) ([]byte, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer func() { _ = file.Close() }()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, "/v1/dataset", writer.FormDataContentType(), &body)
}

func (c *client) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, &httpError{StatusCode: resp.StatusCode, Body: responseBody}
	}
	return responseBody, nil
}

// resultPayload sends JSON input as is and anything else as a JSON string.
func resultPayload(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	return raw
}

func noArgs(_ *cobra.Command, args []string) error {
	if len(args) != 0 {
		return &usageError{err: fmt.Errorf("unexpected arguments: %s", strings.Join(args, " "))}
	}
	return nil
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			return &usageError{err: fmt.Errorf("expected %d argument(s), got %d", n, len(args))}
		}
		return nil
	}
}

func minArgs(n int) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) < n {
			return &usageError{err: fmt.Errorf("expected at least %d argument(s), got %d", n, len(args))}
		}
		return nil
	}
}

// isCobraUsageError catches the errors cobra builds itself, such as unknown
// commands and missing required flags.
func isCobraUsageError(err error) bool {
	message := err.Error()
	return strings.HasPrefix(message, "unknown command") ||
		strings.HasPrefix(message, "required flag") ||
		strings.HasPrefix(message, "unknown flag") ||
		strings.HasPrefix(message, "unknown shorthand flag")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
