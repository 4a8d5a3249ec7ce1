package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kbukum/fetchkit/httpclient"
)

type getOptions struct {
	method  string
	headers []string
	params  []string
	data    string
	json    bool
	include bool
	fail    bool
	timeout time.Duration
}

func newGetCmd(root *rootOptions) *cobra.Command {
	o := &getOptions{}
	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Send a single request and print the response body",
		Long: `Send a single request and print the response body to stdout.

Examples:
  fetchctl get https://api.example.com/users
  fetchctl get https://api.example.com/users -H 'Accept: application/json' -i
  fetchctl get https://api.example.com/users -X POST --json -d '{"name":"ada"}'
  fetchctl get https://api.example.com/upload -d @payload.bin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.run(cmd, func(ctx context.Context, a *app) error {
				return runGet(ctx, a, o, args[0])
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.method, "request", "X", "", "Request method (default GET, or POST with --data)")
	f.StringArrayVarP(&o.headers, "header", "H", nil, "Request header 'Name: value' (repeatable)")
	f.StringArrayVarP(&o.params, "param", "p", nil, "Query parameter key=value (repeatable)")
	f.StringVarP(&o.data, "data", "d", "", "Request body, or @file to read it from a file")
	f.BoolVar(&o.json, "json", false, "Send the body as application/json")
	f.BoolVarP(&o.include, "include", "i", false, "Print the status line and response headers")
	f.BoolVarP(&o.fail, "fail", "f", false, "Exit non-zero on 4xx/5xx responses")
	f.DurationVar(&o.timeout, "timeout", 0, "Transfer timeout (overrides config)")
	return cmd
}

// requestOptions converts the flags into per-request session options.
func (o *getOptions) requestOptions() ([]httpclient.Option, error) {
	var opts []httpclient.Option
	for _, h := range o.headers {
		name, value, err := parseHeader(h)
		if err != nil {
			return nil, err
		}
		opts = append(opts, httpclient.AddHeader(name, value))
	}
	for _, p := range o.params {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q, want key=value", p)
		}
		opts = append(opts, httpclient.AddParameter(key, value))
	}

	body, err := o.body()
	if err != nil {
		return nil, err
	}
	if body != nil {
		if o.json {
			if !json.Valid(body) {
				return nil, errors.New("--json body is not valid JSON")
			}
			opts = append(opts, httpclient.WithHeader("Content-Type", "application/json"))
		}
		opts = append(opts, httpclient.WithBody(body))
	}
	if o.timeout > 0 {
		opts = append(opts, httpclient.WithTimeout(o.timeout))
	}
	return opts, nil
}

func (o *getOptions) body() ([]byte, error) {
	if o.data == "" {
		return nil, nil
	}
	if path, ok := strings.CutPrefix(o.data, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return b, nil
	}
	return []byte(o.data), nil
}

func (o *getOptions) requestMethod() string {
	switch {
	case o.method != "":
		return strings.ToUpper(o.method)
	case o.data != "":
		return http.MethodPost
	default:
		return http.MethodGet
	}
}

func parseHeader(h string) (string, string, error) {
	name, value, ok := strings.Cut(h, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", "", fmt.Errorf("invalid header %q, want 'Name: value'", h)
	}
	return name, strings.TrimSpace(value), nil
}

func runGet(ctx context.Context, a *app, o *getOptions, rawURL string) error {
	opts, err := o.requestOptions()
	if err != nil {
		return exitWith(ExitUsageError, err)
	}
	s, err := a.newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	resp, err := s.ExecuteWith(ctx, o.requestMethod(), rawURL, opts...)
	if err != nil {
		return exitWith(ExitUsageError, err)
	}
	return a.printResponse(resp, o.include, o.fail)
}

func (a *app) printResponse(resp *httpclient.Response, include, fail bool) error {
	req := resp.Request()
	if e := resp.Err(); e != nil {
		color.New(color.FgRed).Fprintf(a.errOut, "%s %s failed: %v\n", req.Method, req.URL, e)
		return exitWith(ExitNetworkError, nil)
	}

	code := resp.StatusCode()
	if include {
		proto := resp.Proto()
		if proto == "" {
			proto = "HTTP/1.1"
		}
		statusColor(code).Fprintf(a.out, "%s %d %s\n", proto, code, http.StatusText(code))
		for _, f := range resp.Header() {
			fmt.Fprintf(a.out, "%s: %s\n", f.Name, f.Value)
		}
		fmt.Fprintln(a.out)
	}
	if _, err := a.out.Write(resp.Body()); err != nil {
		return err
	}

	if fail && resp.IsError() {
		return exitWith(ExitRequestFailure, fmt.Errorf("%s %s returned %d", req.Method, req.URL, code))
	}
	return nil
}
