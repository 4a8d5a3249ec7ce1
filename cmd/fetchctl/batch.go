package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/kbukum/fetchkit/httpclient"
	"github.com/kbukum/fetchkit/interceptor"
	"github.com/kbukum/fetchkit/logger"
	"github.com/kbukum/fetchkit/transport"
	"github.com/kbukum/fetchkit/validation"
)

// BatchFile is the YAML document read by "fetchctl batch".
//
//	defaults:
//	  headers:
//	    Accept: application/json
//	requests:
//	  - name: users
//	    url: https://api.example.com/users
//	  - name: create
//	    method: POST
//	    url: https://api.example.com/users
//	    json: {name: ada}
type BatchFile struct {
	Defaults BatchDefaults  `yaml:"defaults"`
	Requests []BatchRequest `yaml:"requests" validate:"min=1,dive"`
}

// BatchDefaults apply to every request in the file.
type BatchDefaults struct {
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout" validate:"gte=0"`
}

// BatchRequest is one transfer of a batch.
type BatchRequest struct {
	Name    string            `yaml:"name"`
	Method  string            `yaml:"method"`
	URL     string            `yaml:"url" validate:"required,url"`
	Headers map[string]string `yaml:"headers"`
	Params  map[string]string `yaml:"params"`
	Body    string            `yaml:"body"`
	JSON    any               `yaml:"json"`
	Timeout time.Duration     `yaml:"timeout" validate:"gte=0"`
}

// parseBatch decodes and validates a batch file. Unnamed requests are
// called request-N and the method defaults to GET.
func parseBatch(r io.Reader) (*BatchFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var bf BatchFile
	if err := dec.Decode(&bf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("batch file is empty")
		}
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	if err := validation.Validate(&bf); err != nil {
		return nil, err
	}

	v := validation.New()
	for name := range bf.Defaults.Headers {
		v.Required("defaults.headers", strings.TrimSpace(name))
	}
	seen := make(map[string]bool, len(bf.Requests))
	for i := range bf.Requests {
		req := &bf.Requests[i]
		field := fmt.Sprintf("requests[%d]", i)
		if req.Name == "" {
			req.Name = fmt.Sprintf("request-%d", i+1)
		}
		v.Custom(!seen[req.Name], field+".name", fmt.Sprintf("duplicate name %q", req.Name))
		seen[req.Name] = true

		req.Method = strings.ToUpper(req.Method)
		if req.Method == "" {
			req.Method = http.MethodGet
		}
		v.OneOf(field+".method", req.Method, batchMethods)
		v.Custom(req.Body == "" || req.JSON == nil, field, "sets both body and json")
		for name := range req.Headers {
			v.Required(field+".headers", strings.TrimSpace(name))
		}
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return &bf, nil
}

var batchMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// options builds the session options for req on top of the file defaults.
func (req *BatchRequest) options(d BatchDefaults) ([]httpclient.Option, error) {
	var opts []httpclient.Option
	for _, h := range []map[string]string{d.Headers, req.Headers} {
		for _, name := range sortedNames(h) {
			opts = append(opts, httpclient.WithHeader(name, h[name]))
		}
	}
	for _, key := range sortedNames(req.Params) {
		opts = append(opts, httpclient.AddParameter(key, req.Params[key]))
	}

	switch {
	case req.JSON != nil:
		body, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("request %q: encode json: %w", req.Name, err)
		}
		opts = append(opts, httpclient.WithHeader("Content-Type", "application/json"), httpclient.WithBody(body))
	case req.Body != "":
		opts = append(opts, httpclient.WithBody([]byte(req.Body)))
	}

	timeout := d.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	if timeout > 0 {
		opts = append(opts, httpclient.WithTimeout(timeout))
	}
	return opts, nil
}

// batchResult is the outcome of one batch request.
type batchResult struct {
	Name     string        `json:"name"`
	Method   string        `json:"method"`
	URL      string        `json:"url"`
	Status   int           `json:"status,omitempty"`
	Bytes    int           `json:"bytes"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
}

func (r batchResult) failed(failOnStatus bool) bool {
	return r.Error != "" || (failOnStatus && r.Status >= 400)
}

type batchOptions struct {
	timeout time.Duration
	fail    bool
	output  string
}

func newBatchCmd(root *rootOptions) *cobra.Command {
	o := &batchOptions{}
	cmd := &cobra.Command{
		Use:   "batch <file.yml>",
		Short: "Run a YAML file of requests concurrently",
		Long: `Run every request in a YAML batch file concurrently on one multiplexer
and print a summary line per request.

Examples:
  fetchctl batch requests.yml
  fetchctl batch requests.yml --timeout 10s --fail
  fetchctl batch requests.yml -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return exitWith(ExitParseError, err)
			}
			bf, err := parseBatch(f)
			_ = f.Close()
			if err != nil {
				return exitWith(ExitParseError, fmt.Errorf("%s: %w", args[0], err))
			}
			if o.output != "console" && o.output != "json" {
				return exitWith(ExitUsageError, fmt.Errorf("unknown output %q", o.output))
			}
			return root.run(cmd, func(ctx context.Context, a *app) error {
				return runBatch(ctx, a, bf, o)
			})
		},
	}
	f := cmd.Flags()
	f.DurationVar(&o.timeout, "timeout", 0, "Deadline for the whole batch")
	f.BoolVarP(&o.fail, "fail", "f", false, "Exit non-zero when any request gets a 4xx/5xx")
	f.StringVarP(&o.output, "output", "o", "console", "Output format: console, json")
	return cmd
}

func runBatch(ctx context.Context, a *app, bf *BatchFile, o *batchOptions) error {
	results, err := performBatch(ctx, a, bf, o.timeout)
	if err != nil {
		return err
	}

	if o.output == "json" {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		printBatch(a.out, results)
	}

	var networkFailed, statusFailed int
	for _, r := range results {
		switch {
		case r.Error != "":
			networkFailed++
		case r.failed(o.fail):
			statusFailed++
		}
	}
	switch {
	case networkFailed > 0:
		return exitWith(ExitNetworkError, fmt.Errorf("%d of %d requests failed", networkFailed+statusFailed, len(results)))
	case statusFailed > 0:
		return exitWith(ExitRequestFailure, fmt.Errorf("%d of %d requests returned an error status", statusFailed, len(results)))
	}
	return nil
}

// performBatch registers one session per request on a MultiPerform engine
// and runs them together. A positive timeout bounds the whole run.
//
// MultiPerform drives handles directly, so session interceptors never see
// these transfers. The configured rate limit paces transfer starts through
// the multiplexer, and failed transfers are restarted in rounds following
// the retry policy.
func performBatch(ctx context.Context, a *app, bf *BatchFile, timeout time.Duration) ([]batchResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	multiOpts := []httpclient.MultiOption{httpclient.WithMultiLogger(a.log)}
	if a.limiter != nil {
		multiOpts = append(multiOpts, httpclient.WithMultiplexer(&pacedMux{
			Multiplexer: transport.NewMultiplexer(),
			limiter:     a.limiter,
		}))
	}
	mp := httpclient.NewMultiPerform(multiOpts...)
	log := a.log.WithComponent("batch").WithFields(logger.Fields(logger.FieldEngineID, mp.ID()))

	sessions := make([]*httpclient.Session, 0, len(bf.Requests))
	defer func() {
		for _, s := range sessions {
			_ = s.Close()
		}
	}()

	tokens := make([]httpclient.Token, len(bf.Requests))
	for i := range bf.Requests {
		req := &bf.Requests[i]
		opts, err := req.options(bf.Defaults)
		if err != nil {
			return nil, exitWith(ExitParseError, err)
		}
		s, err := a.newSession(opts...)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)

		name := req.Name
		tokens[i], err = mp.Add(s, req.Method, req.URL, httpclient.Callbacks{
			OnError: func(e *httpclient.Error) {
				log.Debug("transfer failed", logger.Fields("name", name, "code", e.Code.String()))
			},
		})
		if err != nil {
			return nil, exitWith(ExitParseError, fmt.Errorf("request %q: %w", req.Name, err))
		}
	}

	log.Info("batch started", logger.Fields("requests", len(bf.Requests)))
	attempts, err := runRounds(ctx, mp, tokens, a.retryConfig())
	if err != nil {
		log.Warn("batch interrupted", logger.ErrorFields("perform", err))
	}

	results := make([]batchResult, len(bf.Requests))
	for i, req := range bf.Requests {
		results[i] = batchResult{Name: req.Name, Method: req.Method, URL: req.URL, Attempts: attempts[i]}
		resp := mp.Response(tokens[i])
		if resp == nil {
			results[i].Error = "no response"
			continue
		}
		results[i].Elapsed = resp.Elapsed()
		if e := resp.Err(); e != nil {
			results[i].Error = e.Error()
			continue
		}
		results[i].Status = resp.StatusCode()
		results[i].Bytes = resp.Size()
	}
	return results, nil
}

// runRounds performs every transfer, then restarts the ones rc wants
// retried after the next backoff delay, until none are left or attempts
// run out. It returns the attempt count per token.
func runRounds(ctx context.Context, mp *httpclient.MultiPerform, tokens []httpclient.Token, rc interceptor.RetryConfig) ([]int, error) {
	attempts := make([]int, len(tokens))
	for i := range attempts {
		attempts[i] = 1
	}
	b := rc.NewBackOff()
	for {
		if err := mp.Run(ctx); err != nil {
			return attempts, err
		}

		var again []int
		var last *httpclient.Response
		for i, tok := range tokens {
			resp := mp.Response(tok)
			if resp != nil && attempts[i] < rc.MaxAttempts && rc.ShouldRetry(resp) {
				again = append(again, i)
				last = resp
			}
		}
		if len(again) == 0 {
			return attempts, nil
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return attempts, nil
		}
		if rc.OnRetry != nil {
			rc.OnRetry(attempts[again[0]], last, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempts, ctx.Err()
		}
		for _, i := range again {
			if err := mp.Restart(tokens[i]); err != nil {
				return attempts, err
			}
			attempts[i]++
		}
	}
}

// pacedMux holds every transfer start until the limiter allows it.
type pacedMux struct {
	transport.Multiplexer
	limiter *rate.Limiter
}

func (m *pacedMux) Add(ctx context.Context, h transport.Handle) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	return m.Multiplexer.Add(ctx, h)
}

func printBatch(w io.Writer, results []batchResult) {
	width := 4
	for _, r := range results {
		width = max(width, len(r.Name))
	}
	red := color.New(color.FgRed).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	var ok int
	for _, r := range results {
		name := fmt.Sprintf("%-*s", width, r.Name)
		if r.Error != "" {
			fmt.Fprintf(w, "%s  %s  %s\n", name, red("ERR"), r.Error)
			continue
		}
		if r.Status < 400 {
			ok++
		}
		status := statusColor(r.Status).Sprintf("%d", r.Status)
		fmt.Fprintf(w, "%s  %s  %-7s %s  %s\n", name, status, r.Method, dim(formatElapsed(r.Elapsed)), dim(formatBytes(r.Bytes)))
	}
	fmt.Fprintf(w, "\n%d/%d succeeded\n", ok, len(results))
}

func formatElapsed(d time.Duration) string {
	if d < time.Millisecond {
		return d.Round(time.Microsecond).String()
	}
	return d.Round(time.Millisecond).String()
}

func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
