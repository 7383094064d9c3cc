package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const usage = `usage: apimonitor-cli [flags] <command> [args]

commands:
  endpoints              list registered endpoints
  records                list raw probe records (-name, -from, -to)
  summary                summary over a window (-name, -from, -to)
  detailed               per-endpoint reports over a window (-from, -to)
  report <id>            report for one registered endpoint (-from, -to)
  run                    trigger a sweep (admin key)
`

type client struct {
	base string
	key  string
	http *http.Client
}

func main() {
	fs := flag.NewFlagSet("apimonitor-cli", flag.ExitOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage); fs.PrintDefaults() }

	base := fs.String("api", envOr("API_BASE", "http://localhost:8080"), "API base URL")
	key := fs.String("key", os.Getenv("API_KEY"), "API key sent as X-API-Key")
	name := fs.String("name", "", "endpoint name filter (summary, records)")
	from := fs.String("from", "", "window start, RFC 3339")
	to := fs.String("to", "", "window end, RFC 3339")
	since := fs.Duration("since", 0, "shorthand for -from now-since")
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}
	if *since > 0 && *from == "" {
		*from = time.Now().UTC().Add(-*since).Format(time.RFC3339)
	}

	c := &client{base: strings.TrimRight(*base, "/"), key: *key, http: &http.Client{Timeout: 30 * time.Second}}
	q := url.Values{}
	setIf(q, "from", *from)
	setIf(q, "to", *to)

	var err error
	switch cmd := fs.Arg(0); cmd {
	case "endpoints":
		err = c.get("/api/monitor/endpoints", nil)
	case "records":
		setIf(q, "apiName", *name)
		err = c.get("/api/metrics", q)
	case "summary":
		setIf(q, "apiName", *name)
		err = c.get("/api/reports/summary", q)
	case "detailed":
		err = c.get("/api/reports/detailed", q)
	case "report":
		if fs.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "report needs an endpoint id")
			os.Exit(2)
		}
		err = c.get("/api/reports/endpoints/"+url.PathEscape(fs.Arg(1)), q)
	case "run":
		err = c.post("/api/monitor/run")
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fs.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (c *client) get(path string, q url.Values) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req)
}

func (c *client) post(path string) error {
	req, err := http.NewRequest(http.MethodPost, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req)
}

func (c *client) do(req *http.Request) error {
	if c.key != "" {
		req.Header.Set("X-API-Key", c.key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contacting API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if json.Indent(&out, body, "", "  ") != nil {
		out.Reset()
		out.Write(body)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API returned %s: %s", resp.Status, strings.TrimSpace(out.String()))
	}
	fmt.Println(strings.TrimSpace(out.String()))
	return nil
}

func setIf(q url.Values, k, v string) {
	if v != "" {
		q.Set(k, v)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
