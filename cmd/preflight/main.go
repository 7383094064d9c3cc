// cmd/preflight/main.go
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/config"
	"github.com/hamed0406/apimonitor/internal/probe"
	"github.com/hamed0406/apimonitor/internal/repo/filereg"
)

func main() {
	_ = godotenv.Load()

	failed := false
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		failed = true
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	admin := strings.TrimSpace(os.Getenv("ADMIN_API_KEYS"))
	pub := strings.TrimSpace(os.Getenv("PUBLIC_API_KEYS"))
	if admin == "" {
		fail("ADMIN_API_KEYS is empty (POST /api/monitor/run will be open to anyone).")
	}
	if pub == "" {
		warn("PUBLIC_API_KEYS is empty; read routes accept admin keys only.")
	}
	for name, v := range map[string]string{"ADMIN_API_KEYS": admin, "PUBLIC_API_KEYS": pub} {
		if strings.Contains(v, " ") {
			warn(name + " contains spaces; use comma-separated with no spaces, e.g. key1,key2")
		}
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	ok("config valid (env=" + cfg.Env + ", addr=" + cfg.Addr + ")")

	switch cfg.Storage.Driver {
	case "memory":
		warn("storage.driver=memory; probe records are lost on restart.")
	case "postgres":
		ok("DATABASE_URL present")
	default:
		ok("storage.driver=" + cfg.Storage.Driver)
	}

	if len(cfg.API.AllowedOrigins) == 0 {
		warn("ALLOWED_ORIGINS empty; CORS allows every origin.")
	} else {
		ok("ALLOWED_ORIGINS=" + strings.Join(cfg.API.AllowedOrigins, ","))
	}

	if cfg.Scheduler.Interval == 0 {
		warn("scheduler.interval=0; only manual sweeps will run.")
	}

	if path := cfg.Registry.EndpointsFile; path != "" {
		checkEndpoints(path, ok, warn, fail)
	} else if cfg.Registry.Source == "store" {
		warn("no endpoints file; the registry starts with whatever the store already holds.")
	}

	if failed {
		os.Exit(1)
	}
	ok("preflight passed")
}

// checkEndpoints parses the endpoints file and resolves every host so a
// typo'd hostname shows up before the first sweep.
func checkEndpoints(path string, ok, warn, fail func(string)) {
	eps, err := filereg.Load(path, zap.NewNop())
	if err != nil {
		fail(err.Error())
		return
	}
	if len(eps) == 0 {
		warn(path + " has no valid endpoints")
		return
	}
	ok(fmt.Sprintf("%s: %d endpoints", path, len(eps)))

	for _, ep := range eps {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		res := probe.ResolveEndpointHost(ctx, net.DefaultResolver, ep.URL)
		cancel()

		switch res.Class {
		case probe.DNSResolves, probe.DNSLiteralIP:
			ok(fmt.Sprintf("%s: %s resolves (%d addrs)", ep.Name, res.Host, len(res.IPs)))
		case probe.DNSUnavailable:
			warn(fmt.Sprintf("%s: %s did not resolve (%s), try again later", ep.Name, res.Host, res.Err))
		default:
			fail(fmt.Sprintf("%s: %s is %s", ep.Name, res.Host, res.Class))
		}
	}
}
