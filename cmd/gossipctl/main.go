// Command gossipctl is a thin CLI client against a running agent's debug
// HTTP endpoints.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Donaldhan/incubator-retired-gossip/pkg/tracing"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:18080", "agent debug HTTP address")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: gossipctl [-addr host:port] <members|dead|self|shared KEY|pernode NODE KEY>")
		os.Exit(2)
	}

	var path string
	switch cmd := flag.Arg(0); cmd {
	case "members":
		path = "/v1/members/live"
	case "dead":
		path = "/v1/members/dead"
	case "self":
		path = "/v1/self"
	case "shared":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "usage: gossipctl shared KEY")
			os.Exit(2)
		}
		path = "/v1/data/shared/" + flag.Arg(1)
	case "pernode":
		if flag.NArg() < 3 {
			fmt.Fprintln(os.Stderr, "usage: gossipctl pernode NODE KEY")
			os.Exit(2)
		}
		path = "/v1/data/pernode/" + flag.Arg(1) + "/" + flag.Arg(2)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(2)
	}

	_, span := otel.Tracer(tracing.TracerCLI).Start(context.Background(), tracing.SpanCLIStatus)
	span.SetAttributes(attribute.String("gossipctl.command", flag.Arg(0)), attribute.String("gossipctl.path", path))
	defer span.End()

	resp, err := http.Get(fmt.Sprintf("http://%s%s", *addr, path))
	if err != nil {
		fmt.Fprintln(os.Stderr, "request failed:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read failed:", err)
		os.Exit(1)
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "%s: %s\n", resp.Status, body)
		os.Exit(1)
	}

	var pretty any
	if err := json.Unmarshal(body, &pretty); err == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
		return
	}
	fmt.Println(string(body))
}
