package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/matheus3301/chatsync/internal/admin"
	"github.com/matheus3301/chatsync/internal/instance"
	"github.com/matheus3301/chatsync/internal/lock"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	name := instance.Resolve(*instanceFlag)
	if err := instance.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// status only reads the lock file and works with the daemon down.
	if args[0] == "status" {
		cmdStatus(name, *jsonFlag)
		return
	}

	socketPath := instance.SocketPath(name)
	c, err := admin.Dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for instance %q: %v\n", name, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "simulate-disconnect":
		cmdSimulateDisconnect(ctx, c, *jsonFlag)
	case "stats":
		cmdStats(ctx, c, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: syncctl [--instance <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status               Show whether the daemon holds the instance lock")
	fmt.Fprintln(os.Stderr, "  stats                Show daemon counters")
	fmt.Fprintln(os.Stderr, "  simulate-disconnect  Drop every client websocket")
}

func cmdStatus(name string, jsonOut bool) {
	pid, held, err := lock.Probe(instance.Dir(name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(map[string]any{"instance": name, "running": held, "pid": pid})
		return
	}
	fmt.Printf("Instance: %s\n", name)
	if held {
		fmt.Printf("Daemon:   running (pid %d)\n", pid)
	} else {
		fmt.Println("Daemon:   stopped")
	}
}

func cmdSimulateDisconnect(ctx context.Context, c *admin.Client, jsonOut bool) {
	n, err := c.SimulateDisconnect(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(map[string]any{"disconnected": n})
		return
	}
	fmt.Printf("Disconnected %d client(s)\n", n)
}

func cmdStats(ctx context.Context, c *admin.Client, jsonOut bool) {
	stats, err := c.GetStats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(stats)
		return
	}
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-16s %s\n", k+":", formatValue(stats[k]))
	}
}

// formatValue prints whole numbers without an exponent; protobuf structs
// carry every number as a float64.
func formatValue(v any) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(v)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
