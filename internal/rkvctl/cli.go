// Package rkvctl implements the rkvctl command-line tool: a thin
// consumer of the clusterconn public surface, in the shape of the
// teacher's internal/cli package (flag.NewFlagSet per subcommand,
// Execute returning a process exit code).
package rkvctl

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"redicore/internal/clusterconn"
	"redicore/internal/cmdinfo"
	"redicore/internal/config"
	"redicore/internal/logging"
	"redicore/internal/nodeconn"
	"redicore/internal/router"
	"redicore/internal/rpipeline"
	"redicore/internal/topology"
)

// Execute dispatches CLI subcommands.
func Execute(args []string) int {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("[rkvctl] ")

	if len(args) == 0 {
		printUsage()
		return 1
	}

	switch args[0] {
	case "topology":
		return runTopology(args[1:])
	case "ping":
		return runPing(args[1:])
	case "bench":
		return runBench(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return 0
	case "version", "--version", "-v":
		fmt.Println("rkvctl 0.1.0-dev")
		return 0
	default:
		log.Printf("unknown subcommand: %s", args[0])
		printUsage()
		return 1
	}
}

// connectFromSeed reaches the seed address directly (bypassing the
// cluster's node table, which doesn't exist yet), fetches CLUSTER SLOTS
// from it, and then opens a full Connection against the discovered map.
func connectFromSeed(seed string, readOnly bool) (*clusterconn.Connection, error) {
	host, port, err := splitSeed(seed)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := *config.Default()
	cfg.ReadOnly = readOnly

	transport, err := clusterconn.DialTCP(ctx, host, port, cfg.NodeRequestDeadline)
	if err != nil {
		return nil, fmt.Errorf("failed to reach seed %s: %w", seed, err)
	}
	seedID := topology.NodeID(seed)
	seedConn := nodeconn.New(seedID, seed, transport)
	initial, err := clusterconn.FetchShardMap(seedConn)
	_ = seedConn.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch topology from seed %s: %w", seed, err)
	}

	return clusterconn.Connect(ctx, clusterconn.ConnectOptions{
		Seed:            clusterconn.DialTCP,
		Commands:        cmdinfo.Default(),
		InitialShardMap: initial,
		Config:          cfg,
		RefreshShardMap: clusterconn.FetchShardMap,
		Sink:            logging.Default(),
	})
}

func runTopology(args []string) int {
	fs := flag.NewFlagSet("topology", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	var seed string
	fs.StringVar(&seed, "seed", "", "seed node address (host:port)")
	if err := fs.Parse(args); err != nil {
		return errExitCode(err)
	}
	if seed == "" {
		log.Println("the --seed flag is required")
		fs.Usage()
		return 2
	}

	conn, err := connectFromSeed(seed, false)
	if err != nil {
		log.Printf("connect failed: %v", err)
		return 1
	}
	defer conn.Disconnect()

	fmt.Println(conn.ShardMap().String())
	return 0
}

func runPing(args []string) int {
	fs := flag.NewFlagSet("ping", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	var seed string
	var n int
	fs.StringVar(&seed, "seed", "", "seed node address (host:port)")
	fs.IntVar(&n, "n", 1, "number of PING rounds to send to every master")
	if err := fs.Parse(args); err != nil {
		return errExitCode(err)
	}
	if seed == "" {
		log.Println("the --seed flag is required")
		fs.Usage()
		return 2
	}

	conn, err := connectFromSeed(seed, false)
	if err != nil {
		log.Printf("connect failed: %v", err)
		return 1
	}
	defer conn.Disconnect()

	start := time.Now()
	for i := 0; i < n; i++ {
		if _, err := conn.RequestMasterNodes(router.Request{Name: "PING"}); err != nil {
			log.Printf("ping %d failed: %v", i, err)
			return 1
		}
	}
	log.Printf("✅ %d ping round(s) against every master: %s", n, time.Since(start))
	return 0
}

func runBench(args []string) int {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	var seed string
	var n int
	var readonly bool
	fs.StringVar(&seed, "seed", "", "seed node address (host:port)")
	fs.IntVar(&n, "n", 10000, "number of GETs to submit")
	fs.BoolVar(&readonly, "readonly", false, "route to replicas when possible")
	if err := fs.Parse(args); err != nil {
		return errExitCode(err)
	}
	if seed == "" {
		log.Println("the --seed flag is required")
		fs.Usage()
		return 2
	}

	conn, err := connectFromSeed(seed, readonly)
	if err != nil {
		log.Printf("connect failed: %v", err)
		return 1
	}
	defer conn.Disconnect()

	flushThreshold := conn.FlushThreshold()
	start := time.Now()
	deferreds := make([]*rpipeline.Deferred, 0, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("bench:%d", i)
		d, err := conn.RequestPipelined(router.Request{Name: "GET", Args: [][]byte{[]byte(key)}})
		if err != nil {
			log.Printf("submit %d failed: %v", i, err)
			return 1
		}
		deferreds = append(deferreds, d)
	}
	submitted := time.Since(start)

	for i, d := range deferreds {
		if _, err := d.Force(); err != nil {
			log.Printf("force %d failed: %v", i, err)
			return 1
		}
	}
	total := time.Since(start)

	log.Printf("📈 submitted %d GETs in %s, drained in %s (%.0f/s), flushThreshold=%d",
		n, submitted, total, float64(n)/total.Seconds(), flushThreshold)
	return 0
}

func printUsage() {
	fmt.Println(`rkvctl - clustered key-value client CLI

Usage:
  rkvctl <command> [options]

Available commands:
  topology   Connect and print the discovered shard map
  ping       Send N rounds of PING to every master and report the total elapsed time
  bench      Submit N pipelined GETs without forcing any reply until the end
  help       Show this help
  version    Show version info`)
}

func errExitCode(err error) int {
	if err == flag.ErrHelp {
		return 0
	}
	log.Printf("failed to parse arguments: %v", err)
	return 1
}

func splitSeed(seed string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(seed)
	if err != nil {
		return "", 0, fmt.Errorf("invalid seed address %q: %w", seed, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid seed port %q: %w", portStr, err)
	}
	return host, uint16(port), nil
}
