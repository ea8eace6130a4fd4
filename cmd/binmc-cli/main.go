// Command binmc-cli is an interactive shell for poking at cache
// servers over the binary protocol.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/binmc/binmc"
	"github.com/binmc/binmc/binproto"
)

func main() {
	serversFlag := flag.String("servers", "127.0.0.1:11211", "comma-separated server addresses (tcp://host:port or unix:///path)")
	username := flag.String("username", "", "SASL PLAIN username")
	password := flag.String("password", "", "SASL PLAIN password")
	verbose := flag.Bool("v", false, "log protocol events")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
			os.Exit(1)
		}
	}

	specs, err := binmc.ParseServers(strings.Split(*serversFlag, ",")...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	client, err := binmc.NewClient(context.Background(), specs, binmc.Config{
		Username: *username,
		Password: *password,
		Logger:   logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	fmt.Println("Commands: get, set, add, delete, incr, decr, touch, mget, stats, version, flush, help, quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		parts := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(parts) == 0 {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		done := dispatch(ctx, client, parts)
		cancel()
		if done {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
	}
}

// dispatch runs one command line; it returns true when the user quits.
func dispatch(ctx context.Context, client *binmc.Client, parts []string) bool {
	switch strings.ToLower(parts[0]) {
	case "get":
		if len(parts) != 2 {
			fmt.Println("usage: get <key>")
			return false
		}
		item, err := client.Get(ctx, parts[1])
		if binproto.IsStatus(err, binproto.StatusKeyNotFound) {
			fmt.Println("not found")
			return false
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		fmt.Printf("value: %s (flags=%d cas=%d)\n", item.Value, item.Flags, item.CAS)

	case "set", "add":
		if len(parts) < 3 || len(parts) > 4 {
			fmt.Printf("usage: %s <key> <value> [expiration_seconds]\n", parts[0])
			return false
		}
		expiration, ok := parseUint32(parts, 3)
		if !ok {
			return false
		}
		var err error
		if parts[0] == "set" {
			err = client.Set(ctx, parts[1], []byte(parts[2]), 0, expiration)
		} else {
			err = client.Add(ctx, parts[1], []byte(parts[2]), 0, expiration)
		}
		printOutcome(err)

	case "delete", "del":
		if len(parts) != 2 {
			fmt.Println("usage: delete <key>")
			return false
		}
		printOutcome(client.Delete(ctx, parts[1]))

	case "incr", "decr":
		if len(parts) != 3 {
			fmt.Printf("usage: %s <key> <delta>\n", parts[0])
			return false
		}
		delta, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			fmt.Printf("invalid delta: %v\n", err)
			return false
		}
		var value uint64
		if parts[0] == "incr" {
			value, err = client.Increment(ctx, parts[1], delta, delta, 0)
		} else {
			value, err = client.Decrement(ctx, parts[1], delta, 0, 0)
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		fmt.Printf("value: %d\n", value)

	case "touch":
		if len(parts) != 3 {
			fmt.Println("usage: touch <key> <expiration_seconds>")
			return false
		}
		expiration, ok := parseUint32(parts, 2)
		if !ok {
			return false
		}
		printOutcome(client.Touch(ctx, parts[1], expiration))

	case "mget":
		if len(parts) < 2 {
			fmt.Println("usage: mget <key1> <key2> ...")
			return false
		}
		items, err := client.GetMulti(ctx, parts[1:])
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		for _, key := range parts[1:] {
			if item, ok := items[key]; ok {
				fmt.Printf("  %s: %s\n", key, item.Value)
			} else {
				fmt.Printf("  %s: <not found>\n", key)
			}
		}

	case "stats":
		group := ""
		if len(parts) > 1 {
			group = parts[1]
		}
		reports, err := client.Stats(ctx, group)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		for server, report := range reports {
			fmt.Printf("%s:\n", server)
			for _, key := range binmc.StatKeys(report) {
				fmt.Printf("  %s: %s\n", key, report[key])
			}
		}

	case "version":
		versions, err := client.Versions(ctx)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		for server, version := range versions {
			fmt.Printf("%s: %s\n", server, version)
		}

	case "flush":
		delay := uint32(0)
		if len(parts) > 1 {
			var ok bool
			if delay, ok = parseUint32(parts, 1); !ok {
				return false
			}
		}
		printOutcome(client.Flush(ctx, delay))

	case "help":
		fmt.Println("  get <key>")
		fmt.Println("  set <key> <value> [expiration]")
		fmt.Println("  add <key> <value> [expiration]")
		fmt.Println("  delete <key>")
		fmt.Println("  incr <key> <delta> / decr <key> <delta>")
		fmt.Println("  touch <key> <expiration>")
		fmt.Println("  mget <key1> <key2> ...")
		fmt.Println("  stats [group]")
		fmt.Println("  version")
		fmt.Println("  flush [delay]")
		fmt.Println("  quit")

	case "quit", "exit":
		return true

	default:
		fmt.Printf("unknown command %q, try help\n", parts[0])
	}
	return false
}

func parseUint32(parts []string, i int) (uint32, bool) {
	if len(parts) <= i {
		return 0, true
	}
	v, err := strconv.ParseUint(parts[i], 10, 32)
	if err != nil {
		fmt.Printf("invalid number %q: %v\n", parts[i], err)
		return 0, false
	}
	return uint32(v), true
}

func printOutcome(err error) {
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("ok")
}
