// Package main implements the hive CLI: start a mesh node, or drive a
// running one through its local control API.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/WebFirstLanguage/hivemesh/pkg/control"
	"github.com/WebFirstLanguage/hivemesh/pkg/identity"
	"github.com/WebFirstLanguage/hivemesh/pkg/node"
)

var (
	version    = "dev"
	buildTime  = "unknown"
	commitHash = "unknown"
)

const controlAddr = "127.0.0.1:27787"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	case "start":
		err = startCommand()
	case "keygen":
		err = keygenCommand()
	case "create":
		err = createCommand()
	case "join":
		err = joinCommand()
	case "leave":
		err = leaveCommand()
	case "invite":
		err = inviteCommand()
	case "send":
		err = sendCommand()
	case "history":
		err = historyCommand()
	case "peers":
		err = peersCommand()
	case "info":
		err = infoCommand()
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("hive %s\n", version)
	fmt.Printf("Built: %s\n", buildTime)
	fmt.Printf("Commit: %s\n", commitHash)
}

func printUsage() {
	fmt.Printf(`hive v%s - decentralized LAN chat mesh node

Usage:
  hive <command> [options]

Commands:
  start                                     Start a mesh node daemon
  keygen                                    Generate and save a new identity
  info                                      Show this node's identity
  create <channel_id> [public|private]      Create a channel
  join <channel_id>                         Subscribe to a channel
  leave <channel_id>                        Unsubscribe from a channel
  invite <channel_id> <node_id> <enc_pub>   Invite a peer to a private channel
  send <channel_id> <text...>               Broadcast a chat message
  history <channel_id> [limit]              Show recent channel messages
  peers                                     Show the connected peer count
  version                                   Show version information
  help                                      Show this help message

Examples:
  hive keygen
  hive start
  hive create "#random" public
  hive send "#general" hello mesh

`, version)
}

func identityPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "hive-identity.json"
	}
	return filepath.Join(home, ".hivemesh", "identity.json")
}

func dbPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "hive.db"
	}
	return filepath.Join(home, ".hivemesh", "hive.db")
}

func keygenCommand() error {
	path := identityPath()
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Identity already exists at %s\n", path)
		return nil
	}

	id, err := identity.GenerateIdentity("hive")
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}
	if err := id.SaveToFile(path); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}

	fmt.Printf("New identity saved to %s\n", path)
	fmt.Printf("node_id: %s\n", id.NodeID())
	fmt.Printf("bid: %s\n", id.BID())
	return nil
}

func startCommand() error {
	n, err := node.New(node.Config{
		ProfilePath: identityPath(),
		DisplayName: "hive",
		DBPath:      dbPath(),
	})
	if err != nil {
		return fmt.Errorf("construct node: %w", err)
	}

	if err := n.Start("0.0.0.0:0"); err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	info := n.GetIdentityInfo()
	host, port := n.BoundAddr()
	fmt.Printf("node_id: %s\n", info.NodeID)
	fmt.Printf("listening on %s:%d\n", host, port)

	listener, err := net.Listen("tcp", controlAddr)
	if err != nil {
		n.Stop()
		return fmt.Errorf("start control listener: %w", err)
	}
	fmt.Printf("control API listening on %s\n", listener.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	server := control.NewServer(n)
	go func() {
		if err := server.Serve(ctx, listener); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "control API error: %v\n", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	cancel()
	listener.Close()
	return n.Stop()
}

func dialControl() (net.Conn, error) {
	conn, err := net.Dial("tcp", controlAddr)
	if err != nil {
		return nil, fmt.Errorf("connect to running node (is 'hive start' running?): %w", err)
	}
	return conn, nil
}

func callControl(method string, params map[string]interface{}) (control.Response, error) {
	conn, err := dialControl()
	if err != nil {
		return control.Response{}, err
	}
	defer conn.Close()

	req := control.Request{Method: method, ID: "cli", Params: params}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return control.Response{}, fmt.Errorf("send request: %w", err)
	}

	var resp control.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return control.Response{}, fmt.Errorf("read response: %w", err)
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

func infoCommand() error {
	resp, err := callControl("GetInfo", nil)
	if err != nil {
		return err
	}
	printJSON(resp.Result)
	return nil
}

func createCommand() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: hive create <channel_id> [public|private]")
	}
	kind := "public"
	if len(os.Args) > 3 {
		kind = os.Args[3]
	}
	resp, err := callControl("channels.create", map[string]interface{}{
		"channel_id": os.Args[2],
		"kind":       kind,
	})
	if err != nil {
		return err
	}
	printJSON(resp.Result)
	return nil
}

func joinCommand() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: hive join <channel_id>")
	}
	resp, err := callControl("channels.join", map[string]interface{}{"channel_id": os.Args[2]})
	if err != nil {
		return err
	}
	printJSON(resp.Result)
	return nil
}

func leaveCommand() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: hive leave <channel_id>")
	}
	resp, err := callControl("channels.leave", map[string]interface{}{"channel_id": os.Args[2]})
	if err != nil {
		return err
	}
	printJSON(resp.Result)
	return nil
}

func inviteCommand() error {
	if len(os.Args) < 5 {
		return fmt.Errorf("usage: hive invite <channel_id> <target_node_id> <target_encryption_pub_hex>")
	}
	if _, err := hex.DecodeString(os.Args[4]); err != nil {
		return fmt.Errorf("target_encryption_pub_hex must be hex-encoded: %w", err)
	}
	resp, err := callControl("channels.invite", map[string]interface{}{
		"channel_id":            os.Args[2],
		"target_node_id":        os.Args[3],
		"target_encryption_pub": os.Args[4],
	})
	if err != nil {
		return err
	}
	printJSON(resp.Result)
	return nil
}

func sendCommand() error {
	if len(os.Args) < 4 {
		return fmt.Errorf("usage: hive send <channel_id> <text...>")
	}
	content := os.Args[3]
	for _, word := range os.Args[4:] {
		content += " " + word
	}
	resp, err := callControl("messages.send", map[string]interface{}{
		"channel_id": os.Args[2],
		"content":    content,
	})
	if err != nil {
		return err
	}
	printJSON(resp.Result)
	return nil
}

func historyCommand() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: hive history <channel_id> [limit]")
	}
	params := map[string]interface{}{"channel_id": os.Args[2]}
	if len(os.Args) > 3 {
		var limit int
		if _, err := fmt.Sscanf(os.Args[3], "%d", &limit); err == nil {
			params["limit"] = float64(limit)
		}
	}
	resp, err := callControl("messages.history", params)
	if err != nil {
		return err
	}
	printJSON(resp.Result)
	return nil
}

func peersCommand() error {
	resp, err := callControl("peers", nil)
	if err != nil {
		return err
	}
	printJSON(resp.Result)
	return nil
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(out))
}
