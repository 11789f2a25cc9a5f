package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/campus/internal/config"
	"github.com/matheus3301/campus/internal/rpc"
	"github.com/matheus3301/campus/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	socketFlag := flag.String("socket", "", "daemon socket (overrides the session's)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Usage = printUsage
	flag.Parse()

	sessionName, err := session.Resolve(*sessionFlag)
	if err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// login only touches the config file.
	if args[0] == "login" {
		need(args, 2, "login <user-id>")
		cmdLogin(sessionName, args[1])
		return
	}

	socketPath := *socketFlag
	if socketPath == "" {
		socketPath = session.SocketPath(sessionName)
	}
	c, err := rpc.Dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		path := ""
		if len(args) > 1 {
			path = args[1]
		}
		cmdWatch(c, path, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app := &cli{ctx: ctx, c: c, json: *jsonFlag}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	cmd(app, args[1:])
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: campusctl [--session <name>] [--socket <path>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                              Show daemon status")
	fmt.Fprintln(os.Stderr, "  login <user>                        Set the session's user (restart campusd)")
	fmt.Fprintln(os.Stderr, "  chats [-courses|-all]               List chats, newest first")
	fmt.Fprintln(os.Stderr, "  messages <chat>                     List visible messages")
	fmt.Fprintln(os.Stderr, "  create [-group -name N -course] <user>...")
	fmt.Fprintln(os.Stderr, "  join <code|link>                    Join by invitation")
	fmt.Fprintln(os.Stderr, "  add <chat> <user>...                Add members")
	fmt.Fprintln(os.Stderr, "  remove <chat> <user>                Remove a member")
	fmt.Fprintln(os.Stderr, "  leave <chat>                        Leave a group chat")
	fmt.Fprintln(os.Stderr, "  admin add|remove <chat> <user>      Change admins")
	fmt.Fprintln(os.Stderr, "  rename <chat> <name>                Rename a group")
	fmt.Fprintln(os.Stderr, "  invite regen <chat>                 New invitation code")
	fmt.Fprintln(os.Stderr, "  invite qr <chat> <out.png>          Write the invitation QR code")
	fmt.Fprintln(os.Stderr, "  block|unblock <user>                Block or unblock a user")
	fmt.Fprintln(os.Stderr, "  blocks                              List blocked users")
	fmt.Fprintln(os.Stderr, "  send <chat> <text>...               Send a text message")
	fmt.Fprintln(os.Stderr, "  send-image <chat> <file|url>        Send an image")
	fmt.Fprintln(os.Stderr, "  send-doc <chat> <file|url> [name]   Send a document")
	fmt.Fprintln(os.Stderr, "  star <chat> <message>               Toggle a star")
	fmt.Fprintln(os.Stderr, "  starred                             List starred messages")
	fmt.Fprintln(os.Stderr, "  delete-me <chat> <message>          Delete a message for me")
	fmt.Fprintln(os.Stderr, "  delete-all <chat> <message>         Delete a message for everyone")
	fmt.Fprintln(os.Stderr, "  clear <chat>                        Hide every message of a chat")
	fmt.Fprintln(os.Stderr, "  hide <chat>                         Remove a chat from my list")
	fmt.Fprintln(os.Stderr, "  delete-chat <chat>                  Delete a group chat for everyone")
	fmt.Fprintln(os.Stderr, "  user save [-first -last -email -role -number -about]")
	fmt.Fprintln(os.Stderr, "  user get [id] | user search <query>")
	fmt.Fprintln(os.Stderr, "  token <push-token>                  Register a device token")
	fmt.Fprintln(os.Stderr, "  pushes [limit]                      Show recent pushes")
	fmt.Fprintln(os.Stderr, "  posts                               Show the timeline")
	fmt.Fprintln(os.Stderr, "  post get|delete <post>")
	fmt.Fprintln(os.Stderr, "  post create -title T [-text X -image U -doc U] [file...]")
	fmt.Fprintln(os.Stderr, "  post edit <post> [-title T -text X] [file...]")
	fmt.Fprintln(os.Stderr, "  watch [path]                        Stream changes")
}

func cmdLogin(sessionName, userID string) {
	path := session.ConfigPath()
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		fail(err)
	}
	cfg.SetUserID(sessionName, userID)
	if err := config.Save(path, cfg); err != nil {
		fail(err)
	}
	fmt.Printf("Session %s signed in as %s. Restart campusd to apply.\n", sessionName, userID)
}

func cmdWatch(c *rpc.Client, path string, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := c.Watch(ctx, path, func(evt rpc.WatchEvent) error {
		if jsonOut {
			outputJSON(evt)
			return nil
		}
		switch evt.Kind {
		case "status":
			fmt.Printf("%s status %s %s\n", evt.At, evt.Status, evt.Reason)
		default:
			origin := "local"
			if evt.Remote {
				origin = "remote"
			}
			for _, p := range evt.Paths {
				fmt.Printf("%s %s %s\n", evt.At, origin, p)
			}
		}
		return nil
	})
	if err != nil {
		fail(err)
	}
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: campusctl %s\n", usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
