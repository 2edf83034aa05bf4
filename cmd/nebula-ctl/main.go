package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	cli "github.com/spf13/pflag"

	"nebula/internal/feed"
	"nebula/internal/ipc"
	"nebula/internal/store"
)

const usage = `Usage: nebula-ctl [flags] <command> [args]

Commands:
  listen            start listening for "Hey DOM"
  stop              stop listening
  toggle            toggle listening
  activate          open a conversation without the wake phrase
  say <text>        speak text
  add <text>        add a task ("call mom tomorrow at 5pm")
  complete <id>     complete a task
  list [term]       list tasks, optionally filtered
  status            show the assistant state
  watch             follow status and task updates from the feed

Flags:
`

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath(), "Control socket path")
	timeout := cli.DurationP("timeout", "t", 5*time.Second, "Request timeout")
	feedAddr := cli.StringP("feed", "f", "127.0.0.1:8093", "Daemon feed address, used by watch")
	cli.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		cli.PrintDefaults()
	}
	cli.Parse()

	args := cli.Args()
	if len(args) == 0 {
		cli.Usage()
		os.Exit(2)
	}

	if args[0] == "watch" {
		if err := watch(*feedAddr); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	req, err := request(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		cli.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := ipc.Send(ctx, *socket, req)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if !resp.OK {
		fmt.Fprintln(os.Stderr, "error:", resp.Message)
		os.Exit(1)
	}

	if req.Cmd == "list" {
		printTasks(resp.Tasks)
		return
	}
	if resp.Message != "" {
		fmt.Println(resp.Message)
	}
}

func request(args []string) (ipc.Request, error) {
	cmd, rest := args[0], strings.Join(args[1:], " ")

	switch cmd {
	case "listen", "stop", "toggle", "activate", "status":
		return ipc.Request{Cmd: cmd}, nil
	case "say", "add":
		if rest == "" {
			return ipc.Request{}, fmt.Errorf("%s needs text", cmd)
		}
		return ipc.Request{Cmd: cmd, Text: rest}, nil
	case "complete":
		if len(args) != 2 {
			return ipc.Request{}, fmt.Errorf("complete needs one task id")
		}
		return ipc.Request{Cmd: cmd, ID: args[1]}, nil
	case "list":
		return ipc.Request{Cmd: cmd, Text: rest}, nil
	default:
		return ipc.Request{}, fmt.Errorf("unknown command %q", cmd)
	}
}

func watch(addr string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := feed.Dial(ctx, "ws://"+addr+"/ws", 2*time.Second)
	if err != nil {
		return err
	}
	defer c.Close()

	return c.Follow(ctx, func(f feed.Frame) {
		switch f.Kind {
		case "status":
			fmt.Printf("[%s] %s\n", f.State, f.Status)
		case "tasks":
			printTasks(f.Tasks)
		}
	})
}

func printTasks(tasks []store.Task) {
	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTASK\tDUE")
	for _, t := range tasks {
		due := "-"
		if t.ScheduledFor != nil {
			due = t.ScheduledFor.Local().Format("Mon Jan 2 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Text, due)
	}
	w.Flush()
}
