package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"liftsim/internal/transport/client"
)

func newClient(baseURL string, timeout time.Duration) *client.Client {
	cl, err := client.New(client.Config{BaseURL: baseURL, Timeout: timeout})
	if err != nil {
		fmt.Fprintln(os.Stderr, "client:", err)
		os.Exit(2)
	}
	return cl
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:3000", "server base url")
	withCar := fs.Bool("car", true, "include the hosted car state")
	_ = fs.Parse(args)

	ctx := context.Background()
	cl := newClient(*baseURL, 5*time.Second)
	st, err := cl.State(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	out := map[string]any{"state": st}
	if *withCar {
		car, err := cl.CarState(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "car:", err)
		} else {
			out["car"] = car
		}
	}
	_ = writeJSON(os.Stdout, out)
}

func resetCmd(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:3000", "server base url")
	car := fs.Bool("car", false, "also reset the hosted car counters")
	_ = fs.Parse(args)

	ctx := context.Background()
	cl := newClient(*baseURL, 5*time.Second)
	if *car {
		st, err := cl.ResetCar(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "request:", err)
			os.Exit(1)
		}
		_ = writeJSON(os.Stdout, st)
		return
	}
	if err := cl.Reset(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	fmt.Println("reset ok")
}

func triggerSnapshot(baseURL string) {
	cl := newClient(baseURL, 10*time.Second)
	path, err := cl.Snapshot(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	fmt.Println("snapshot written:", path)
}
