package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"liftsim/internal/config"
	"liftsim/internal/protocol"
	"liftsim/internal/sim/engine"
	"liftsim/internal/transport/client"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/liftsim.yaml", "path to liftsim.yaml (missing file means defaults)")
		baseURL    = flag.String("url", "", "server base url (overrides client.base_url)")
		scenario   = flag.String("scenario", "", "yaml file of passengers to register before dispatching")
		hosted     = flag.Bool("hosted", false, "ask the server's own car to dispatch instead of driving one here")
		watch      = flag.Bool("watch", false, "print car events while dispatching (the server's feed with -hosted)")
		reset      = flag.Bool("reset", false, "reset the store (and the hosted car) before registering")
		policyName = flag.String("lobby_policy", "", "never|always|morning (overrides engine.lobby_policy)")
		passengers passengerFlags
	)
	flag.Var(&passengers, "p", "passenger name:origin:destination (repeatable)")
	flag.Parse()

	logger := log.New(os.Stdout, "[dispatch] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load config: %v", err)
		}
		cfg = config.Defaults()
	}
	if v := strings.TrimSpace(*baseURL); v != "" {
		cfg.Client.BaseURL = v
	}
	if v := strings.TrimSpace(*policyName); v != "" {
		cfg.Engine.LobbyPolicy = v
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	riders := []protocol.Passenger(passengers)
	if strings.TrimSpace(*scenario) != "" {
		ps, err := config.LoadScenario(*scenario, cfg.Building)
		if err != nil {
			logger.Fatalf("scenario: %v", err)
		}
		riders = append(riders, ps...)
	}
	for _, p := range riders {
		if err := cfg.Building.CheckFloor(p.Origin); err != nil {
			logger.Fatalf("passenger %s: %v", p, err)
		}
		if err := cfg.Building.CheckFloor(p.Destination); err != nil {
			logger.Fatalf("passenger %s: %v", p, err)
		}
	}

	cl, err := client.New(client.Config{
		BaseURL:     cfg.Client.BaseURL,
		Timeout:     cfg.Client.Timeout(),
		ReadRetries: cfg.Client.ReadRetries,
	})
	if err != nil {
		logger.Fatalf("client: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := cl.Health(ctx); err != nil {
		logger.Fatalf("server %s: %v", cl.BaseURL(), err)
	}

	var car protocol.CarState
	if *hosted {
		// The hosted car's events only exist on the server, so watch its feed.
		if *watch {
			w, err := dialFeed(ctx, cl.BaseURL(), logger)
			if err != nil {
				logger.Fatalf("watch: %v", err)
			}
			defer w.Close()
			go w.Run(os.Stdout)
		}
		car, err = runHosted(ctx, cl, riders, *reset, logger)
		if err == nil && *watch {
			// Let the feed drain the tail of the run.
			time.Sleep(200 * time.Millisecond)
		}
	} else {
		var sink engine.EventSink
		if *watch {
			sink = eventPrinter{w: os.Stdout}
		}
		car, err = runLocal(ctx, cl, cfg, riders, *reset, sink, logger)
	}
	if err != nil {
		logger.Fatalf("dispatch: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(car)
}

// runLocal drives an engine in this process over the server's store.
func runLocal(ctx context.Context, cl *client.Client, cfg config.Config, riders []protocol.Passenger, reset bool, sink engine.EventSink, logger *log.Logger) (protocol.CarState, error) {
	policy, err := engine.ParsePolicy(cfg.Engine.LobbyPolicy, cfg.Engine.LobbyBeforeHour)
	if err != nil {
		return protocol.CarState{}, err
	}
	eng := engine.New(cl, engine.Options{Policy: policy, Sink: sink, Logger: logger})
	if reset {
		if err := eng.ResetAll(ctx); err != nil {
			return protocol.CarState{}, err
		}
	}
	for _, p := range riders {
		if err := eng.Register(ctx, p); err != nil {
			return protocol.CarState{}, err
		}
		logger.Printf("registered %s", p)
	}
	if err := eng.Dispatch(ctx); err != nil {
		return eng.State(), err
	}
	return eng.State(), nil
}

func runHosted(ctx context.Context, cl *client.Client, riders []protocol.Passenger, reset bool, logger *log.Logger) (protocol.CarState, error) {
	if reset {
		if err := cl.Reset(ctx); err != nil {
			return protocol.CarState{}, err
		}
		if _, err := cl.ResetCar(ctx); err != nil {
			return protocol.CarState{}, err
		}
	}
	for _, p := range riders {
		if _, err := cl.AppendRequest(ctx, p); err != nil {
			return protocol.CarState{}, err
		}
		logger.Printf("registered %s", p)
	}
	return cl.DispatchCar(ctx)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// passengerFlags collects repeated -p name:origin:destination values.
type passengerFlags []protocol.Passenger

func (f *passengerFlags) String() string {
	parts := make([]string, 0, len(*f))
	for _, p := range *f {
		parts = append(parts, p.String())
	}
	return strings.Join(parts, ",")
}

func (f *passengerFlags) Set(v string) error {
	p, err := parsePassenger(v)
	if err != nil {
		return err
	}
	*f = append(*f, p)
	return nil
}

func parsePassenger(v string) (protocol.Passenger, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 3 {
		return protocol.Passenger{}, fmt.Errorf("want name:origin:destination, got %q", v)
	}
	var p protocol.Passenger
	p.Name = strings.TrimSpace(parts[0])
	var err error
	if p.Origin, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil {
		return protocol.Passenger{}, fmt.Errorf("origin: %w", err)
	}
	if p.Destination, err = strconv.Atoi(strings.TrimSpace(parts[2])); err != nil {
		return protocol.Passenger{}, fmt.Errorf("destination: %w", err)
	}
	if err := p.Validate(); err != nil {
		return protocol.Passenger{}, err
	}
	return p, nil
}
