// Command nostr-demo connects to a set of relays, publishes one note, logs
// the result, and then runs until SIGINT or SIGTERM before shutting down
// cleanly. It exists to exercise the
// client package end to end against real relays; it is not a CLI surface.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unicitynetwork/nostr-go-sdk/client"
	"github.com/unicitynetwork/nostr-go-sdk/config"
	"github.com/unicitynetwork/nostr-go-sdk/cryptoprovider"
	"github.com/unicitynetwork/nostr-go-sdk/event"
	"github.com/unicitynetwork/nostr-go-sdk/keys"
	"github.com/unicitynetwork/nostr-go-sdk/transport"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	nsec := flag.String("nsec", "", "bech32 secret key to publish with (a fresh one is generated if empty)")
	content := flag.String("content", "hello from nostr-go-sdk", "note content to publish")
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)
	log.Println("nostr-go-sdk demo")
	log.Println("=================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	provider := cryptoprovider.NewDefault()
	holder, err := loadOrGenerateHolder(provider, *nsec)
	if err != nil {
		log.Fatalf("Failed to load key: %v", err)
	}
	npub, err := holder.Npub()
	if err != nil {
		log.Fatalf("Failed to derive npub: %v", err)
	}
	log.Printf("[Identity] %s", npub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Shutting down...")
		cancel()
	}()

	connLis := client.ConnectionListener{
		OnConnect:      func(url string) { log.Printf("[Relay] connected: %s", url) },
		OnDisconnect:   func(url, reason string) { log.Printf("[Relay] disconnected: %s (%s)", url, reason) },
		OnReconnecting: func(url string, attempt int) { log.Printf("[Relay] reconnecting to %s (attempt %d)", url, attempt) },
		OnReconnected:  func(url string) { log.Printf("[Relay] reconnected: %s", url) },
	}

	c := client.New(holder, cfg.Relays, client.Config{
		QueryTimeoutMS:         cfg.QueryTimeoutMS,
		AutoReconnect:          cfg.AutoReconnect,
		ReconnectIntervalMS:    cfg.ReconnectIntervalMS,
		MaxReconnectIntervalMS: cfg.MaxReconnectIntervalMS,
		PingIntervalMS:         cfg.PingIntervalMS,
	}, transport.NewWebSocketTransport(), log.Default(), connLis)
	c.Start()
	defer c.Close()

	log.Printf("[Relays] %v", cfg.Relays)
	// Give the initial connect a head start so the first publish has a
	// fighting chance of reaching an already-open relay instead of
	// landing in the offline queue.
	select {
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
	}

	ev, err := event.Sign(event.Payload{
		Kind:    event.KindTextNote,
		Content: *content,
	}, holder, time.Now().Unix())
	if err != nil {
		log.Fatalf("Failed to sign note: %v", err)
	}

	id, err := c.Publish(ev)
	if err != nil {
		log.Printf("[Publish] failed: %v", err)
	} else {
		log.Printf("[Publish] %s", id)
	}

	<-ctx.Done()
	log.Println("Shutdown complete")
}

func loadOrGenerateHolder(provider cryptoprovider.Provider, nsec string) (*keys.Holder, error) {
	if nsec != "" {
		return keys.FromNsec(provider, nsec)
	}
	return keys.Generate(provider)
}
