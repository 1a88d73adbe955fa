package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/layer-3/relayauth/adapters/events"
	"github.com/layer-3/relayauth/adapters/relay"
	"github.com/layer-3/relayauth/adapters/signer"
	"github.com/layer-3/relayauth/adapters/store"
	"github.com/layer-3/relayauth/adapters/tokenizer"
	"github.com/layer-3/relayauth/ports"
	"github.com/layer-3/relayauth/service"
	"github.com/layer-3/relayauth/transport/http"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// relayauth token <subject> prints a control token and exits
	if len(os.Args) == 3 && os.Args[1] == "token" {
		if cfg.ControlJWTSecret == "" {
			log.Fatal("CONTROL_JWT_SECRET is not set")
		}
		token, err := tokenizer.NewHMACTokenizer([]byte(cfg.ControlJWTSecret)).Issue(os.Args[2], 24*time.Hour)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(opts)

	logger := watermill.NewStdLogger(cfg.LogDebug, false)
	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		logger,
	)
	if err != nil {
		log.Fatalf("Failed to create Redis publisher: %v", err)
	}

	managerOpts := []service.Option{
		service.WithLogger(logger),
		service.WithChallengeTTL(cfg.ChallengeTTL),
		service.WithAuthTimeout(cfg.AuthTimeout),
		service.WithEventPublisher(events.NewWatermillPublisher(publisher)),
	}
	if cfg.SignerKey != "" {
		keySigner, err := signer.NewKeySignerFromHex(cfg.SignerKey)
		if err != nil {
			log.Fatalf("Failed to load signer key: %v", err)
		}
		logger.Info("Signer loaded", watermill.LogFields{"identity": keySigner.Identity()})
		managerOpts = append(managerOpts, service.WithSigner(keySigner))
	}

	manager := service.NewAuthManager(store.NewRedisStore(redisClient), managerOpts...)
	defer manager.Destroy()

	pool := relay.NewPool()
	manager.WatchPool(pool)
	for _, url := range cfg.Relays {
		pool.Add(relay.NewRelay(url, logSender(logger)))
	}

	var controlTokens ports.ControlTokenizer
	if cfg.ControlJWTSecret != "" {
		controlTokens = tokenizer.NewHMACTokenizer([]byte(cfg.ControlJWTSecret))
	}
	router := http.SetupRouter(manager, controlTokens)

	if err := router.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// logSender stands in for a websocket transport: it records each signed AUTH
// response until a relay connection layer is attached
func logSender(logger watermill.LoggerAdapter) relay.Sender {
	return func(_ context.Context, resp relay.AuthResponse) error {
		logger.Info("AUTH response ready", watermill.LogFields{
			"relay":     resp.RelayURL,
			"identity":  resp.Identity,
			"signature": signer.EncodeSignature(resp.Signature),
		})
		return nil
	}
}
