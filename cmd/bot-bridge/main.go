package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/db"
	"github.com/escrow-desk/backend/internal/events"
)

// bot-bridge subscribes to Redis events and forwards actor
// notifications to the chat bot process. It exists so the API never
// talks to the bot's notification endpoint directly: the bridge can be
// restarted or scaled without touching deals in flight.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)

	log.Info("bot-bridge started")

	_ = subscriber.Subscribe(ctx, events.StreamBot, func(event events.Event) {
		forwardToBot(cfg.BotInternalURL, event, log)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down bot-bridge")
	cancel()
}

func forwardToBot(baseURL string, event events.Event, log *zap.Logger) {
	actorID, ok := event.Payload["actor_id"].(string)
	if !ok || actorID == "" {
		return
	}

	text, _ := event.Payload["text"].(string)
	if text == "" {
		text = fmt.Sprintf("Event: %s", event.Type)
	}

	body, _ := json.Marshal(map[string]any{
		"actor_id": actorID,
		"text":     text,
	})

	url := fmt.Sprintf("%s/internal/notify", strings.TrimRight(baseURL, "/"))
	resp, err := http.Post(url, "application/json", strings.NewReader(string(body)))
	if err != nil {
		log.Warn("failed to forward notification", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("bot notification returned non-200", zap.Int("status", resp.StatusCode))
	}
}
