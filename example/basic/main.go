package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/hatsunemiku3939/subscriber"
	"github.com/hatsunemiku3939/subscriber/queue"
)

// --- Schemas ---

var userProfileSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "userId": { "type": "string" },
    "username": { "type": "string" },
    "email": { "type": "string", "format": "email" }
  },
  "required": ["userId", "username", "email"]
}`

// --- Message Payloads ---

// UserProfileUpdated is the payload for "Publisher.Models.UserProfileUpdated".
type UserProfileUpdated struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// --- Message Handlers ---

func handleUserProfileUpdated(ctx context.Context, payload UserProfileUpdated, meta subscriber.TransportMetadata, scope *subscriber.Scope) subscriber.HandlerResult {
	log.Printf("⚙️  Processing profile update for %s (ID: %s)", payload.Username, payload.UserID)

	select {
	case <-ctx.Done():
		log.Printf("WARN: processing canceled for user %s: %v", payload.UserID, ctx.Err())
		return subscriber.HandlerResult{Outcome: subscriber.Failed, Error: ctx.Err()}
	default:
	}

	// In a real application, this is where a database or downstream service
	// call would go.
	return subscriber.HandlerResult{Outcome: subscriber.Completed}
}

// --- Entry Point ---

func main() {
	appCtx, cancelApp := context.WithCancel(context.Background())
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-shutdownChan
		log.Printf("🛑 received shutdown signal: %v, starting graceful shutdown...", sig)
		cancelApp()
	}()

	awsCfg, err := awsconfig.LoadDefaultConfig(appCtx)
	if err != nil {
		log.Fatalf("FATAL: failed to load AWS config: %v", err)
	}

	queueURL := os.Getenv("SUBSCRIBER_QUEUE_URL")
	if queueURL == "" {
		log.Fatal("FATAL: SUBSCRIBER_QUEUE_URL environment variable is not set.")
	}

	facade := queue.New(sqs.NewFromConfig(awsCfg))

	registry := subscriber.NewRegistry(nil)
	subscriber.RegisterTyped(registry, "Publisher.Models.UserProfileUpdated", handleUserProfileUpdated)
	if err := registry.RegisterSchema("Publisher.Models.UserProfileUpdated", userProfileSchema); err != nil {
		log.Fatalf("FATAL: could not register schema: %v", err)
	}

	subCfg, err := subscriber.NewSubscriptionConfig(queueURL)
	if err != nil {
		log.Fatalf("FATAL: invalid subscription configuration: %v", err)
	}

	manager := subscriber.NewManager(facade, registry, queueURL, subCfg.MaxConcurrentMessages,
		subCfg.VisibilityTimeoutSeconds, subCfg.VisibilityExtensionThreshold,
		subCfg.VisibilityExtensionHeartbeatInterval, subCfg.DeleteOnSuccess, true, nil)
	poller := subscriber.NewPoller(facade, manager, subCfg)

	if err := poller.Run(appCtx); err != nil {
		log.Fatalf("FATAL: poller stopped: %v", err)
	}
	log.Println("application has shut down.")
}
