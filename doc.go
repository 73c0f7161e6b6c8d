// Package subscriber implements the consumer half of a vendor-neutral
// messaging envelope: a long-running poller that receives messages from an
// SQS queue, decodes them into typed Envelopes, and dispatches them to
// handlers registered by message type with bounded concurrency, per-message
// visibility heartbeating, and strict per-group ordering on FIFO queues.
//
// A minimal wiring:
//
//	cfg, err := sqsconfig.LoadDefaultConfig(context.Background())
//	client := sqs.NewFromConfig(cfg)
//	facade := queue.New(client)
//	registry := subscriber.NewRegistry(nil)
//	subscriber.RegisterTyped(registry, "Publisher.Models.ChatMessage",
//		func(ctx context.Context, msg ChatMessage, meta subscriber.TransportMetadata, scope *subscriber.Scope) subscriber.HandlerResult {
//			return subscriber.HandlerResult{Outcome: subscriber.Completed}
//		})
//
//	subCfg, err := subscriber.NewSubscriptionConfig(queueURL)
//	manager := subscriber.NewManager(facade, registry, queueURL, subCfg.MaxConcurrentMessages,
//		subCfg.VisibilityTimeoutSeconds, subCfg.VisibilityExtensionThreshold,
//		subCfg.VisibilityExtensionHeartbeatInterval, subCfg.DeleteOnSuccess, true, nil)
//	poller := subscriber.NewPoller(facade, manager, subCfg)
//	err = poller.Run(ctx)
//
// The three managed-service publisher adapters, compute-environment source
// discovery, telemetry glue, and DI/config wiring are out of scope: this
// package is the subscriber runtime and envelope codec only.
package subscriber
