// Package main hosts the lead engine service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, billing, and job management endpoints. Requests are
//     validated, priced in credits, and persisted via the JobStore before being enqueued for work.
//   - Queues & workers: scrape and verification jobs flow through separate single-flight in-memory queues; one worker
//     per queue claims the head item, runs it to a terminal state, and publishes a completion event. Context
//     cancellation stops workers cleanly on shutdown, and a startup reconciliation pass requeues jobs the previous
//     process left pending or processing.
//   - Scrape pipeline: the scrape runner boots a GoLogin cloud browser profile, attaches Chromedp to its websocket
//     debugger URL, walks the paginated search results, and optionally enriches rows with company-page metadata
//     fetched via Colly. Cancellation is checked between pages; a page in flight always finishes.
//   - Verification pipeline: the verification runner batches emails against the MailTester API with a rotating key
//     pool; a 429 triggers exactly one retry on a different key. Cancellation is checked between batches.
//   - Persistence & fanout: job records, lead rows, verification results, and the credit ledger live in Postgres (or
//     in memory for development). CSV exports are written to the configured BlobStore (memory/local/GCS), and a
//     compact Pub/Sub notification is published when a topic is configured. Completed jobs can be pushed to Instantly
//     or Smartlead campaigns.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the /metrics handler; the Whop webhook grants credits on verified billing events.
//
// Operational notes:
//   - Concurrency model: one worker per queue by design; a job is either queued or the single active item. Shutdown
//     is coordinated via context cancellation propagated from main through the workers.
//   - Credits: scrape jobs cost per requested page and verification jobs per email; the charge is taken at submission
//     and refunded if the job cannot be persisted or enqueued.
//   - Observability: zap logs carry job IDs and kinds at key transitions; Prometheus counters/histograms track HTTP,
//     provider, queue, and key rotation activity.
//
// Quick checklist:
//   - Configure env vars with the LEADENGINE_ prefix: LEADENGINE_SERVER_PORT, LEADENGINE_DB_DSN,
//     LEADENGINE_GOLOGIN_TOKEN, LEADENGINE_MAILTESTER_API_KEYS, storage (LEADENGINE_STORAGE_*), pubsub, and the
//     outreach tool keys when campaign push is required.
//   - Run locally: go run ./cmd/leadengine -config config.yaml (or rely solely on env overrides).
//   - The process reacts to SIGTERM for graceful drain: the HTTP server stops accepting requests, the queues close,
//     and in-flight jobs run to their next cancellation checkpoint.
package main
