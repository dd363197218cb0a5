package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/billing_backend/models"
	"bitbucket.org/mmdatafocus/billing_backend/reconcile"
)

// Publishes a sweep request to the billing-sweep topic. Meant to be run by
// Cloud Scheduler; the service's push endpoint picks the message up and
// executes the sweep.
func main() {
	sweepType := flag.String("type", models.SyncRunTypeFullReconciliation,
		"Sweep to request: full_reconciliation or webhook_recovery")
	triggeredBy := flag.String("triggered-by", "scheduler", "Recorded trigger source")
	flag.Parse()

	if *sweepType != models.SyncRunTypeFullReconciliation && *sweepType != models.SyncRunTypeWebhookRecovery {
		fmt.Fprintf(os.Stderr, "unknown sweep type %q\n", *sweepType)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := reconcile.PublishSweep(ctx, *sweepType, *triggeredBy); err != nil {
		fmt.Fprintf(os.Stderr, "publish failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("requested %s sweep\n", *sweepType)
}
