// Package orders coordinates repair orders between customers and service
// providers: submission, exclusive time-limited claims, the job
// lifecycle, and provider-proposed quotes paid through a payment gateway.
//
// # Basic Usage
//
// Build a service over any records backend:
//
//	backend := records.NewKVBackend(state.NewMemoryStore(), "memory")
//	svc := orders.NewService(backend,
//	    orders.WithPayments(payments.NewMemory()),
//	    orders.WithNotifier(dispatcher),
//	)
//
//	task, err := svc.Submit(ctx, "customer-1", orders.NewOrder{...})
//	task, err = svc.Claim(ctx, task.ID, "provider-1")
//	task, err = svc.Accept(ctx, task.ID, "provider-1")
//
// Caller identity is always passed in. The service never reads it from
// the context.
//
// # Order Lifecycle
//
//	Pending ──claim──> Claimed ──accept──> Accepted ──start──> InProgress ──complete──> Completed
//	   ^                  │                   │                    │
//	   └─────release──────┘                   └──────cancel────────┴──────> Cancelled
//
//	Pending ──cancel (customer, admin)──> Cancelled
//
// A claim lasts ClaimDuration. Nothing runs when it lapses: every read
// and every transition treats a Claimed task past its deadline as
// Pending, so another provider may claim it and the former holder can no
// longer accept it. A provider holds at most MaxClaimsPerProvider live
// claims.
//
// # Concurrency
//
// Each operation reads one record and commits with a single conditional
// write on the version it read. Of two concurrent claims on one task,
// exactly one succeeds; the other gets CLAIM_CONFLICT. Losing any other
// transition returns CONFLICT. Nothing is retried on the caller's behalf.
//
// Notifications and provider job counters are applied after the commit.
// Their failures are logged and counted and never undo the write.
//
// # Quotes
//
//	PendingApproval ──approve──> ApprovedAndPendingPayment ──confirm_payment──> Accepted
//	       │
//	       ├──decline──> DeclinedByCustomer
//	       └──cancel───> CancelledByMechanic
//
// Approving creates a payment intent before the write. ConfirmPayment,
// driven by the gateway, finds the quote by its intent.
package orders
