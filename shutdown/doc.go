// Package shutdown stops orderclaimd's components in order.
//
//	coord := shutdown.NewCoordinator(30*time.Second, logger)
//	coord.Register("http", shutdown.PhaseIngress, srv.Shutdown)
//	coord.Register("notifications", shutdown.PhaseDrain, func(context.Context) error {
//	    dispatcher.Close()
//	    return nil
//	})
//	coord.Register("store", shutdown.PhaseBackends, closeStore)
//
//	return coord.Wait(ctx) // blocks until SIGINT/SIGTERM or ctx ends
//
// Phases run lowest first; handlers in one phase run concurrently. The
// whole sequence shares one timeout, and phases not yet started when it
// expires are reported as failed.
package shutdown
