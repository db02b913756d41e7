// Package sieveengine runs Sieve scripts at delivery time.
//
// Scripts are compiled to bytecode once and reused: the Engine keeps loaded
// programs in memory and, when given a BinaryStore, persists the compiled
// binaries across restarts. Concurrent deliveries of the same new script
// share a single compilation.
//
// # Usage
//
//	engine, err := sieveengine.NewFromConfig(cfg, store)
//	if err != nil {
//		return err
//	}
//
//	exec, err := engine.NewExecutorWithOracle(ctx, script, accountID, oracle)
//	if err != nil {
//		// Script error
//	}
//
//	summary, err := exec.Evaluate(ctx, sieveengine.Context{
//		EnvelopeFrom: "sender@example.com",
//		EnvelopeTo:   "user@example.com",
//		Message:      raw,
//	})
//	// summary is always usable; on error it keeps the message.
//
// # Commit policy
//
// A run leaves an ordered list of actions. Summarize reduces it to one
// delivery decision: fileinto wins over redirect, redirect over discard,
// discard over vacation and vacation over keep. A fileinto or redirect
// without :copy, or a discard, cancels the implicit keep; an explicit keep
// always leaves a copy in the default mailbox.
//
// # Vacation tracking
//
// Vacation responses go through a Policy. With a VacationOracle the :days
// interval is enforced per sender and handle in persistent storage;
// without one it is tracked in memory for the lifetime of the executor.
// Null senders and list or daemon addresses never receive a response.
//
// # Safety
//
// Execution is bounded by an operation limit and a timeout. A faulted run
// falls back to the implicit keep, so a broken script never loses mail.
package sieveengine
