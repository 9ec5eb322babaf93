// Package manager implements the session manager facade.
//
// # Overview
//
// The Manager is the only component frontends and tooling call. It owns the
// load -> transition -> (generate) -> persist cycle for every operation:
//
//	mgr := manager.New(store, llmClient, opts, logger)
//
// Key operations, one per player command:
//
//   - Start(ctx, owner, theme): create a session and generate the opening scene
//   - SubmitTurn(ctx, owner, input): advance an active adventure
//   - Pause(ctx, owner) / Resume(ctx, owner): suspend and reactivate
//   - GetStatus(ctx, owner): read-only state report
//   - Delete(ctx, owner): remove the session entirely
//   - ClearAll(ctx, admin): admin-only bulk delete
//
// # Concurrency
//
// Every operation holds the owner's keyed lock for its full duration,
// including the provider call, so a pause arriving concurrently with a turn
// can never interleave writes. Different owners proceed in parallel. The
// supervisor's entry points (PauseIdle, Autosave, PurgeExpired) take the
// same locks and re-check their condition after acquiring, so enumeration
// results going stale is harmless.
//
// # Failure behavior
//
// Operations are all-or-nothing from the caller's perspective. A provider
// failure returns *GenerationError with no transcript append and no state
// change; a persistence failure returns *store.StorageError and leaves the
// previous durable value in place. No error is fatal to the manager.
package manager
