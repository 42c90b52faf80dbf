// Package license implements the key lifecycle state machine and the
// anti-abuse consistency protocol for issued license keys.
//
// # Components
//
//	- Generator: collision-checked random key identifiers, tagged by type
//	- Manager: issuance, reset, and deletion of key records
//	- TrialGuard: expiry evaluation and the one-trial-per-identity rule
//	- Coordinator: orchestrates activation requests end to end
//
// # Key lifecycle
//
// A key record starts unused and moves to used exactly once per activation
// cycle. An explicit reset moves it back to unused and releases any identity
// binding. Trial keys additionally carry an expiry timestamp that is evaluated
// against wall-clock time on every access that grants use; an expired trial
// key is refused even while still unused.
//
// # Concurrency
//
// Requests are stateless and share no process memory. The unused -> used
// transition is a conditional single-key update in the store (a Lua script on
// Redis), so two concurrent activations of the same key admit exactly one
// winner; the loser re-evaluates against the fresh record and receives the
// same refusal a late arrival would.
//
// # One trial per identity
//
// The first time an identity activates a trial key, a marker with a bounded
// TTL is written in the same atomic unit as the record update. Any later
// attempt by that identity to activate a different trial key is refused;
// re-validating the same key remains idempotent for the bound identity.
package license
