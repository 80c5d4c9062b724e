// Package scrape defines the job model, error taxonomy, collaborator interfaces and
// retry helper shared by the executor, the submission service and the adapters.
//
// A job moves through pending → processing → done|error. Only the worker executor
// writes status, result and error fields; adapters enforce the transition table via
// CanTransition so a redelivered job can never regress out of a terminal state.
package scrape
