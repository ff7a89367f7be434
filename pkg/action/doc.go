// Package action defines the contract for remediation actions, the registry
// that orders them, and the built-in actions: replace-stale,
// restart-unhealthy, add-secondary and remove-excess-secondary.
//
// Registration order is the order in which an engine evaluates eligibility
// and executes actions.
package action
