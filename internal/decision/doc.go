// internal/decision/doc.go

// Package decision tracks agent decisions and evaluates action policy.
//
// Recorded decisions land in their own vector collection for precedent
// search and in the context graph as a FOLLOWS chain per scope.
// Outcomes resolve later and feed confidence calibration: how well the
// agent's stated confidence predicts success.
//
// The policy engine evaluates proposed actions against TOML rule
// files. Exceptions beat denies, denies beat approval requirements,
// and approval requirements beat allows. Strict mode denies actions no
// rule covers.
package decision
