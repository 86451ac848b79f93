// Package harness runs YAML scenarios against a live engine.
//
// # Scenario Format
//
//	name: fetch_success
//	description: "A fetch resolves and the entity appears"
//	catalog: catalog.cue   # optional, relative to the scenario file
//	steps:
//	  - upsert:  { key: u1, attrs: { name: Ann } }
//	  - patch:   { key: u1, attrs: { age: 3 } }
//	  - remove:  { key: u1 }
//	  - request: { op: "fetchEntity:u2", policy: supersede, as: A }
//	  - resolve: { call: A, result: { name: Bo } }
//	  - reject:  { call: A, error: "network down" }
//	  - reset:   { op: "fetchEntity:u2" }
//	assertions:
//	  - type: entity
//	    key: u2
//	    expect: { name: Bo }
//	  - type: status
//	    op: "fetchEntity:u2"
//	    status: fulfilled
//	  - type: transitions
//	    op: "fetchEntity:u2"
//	    statuses: [pending, fulfilled]
//	  - type: notifications
//	    count: 2
//
// Each step holds exactly one action. A step may add fails: "<substring>"
// when the action is expected to be refused (unknown kind, resetting a
// pending key).
//
// # Assertion Types
//
//   - entity: the entity at key equals expect exactly; absent: true
//     requires that no entity exists
//   - status: the operation's status, and its error when given
//   - transitions: the deduplicated statuses observers saw for op, in order
//   - notifications: the number of snapshots published
//
// # Deterministic Execution
//
// The engine runs with a testutil.ManualPerformer, sequential request IDs
// ("req-1", "req-2", ...) and a step clock, so the same scenario always
// produces the same trace. Calls are settled only by resolve and reject
// steps, in the order the scenario lists them, which makes out-of-order
// resolutions straightforward to express.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/fetch.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
