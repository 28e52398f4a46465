// Package harness runs YAML scenarios against the notification engine and
// records what subscribers observe.
//
// # Scenario Format
//
//	name: uncompleted_tasks
//	description: "What this scenario validates"
//	store: memory            # or sqlite
//	specifications: |
//	  queries: open: "S.list F.type=\"Task\" N(S.task F.type=\"Completion\")"
//	facts:
//	  - id: alice
//	    type: User
//	    fields: {publicKey: alice}
//	  - id: chores
//	    type: List
//	    fields: {name: chores}
//	    predecessors: {owner: alice}
//	subscriptions:
//	  - id: open
//	    root: chores
//	    query: open
//	steps:
//	  - save: [alice, chores]
//	  - subscribe: open
//	  - read: {specification: names, given: [alice]}
//	  - query: {root: chores, query: open}
//	  - dispose: open
//	expect:
//	  - "save alice chores (2 new)"
//	assertions:
//	  - type: trace_contains
//	    line: "open +"
//
// # Trace Format
//
// Every step writes one line, followed by the callback output it caused:
//
//	save <ids> (<n> new)        facts persisted by the step
//	subscribe <id>              followed by the initial results
//	<id> + [<root> <path...>]   a result path was added
//	<id> - [<root> <path...>]   a result path was removed
//	<id> => [<results>]         a specification listener fired
//	read <spec>(<ids>) => [...] projected results
//	query <root> => [...], ...  result paths without the root
//	dispose <id>
//
// Facts are named by their scenario ids. Field values are canonical JSON.
// A step declared with error: writes "<step> => error" instead.
//
// # Deterministic Testing
//
// Each run uses a fresh store and sequential subscription ids, so traces
// are identical across runs and suitable for golden comparison.
package harness
