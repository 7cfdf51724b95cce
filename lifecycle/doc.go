// Package lifecycle drives versioned records through fixed, table-driven
// state machines.
//
// A Machine is a list of edges plus a set of terminal states:
//
//	m := lifecycle.New("quote", []Status{Accepted, Declined},
//	    lifecycle.Transition[Status]{From: Pending, Action: "approve",
//	        Roles: []lifecycle.Role{lifecycle.RoleCustomer}, To: Accepted, Owned: true},
//	)
//
// A Runner applies one action to one record stored in a
// records.Collection. It reads the record, resolves the edge for the
// caller, runs the request's hooks and commits with a single conditional
// write guarded by the version it read. Hooks registered with After and
// OnCommit only see committed state and cannot roll it back.
//
// The Runner never retries. A lost write is reported to the caller, who
// decides whether to re-read and try again.
package lifecycle
