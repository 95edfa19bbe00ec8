// Package policy gates lifecycle verbs with Open Policy Agent rules.
//
// Before up (and down) the controller describes the elaborated resource
// graph as an Input document and evaluates every enabled Rego module
// against it. A module contributes violations through a "deny" set in its
// package:
//
//	package site.sizes
//
//	import rego.v1
//
//	deny contains violation if {
//		some r in input.resources
//		r.type == "Cluster"
//		r.vars.count > 5
//		violation := {"message": "too many instances", "resource": r.name}
//	}
//
// Violations with error or critical severity block the verb. Warnings are
// logged and the verb proceeds.
//
// Policies come from the built-ins, from .rego files (named after the
// file, warning severity), or from JSON and YAML definitions that carry
// their own name and severity. Loader.Watch reloads them when files
// change, which the check verb uses for a tight edit loop.
package policy
