package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		resourceNamingPolicy(),
		sshIngressPolicy(),
		instanceLimitPolicy(),
		productionTeardownPolicy(),
	}
}

// resourceNamingPolicy keeps resource names usable as host names and
// flag names.
func resourceNamingPolicy() Policy {
	return Policy{
		Name:        "resource-naming",
		Description: "Resource name segments are lowercase alphanumerics, hyphens or underscores",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package spinup.policies.naming

import rego.v1

deny contains violation if {
	some r in input.resources
	some segment in split(r.name, ".")
	not regex.match("^[a-z0-9][a-z0-9_-]*$", segment)
	violation := {
		"message": sprintf("resource %s: segment %s should be lowercase alphanumerics, hyphens or underscores", [r.name, segment]),
		"resource": r.name,
	}
}`,
	}
}

// sshIngressPolicy flags security groups that expose SSH to the world.
func sshIngressPolicy() Policy {
	return Policy{
		Name:        "ssh-ingress",
		Description: "Security groups should not open port 22 to 0.0.0.0/0",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"network", "security"},
		Rego: `package spinup.policies.ssh

import rego.v1

deny contains violation if {
	some r in input.resources
	r.type == "SecurityGroup"
	r.vars.cidr == "0.0.0.0/0"
	some port in r.vars.ports
	port == 22
	violation := {
		"message": sprintf("security group %s opens SSH to the internet", [r.name]),
		"resource": r.name,
	}
}`,
	}
}

// instanceLimitPolicy caps cluster size.
func instanceLimitPolicy() Policy {
	return Policy{
		Name:        "instance-limit",
		Description: "Clusters may not request more than 20 instances",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"cost", "safety"},
		Rego: `package spinup.policies.instances

import rego.v1

max_instances := 20

deny contains violation if {
	some r in input.resources
	r.type == "Cluster"
	r.vars.count > max_instances
	violation := {
		"message": sprintf("cluster %s requests %d instances, the limit is %d", [r.name, r.vars.count, max_instances]),
		"resource": r.name,
	}
}`,
	}
}

// productionTeardownPolicy refuses down in production.
func productionTeardownPolicy() Policy {
	return Policy{
		Name:        "production-teardown",
		Description: "Tearing down a production environment must be explicitly allowed",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"operations", "safety", "production"},
		Rego: `package spinup.policies.operations

import rego.v1

deny contains violation if {
	input.context.operation == "down"
	input.context.environment == "production"
	not input.context.dry_run
	violation := {
		"message": sprintf("down is not allowed on %s in production; disable production-teardown to proceed", [input.root.name]),
		"resource": input.root.name,
	}
}`,
	}
}
