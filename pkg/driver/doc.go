/*
Package driver defines the seams through which nodes are mutated.

The deployment core never touches a node directly. Three interfaces
cover everything a rollout needs from the outside world:

	NodeDriver       load/unload a module version on one node
	ArtifactStager   make a module's binary reachable by a node set
	NodeProvisioner  stand up or tear down node pools (blue-green)

Hosts implement these against their real fleet: an SSH executor, a
node agent RPC, an image pre-puller, an autoscaling group. The core
only requires the contracts: applies honor cancellation, a failed
apply leaves the node on its previous version, and Provision returns
nodes that are addressable and healthy.

# Simulated Implementations

SimDriver, SimStager, and SimProvisioner are in-memory, scriptable
stand-ins used by tests and the simulate command:

	drv := driver.NewSimDriver()
	drv.FailApply("node-3", "insmod exited 1")  // scripted failure
	drv.HangApply("node-4")                     // blocks until ctx cancel

Scripted hangs exist so batch tests behave deterministically: when
one node of a parallel batch fails, its siblings are cancelled, and a
hanging sibling proves the cancellation path rather than racing it.

# See Also

  - pkg/strategy for who calls ApplyModule/RollbackModule and when
  - pkg/pipeline for the preparation stage built on ArtifactStager
*/
package driver
