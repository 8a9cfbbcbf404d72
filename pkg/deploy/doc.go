/*
Package deploy implements the Deployment Engine: the component that
converges a project's declared service set onto a fleet of hosts across
possibly many regions, using the toggle-rollout scheme so a service never
has zero healthy backends mid-deploy.

# Architecture

	┌─────────────────────── DEPLOYMENT ENGINE ────────────────────────┐
	│                                                                    │
	│  ┌───────────────────────────────────────────────┐               │
	│  │                   Engine                        │               │
	│  │  - One Deploy() call per project convergence    │               │
	│  │  - Services deploy wave by wave (startup_order) │               │
	│  │  - Per-host steps run concurrently within a wave│               │
	│  └──────────────────────┬──────────────────────────┘               │
	│                         │                                          │
	│  ┌──────────────────────▼──────────────────────────┐              │
	│  │              Per-service rollout                  │              │
	│  │                                                    │              │
	│  │  Plan → AllocateHosts →                           │              │
	│  │    ForEachHost{ DetermineToggle → Start →         │              │
	│  │                 HealthGate → RecordDeployment }   │              │
	│  │    → UpdateSidecarsAllHosts → StopOldContainers   │              │
	│  │    → ReclaimHosts → Done | Failed(rollback)       │              │
	│  │                                                    │              │
	│  │  Toggle law: the slot not currently live wins the │              │
	│  │  next rollout, so the old container keeps serving │              │
	│  │  until the new one passes its health gate.        │              │
	│  └────────────────────────────────────────────────────┘              │
	│                                                                    │
	│  ┌────────────────────────────────────────────────┐               │
	│  │              Failure Handling                     │               │
	│  │                                                    │               │
	│  │  Any failure between Start and UpdateSidecars:    │               │
	│  │    stop/remove every new container this rollout   │               │
	│  │    created, leave the old set serving.            │               │
	│  │  Partial UpdateSidecars failure: revert the file  │               │
	│  │    on the hosts that already got it.              │               │
	│  └────────────────────────────────────────────────┘               │
	└────────────────────────────────────────────────────────────────────┘

# Core components

Engine:
  - Orchestrates Deploy() across waves of services and, within a wave,
    across every host a service is assigned to
  - Holds the Server Inventory, Remote Executor, Template Provisioner,
    Sidecar Configurator, and Secrets Store it needs to complete a rollout
  - Never talks to the Health Agent directly — container lifecycle is
    driven through the Remote Executor's ctr invocations, the same
    convention the Remote Executor already uses for ExecInContainer

GateSpec / HealthGate:
  - Per-kind health probe (HTTP, TCP, non-networked worker dwell) run
    after Start, before a container is considered live
  - ScheduledGate replaces it for scheduled services with a one-shot
    smoke command

Window / CooldownTracker / Evaluate:
  - Rolling 10-minute resource sample window per service and the
    vertical-before-horizontal scaling decision spec'd for the leader's
    5-minute auto-scale cycle
*/
package deploy
