// Package events implements the at-least-once NATS JetStream event bus
// connecting the Session Orchestrator, Simulation Agent, and node-pool
// allocators, adapted from the teacher's events/publisher.go and
// events/subscriber.go.
package events

// Subject names used on the CoSim event bus, spec §6 "Event-bus contract".
const (
	SubjectSessionCreate    = "cosim.session.create"
	SubjectSessionTerminate = "cosim.session.terminate"
	SubjectSessionControl   = "cosim.session.control"
	SubjectSessionStatus    = "cosim.session.status"
	SubjectSessionAck       = "cosim.session.ack"

	SubjectPodAllocate   = "cosim.pod.allocate"
	SubjectPodDeallocate = "cosim.pod.deallocate"
	SubjectPodStatus     = "cosim.pod.status"

	SubjectAgentHeartbeat = "cosim.agent.heartbeat"
)

// StreamName is the JetStream stream backing all subjects in a domain.
const (
	StreamSessions = "COSIM_SESSIONS"
	StreamPods     = "COSIM_PODS"
	StreamAgents   = "COSIM_AGENTS"
)
