package models

import "time"

// WorkloadKind identifies the kind of a managed workload
type WorkloadKind string

const (
	KindDeployment  WorkloadKind = "Deployment"
	KindStatefulSet WorkloadKind = "StatefulSet"
)

// WorkloadRef identifies a workload inside the cluster
type WorkloadRef struct {
	Kind      WorkloadKind
	Namespace string
	Name      string
}

func (r WorkloadRef) String() string {
	return r.Namespace + "/" + r.Name
}

// WorkloadHealthSample is one per-workload health observation for a single
// evaluation tick. RestartCount is the maximum restart count across all
// containers of the workload's current pods; PodUID identifies the pod that
// contributed that maximum. Restart counters are scoped to a pod's lifetime,
// so RestartCount resets to zero whenever PodUID changes.
type WorkloadHealthSample struct {
	Workload WorkloadRef

	RestartCount  int32
	PodName       string
	PodUID        string
	RestartReason string // last termination reason of the worst container, if known

	ObservedAt time.Time

	// Complete is false when the workload had no pods or its pods reported
	// no container statuses yet. Incomplete samples are never remediated.
	Complete bool
}
