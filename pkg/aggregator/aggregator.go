// Package aggregator reduces raw pod data into per-workload health samples.
// Everything here is pure: no I/O, deterministic output for a given snapshot.
package aggregator

import (
	"sort"

	"github.com/opscart/k8s-auto-healer/pkg/cluster"
	"github.com/opscart/k8s-auto-healer/pkg/models"
	corev1 "k8s.io/api/core/v1"
)

// podHealth is one pod's contribution to its workload's sample
type podHealth struct {
	pod          *corev1.Pod
	restartCount int32
	reason       string
	hasStatuses  bool
}

// Aggregate produces exactly one WorkloadHealthSample per observed workload.
// The sample's restart count is the maximum across all containers of all the
// workload's pods; the pod contributing that maximum becomes the sample's
// identity, ties broken by earliest creation time then name.
//
// includePodless controls whether workloads owning no listed pods still get a
// (necessarily incomplete) sample; the caller sets it when no pod selector
// narrows the scope.
func Aggregate(snap *cluster.Snapshot, includePodless bool) []models.WorkloadHealthSample {
	var samples []models.WorkloadHealthSample

	for i := range snap.Namespaces {
		ns := &snap.Namespaces[i]

		listed := make(map[models.WorkloadRef]bool, len(ns.Workloads))
		for j := range ns.Workloads {
			listed[ns.Workloads[j].Ref()] = true
		}

		best := make(map[models.WorkloadRef]podHealth)
		for j := range ns.Pods {
			pod := &ns.Pods[j]
			ref, ok := resolveOwner(pod, ns)
			if !ok || !listed[ref] {
				continue
			}

			health := measurePod(pod)
			current, seen := best[ref]
			if !seen || betterCandidate(health, current) {
				best[ref] = health
			}
		}

		for ref, health := range best {
			sample := models.WorkloadHealthSample{
				Workload:      ref,
				RestartCount:  health.restartCount,
				PodName:       health.pod.Name,
				PodUID:        string(health.pod.UID),
				RestartReason: health.reason,
				ObservedAt:    snap.ObservedAt,
				Complete:      health.hasStatuses,
			}
			samples = append(samples, sample)
		}

		if includePodless {
			for j := range ns.Workloads {
				ref := ns.Workloads[j].Ref()
				if _, seen := best[ref]; seen {
					continue
				}
				samples = append(samples, models.WorkloadHealthSample{
					Workload:   ref,
					ObservedAt: snap.ObservedAt,
					Complete:   false,
				})
			}
		}
	}

	sort.Slice(samples, func(i, j int) bool {
		a, b := samples[i].Workload, samples[j].Workload
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Kind < b.Kind
	})

	return samples
}

// resolveOwner walks Pod -> ReplicaSet -> Deployment, or Pod -> StatefulSet,
// using only the listed objects. Pods owned by anything else are not managed
// by the healer.
func resolveOwner(pod *corev1.Pod, ns *cluster.NamespaceState) (models.WorkloadRef, bool) {
	for _, owner := range pod.OwnerReferences {
		switch owner.Kind {
		case "StatefulSet":
			return models.WorkloadRef{
				Kind:      models.KindStatefulSet,
				Namespace: pod.Namespace,
				Name:      owner.Name,
			}, true
		case "ReplicaSet":
			for i := range ns.ReplicaSets {
				rs := &ns.ReplicaSets[i]
				if rs.Name != owner.Name {
					continue
				}
				for _, rsOwner := range rs.OwnerReferences {
					if rsOwner.Kind == "Deployment" {
						return models.WorkloadRef{
							Kind:      models.KindDeployment,
							Namespace: pod.Namespace,
							Name:      rsOwner.Name,
						}, true
					}
				}
			}
		}
	}
	return models.WorkloadRef{}, false
}

// measurePod finds the pod's worst container: its restart count and, when the
// container terminated before, the recorded termination reason.
func measurePod(pod *corev1.Pod) podHealth {
	health := podHealth{pod: pod, hasStatuses: len(pod.Status.ContainerStatuses) > 0}

	for i := range pod.Status.ContainerStatuses {
		status := &pod.Status.ContainerStatuses[i]
		if i > 0 && status.RestartCount <= health.restartCount {
			continue
		}
		health.restartCount = status.RestartCount
		health.reason = ""
		if term := status.LastTerminationState.Terminated; term != nil {
			health.reason = term.Reason
		}
	}

	return health
}

// betterCandidate decides whether a replaces b as the workload's worst pod
func betterCandidate(a, b podHealth) bool {
	if a.restartCount != b.restartCount {
		return a.restartCount > b.restartCount
	}
	at := a.pod.CreationTimestamp.Time
	bt := b.pod.CreationTimestamp.Time
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return a.pod.Name < b.pod.Name
}
