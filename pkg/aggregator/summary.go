package aggregator

import (
	"sort"

	"github.com/opscart/k8s-auto-healer/pkg/cluster"
	"github.com/opscart/k8s-auto-healer/pkg/models"
	corev1 "k8s.io/api/core/v1"
)

// Summarize builds a per-namespace health overview from the same snapshot
// the samples come from. A pod counts as unhealthy when it is not running or
// any of its containers is not ready.
func Summarize(snap *cluster.Snapshot) []models.NamespaceSummary {
	summaries := make([]models.NamespaceSummary, 0, len(snap.Namespaces))

	for i := range snap.Namespaces {
		ns := &snap.Namespaces[i]
		summary := models.NamespaceSummary{
			Namespace:   ns.Namespace,
			PodsTotal:   len(ns.Pods),
			PodsByPhase: make(map[string]int),
		}

		for j := range ns.Pods {
			pod := &ns.Pods[j]
			summary.PodsByPhase[string(pod.Status.Phase)]++
			if unhealthyPod(pod) {
				summary.PodsUnhealthy++
			}
		}

		summary.WorkloadsTotal = len(ns.Workloads)
		for j := range ns.Workloads {
			if ns.Workloads[j].Ready() {
				summary.WorkloadsReady++
			}
		}

		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Namespace < summaries[j].Namespace
	})

	return summaries
}

func unhealthyPod(pod *corev1.Pod) bool {
	if pod.Status.Phase == corev1.PodSucceeded {
		return false
	}
	if pod.Status.Phase != corev1.PodRunning {
		return true
	}
	for i := range pod.Status.ContainerStatuses {
		if !pod.Status.ContainerStatuses[i].Ready {
			return true
		}
	}
	return false
}
