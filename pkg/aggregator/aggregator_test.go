package aggregator

import (
	"testing"
	"time"

	"github.com/opscart/k8s-auto-healer/pkg/cluster"
	"github.com/opscart/k8s-auto-healer/pkg/models"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func makePod(namespace, name, uid, rsName string, createdOffset time.Duration, statuses ...corev1.ContainerStatus) corev1.Pod {
	return corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:         namespace,
			Name:              name,
			UID:               types.UID(uid),
			CreationTimestamp: metav1.Time{Time: baseTime.Add(createdOffset)},
			OwnerReferences: []metav1.OwnerReference{
				{Kind: "ReplicaSet", Name: rsName},
			},
		},
		Status: corev1.PodStatus{
			Phase:             corev1.PodRunning,
			ContainerStatuses: statuses,
		},
	}
}

func makeStatefulPod(namespace, name, uid, stsName string, statuses ...corev1.ContainerStatus) corev1.Pod {
	p := makePod(namespace, name, uid, "", 0, statuses...)
	p.OwnerReferences = []metav1.OwnerReference{{Kind: "StatefulSet", Name: stsName}}
	return p
}

func makeRS(namespace, name, deployName string) appsv1.ReplicaSet {
	return appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: namespace,
			Name:      name,
			OwnerReferences: []metav1.OwnerReference{
				{Kind: "Deployment", Name: deployName},
			},
		},
	}
}

func restarts(count int32) corev1.ContainerStatus {
	return corev1.ContainerStatus{Name: "main", RestartCount: count, Ready: true}
}

func crashed(count int32, reason string) corev1.ContainerStatus {
	return corev1.ContainerStatus{
		Name:         "main",
		RestartCount: count,
		Ready:        false,
		LastTerminationState: corev1.ContainerState{
			Terminated: &corev1.ContainerStateTerminated{Reason: reason},
		},
	}
}

func deployWorkload(namespace, name string) cluster.Workload {
	replicas := int32(1)
	return *cluster.NewDeploymentWorkload(&appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name},
		Spec:       appsv1.DeploymentSpec{Replicas: &replicas},
	})
}

func stsWorkload(namespace, name string) cluster.Workload {
	replicas := int32(1)
	return *cluster.NewStatefulSetWorkload(&appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name},
		Spec:       appsv1.StatefulSetSpec{Replicas: &replicas},
	})
}

func snapshotOf(states ...cluster.NamespaceState) *cluster.Snapshot {
	return &cluster.Snapshot{ObservedAt: baseTime, Namespaces: states}
}

func TestAggregateMaxAcrossContainers(t *testing.T) {
	pod := makePod("portal", "web-abc-1", "uid-1", "web-abc", 0,
		corev1.ContainerStatus{Name: "sidecar", RestartCount: 1, Ready: true},
		crashed(4, "OOMKilled"),
	)

	snap := snapshotOf(cluster.NamespaceState{
		Namespace:   "portal",
		Pods:        []corev1.Pod{pod},
		Workloads:   []cluster.Workload{deployWorkload("portal", "web")},
		ReplicaSets: []appsv1.ReplicaSet{makeRS("portal", "web-abc", "web")},
	})

	samples := Aggregate(snap, true)

	if len(samples) != 1 {
		t.Fatalf("Expected 1 sample, got %d", len(samples))
	}
	s := samples[0]
	if s.RestartCount != 4 {
		t.Errorf("Expected max restart count 4, got %d", s.RestartCount)
	}
	if s.PodUID != "uid-1" {
		t.Errorf("Expected pod identity uid-1, got %s", s.PodUID)
	}
	if s.RestartReason != "OOMKilled" {
		t.Errorf("Expected restart reason OOMKilled, got %q", s.RestartReason)
	}
	if !s.Complete {
		t.Error("Sample with container statuses must be complete")
	}
	if s.Workload.Kind != models.KindDeployment || s.Workload.Name != "web" {
		t.Errorf("Expected deployment web, got %+v", s.Workload)
	}
}

func TestAggregateMaxAcrossPods(t *testing.T) {
	snap := snapshotOf(cluster.NamespaceState{
		Namespace: "portal",
		Pods: []corev1.Pod{
			makePod("portal", "web-abc-1", "uid-1", "web-abc", 0, restarts(2)),
			makePod("portal", "web-abc-2", "uid-2", "web-abc", time.Minute, restarts(7)),
		},
		Workloads:   []cluster.Workload{deployWorkload("portal", "web")},
		ReplicaSets: []appsv1.ReplicaSet{makeRS("portal", "web-abc", "web")},
	})

	samples := Aggregate(snap, true)

	if len(samples) != 1 {
		t.Fatalf("Expected one sample per workload, got %d", len(samples))
	}
	if samples[0].RestartCount != 7 || samples[0].PodUID != "uid-2" {
		t.Errorf("Expected the worst pod to win (7, uid-2), got (%d, %s)",
			samples[0].RestartCount, samples[0].PodUID)
	}
}

func TestAggregateTieBreaksByCreationTime(t *testing.T) {
	snap := snapshotOf(cluster.NamespaceState{
		Namespace: "portal",
		Pods: []corev1.Pod{
			makePod("portal", "web-abc-2", "uid-younger", "web-abc", time.Hour, restarts(5)),
			makePod("portal", "web-abc-1", "uid-older", "web-abc", 0, restarts(5)),
		},
		Workloads:   []cluster.Workload{deployWorkload("portal", "web")},
		ReplicaSets: []appsv1.ReplicaSet{makeRS("portal", "web-abc", "web")},
	})

	samples := Aggregate(snap, true)

	if len(samples) != 1 {
		t.Fatalf("Expected 1 sample, got %d", len(samples))
	}
	if samples[0].PodUID != "uid-older" {
		t.Errorf("Tie must resolve to the earliest-created pod, got %s", samples[0].PodUID)
	}
}

func TestAggregateStatefulSetPods(t *testing.T) {
	snap := snapshotOf(cluster.NamespaceState{
		Namespace: "portal",
		Pods: []corev1.Pod{
			makeStatefulPod("portal", "db-0", "uid-db", "db", restarts(3)),
		},
		Workloads: []cluster.Workload{stsWorkload("portal", "db")},
	})

	samples := Aggregate(snap, true)

	if len(samples) != 1 {
		t.Fatalf("Expected 1 sample, got %d", len(samples))
	}
	if samples[0].Workload.Kind != models.KindStatefulSet {
		t.Errorf("Expected StatefulSet sample, got %s", samples[0].Workload.Kind)
	}
}

func TestAggregateIgnoresUnmanagedPods(t *testing.T) {
	bare := makePod("portal", "oneoff", "uid-x", "", 0, restarts(9))
	bare.OwnerReferences = nil

	orphaned := makePod("portal", "orphan-1", "uid-y", "unknown-rs", 0, restarts(9))

	snap := snapshotOf(cluster.NamespaceState{
		Namespace:   "portal",
		Pods:        []corev1.Pod{bare, orphaned},
		Workloads:   []cluster.Workload{deployWorkload("portal", "web")},
		ReplicaSets: []appsv1.ReplicaSet{makeRS("portal", "web-abc", "web")},
	})

	samples := Aggregate(snap, false)

	if len(samples) != 0 {
		t.Errorf("Unmanaged pods must not produce samples, got %d", len(samples))
	}
}

func TestAggregateIncompleteSamples(t *testing.T) {
	// pod exists but reports no container statuses yet
	fresh := makePod("portal", "web-abc-1", "uid-1", "web-abc", 0)

	snap := snapshotOf(cluster.NamespaceState{
		Namespace:   "portal",
		Pods:        []corev1.Pod{fresh},
		Workloads:   []cluster.Workload{deployWorkload("portal", "web"), deployWorkload("portal", "idle")},
		ReplicaSets: []appsv1.ReplicaSet{makeRS("portal", "web-abc", "web")},
	})

	samples := Aggregate(snap, true)

	if len(samples) != 2 {
		t.Fatalf("Expected 2 samples (fresh pod + podless workload), got %d", len(samples))
	}
	for _, s := range samples {
		if s.Complete {
			t.Errorf("Sample %s must be incomplete", s.Workload.Name)
		}
	}

	// with a pod selector in play, podless workloads are not observed
	samples = Aggregate(snap, false)
	if len(samples) != 1 || samples[0].Workload.Name != "web" {
		t.Errorf("Expected only the pod-owning workload, got %d samples", len(samples))
	}
}

func TestAggregateDeterministicOrder(t *testing.T) {
	snap := snapshotOf(
		cluster.NamespaceState{
			Namespace: "portal",
			Pods: []corev1.Pod{
				makePod("portal", "web-abc-1", "uid-1", "web-abc", 0, restarts(1)),
				makePod("portal", "api-def-1", "uid-2", "api-def", 0, restarts(1)),
			},
			Workloads: []cluster.Workload{
				deployWorkload("portal", "web"),
				deployWorkload("portal", "api"),
			},
			ReplicaSets: []appsv1.ReplicaSet{
				makeRS("portal", "web-abc", "web"),
				makeRS("portal", "api-def", "api"),
			},
		},
		cluster.NamespaceState{
			Namespace: "hrt-sre",
			Pods: []corev1.Pod{
				makePod("hrt-sre", "job-xyz-1", "uid-3", "job-xyz", 0, restarts(1)),
			},
			Workloads:   []cluster.Workload{deployWorkload("hrt-sre", "job")},
			ReplicaSets: []appsv1.ReplicaSet{makeRS("hrt-sre", "job-xyz", "job")},
		},
	)

	first := Aggregate(snap, true)
	second := Aggregate(snap, true)

	if len(first) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(first))
	}

	want := []string{"hrt-sre/job", "portal/api", "portal/web"}
	for i, s := range first {
		if s.Workload.String() != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], s.Workload.String())
		}
	}

	for i := range first {
		if first[i] != second[i] {
			t.Errorf("Aggregation must be deterministic; sample %d differs", i)
		}
	}
}

func TestSummarize(t *testing.T) {
	running := makePod("portal", "web-abc-1", "uid-1", "web-abc", 0, restarts(0))
	crashing := makePod("portal", "web-abc-2", "uid-2", "web-abc", 0, crashed(5, "Error"))
	pending := makePod("portal", "web-abc-3", "uid-3", "web-abc", 0)
	pending.Status.Phase = corev1.PodPending

	readyReplicas := int32(1)
	ready := *cluster.NewDeploymentWorkload(&appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Namespace: "portal", Name: "web"},
		Spec:       appsv1.DeploymentSpec{Replicas: &readyReplicas},
		Status:     appsv1.DeploymentStatus{ReadyReplicas: 1},
	})

	degradedReplicas := int32(3)
	notReady := *cluster.NewDeploymentWorkload(&appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Namespace: "portal", Name: "api"},
		Spec:       appsv1.DeploymentSpec{Replicas: &degradedReplicas},
		Status:     appsv1.DeploymentStatus{ReadyReplicas: 1},
	})

	snap := snapshotOf(cluster.NamespaceState{
		Namespace: "portal",
		Pods:      []corev1.Pod{running, crashing, pending},
		Workloads: []cluster.Workload{ready, notReady},
	})

	summaries := Summarize(snap)

	if len(summaries) != 1 {
		t.Fatalf("Expected 1 summary, got %d", len(summaries))
	}
	s := summaries[0]

	if s.PodsTotal != 3 {
		t.Errorf("Expected 3 pods, got %d", s.PodsTotal)
	}
	if s.PodsByPhase["Running"] != 2 || s.PodsByPhase["Pending"] != 1 {
		t.Errorf("Unexpected phase counts: %v", s.PodsByPhase)
	}
	if s.PodsUnhealthy != 2 {
		t.Errorf("Expected 2 unhealthy pods (crashing + pending), got %d", s.PodsUnhealthy)
	}
	if s.WorkloadsTotal != 2 || s.WorkloadsReady != 1 {
		t.Errorf("Expected 1/2 workloads ready, got %d/%d", s.WorkloadsReady, s.WorkloadsTotal)
	}
}
