package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/opscart/k8s-auto-healer/pkg/cluster"
	"github.com/opscart/k8s-auto-healer/pkg/config"
	"github.com/opscart/k8s-auto-healer/pkg/episode"
	"github.com/opscart/k8s-auto-healer/pkg/models"
	"github.com/opscart/k8s-auto-healer/pkg/reporter"
	"github.com/opscart/k8s-auto-healer/pkg/storage"
)

func testConfig(namespaces ...string) *config.Config {
	return &config.Config{
		RestartThreshold: 3,
		CooldownDuration: 10 * time.Minute,
		Namespaces:       namespaces,
		ReaderWorkers:    2,
		APITimeout:       5 * time.Second,
	}
}

func crashingPod(namespace, name, uid, rsName string, restartCount int32) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: namespace,
			Name:      name,
			UID:       types.UID(uid),
			OwnerReferences: []metav1.OwnerReference{
				{Kind: "ReplicaSet", Name: rsName},
			},
		},
		Status: corev1.PodStatus{
			Phase: corev1.PodRunning,
			ContainerStatuses: []corev1.ContainerStatus{
				{
					Name:         "main",
					RestartCount: restartCount,
					Ready:        false,
					LastTerminationState: corev1.ContainerState{
						Terminated: &corev1.ContainerStateTerminated{Reason: "CrashLoopBackOff"},
					},
				},
			},
		},
	}
}

func replicaSet(namespace, name, deployName string) *appsv1.ReplicaSet {
	return &appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: namespace,
			Name:      name,
			OwnerReferences: []metav1.OwnerReference{
				{Kind: "Deployment", Name: deployName},
			},
		},
	}
}

func deployment(namespace, name string, annotations map[string]string) *appsv1.Deployment {
	replicas := int32(1)
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:   namespace,
			Name:        name,
			Annotations: annotations,
		},
		Spec: appsv1.DeploymentSpec{Replicas: &replicas},
	}
}

// crashingWorkload is a deployment plus one crash-looping pod behind it.
func crashingWorkload(namespace string, restartCount int32) []runtime.Object {
	return []runtime.Object{
		deployment(namespace, "web", nil),
		replicaSet(namespace, "web-abc", "web"),
		crashingPod(namespace, "web-abc-1", "uid-1", "web-abc", restartCount),
	}
}

func newTestRunner(clientset *fake.Clientset, cfg *config.Config, store storage.Store) *Runner {
	client := cluster.NewWithClientset(clientset, 5*time.Second)
	return New(client, cfg, reporter.New(""), store)
}

func TestRunRemediatesCrashingWorkload(t *testing.T) {
	clientset := fake.NewSimpleClientset(crashingWorkload("portal", 5)...)
	r := newTestRunner(clientset, testConfig("portal"), nil)

	result := r.Run(context.Background())

	if result.Summary.Status != models.StatusSuccess {
		t.Fatalf("Expected SUCCESS, got %s", result.Summary.Status)
	}
	if result.Summary.WorkloadsObserved != 1 {
		t.Errorf("Expected 1 workload observed, got %d", result.Summary.WorkloadsObserved)
	}
	if result.Summary.WorkloadsUnhealthy != 1 {
		t.Errorf("Expected 1 unhealthy workload, got %d", result.Summary.WorkloadsUnhealthy)
	}
	if result.Summary.Decisions[models.VerdictRemediate] != 1 {
		t.Errorf("Expected 1 REMEDIATE decision, got %+v", result.Summary.Decisions)
	}
	if len(result.Records) != 1 || result.Records[0].Result != models.ResultApplied {
		t.Fatalf("Expected 1 applied remediation, got %+v", result.Records)
	}

	d, err := clientset.AppsV1().Deployments("portal").Get(context.Background(), "web", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get deployment: %v", err)
	}
	if d.Spec.Template.Annotations[episode.RestartedAt] == "" {
		t.Error("Expected rollout restart annotation on the pod template")
	}
	if d.Annotations[episode.LastPodUID] != "uid-1" {
		t.Errorf("Expected episode annotation for uid-1, got %q", d.Annotations[episode.LastPodUID])
	}
}

func TestRunSecondCycleHitsCooldown(t *testing.T) {
	clientset := fake.NewSimpleClientset(crashingWorkload("portal", 5)...)
	r := newTestRunner(clientset, testConfig("portal"), nil)

	first := r.Run(context.Background())
	if first.Summary.Remediations[models.ResultApplied] != 1 {
		t.Fatalf("First cycle should remediate, got %+v", first.Summary.Remediations)
	}

	// Same pod, same counter, moments later: the episode annotations written
	// by the first cycle put the workload inside its cooldown.
	second := r.Run(context.Background())

	if second.Summary.Decisions[models.VerdictSkip] != 1 {
		t.Errorf("Expected SKIP in second cycle, got %+v", second.Summary.Decisions)
	}
	if len(second.Records) != 0 {
		t.Errorf("Second cycle must not remediate, got %+v", second.Records)
	}
	if len(second.Decisions) != 1 || second.Decisions[0].Reason != "cooldown active" {
		t.Errorf("Expected cooldown active skip, got %+v", second.Decisions)
	}
}

func TestRunRemediatesAgainAfterCooldown(t *testing.T) {
	// The same pod was remediated an hour ago and never recovered.
	stale := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	objects := []runtime.Object{
		deployment("portal", "web", map[string]string{
			episode.LastRemediation: stale,
			episode.LastPodUID:      "uid-1",
		}),
		replicaSet("portal", "web-abc", "web"),
		crashingPod("portal", "web-abc-1", "uid-1", "web-abc", 5),
	}
	clientset := fake.NewSimpleClientset(objects...)
	r := newTestRunner(clientset, testConfig("portal"), nil)

	result := r.Run(context.Background())

	if result.Summary.Remediations[models.ResultApplied] != 1 {
		t.Fatalf("Expected remediation after expired cooldown, got %+v", result.Summary.Remediations)
	}
	if result.Decisions[0].Classification != models.CooldownExpired {
		t.Errorf("Expected COOLDOWN_EXPIRED, got %s", result.Decisions[0].Classification)
	}

	d, err := clientset.AppsV1().Deployments("portal").Get(context.Background(), "web", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get deployment: %v", err)
	}
	if d.Annotations[episode.ConsecutiveEpisode] != "true" {
		t.Errorf("Expected consecutive episode marker, got %q", d.Annotations[episode.ConsecutiveEpisode])
	}
}

func TestRunReplacementPodResetsEpisode(t *testing.T) {
	// After a remediation the replacement pod reports a fresh counter. The
	// recorded episode must not trigger anything again.
	recent := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
	objects := []runtime.Object{
		deployment("portal", "web", map[string]string{
			episode.LastRemediation: recent,
			episode.LastPodUID:      "uid-old",
		}),
		replicaSet("portal", "web-def", "web"),
		crashingPod("portal", "web-def-1", "uid-new", "web-def", 0),
	}
	clientset := fake.NewSimpleClientset(objects...)
	r := newTestRunner(clientset, testConfig("portal"), nil)

	result := r.Run(context.Background())

	if result.Summary.Decisions[models.VerdictNoAction] != 1 {
		t.Errorf("Expected NO_ACTION for replacement pod, got %+v", result.Summary.Decisions)
	}
	if len(result.Records) != 0 {
		t.Errorf("Expected no remediation, got %+v", result.Records)
	}
}

func TestRunBelowThreshold(t *testing.T) {
	clientset := fake.NewSimpleClientset(crashingWorkload("portal", 2)...)
	r := newTestRunner(clientset, testConfig("portal"), nil)

	result := r.Run(context.Background())

	if result.Summary.Decisions[models.VerdictNoAction] != 1 {
		t.Errorf("Expected NO_ACTION below threshold, got %+v", result.Summary.Decisions)
	}
	if result.Summary.WorkloadsUnhealthy != 0 {
		t.Errorf("Expected 0 unhealthy workloads, got %d", result.Summary.WorkloadsUnhealthy)
	}
}

func TestRunDryRun(t *testing.T) {
	clientset := fake.NewSimpleClientset(crashingWorkload("portal", 5)...)
	cfg := testConfig("portal")
	cfg.DryRun = true
	r := newTestRunner(clientset, cfg, nil)

	result := r.Run(context.Background())

	if result.Summary.Remediations[models.ResultDryRun] != 1 {
		t.Fatalf("Expected dry_run result, got %+v", result.Summary.Remediations)
	}

	d, err := clientset.AppsV1().Deployments("portal").Get(context.Background(), "web", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get deployment: %v", err)
	}
	if len(d.Annotations) != 0 || len(d.Spec.Template.Annotations) != 0 {
		t.Error("Dry run must not mutate the workload")
	}
}

func TestRunPartialOnUnreachableNamespace(t *testing.T) {
	objects := crashingWorkload("portal", 5)
	clientset := fake.NewSimpleClientset(objects...)
	clientset.PrependReactor("list", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		if action.GetNamespace() == "unreachable" {
			return true, nil, errors.New("connection refused")
		}
		return false, nil, nil
	})

	r := newTestRunner(clientset, testConfig("portal", "unreachable"), nil)
	result := r.Run(context.Background())

	if result.Summary.Status != models.StatusPartial {
		t.Fatalf("Expected PARTIAL, got %s", result.Summary.Status)
	}
	if result.Summary.Remediations[models.ResultApplied] != 1 {
		t.Errorf("Reachable namespace must still be remediated, got %+v", result.Summary.Remediations)
	}
	if len(result.Summary.FailedNamespaces) != 1 || result.Summary.FailedNamespaces[0] != "unreachable" {
		t.Errorf("FailedNamespaces = %v", result.Summary.FailedNamespaces)
	}
}

func TestRunFatalOnForbiddenNamespace(t *testing.T) {
	clientset := fake.NewSimpleClientset(crashingWorkload("portal", 5)...)
	clientset.PrependReactor("list", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		if action.GetNamespace() == "locked" {
			return true, nil, apierrors.NewForbidden(
				schema.GroupResource{Resource: "pods"}, "", errors.New("access denied"))
		}
		return false, nil, nil
	})

	r := newTestRunner(clientset, testConfig("portal", "locked"), nil)
	result := r.Run(context.Background())

	if result.Summary.Status != models.StatusFatal {
		t.Fatalf("Expected FATAL on permission error, got %s", result.Summary.Status)
	}
	if len(result.Records) != 0 {
		t.Errorf("Fatal cycle must not remediate, got %+v", result.Records)
	}
}

func TestRunFatalWhenScopeEntirelyUnreadable(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	clientset.PrependReactor("list", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("connection refused")
	})

	r := newTestRunner(clientset, testConfig("portal", "hrt-sre"), nil)
	result := r.Run(context.Background())

	if result.Summary.Status != models.StatusFatal {
		t.Errorf("Expected FATAL when every namespace fails, got %s", result.Summary.Status)
	}
}

func TestRunPersistsHistory(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "healer.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	clientset := fake.NewSimpleClientset(crashingWorkload("portal", 5)...)
	r := newTestRunner(clientset, testConfig("portal"), store)

	result := r.Run(context.Background())
	if result.Summary.Status != models.StatusSuccess {
		t.Fatalf("Expected SUCCESS, got %s", result.Summary.Status)
	}

	ctx := context.Background()
	records, err := store.ListRemediations(ctx, "portal", 10)
	if err != nil {
		t.Fatalf("ListRemediations: %v", err)
	}
	if len(records) != 1 || records[0].Result != models.ResultApplied {
		t.Errorf("Expected persisted remediation, got %+v", records)
	}

	cycles, err := store.ListCycles(ctx, 10)
	if err != nil {
		t.Fatalf("ListCycles: %v", err)
	}
	if len(cycles) != 1 || cycles[0].Status != models.StatusSuccess {
		t.Errorf("Expected persisted cycle summary, got %+v", cycles)
	}
	if cycles[0].ID != result.Summary.ID {
		t.Errorf("Cycle ID mismatch: %s vs %s", cycles[0].ID, result.Summary.ID)
	}
}

func TestRunDisabledNamespaceRule(t *testing.T) {
	policyPath := filepath.Join(t.TempDir(), "policy.yaml")
	policyYAML := "namespaces:\n  portal:\n    disabled: true\n"
	if err := os.WriteFile(policyPath, []byte(policyYAML), 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	cfg := testConfig("portal")
	policy, err := config.LoadPolicy(policyPath)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	cfg.Policy = policy

	clientset := fake.NewSimpleClientset(crashingWorkload("portal", 5)...)
	r := newTestRunner(clientset, cfg, nil)

	result := r.Run(context.Background())

	if result.Summary.Decisions[models.VerdictSkip] != 1 {
		t.Errorf("Expected SKIP for disabled namespace, got %+v", result.Summary.Decisions)
	}
	if len(result.Records) != 0 {
		t.Errorf("Disabled namespace must not be remediated, got %+v", result.Records)
	}
}

func TestRunDisabledWorkloadAnnotation(t *testing.T) {
	objects := []runtime.Object{
		deployment("portal", "web", map[string]string{episode.Disabled: "true"}),
		replicaSet("portal", "web-abc", "web"),
		crashingPod("portal", "web-abc-1", "uid-1", "web-abc", 5),
	}
	clientset := fake.NewSimpleClientset(objects...)
	r := newTestRunner(clientset, testConfig("portal"), nil)

	result := r.Run(context.Background())

	if len(result.Decisions) != 1 || result.Decisions[0].Reason != "remediation disabled" {
		t.Errorf("Expected remediation disabled skip, got %+v", result.Decisions)
	}
	if len(result.Records) != 0 {
		t.Errorf("Opted-out workload must not be remediated, got %+v", result.Records)
	}
}
