package cluster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opscart/k8s-auto-healer/pkg/log"
	"github.com/opscart/k8s-auto-healer/pkg/models"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsv "k8s.io/metrics/pkg/client/clientset/versioned"
)

// PodUsage is live CPU/memory usage for one pod, from the metrics API
type PodUsage struct {
	CPUMillicores int64
	MemoryBytes   int64
}

// Interface is the narrow set of cluster operations the healer needs. It is
// implemented by Client against a real API server and, in tests, by Client
// over a fake clientset. Updates are conditional on the object's
// resourceVersion: a concurrent writer surfaces as a Conflict error.
type Interface interface {
	ListPods(ctx context.Context, namespace, selector string) ([]corev1.Pod, error)
	ListReplicaSets(ctx context.Context, namespace string) ([]appsv1.ReplicaSet, error)
	ListWorkloads(ctx context.Context, namespace string) ([]Workload, error)
	GetWorkload(ctx context.Context, ref models.WorkloadRef) (*Workload, error)
	UpdateWorkload(ctx context.Context, w *Workload) error
	ListPodUsage(ctx context.Context, namespace string) (map[string]PodUsage, error)
}

// Client implements Interface over client-go clientsets
type Client struct {
	kube    kubernetes.Interface
	metrics metricsv.Interface
	timeout time.Duration
}

// New builds a Client from the usual config chain: in-cluster first, then
// KUBECONFIG, then ~/.kube/config.
func New(timeout time.Duration) (*Client, error) {
	cfg, err := getKubeConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	// The metrics API is optional; usage enrichment degrades to nothing
	// without it.
	metricsClient, err := metricsv.NewForConfig(cfg)
	if err != nil {
		logger := log.WithComponent("cluster")
		logger.Warn().Err(err).Msg("metrics client unavailable")
		metricsClient = nil
	}

	return &Client{
		kube:    clientset,
		metrics: metricsClient,
		timeout: timeout,
	}, nil
}

// NewWithClientset wraps an existing clientset; used by tests with the
// client-go fake.
func NewWithClientset(kube kubernetes.Interface, timeout time.Duration) *Client {
	return &Client{kube: kube, timeout: timeout}
}

func getKubeConfig() (*rest.Config, error) {
	logger := log.WithComponent("cluster")

	config, err := rest.InClusterConfig()
	if err == nil {
		logger.Debug().Msg("using in-cluster kubernetes config")
		return config, nil
	}

	kubeconfigPath := os.Getenv("KUBECONFIG")
	if kubeconfigPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		kubeconfigPath = filepath.Join(homeDir, ".kube", "config")
	}

	config, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build config from kubeconfig: %w", err)
	}

	logger.Debug().Str("path", kubeconfigPath).Msg("using local kubeconfig")
	return config, nil
}

// ServerVersion reports the cluster version, as a connectivity check
func (c *Client) ServerVersion() (string, error) {
	version, err := c.kube.Discovery().ServerVersion()
	if err != nil {
		return "", fmt.Errorf("failed to connect to cluster: %w", err)
	}
	return version.GitVersion, nil
}

func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// ListNamespaces returns the names of every namespace in the cluster, for
// all-namespaces scope resolution.
func (c *Client) ListNamespaces(ctx context.Context) ([]string, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	namespaces, err := c.kube.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}

	names := make([]string, 0, len(namespaces.Items))
	for i := range namespaces.Items {
		names = append(names, namespaces.Items[i].Name)
	}
	return names, nil
}

func (c *Client) ListPods(ctx context.Context, namespace, selector string) ([]corev1.Pod, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	pods, err := c.kube.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}
	return pods.Items, nil
}

func (c *Client) ListReplicaSets(ctx context.Context, namespace string) ([]appsv1.ReplicaSet, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	replicaSets, err := c.kube.AppsV1().ReplicaSets(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list replicasets: %w", err)
	}
	return replicaSets.Items, nil
}

// ListWorkloads returns the namespace's Deployments and StatefulSets
func (c *Client) ListWorkloads(ctx context.Context, namespace string) ([]Workload, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	deployments, err := c.kube.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}

	statefulSets, err := c.kube.AppsV1().StatefulSets(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list statefulsets: %w", err)
	}

	workloads := make([]Workload, 0, len(deployments.Items)+len(statefulSets.Items))
	for i := range deployments.Items {
		workloads = append(workloads, Workload{deployment: &deployments.Items[i]})
	}
	for i := range statefulSets.Items {
		workloads = append(workloads, Workload{statefulset: &statefulSets.Items[i]})
	}
	return workloads, nil
}

func (c *Client) GetWorkload(ctx context.Context, ref models.WorkloadRef) (*Workload, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	switch ref.Kind {
	case models.KindDeployment:
		d, err := c.kube.AppsV1().Deployments(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
		if err != nil {
			return nil, err
		}
		return &Workload{deployment: d}, nil
	case models.KindStatefulSet:
		s, err := c.kube.AppsV1().StatefulSets(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
		if err != nil {
			return nil, err
		}
		return &Workload{statefulset: s}, nil
	default:
		return nil, fmt.Errorf("unsupported workload kind: %s", ref.Kind)
	}
}

// UpdateWorkload writes the workload back. The object carries the
// resourceVersion it was read at, so the API server rejects the write with a
// Conflict error if anything changed in between. The error is returned
// unwrapped for apierrors classification.
func (c *Client) UpdateWorkload(ctx context.Context, w *Workload) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	switch {
	case w.deployment != nil:
		_, err := c.kube.AppsV1().Deployments(w.deployment.Namespace).Update(ctx, w.deployment, metav1.UpdateOptions{})
		return err
	case w.statefulset != nil:
		_, err := c.kube.AppsV1().StatefulSets(w.statefulset.Namespace).Update(ctx, w.statefulset, metav1.UpdateOptions{})
		return err
	default:
		return fmt.Errorf("empty workload handle")
	}
}

// ListPodUsage returns live pod usage keyed by pod name. Returns nil without
// error when the metrics API is not available.
func (c *Client) ListPodUsage(ctx context.Context, namespace string) (map[string]PodUsage, error) {
	if c.metrics == nil {
		return nil, nil
	}

	ctx, cancel := c.bound(ctx)
	defer cancel()

	podMetrics, err := c.metrics.MetricsV1beta1().PodMetricses(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get pod metrics: %w", err)
	}

	usage := make(map[string]PodUsage, len(podMetrics.Items))
	for _, pm := range podMetrics.Items {
		var total PodUsage
		for _, container := range pm.Containers {
			cpu := container.Usage[corev1.ResourceCPU]
			mem := container.Usage[corev1.ResourceMemory]
			total.CPUMillicores += cpu.MilliValue()
			total.MemoryBytes += mem.Value()
		}
		usage[pm.Name] = total
	}
	return usage, nil
}
