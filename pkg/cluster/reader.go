package cluster

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opscart/k8s-auto-healer/pkg/log"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// NamespaceState is everything read from one namespace in one cycle
type NamespaceState struct {
	Namespace   string
	Pods        []corev1.Pod
	Workloads   []Workload
	ReplicaSets []appsv1.ReplicaSet
	Usage       map[string]PodUsage
}

// Failure records one namespace that could not be read this cycle
type Failure struct {
	Namespace string
	Err       error
	Fatal     bool
}

// Snapshot is one cycle's read-only view of the configured scope
type Snapshot struct {
	ObservedAt time.Time
	Namespaces []NamespaceState
	Failures   []Failure
}

// FailedNamespaces lists the namespaces excluded from this snapshot
func (s *Snapshot) FailedNamespaces() []string {
	names := make([]string, 0, len(s.Failures))
	for _, f := range s.Failures {
		names = append(names, f.Namespace)
	}
	return names
}

// FatalFailure reports whether any namespace failed with a permission or
// configuration error, which makes the configured scope unusable.
func (s *Snapshot) FatalFailure() bool {
	for _, f := range s.Failures {
		if f.Fatal {
			return true
		}
	}
	return false
}

// ReaderOptions configures a Reader
type ReaderOptions struct {
	// Selector filters pods; workloads are listed unfiltered and scoped to
	// pods that matched.
	Selector string
	// Workers bounds the namespace read fan-out
	Workers int
	// CollectUsage attaches live pod usage from the metrics API when available
	CollectUsage bool
}

// Reader lists the healer's view of the cluster, namespace by namespace.
// Namespaces are read concurrently and independently: one unreachable
// namespace never aborts the others.
type Reader struct {
	client Interface
	opts   ReaderOptions
}

// NewReader creates a Reader over the given cluster client
func NewReader(client Interface, opts ReaderOptions) *Reader {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Reader{client: client, opts: opts}
}

// Snapshot reads all configured namespaces through a bounded worker pool.
// Results are deterministic: namespaces and failures come back sorted.
func (r *Reader) Snapshot(ctx context.Context, namespaces []string) *Snapshot {
	snap := &Snapshot{ObservedAt: time.Now().UTC()}

	type result struct {
		state   *NamespaceState
		failure *Failure
	}

	work := make(chan string)
	results := make(chan result, len(namespaces))

	var wg sync.WaitGroup
	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ns := range work {
				state, err := r.readNamespace(ctx, ns)
				if err != nil {
					results <- result{failure: &Failure{
						Namespace: ns,
						Err:       err,
						Fatal:     isPermissionError(err),
					}}
					continue
				}
				results <- result{state: state}
			}
		}()
	}

	go func() {
		for _, ns := range namespaces {
			work <- ns
		}
		close(work)
	}()

	wg.Wait()
	close(results)

	logger := log.WithComponent("reader")
	for res := range results {
		if res.failure != nil {
			logger.Warn().
				Str("namespace", res.failure.Namespace).
				Bool("fatal", res.failure.Fatal).
				Err(res.failure.Err).
				Msg("namespace read failed")
			snap.Failures = append(snap.Failures, *res.failure)
			continue
		}
		snap.Namespaces = append(snap.Namespaces, *res.state)
	}

	sort.Slice(snap.Namespaces, func(i, j int) bool {
		return snap.Namespaces[i].Namespace < snap.Namespaces[j].Namespace
	})
	sort.Slice(snap.Failures, func(i, j int) bool {
		return snap.Failures[i].Namespace < snap.Failures[j].Namespace
	})

	return snap
}

func (r *Reader) readNamespace(ctx context.Context, namespace string) (*NamespaceState, error) {
	pods, err := r.client.ListPods(ctx, namespace, r.opts.Selector)
	if err != nil {
		return nil, err
	}

	workloads, err := r.client.ListWorkloads(ctx, namespace)
	if err != nil {
		return nil, err
	}

	replicaSets, err := r.client.ListReplicaSets(ctx, namespace)
	if err != nil {
		return nil, err
	}

	state := &NamespaceState{
		Namespace:   namespace,
		Pods:        pods,
		Workloads:   workloads,
		ReplicaSets: replicaSets,
	}

	if r.opts.CollectUsage {
		// Usage is cosmetic; its absence never fails the read.
		usage, err := r.client.ListPodUsage(ctx, namespace)
		if err != nil {
			logger := log.WithComponent("reader")
			logger.Debug().
				Str("namespace", namespace).
				Err(err).
				Msg("pod usage unavailable")
		} else {
			state.Usage = usage
		}
	}

	return state, nil
}

func isPermissionError(err error) bool {
	return apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err)
}
