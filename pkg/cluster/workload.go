package cluster

import (
	"time"

	"github.com/opscart/k8s-auto-healer/pkg/models"
	appsv1 "k8s.io/api/apps/v1"
)

// Workload is a kind-agnostic handle on a Deployment or StatefulSet. The
// executor mutates it through the annotation setters and writes it back with
// UpdateWorkload; everything else reads it.
type Workload struct {
	deployment  *appsv1.Deployment
	statefulset *appsv1.StatefulSet
}

// NewDeploymentWorkload wraps a Deployment; exposed for tests
func NewDeploymentWorkload(d *appsv1.Deployment) *Workload {
	return &Workload{deployment: d}
}

// NewStatefulSetWorkload wraps a StatefulSet; exposed for tests
func NewStatefulSetWorkload(s *appsv1.StatefulSet) *Workload {
	return &Workload{statefulset: s}
}

func (w *Workload) Ref() models.WorkloadRef {
	if w.deployment != nil {
		return models.WorkloadRef{
			Kind:      models.KindDeployment,
			Namespace: w.deployment.Namespace,
			Name:      w.deployment.Name,
		}
	}
	return models.WorkloadRef{
		Kind:      models.KindStatefulSet,
		Namespace: w.statefulset.Namespace,
		Name:      w.statefulset.Name,
	}
}

// Annotations returns the object-level annotations (may be nil)
func (w *Workload) Annotations() map[string]string {
	if w.deployment != nil {
		return w.deployment.Annotations
	}
	return w.statefulset.Annotations
}

// SetAnnotation sets an object-level annotation. Object-level annotations do
// not touch the pod template, so they never trigger a rollout by themselves.
func (w *Workload) SetAnnotation(key, value string) {
	if w.deployment != nil {
		if w.deployment.Annotations == nil {
			w.deployment.Annotations = map[string]string{}
		}
		w.deployment.Annotations[key] = value
		return
	}
	if w.statefulset.Annotations == nil {
		w.statefulset.Annotations = map[string]string{}
	}
	w.statefulset.Annotations[key] = value
}

// TemplateAnnotations returns the pod-template annotations (may be nil)
func (w *Workload) TemplateAnnotations() map[string]string {
	if w.deployment != nil {
		return w.deployment.Spec.Template.Annotations
	}
	return w.statefulset.Spec.Template.Annotations
}

// SetTemplateAnnotation sets a pod-template annotation. Changing the template
// is what forces the rolling pod replacement.
func (w *Workload) SetTemplateAnnotation(key, value string) {
	if w.deployment != nil {
		if w.deployment.Spec.Template.Annotations == nil {
			w.deployment.Spec.Template.Annotations = map[string]string{}
		}
		w.deployment.Spec.Template.Annotations[key] = value
		return
	}
	if w.statefulset.Spec.Template.Annotations == nil {
		w.statefulset.Spec.Template.Annotations = map[string]string{}
	}
	w.statefulset.Spec.Template.Annotations[key] = value
}

// ResourceVersion is the optimistic-concurrency token the next update is
// conditioned on.
func (w *Workload) ResourceVersion() string {
	if w.deployment != nil {
		return w.deployment.ResourceVersion
	}
	return w.statefulset.ResourceVersion
}

func (w *Workload) CreationTimestamp() time.Time {
	if w.deployment != nil {
		return w.deployment.CreationTimestamp.Time
	}
	return w.statefulset.CreationTimestamp.Time
}

// Replicas returns desired and ready replica counts
func (w *Workload) Replicas() (desired, ready int32) {
	if w.deployment != nil {
		if w.deployment.Spec.Replicas != nil {
			desired = *w.deployment.Spec.Replicas
		}
		return desired, w.deployment.Status.ReadyReplicas
	}
	if w.statefulset.Spec.Replicas != nil {
		desired = *w.statefulset.Spec.Replicas
	}
	return desired, w.statefulset.Status.ReadyReplicas
}

// Ready reports whether all desired replicas are ready
func (w *Workload) Ready() bool {
	desired, ready := w.Replicas()
	return desired == ready
}

// DeepCopy clones the workload so mutations never leak into shared snapshots
func (w *Workload) DeepCopy() *Workload {
	if w.deployment != nil {
		return &Workload{deployment: w.deployment.DeepCopy()}
	}
	return &Workload{statefulset: w.statefulset.DeepCopy()}
}
