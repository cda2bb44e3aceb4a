/*
Copyright 2017 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ingress builds the headless Service and Ingress objects that
// expose a driver pod's Spark UI. The driver pod itself is the only
// source of truth; ownership is expressed against that pod.
package ingress

import (
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/livy-project/spark-k8s-monitor/pkg/config"
)

const (
	sparkUIPort     int32  = 4040
	sparkUIPortName string = "spark-ui"

	maxNameLength = 63
)

// OwnerReference builds an OwnerReference that makes pod the controller
// of the Service/Ingress, so Kubernetes garbage collection removes them
// once the driver pod itself is gone.
func OwnerReference(pod *corev1.Pod) metav1.OwnerReference {
	controller := true
	blockOwnerDeletion := true
	return metav1.OwnerReference{
		APIVersion:         "v1",
		Kind:               "Pod",
		Name:               pod.Name,
		UID:                pod.UID,
		Controller:         &controller,
		BlockOwnerDeletion: &blockOwnerDeletion,
	}
}

// BuildService returns the headless ClusterIP service selecting the
// driver pod for tag, named after the driver pod itself.
func BuildService(pod *corev1.Pod, tag string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:            serviceName(pod.Name),
			Namespace:       pod.Namespace,
			Labels:          resourceLabels(tag),
			OwnerReferences: []metav1.OwnerReference{OwnerReference(pod)},
		},
		Spec: corev1.ServiceSpec{
			ClusterIP: corev1.ClusterIPNone,
			Selector: map[string]string{
				config.SparkAppTagLabel: tag,
				config.SparkRoleLabel:   config.SparkRoleDriver,
			},
			Ports: []corev1.ServicePort{
				{
					Name: sparkUIPortName,
					Port: sparkUIPort,
					TargetPort: intstr.IntOrString{
						Type:   intstr.Int,
						IntVal: sparkUIPort,
					},
				},
			},
		},
	}
}

// BuildIngress returns the Ingress fronting svc, named after the
// driver pod with a "-ui" suffix, carrying traefik annotations plus any
// additional annotations parsed from config.ParseKVList, and TLS bound
// to tlsSecretName when protocol indicates TLS termination ("https").
// The single HTTP path is "/<tag>/", and the backend targets the
// service's well-known spark-ui port by name.
func BuildIngress(pod *corev1.Pod, svc *corev1.Service, tag, host, protocol, tlsSecretName string, extraAnnotations map[string]string) *networkingv1.Ingress {
	pathType := networkingv1.PathTypeImplementationSpecific

	annotations := map[string]string{
		"traefik.ingress.kubernetes.io/router.entrypoints": "web",
	}
	if strings.HasSuffix(protocol, "s") {
		annotations["traefik.ingress.kubernetes.io/router.entrypoints"] = "websecure"
		annotations["traefik.ingress.kubernetes.io/router.tls"] = "true"
	}
	for k, v := range extraAnnotations {
		annotations[k] = v
	}

	ing := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:            ingressName(pod.Name),
			Namespace:       pod.Namespace,
			Labels:          resourceLabels(tag),
			Annotations:     annotations,
			OwnerReferences: []metav1.OwnerReference{OwnerReference(pod)},
		},
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{
				{
					Host: host,
					IngressRuleValue: networkingv1.IngressRuleValue{
						HTTP: &networkingv1.HTTPIngressRuleValue{
							Paths: []networkingv1.HTTPIngressPath{
								{
									Path:     "/" + tag + "/",
									PathType: &pathType,
									Backend: networkingv1.IngressBackend{
										Service: &networkingv1.IngressServiceBackend{
											Name: svc.Name,
											Port: networkingv1.ServiceBackendPort{
												Name: sparkUIPortName,
											},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}

	if strings.HasSuffix(protocol, "s") && tlsSecretName != "" {
		ing.Spec.TLS = []networkingv1.IngressTLS{
			{Hosts: []string{host}, SecretName: tlsSecretName},
		}
	}

	return ing
}

func resourceLabels(tag string) map[string]string {
	return map[string]string{
		config.SparkAppTagLabel: tag,
		config.CreatedByLabel:   config.CreatedByValue,
	}
}

// Name returns the Service/Ingress name derived from a driver pod's
// name: both resources share the same "<driver-pod-name>-ui" name
// truncated, lower-cased, and stripped of a trailing hyphen.
func Name(podName string) string {
	return truncateName(podName + "-ui")
}

func serviceName(podName string) string {
	return Name(podName)
}

func ingressName(podName string) string {
	return Name(podName)
}

// truncateName lower-cases name, truncates it to maxNameLength and
// strips any trailing hyphen left behind by truncation, matching the
// DNS-1123 subdomain constraints Kubernetes enforces on object names.
func truncateName(name string) string {
	name = strings.ToLower(name)
	if len(name) > maxNameLength {
		name = name[:maxNameLength]
	}
	name = strings.TrimRight(name, "-")
	return name
}

// ConfSnippetAnnotationKey is the annotation carrying a raw ingress
// controller configuration snippet, when configured.
const ConfSnippetAnnotationKey = "traefik.ingress.kubernetes.io/router.middlewares"

// WithConfSnippet folds a non-empty configuration snippet into
// annotations under ConfSnippetAnnotationKey. It is separated from
// BuildIngress because the snippet is optional and config-driven.
func WithConfSnippet(annotations map[string]string, snippet string) map[string]string {
	if snippet == "" {
		return annotations
	}
	out := make(map[string]string, len(annotations)+1)
	for k, v := range annotations {
		out[k] = v
	}
	out[ConfSnippetAnnotationKey] = snippet
	return out
}

// DriverLabelSelector returns the label selector string used to find
// the driver pod for tag, e.g. for log queries: "spark-app-tag=xyz,spark-role=driver".
func DriverLabelSelector(tag string) string {
	return fmt.Sprintf("%s=%s,%s=%s", config.SparkAppTagLabel, tag, config.SparkRoleLabel, config.SparkRoleDriver)
}
