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

package config

// Kubernetes label and annotation names produced and consumed by the
// monitor. These strings are part of the wire contract with the
// submission pipeline (out of scope for this module) and must stay
// bit-exact.
const (
	// SparkAppSelectorLabel carries the Spark application id assigned once
	// the driver registers with the cluster manager.
	SparkAppSelectorLabel = "spark-app-selector"
	// SparkAppTagLabel carries the client-chosen tag used to correlate a
	// submission with its driver pod before the app id is known.
	SparkAppTagLabel = "spark-app-tag"
	// SparkRoleLabel distinguishes driver pods from executor pods.
	SparkRoleLabel = "spark-role"
	// SparkExecutorIDLabel carries the Spark executor id of an executor pod.
	SparkExecutorIDLabel = "spark-exec-id"
	// SparkUIURLLabel carries the externally reachable Spark UI URL, set by
	// the monitor once the ingress exists.
	SparkUIURLLabel = "spark-ui-url"
	// CreatedByLabel/CreatedByAnnotation mark every resource this module
	// creates as owned by it.
	CreatedByLabel      = "created-by"
	CreatedByAnnotation = "created-by"
)

// Values for SparkRoleLabel.
const (
	SparkRoleDriver   = "driver"
	SparkRoleExecutor = "executor"
)

// CreatedByValue is the value stamped into CreatedByLabel/CreatedByAnnotation.
const CreatedByValue = "livy"
