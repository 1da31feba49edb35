/*
Copyright 2022.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// CacheType identifies the backend storing the pools state
type CacheType string

func (c CacheType) String() string {
	return string(c)
}

const (
	// In-process map, only useful for a single process or for tests
	CacheMemory CacheType = "memory"

	// memcached servers, using the gets/cas commands
	CacheMemcache CacheType = "memcache"

	// etcd v3 cluster, using revision compares inside transactions
	CacheEtcd CacheType = "etcd"

	// bbolt file shared by the processes of a single host
	CacheBolt CacheType = "bolt"

	// One ConfigMap per key in a Kubernetes namespace
	CacheConfigMap CacheType = "configmap"
)

// TLSSpec configures the client certificates used to reach the cache
type TLSSpec struct {
	// +optional
	CertFile string `json:"certFile,omitempty"`
	// +optional
	KeyFile string `json:"keyFile,omitempty"`
	// +optional
	TrustedCAFile string `json:"trustedCAFile,omitempty"`
	// +optional
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty"`
}

// CacheSpec defines how to reach the shared cache
type CacheSpec struct {
	Type CacheType `json:"type"`

	// memcached servers (host:port)
	// +optional
	Servers []string `json:"servers,omitempty"`

	// etcd endpoints
	// +optional
	Endpoints []string `json:"endpoints,omitempty"`

	// Path of the bbolt file
	// +optional
	Path string `json:"path,omitempty"`

	// Namespace holding the ConfigMaps
	// +optional
	Namespace string `json:"namespace,omitempty"`

	// Path of a kubeconfig file, in-cluster config is used when empty
	// +optional
	Kubeconfig string `json:"kubeconfig,omitempty"`

	// Prefix added to every key stored in the cache
	// +optional
	KeyPrefix string `json:"keyPrefix,omitempty"`

	// Timeout of a single cache operation
	// +optional
	Timeout metav1.Duration `json:"timeout,omitempty"`

	// +optional
	TLS *TLSSpec `json:"tls,omitempty"`
}

// RetrySpec bounds the compare-and-swap retry loop
type RetrySpec struct {
	// Maximum number of attempts
	// +optional
	Steps int `json:"steps,omitempty"`

	// Delay before the first retry
	// +optional
	Duration metav1.Duration `json:"duration,omitempty"`

	// +optional
	Factor float64 `json:"factor,omitempty"`

	// +optional
	Jitter float64 `json:"jitter,omitempty"`
}

// ServerSpec configures the HTTP API
type ServerSpec struct {
	// +optional
	Port string `json:"port,omitempty"`

	// Maps an access token to the comma separated list of pools it can
	// use, `*` grants access to every pool. No tokens means open access
	// +optional
	Tokens map[string]string `json:"tokens,omitempty"`
}

// SweeperSpec configures the removal of expired allocations
type SweeperSpec struct {
	// +optional
	Interval metav1.Duration `json:"interval,omitempty"`

	// How long an index entry may point to a missing item before being
	// dropped
	// +optional
	Grace metav1.Duration `json:"grace,omitempty"`
}

// Config is the content of a respool configuration file
type Config struct {
	Cache CacheSpec `json:"cache"`

	// Default scope for pools not declaring one
	// +optional
	Scope string `json:"scope,omitempty"`

	// +optional
	Retry RetrySpec `json:"retry,omitempty"`

	// +optional
	Pools map[string]PoolSpec `json:"pools,omitempty"`

	// +optional
	Ranges map[string]RangeSpec `json:"ranges,omitempty"`

	// +optional
	Server ServerSpec `json:"server,omitempty"`

	// +optional
	Sweeper SweeperSpec `json:"sweeper,omitempty"`
}
