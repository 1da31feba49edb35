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
	"k8s.io/apimachinery/pkg/util/intstr"
)

// PoolType defines the kind of items handed out by a pool
type PoolType string

func (p PoolType) String() string {
	return string(p)
}

const (
	// Single IP addresses drawn from an address range
	PoolTypeIP PoolType = "ip"

	// IP:port pairs, all the ports of an address before the next address
	PoolTypeIPPort PoolType = "ip_port"

	// IP:port pairs carrying local/remote directories and a worker label
	PoolTypeMember PoolType = "member"

	// Integers from a bounded arithmetic sequence
	PoolTypeRange PoolType = "range"

	// Opaque strings taken from a finite list
	PoolTypeGeneric PoolType = "generic"
)

// RangeType defines the kind of values produced by a range
type RangeType string

func (r RangeType) String() string {
	return string(r)
}

const (
	RangeTypeIP     RangeType = "ip"
	RangeTypeIPPort RangeType = "ip_port"
	RangeTypePort   RangeType = "port"
)

// PoolArgs holds the constructor arguments of every pool type. Only the
// fields meaningful for the selected type are read.
type PoolArgs struct {
	// First value of the pool. An integer for range pools, an address or
	// a CIDR for ip, ip_port and member pools
	// +optional
	Start intstr.IntOrString `json:"start,omitempty"`

	// Last address (inclusive) for ip, ip_port and member pools
	// +optional
	Stop intstr.IntOrString `json:"stop,omitempty"`

	// Number of values of a range pool, or the hard ceiling of allocated
	// items for ip_port and member pools
	// +optional
	Size int `json:"size,omitempty"`

	// Format applied to the integers of a range pool, `{}` is replaced
	// by the number
	// +optional
	Template string `json:"template,omitempty"`

	// +optional
	PortStart int `json:"portStart,omitempty"`

	// +optional
	PortStop int `json:"portStop,omitempty"`

	// Directory templates of member items, `{key}` is replaced by the
	// item key with colons turned into hyphens
	// +optional
	LocalDir string `json:"localDir,omitempty"`

	// +optional
	RemoteDir string `json:"remoteDir,omitempty"`

	// Worker label template of member items
	// +optional
	Docker string `json:"docker,omitempty"`

	// Extra tokens available to the member templates
	// +optional
	Tokens map[string]string `json:"tokens,omitempty"`

	// Values of a generic pool
	// +optional
	Values []string `json:"values,omitempty"`
}

// PoolSpec declares a pool managed by a session
type PoolSpec struct {
	// Identifies the kind of the pool
	Type PoolType `json:"type"`

	// Prefix used to namespace the items allocated by this session
	// +optional
	Scope string `json:"scope,omitempty"`

	// How long an allocated item is kept in the shared cache without
	// being refreshed. Zero means forever
	// +optional
	Timeout metav1.Duration `json:"timeout,omitempty"`

	Args PoolArgs `json:"args,omitempty"`
}

// RangeArgs holds the constructor arguments of every range type
type RangeArgs struct {
	// First value, a port number or an address/CIDR
	// +optional
	Start intstr.IntOrString `json:"start,omitempty"`

	// Last value (inclusive)
	// +optional
	Stop intstr.IntOrString `json:"stop,omitempty"`

	// +optional
	PortStart int `json:"portStart,omitempty"`

	// +optional
	PortStop int `json:"portStop,omitempty"`
}

// RangeSpec declares a plain range, without any sharing semantics
type RangeSpec struct {
	Type RangeType `json:"type"`
	Args RangeArgs `json:"args,omitempty"`
}
