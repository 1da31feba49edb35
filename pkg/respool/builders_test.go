package respool

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	v1 "github.com/f5qa/respool/api/v1"
)

// poolSpecBuilder allows to build a PoolSpec using a fluent interface
type poolSpecBuilder struct {
	v1.PoolSpec
}

// poolSpec creates a range pool spec with useful default values
func poolSpec() *poolSpecBuilder {
	return &poolSpecBuilder{
		PoolSpec: v1.PoolSpec{
			Type: v1.PoolTypeRange,
			Args: v1.PoolArgs{
				Start: intstr.FromInt32(0),
				Size:  10,
			},
		},
	}
}

func (pb *poolSpecBuilder) build() v1.PoolSpec {
	return pb.PoolSpec
}

func (pb *poolSpecBuilder) kind(t v1.PoolType) *poolSpecBuilder {
	pb.Type = t
	return pb
}

func (pb *poolSpecBuilder) scope(s string) *poolSpecBuilder {
	pb.Scope = s
	return pb
}

func (pb *poolSpecBuilder) timeout(d time.Duration) *poolSpecBuilder {
	pb.Timeout = metav1.Duration{Duration: d}
	return pb
}

func (pb *poolSpecBuilder) start(s string) *poolSpecBuilder {
	pb.Args.Start = intstr.Parse(s)
	return pb
}

func (pb *poolSpecBuilder) stop(s string) *poolSpecBuilder {
	pb.Args.Stop = intstr.Parse(s)
	return pb
}

func (pb *poolSpecBuilder) size(s int) *poolSpecBuilder {
	pb.Args.Size = s
	return pb
}

func (pb *poolSpecBuilder) template(t string) *poolSpecBuilder {
	pb.Args.Template = t
	return pb
}

func (pb *poolSpecBuilder) ports(start, stop int) *poolSpecBuilder {
	pb.Args.PortStart = start
	pb.Args.PortStop = stop
	return pb
}

func (pb *poolSpecBuilder) dirs(local, remote string) *poolSpecBuilder {
	pb.Args.LocalDir = local
	pb.Args.RemoteDir = remote
	return pb
}

func (pb *poolSpecBuilder) docker(d string, tokens map[string]string) *poolSpecBuilder {
	pb.Args.Docker = d
	pb.Args.Tokens = tokens
	return pb
}

func (pb *poolSpecBuilder) values(v ...string) *poolSpecBuilder {
	pb.Args.Values = v
	return pb
}

func rangeSpec(t v1.RangeType, start, stop string) v1.RangeSpec {
	spec := v1.RangeSpec{Type: t}
	if start != "" {
		spec.Args.Start = intstr.Parse(start)
	}
	if stop != "" {
		spec.Args.Stop = intstr.Parse(stop)
	}
	return spec
}
