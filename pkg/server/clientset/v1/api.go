package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
)

type RespoolV1Interface interface {
	Pools() PoolInterface
	Ranges() RangeInterface
}

type RespoolV1Client struct {
	restClient rest.Interface
	token      string
}

var _ RespoolV1Interface = &RespoolV1Client{}

func NewForConfig(c *rest.Config, token string) (*RespoolV1Client, error) {
	config := *c
	config.ContentConfig.GroupVersion = &schema.GroupVersion{Group: "respool.f5qa.io", Version: "v1"}
	config.APIPath = "/v1"
	config.NegotiatedSerializer = scheme.Codecs.WithoutConversion()
	config.UserAgent = rest.DefaultKubernetesUserAgent()
	if config.QPS == 0 {
		// No client side throttling
		config.QPS = -1
	}

	client, err := rest.RESTClientFor(&config)
	if err != nil {
		return nil, err
	}

	return &RespoolV1Client{restClient: client, token: token}, nil
}

// NewForHost returns a client for the server listening at host, e.g.
// http://localhost:8085
func NewForHost(host string, token string) (*RespoolV1Client, error) {
	return NewForConfig(&rest.Config{Host: host}, token)
}

func (c *RespoolV1Client) Pools() PoolInterface {
	return &poolClient{client: c}
}

func (c *RespoolV1Client) Ranges() RangeInterface {
	return &rangeClient{client: c}
}

// do sends req and decodes the JSON answer into result
func (c *RespoolV1Client) do(ctx context.Context, req *rest.Request, result any) error {
	if c.token != "" {
		req = req.SetHeader(TokenHeader, c.token)
	}

	var code int
	body, err := req.Do(ctx).StatusCode(&code).Raw()
	if err != nil {
		if code == 0 {
			return err
		}
		apiErr := &APIError{StatusCode: code, Reason: ReasonInternal, Msg: err.Error()}
		var resp ErrorResponse
		if jsonErr := json.Unmarshal(body, &resp); jsonErr == nil && resp.Msg != "" {
			apiErr.Reason = resp.Reason
			apiErr.Msg = resp.Msg
		} else if code == http.StatusNotFound {
			apiErr.Reason = ReasonNotFound
		}
		return apiErr
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return errors.Join(errors.New("invalid respool api answer"), err)
	}
	return nil
}
