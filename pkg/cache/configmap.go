package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/retry"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const (
	configMapBackend = "configmap"

	configMapNamePrefix = "respool-"
	configMapValueKey   = "value"

	keyAnnotation     = "respool.f5qa.io/key"
	expiresAnnotation = "respool.f5qa.io/expires"

	managedByLabel = "app.kubernetes.io/managed-by"
	managedByValue = "respool"
)

// ConfigMapCache keeps every key in its own ConfigMap. The resource version
// of the ConfigMap is used as the cas token, so the api server arbitrates
// concurrent writers. Expired entries are ignored on read and overwritten
// on write.
type ConfigMapCache struct {
	client    client.Client
	namespace string
	clock     clock.PassiveClock
}

var _ Cache = &ConfigMapCache{}

func NewConfigMapCache(c client.Client, namespace string) *ConfigMapCache {
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}
	return &ConfigMapCache{
		client:    c,
		namespace: namespace,
		clock:     clock.RealClock{},
	}
}

// NewConfigMapCacheFromKubeconfig builds a client for the given kubeconfig,
// or for the in-cluster configuration when none is provided
func NewConfigMapCacheFromKubeconfig(kubeconfig string, namespace string) (*ConfigMapCache, error) {
	var err error
	var config *rest.Config

	// Use this option when running outside the cluster
	if kubeconfig != "" {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		config, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, err
	}

	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return nil, err
	}

	c, err := client.New(config, client.Options{Scheme: scheme})
	if err != nil {
		return nil, NewUnavailableError(configMapBackend, "connect", err)
	}
	return NewConfigMapCache(c, namespace), nil
}

func configMapName(key string) string {
	sum := sha1.Sum([]byte(key))
	return configMapNamePrefix + hex.EncodeToString(sum[:])
}

func (c *ConfigMapCache) kubeErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return NewUnavailableError(configMapBackend, op, err)
}

func (c *ConfigMapCache) expired(cm *corev1.ConfigMap) bool {
	v, ok := cm.Annotations[expiresAnnotation]
	if !ok {
		return false
	}
	expires, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return false
	}
	return !c.clock.Now().Before(expires)
}

// fetch returns the live entry for key, nil if it does not exist or has
// expired, and the stored object regardless of its expiration
func (c *ConfigMapCache) fetch(ctx context.Context, op string, key string) (*corev1.ConfigMap, *corev1.ConfigMap, error) {
	cm := &corev1.ConfigMap{}
	err := c.client.Get(ctx, types.NamespacedName{Namespace: c.namespace, Name: configMapName(key)}, cm)
	if apierrors.IsNotFound(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, c.kubeErr(ctx, op, err)
	}
	if c.expired(cm) {
		return nil, cm, nil
	}
	return cm, cm, nil
}

func (c *ConfigMapCache) fill(cm *corev1.ConfigMap, key string, value []byte, ttl time.Duration) {
	cm.Namespace = c.namespace
	cm.Name = configMapName(key)

	if cm.Labels == nil {
		cm.Labels = map[string]string{}
	}
	cm.Labels[managedByLabel] = managedByValue

	if cm.Annotations == nil {
		cm.Annotations = map[string]string{}
	}
	cm.Annotations[keyAnnotation] = key
	if ttl > 0 {
		cm.Annotations[expiresAnnotation] = c.clock.Now().Add(ttl).UTC().Format(time.RFC3339Nano)
	} else {
		delete(cm.Annotations, expiresAnnotation)
	}

	cm.Data = nil
	cm.BinaryData = map[string][]byte{
		configMapValueKey: append([]byte(nil), value...),
	}
}

func (c *ConfigMapCache) Get(ctx context.Context, key string) ([]byte, error) {
	cm, _, err := c.fetch(ctx, "get", key)
	if err != nil {
		return nil, err
	}
	if cm == nil {
		return nil, ErrCacheMiss
	}
	return cm.BinaryData[configMapValueKey], nil
}

func (c *ConfigMapCache) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	res := make(map[string][]byte, len(keys))
	for _, k := range keys {
		cm, _, err := c.fetch(ctx, "get_multi", k)
		if err != nil {
			return nil, err
		}
		if cm != nil {
			res[k] = cm.BinaryData[configMapValueKey]
		}
	}
	return res, nil
}

func (c *ConfigMapCache) Gets(ctx context.Context, key string) ([]byte, Token, error) {
	cm, _, err := c.fetch(ctx, "gets", key)
	if err != nil {
		return nil, nil, err
	}
	if cm == nil {
		return nil, nil, nil
	}
	return cm.BinaryData[configMapValueKey], cm.ResourceVersion, nil
}

func (c *ConfigMapCache) CompareAndSwap(ctx context.Context, key string, value []byte, token Token, ttl time.Duration) (bool, error) {
	live, stored, err := c.fetch(ctx, "cas", key)
	if err != nil {
		return false, err
	}

	switch t := token.(type) {
	case nil:
		if live != nil {
			return false, nil
		}
		if stored == nil {
			return c.create(ctx, key, value, ttl)
		}
		// An expired entry is replaced only if nobody else did it first
	case string:
		if live == nil || live.ResourceVersion != t {
			return false, nil
		}
	default:
		return false, TokenError{Backend: configMapBackend, Token: token}
	}

	c.fill(stored, key, value, ttl)
	err = c.client.Update(ctx, stored)
	switch {
	case err == nil:
		return true, nil
	case apierrors.IsConflict(err), apierrors.IsNotFound(err):
		return false, nil
	default:
		return false, c.kubeErr(ctx, "cas", err)
	}
}

func (c *ConfigMapCache) CompareAndDelete(ctx context.Context, key string, token Token) (bool, error) {
	version, ok := token.(string)
	if !ok {
		return false, TokenError{Backend: configMapBackend, Token: token}
	}

	live, _, err := c.fetch(ctx, "cad", key)
	if err != nil {
		return false, err
	}
	if live == nil || live.ResourceVersion != version {
		return false, nil
	}

	err = c.client.Delete(ctx, live, client.Preconditions{ResourceVersion: &version})
	switch {
	case err == nil:
		return true, nil
	case apierrors.IsConflict(err), apierrors.IsNotFound(err):
		return false, nil
	default:
		return false, c.kubeErr(ctx, "cad", err)
	}
}

func (c *ConfigMapCache) create(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	cm := &corev1.ConfigMap{}
	c.fill(cm, key, value, ttl)

	err := c.client.Create(ctx, cm)
	if apierrors.IsAlreadyExists(err) {
		return false, nil
	}
	if err != nil {
		return false, c.kubeErr(ctx, "add", err)
	}
	return true, nil
}

func (c *ConfigMapCache) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return c.CompareAndSwap(ctx, key, value, nil, ttl)
}

func (c *ConfigMapCache) SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration, keyPrefix string) error {
	for k, v := range items {
		key := keyPrefix + k
		err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
			_, stored, err := c.fetch(ctx, "set_multi", key)
			if err != nil {
				return err
			}
			if stored == nil {
				stored = &corev1.ConfigMap{}
				c.fill(stored, key, v, ttl)
				err = c.client.Create(ctx, stored)
				if apierrors.IsAlreadyExists(err) {
					// Raced with another writer, go through the update path
					return apierrors.NewConflict(corev1.Resource("configmaps"), stored.Name, err)
				}
				return err
			}
			c.fill(stored, key, v, ttl)
			return c.client.Update(ctx, stored)
		})
		if err != nil {
			return c.wrap(ctx, "set_multi", err)
		}
	}
	return nil
}

// wrap leaves the errors already produced by this cache untouched
func (c *ConfigMapCache) wrap(ctx context.Context, op string, err error) error {
	if _, ok := err.(*UnavailableError); ok {
		return err
	}
	return c.kubeErr(ctx, op, err)
}

func (c *ConfigMapCache) Delete(ctx context.Context, key string) error {
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: c.namespace,
			Name:      configMapName(key),
		},
	}
	if err := client.IgnoreNotFound(c.client.Delete(ctx, cm)); err != nil {
		return c.kubeErr(ctx, "delete", err)
	}
	return nil
}

func (c *ConfigMapCache) DeleteMulti(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := c.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (c *ConfigMapCache) Close() error {
	return nil
}
