// Package k8s implements discovery.Source against a Kubernetes
// cluster: it watches core/v1 Endpoints matching a label selector and
// renders each subset's (address, port) pairs into worker URLs.
package k8s

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/sgl-project/router/pkg/discovery"
	"github.com/sgl-project/router/pkg/log"
)

// Source watches Endpoints objects across all namespaces matching
// Config.LabelSelector using the in-cluster (or kubeconfig-resolved)
// client.
type Source struct {
	client kubernetes.Interface
	config discovery.Config
	state  *discovery.EndpointState
}

// New builds a Source from an existing clientset, so callers (and
// tests) can supply a fake.
func New(client kubernetes.Interface, config discovery.Config) *Source {
	return &Source{client: client, config: config, state: discovery.NewEndpointState()}
}

// Run watches Endpoints until ctx is cancelled, the watch channel
// closes, or a watch error occurs — any of which returns an error the
// caller retries with backoff, per the spec's restart contract. Each
// restart treats the first post-restart event as a full state view,
// since a fresh watch call always observes live state through ADDED
// events for every currently-matching object.
func (s *Source) Run(ctx context.Context, commands chan<- discovery.Command) error {
	logger := log.WithComponent("discovery.k8s")

	w, err := s.client.CoreV1().Endpoints(metav1.NamespaceAll).Watch(ctx, metav1.ListOptions{
		LabelSelector: s.config.LabelSelector,
	})
	if err != nil {
		return fmt.Errorf("watch endpoints: %w", err)
	}
	defer w.Stop()

	logger.Info().Str("label_selector", s.config.LabelSelector).Msg("watching endpoints")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.ResultChan():
			if !ok {
				return fmt.Errorf("endpoints watch channel closed")
			}
			if err := s.handleEvent(event, commands); err != nil {
				return err
			}
		}
	}
}

func (s *Source) handleEvent(event watch.Event, commands chan<- discovery.Command) error {
	if event.Type == watch.Error {
		if status, ok := event.Object.(*metav1.Status); ok {
			return apierrors.FromObject(status)
		}
		return fmt.Errorf("endpoints watch error event")
	}

	ep, ok := event.Object.(*corev1.Endpoints)
	if !ok {
		return nil
	}

	var cmds []discovery.Command
	switch event.Type {
	case watch.Deleted:
		cmds = s.state.Delete(ep.Name)
	case watch.Added, watch.Modified:
		cmds = s.state.Update(ep.Name, renderURLs(ep, s.config))
	default:
		return nil
	}

	for _, cmd := range cmds {
		commands <- cmd
	}
	return nil
}

// renderURLs flattens an Endpoints object's subsets into worker URLs,
// skipping ports whose name doesn't match Config.PortName when one is
// configured.
func renderURLs(ep *corev1.Endpoints, cfg discovery.Config) []string {
	var urls []string
	for _, subset := range ep.Subsets {
		for _, addr := range subset.Addresses {
			for _, port := range subset.Ports {
				if cfg.PortName != "" && port.Name != cfg.PortName {
					continue
				}
				urls = append(urls, discovery.RenderURL(cfg.Protocol, addr.IP, port.Port, cfg.WorkerPath))
			}
		}
	}
	return urls
}
