/*
Package observability turns engine lifecycle events into Prometheus metrics.

Metrics registers its collectors on a caller-provided registerer and exposes a
domain.LifecycleHooks value that can be combined with other hook sets:

	metrics, err := observability.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	m := tinystate.New[string, string]("orders", tinystate.WithLifecycleHooks(metrics.Hooks()))
*/
package observability
