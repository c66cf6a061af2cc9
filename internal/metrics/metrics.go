package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Mutations считает мутации по операции и исходу (ok / код ошибки).
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blog_mutations_total",
		Help: "Mutation operations by outcome.",
	}, []string{"operation", "status"})

	// DepthViolations считает запросы, превысившие лимит глубины.
	DepthViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blog_depth_violations_total",
		Help: "Queries rejected for exceeding the depth limit.",
	})

	// GovernorEvictions считает ключи запросов, вытесненные по таймауту.
	GovernorEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blog_governor_evictions_total",
		Help: "Request keys evicted after the timeout window.",
	})
)
