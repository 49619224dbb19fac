package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FlowsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predikto_flows_started_total",
		Help: "Creation flows started.",
	})

	FlowsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predikto_flows_completed_total",
		Help: "Creation flows completed with a finalized post.",
	})

	FlowsAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predikto_flows_abandoned_total",
		Help: "Creation flows abandoned explicitly or by the sweeper.",
	})

	FlowsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predikto_flows_swept_total",
		Help: "Expired creation flows marked abandoned by the sweeper.",
	})

	PostsScored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predikto_posts_scored_total",
		Help: "Submission posts scored against an official result.",
	})
)
