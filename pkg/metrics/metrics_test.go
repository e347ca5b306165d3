package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func gatheredNames(registry *prometheus.Registry) map[string]bool {
	names := make(map[string]bool)
	families, err := registry.Gather()
	if err != nil {
		return names
	}
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given a metrics manager on its own registry", t, func() {
		registry := prometheus.NewRegistry()
		manager := NewManager(WithNamespace("test"), WithPrometheusRegistry(registry))

		Convey("When counters are touched", func() {
			manager.connectionsTotal.WithLabelValues("accepted").Inc()
			manager.broadcasts.WithLabelValues("chat.message").Inc()
			manager.connectionsActive.Set(3)

			Convey("Then they are exported under the namespace", func() {
				names := gatheredNames(registry)
				So(names["test_hub_connections_total"], ShouldBeTrue)
				So(names["test_hub_broadcasts_total"], ShouldBeTrue)
				So(names["test_hub_connections_active"], ShouldBeTrue)
			})
		})

		Convey("When created with an empty namespace", func() {
			other := NewManager(WithNamespace(""), WithPrometheusRegistry(prometheus.NewRegistry()))

			Convey("Then the default namespace is kept", func() {
				So(other.namespace, ShouldEqual, "classpulse")
			})
		})

		Convey("When created with empty latency buckets", func() {
			other := NewManager(WithLatencyBuckets(nil), WithPrometheusRegistry(prometheus.NewRegistry()))

			Convey("Then the default buckets are kept", func() {
				So(len(other.latencyBuckets), ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics", t, func() {
		Convey("When recording hub activity", func() {
			So(func() {
				RecordConnection("accepted")
				RecordConnection("rejected_auth")
				ConnectionOpened()
				ConnectionClosed()
				RecordMessage("focus_update")
				RecordMessageError("chat_message", "validation")
				RecordBroadcast("focus.update", 12, 1)
				UpdateGroupsActive(2)
				RecordSessionStarted()
				RecordSessionEnded()
				RecordStatsLatency(1.5)
				RecordStoreWrite("upsert_performance", 0.8)
				RecordStoreError("close_session")
				RecordHTTPRequest("/health", "GET", "200")
				RecordHTTPRequestDuration("/health", "GET", "200", 2.0)
			}, ShouldNotPanic)

			Convey("Then the registry exposes them", func() {
				names := gatheredNames(GetRegistry())
				So(names["classpulse_hub_broadcasts_total"], ShouldBeTrue)
				So(names["classpulse_hub_delivery_drops_total"], ShouldBeTrue)
				So(names["classpulse_store_errors_total"], ShouldBeTrue)
				So(names["classpulse_http_requests_total"], ShouldBeTrue)
			})
		})

		Convey("When recording with empty labels", func() {
			So(func() {
				RecordMessage("")
				RecordHTTPRequest("", "", "")
			}, ShouldNotPanic)
		})
	})
}

func TestDisabledManager(t *testing.T) {
	Convey("Given a disabled manager", t, func() {
		manager := NewManager(WithMetricsEnabled(false), WithPrometheusRegistry(prometheus.NewRegistry()))

		Convey("Then record skips it without panicking", func() {
			mu.Lock()
			previous := globalManager
			globalManager = manager
			mu.Unlock()
			defer func() {
				mu.Lock()
				globalManager = previous
				mu.Unlock()
			}()

			So(func() { RecordBroadcast("pong", 1, 0) }, ShouldNotPanic)
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given concurrent recorders", t, func() {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					RecordMessage("ping")
					RecordBroadcast("pong", 1, 0)
					ConnectionOpened()
					ConnectionClosed()
				}
			}()
		}
		wg.Wait()

		Convey("Then nothing panics and the registry still gathers", func() {
			_, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
		})
	})
}
