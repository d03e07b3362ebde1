package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics
	SchedulerTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "medalarm_scheduler_ticks_total",
			Help: "Total number of foreground scheduler polls",
		},
	)

	SchedulerSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medalarm_scheduler_skipped_total",
			Help: "Medications or ticks skipped by the scheduler by reason",
		},
		[]string{"reason"},
	)

	MidnightResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "medalarm_midnight_resets_total",
			Help: "Total number of daily dedup and snooze resets",
		},
	)

	ActiveSuppressions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "medalarm_active_suppressions",
			Help: "Number of snooze suppressions currently held",
		},
	)

	// Alarm metrics
	AlarmsTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medalarm_alarms_triggered_total",
			Help: "Total number of alarms that started ringing by source",
		},
		[]string{"source"},
	)

	AlarmsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medalarm_alarms_resolved_total",
			Help: "Total number of alarms resolved by outcome",
		},
		[]string{"outcome"},
	)

	Ringing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "medalarm_alarm_ringing",
			Help: "Whether an alarm is currently ringing (1 = ringing, 0 = idle)",
		},
	)

	// Channel metrics
	IntentsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medalarm_intents_sent_total",
			Help: "Total number of intents delivered to an inbox by kind",
		},
		[]string{"kind"},
	)

	IntentsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medalarm_intents_dropped_total",
			Help: "Total number of intents dropped by reason",
		},
		[]string{"reason"},
	)

	// Dispatcher metrics
	NotificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medalarm_notifications_total",
			Help: "Platform notifications by result",
		},
		[]string{"result"},
	)

	NotificationActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medalarm_notification_actions_total",
			Help: "User actions taken on platform notifications",
		},
		[]string{"action"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(SchedulerTicks)
	prometheus.MustRegister(SchedulerSkipped)
	prometheus.MustRegister(MidnightResets)
	prometheus.MustRegister(ActiveSuppressions)
	prometheus.MustRegister(AlarmsTriggered)
	prometheus.MustRegister(AlarmsResolved)
	prometheus.MustRegister(Ringing)
	prometheus.MustRegister(IntentsSent)
	prometheus.MustRegister(IntentsDropped)
	prometheus.MustRegister(NotificationsSent)
	prometheus.MustRegister(NotificationActions)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
