// Package metrics — счётчики Prometheus и необязательный HTTP-эндпоинт /metrics.
// Если адрес прослушивания в конфигурации не задан, метрики копятся в памяти и
// наружу не публикуются.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ircwit/internal/infra/logger"
)

// Set — именованный набор метрик бота с собственным реестром.
type Set struct {
	registry *prometheus.Registry

	LinesIn      prometheus.Counter
	LinesOut     prometheus.Counter
	Reconnects   prometheus.Counter
	AIRequests   prometheus.Counter
	AIFailures   prometheus.Counter
	FloodBans    prometheus.Counter
	FloodIgnores prometheus.Counter
	Channels     prometheus.Gauge

	mu     sync.Mutex
	server *http.Server
}

// New создаёт набор метрик и регистрирует его в отдельном реестре.
func New() *Set {
	reg := prometheus.NewRegistry()
	s := &Set{
		registry: reg,
		LinesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ircwit", Name: "lines_in_total",
			Help: "Строки протокола, принятые от сервера.",
		}),
		LinesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ircwit", Name: "lines_out_total",
			Help: "Строки протокола, отправленные серверу.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ircwit", Name: "reconnects_total",
			Help: "Попытки переподключения к серверам.",
		}),
		AIRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ircwit", Name: "ai_requests_total",
			Help: "Запросы к генеративному API.",
		}),
		AIFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ircwit", Name: "ai_failures_total",
			Help: "Неудачные запросы к генеративному API.",
		}),
		FloodBans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ircwit", Name: "flood_bans_total",
			Help: "Баны, выданные канальной защитой от флуда.",
		}),
		FloodIgnores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ircwit", Name: "flood_ignores_total",
			Help: "Локальные игноры, выданные приватной защитой от флуда.",
		}),
		Channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ircwit", Name: "joined_channels",
			Help: "Каналы, в которых бот присутствует сейчас.",
		}),
	}
	reg.MustRegister(
		s.LinesIn, s.LinesOut, s.Reconnects,
		s.AIRequests, s.AIFailures,
		s.FloodBans, s.FloodIgnores,
		s.Channels,
	)
	return s
}

// Serve поднимает HTTP-эндпоинт /metrics на addr. Пустой addr — метрики не
// публикуются. Блокирует до остановки сервера.
func (s *Set) Serve(addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	logger.Infof("metrics: слушаем %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown корректно останавливает HTTP-сервер метрик, если он был запущен.
func (s *Set) Shutdown(ctx context.Context) {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warnf("metrics: остановка сервера: %v", err)
	}
}
