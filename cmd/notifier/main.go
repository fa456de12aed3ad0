// The notifier worker drains the notification topic into per-user inboxes.
// Running it is what makes the kafka side channel land events where the
// clients read them; without a broker the API writes inboxes directly and
// this worker is not needed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/CvmiloM/TeLlevoAPP/internal/models"
	"github.com/CvmiloM/TeLlevoAPP/internal/store"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_messages_consumed_total",
		Help: "Total notification events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_messages_invalid_total",
		Help: "Total invalid events received",
	})
	inboxWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_inbox_writes_total",
		Help: "Total successful inbox appends",
	})
	inboxErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_inbox_errors_total",
		Help: "Total inbox append errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, inboxWrites, inboxErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokers := []string{"localhost:9092"}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = brokers[:0]
		for _, b := range strings.Split(v, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "trip-notifications"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "tellevoapp-notifier"
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	rs := store.NewRedisStore(redisAddr, os.Getenv("REDIS_PASSWORD"))
	inbox := &storeInbox{st: rs}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rs.Ping(r.Context()); err != nil {
				http.Error(w, "store not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rs.Close()
	}()

	log.Printf("notifier listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down notifier")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var n models.Notification
		if err := json.Unmarshal(m.Value, &n); err != nil {
			msgsInvalid.Inc()
			log.Printf("invalid event: %v", err)
			continue
		}
		if err := n.Validate(); err != nil {
			msgsInvalid.Inc()
			log.Printf("invalid event: %v", err)
			continue
		}

		if err := deliverWithRetry(ctx, inbox, &n, 3, 200*time.Millisecond); err != nil {
			inboxErrors.Inc()
			log.Printf("inbox append failed for user=%s: %v", n.UserID, err)
			continue
		}
		inboxWrites.Inc()
	}
}

// InboxWriter is the small subset of store operations this worker needs;
// tests substitute a fake.
type InboxWriter interface {
	Append(ctx context.Context, userID string, value []byte) error
}

type storeInbox struct{ st store.Store }

func (s *storeInbox) Append(ctx context.Context, userID string, value []byte) error {
	_, err := s.st.AppendChild(ctx, store.NotificationsPath(userID), value)
	return err
}

// deliverWithRetry lands one event in the user's inbox with retry/backoff.
func deliverWithRetry(ctx context.Context, w InboxWriter, n *models.Notification, attempts int, delay time.Duration) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	for i := 0; i < attempts; i++ {
		if err := w.Append(ctx, n.UserID, b); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return nil
}
