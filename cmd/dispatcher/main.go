// Command dispatcher implements C9, the §4.9 control-plane service: it
// accepts scan requests, materializes and publishes tasks, and exposes the
// reply_to HTTP endpoint workers PUT completed TaskResults to. The
// HTTP API surface beyond the reply endpoint (scan submission, admin
// rescan/prune/tag, statistics) is modeled only as Dispatcher/store methods
// per §1 Non-goals; this binary wires just enough HTTP to be runnable.
package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BetterCallFirewall/authlandscape/internal/blobstore"
	"github.com/BetterCallFirewall/authlandscape/internal/broker"
	"github.com/BetterCallFirewall/authlandscape/internal/config"
	"github.com/BetterCallFirewall/authlandscape/internal/dispatcher"
	"github.com/BetterCallFirewall/authlandscape/internal/store"
	"github.com/BetterCallFirewall/authlandscape/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docStore, err := newDocStore(ctx, cfg)
	if err != nil {
		return err
	}

	blobStore, err := newBlobStore(cfg)
	if err != nil {
		return err
	}

	b, err := broker.Dial(ctx, cfg.BrokerURL)
	if err != nil {
		return err
	}
	defer b.Close()

	hub := websocket.NewHub()
	go hub.Run()

	d := &dispatcher.Dispatcher{
		Store:        docStore,
		Broker:       b,
		Blob:         blobStore,
		ReplyBaseURL: cfg.DispatcherReplyBaseURL,
		Progress:     hub,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/reply/", replyHandler(d, cfg))
	mux.HandleFunc("/ws", hub.ServeWS)

	server := &http.Server{Addr: ":8000", Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("dispatcher: listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// newDocStore connects to MongoDB when MONGO_URI names a reachable server,
// falling back to the in-memory store for local/demo runs without one.
func newDocStore(ctx context.Context, cfg *config.ProcessConfig) (store.Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Printf("dispatcher: mongo connect failed, using in-memory store: %v", err)
		return store.NewMemoryStore(), nil
	}
	if err := client.Ping(ctx, nil); err != nil {
		log.Printf("dispatcher: mongo ping failed, using in-memory store: %v", err)
		return store.NewMemoryStore(), nil
	}
	return store.NewMongoStore(client.Database(cfg.MongoDBName)), nil
}

func newBlobStore(cfg *config.ProcessConfig) (blobstore.Store, error) {
	if cfg.MinioAccessKey == "" {
		log.Printf("dispatcher: no MinIO credentials configured, results are stored without blob offload")
		return nil, nil
	}
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}
	return blobstore.NewMinioStore(client), nil
}

// replyHandler serves PUT /reply/{task_id}, the worker's reply_to target
// (§4.8, §4.9). HTTP Basic auth is enforced only when the dispatcher was
// configured with credentials.
func replyHandler(d *dispatcher.Dispatcher, cfg *config.ProcessConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if cfg.ReplyBasicAuthUser != "" {
			user, pass, ok := r.BasicAuth()
			if !ok || user != cfg.ReplyBasicAuthUser || pass != cfg.ReplyBasicAuthPass {
				w.Header().Set("WWW-Authenticate", `Basic realm="dispatcher"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		taskID := strings.TrimPrefix(r.URL.Path, "/reply/")
		if taskID == "" {
			http.Error(w, "missing task id", http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
			return
		}

		if err := d.HandleReply(r.Context(), taskID, body); err != nil {
			log.Printf("dispatcher: handle reply for %s: %v", taskID, err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
