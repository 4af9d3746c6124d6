// Command locallambda is a stand-in Runtime API server for exercising a
// handler binary without a real Lambda sandbox. It serves the same
// GET/POST contract the bootstrap speaks, replaying a canned script of
// events from events.yaml and printing what the handler posted back.
//
// This tool, unlike the bootstrap itself, uses net/http: it is dev-time
// tooling that never ships in the deployed provided.al2023 package, so
// the cold-start/binary-size constraint that rules out net/http in
// httpclient (see DESIGN.md) does not apply to it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// scriptedEvent is one entry of events.yaml: a body to hand the
// handler, and optionally a fixed request id (one is generated if
// omitted).
type scriptedEvent struct {
	RequestID string `yaml:"requestId"`
	Body      string `yaml:"body"`
}

type script struct {
	Events []scriptedEvent `yaml:"events"`
}

func loadScript(path string) (*script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var s script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &s, nil
}

type server struct {
	mu     sync.Mutex
	events []scriptedEvent
	next   int
	port   int
}

func (s *server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.next >= len(s.events) {
		s.mu.Unlock()
		log.Println("locallambda: script exhausted, holding connection open")
		select {} // mimic the platform's indefinite long poll once out of events
	}
	ev := s.events[s.next]
	s.next++
	s.mu.Unlock()

	requestID := ev.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	deadline := time.Now().Add(3 * time.Second).UnixMilli()

	w.Header().Set("Lambda-Runtime-Aws-Request-Id", requestID)
	w.Header().Set("Lambda-Runtime-Deadline-Ms", strconv.FormatInt(deadline, 10))
	w.Header().Set("Lambda-Runtime-Invoked-Function-Arn", "arn:aws:lambda:local:000000000000:function:locallambda")
	w.Header().Set("Content-Type", "application/json")
	log.Printf("locallambda: -> next %s %s", requestID, ev.Body)
	fmt.Fprint(w, ev.Body)
}

func (s *server) handleResponse(requestID string, w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	_ = json.NewDecoder(r.Body).Decode(&payload)
	log.Printf("locallambda: <- response %s %v", requestID, payload)
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleError(requestID string, w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	_ = json.NewDecoder(r.Body).Decode(&payload)
	log.Printf("locallambda: <- error %s %v", requestID, payload)
	w.WriteHeader(http.StatusAccepted)
}

func main() {
	port := flag.Int("port", 9001, "port to serve the Runtime API on")
	eventsPath := flag.String("events", "events.yaml", "path to the canned-event script")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("locallambda: .env not loaded: %v", err)
	}

	sc, err := loadScript(*eventsPath)
	if err != nil {
		log.Fatalf("locallambda: %v", err)
	}

	srv := &server{events: sc.Events, port: *port}

	mux := http.NewServeMux()
	mux.HandleFunc("/2018-06-01/runtime/invocation/next", srv.handleNext)
	mux.HandleFunc("/2018-06-01/runtime/init/error", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		log.Printf("locallambda: <- init error %v", payload)
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/2018-06-01/runtime/invocation/", func(w http.ResponseWriter, r *http.Request) {
		// path shape: /2018-06-01/runtime/invocation/{request-id}/response|error
		path := r.URL.Path
		const prefix = "/2018-06-01/runtime/invocation/"
		rest := path[len(prefix):]
		var requestID, action string
		for i := len(rest) - 1; i >= 0; i-- {
			if rest[i] == '/' {
				requestID, action = rest[:i], rest[i+1:]
				break
			}
		}
		switch action {
		case "response":
			srv.handleResponse(requestID, w, r)
		case "error":
			srv.handleError(requestID, w, r)
		default:
			http.NotFound(w, r)
		}
	})

	addr := fmt.Sprintf("127.0.0.1:%d", *port)
	os.Setenv("AWS_LAMBDA_RUNTIME_API", addr)
	log.Printf("locallambda: serving %d scripted event(s) on %s (AWS_LAMBDA_RUNTIME_API=%s)", len(sc.Events), addr, addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}
