package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const (
	reconnectBackoff    = time.Second
	maxReconnectBackoff = 30 * time.Second
)

// Stream consumes the server's push channel and feeds every event to the
// reconciler. A dropped connection is recovered transparently: the server
// opens each stream with a full board snapshot, so divergence accumulated
// while offline is corrected on reconnect without any explicit error.
type Stream struct {
	rec     *Reconciler
	baseURL string
	token   string
	httpc   *http.Client
	logger  *log.Logger
}

// NewStream creates a push-channel consumer.
func NewStream(rec *Reconciler, baseURL, token string, httpc *http.Client, logger *log.Logger) *Stream {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Stream{rec: rec, baseURL: baseURL, token: token, httpc: httpc, logger: logger}
}

// Run consumes the stream until ctx is done, reconnecting with backoff.
func (s *Stream) Run(ctx context.Context) {
	backoff := reconnectBackoff
	for {
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warnf("stream disconnected: %v, reconnecting in %v", err, backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}
	}
}

func (s *Stream) consume(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	snapshot := true
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			// Heartbeat comments and blank separators.
			continue
		}
		var ev domain.Event
		if err := json.Unmarshal([]byte(line[len("data: "):]), &ev); err != nil {
			s.logger.Errorf("parse event: %v", err)
			continue
		}
		if snapshot {
			// Each connection opens with a full-board snapshot, which
			// replaces the cache wholesale: it is the only event that can
			// evict ghosts from columns the server now considers empty.
			s.rec.ApplySnapshot(ev)
			snapshot = false
			continue
		}
		s.rec.Apply(ev)
	}
	return scanner.Err()
}
