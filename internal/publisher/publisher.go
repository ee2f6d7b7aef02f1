// Package publisher implements the StreamPublisher (§4.8): it encodes the
// program bus and pushes it as a continuous chunked stream to an external
// Icecast-style sink over HTTP PUT, reconnecting with exponential backoff.
//
// Grounded on d5ab0b02_arung-agamani-denpa-radio's internal radio-stream
// push pattern (persistent PUT body with identification headers, retry
// loop), adapted to this spec's own backoff bounds (§4.8: 5s base, 60s cap,
// 10 attempts) and wired to internal/publisher.Encoder instead of that
// example's external ffmpeg pipe.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/openstudio/openstudio/internal/frame"
	"github.com/openstudio/openstudio/internal/logging"
	"github.com/openstudio/openstudio/internal/metrics"
)

// Status mirrors PublisherState.status (§3).
type Status string

const (
	StatusStopped      Status = "stopped"
	StatusConnecting   Status = "connecting"
	StatusStreaming    Status = "streaming"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
)

const (
	retryInitialDelay = 5 * time.Second
	retryMaxDelay     = 60 * time.Second
	retryMaxAttempts  = 10

	pushInterval = 1 * time.Second

	// connectGraceDelay is how long streamOnce waits after dialing before it
	// treats the push as established. Resetting retryCount any earlier than
	// this would mask an immediate connection failure (refused, DNS, auth,
	// rejected status) as a success, and backoff would never escalate past
	// its first step (§4.8, §8 scenario 6). A failing sink normally errors
	// out within milliseconds, so this stays well short of pushInterval.
	connectGraceDelay = 300 * time.Millisecond
)

// SinkConfig describes the external streaming sink's push endpoint (§6).
type SinkConfig struct {
	URL         string // full PUT URL: http(s)://host:port/mount
	Username    string
	Password    string
	ContentType string // e.g. "audio/ogg"
	StreamName  string
	Description string
	Public      bool
	BitrateKbps int // carried from the manifest but not applied: the Encoder runs at the Opus library's default bitrate
}

// ErrMaxAttemptsExceeded names the condition in which retries are
// exhausted. No method returns it: the background loop logs the last push
// error and the publisher then sits in StatusError until an explicit Start.
var ErrMaxAttemptsExceeded = errors.New("publisher: max reconnect attempts exceeded")

// Publisher is the StreamPublisher (§4.8).
type Publisher struct {
	logger  *slog.Logger
	metrics *metrics.Registry
	config  SinkConfig
	client  *http.Client
	encoder *Encoder

	mu         sync.Mutex
	status     Status
	retryCount int

	cancel context.CancelFunc
	done   chan struct{}
}

func New(config SinkConfig, encoder *Encoder, m *metrics.Registry, logger *slog.Logger) *Publisher {
	return &Publisher{
		logger:  logging.ChildOrDefault(logger),
		metrics: m,
		config:  config,
		client:  &http.Client{},
		encoder: encoder,
		status:  StatusStopped,
	}
}

func (p *Publisher) setStatus(s Status) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
}

// Status reports the current PublisherState.status.
func (p *Publisher) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Start begins pushing encoded audio drawn from programTap to the sink,
// reconnecting with backoff on failure (§4.8). It returns immediately; the
// work happens on a background goroutine until ctx is canceled, Stop is
// called, or programTap closes.
func (p *Publisher) Start(ctx context.Context, programTap <-chan frame.PCMFrame) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(runCtx, programTap)
}

// Stop cancels the push loop and waits for it to exit.
func (p *Publisher) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		<-p.done
	}
	p.setStatus(StatusStopped)
}

func (p *Publisher) run(ctx context.Context, programTap <-chan frame.PCMFrame) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.setStatus(StatusConnecting)
		err := p.streamOnce(ctx, programTap)
		if err == nil {
			return
		}

		p.mu.Lock()
		p.retryCount++
		attempt := p.retryCount
		p.mu.Unlock()

		if attempt > retryMaxAttempts {
			p.logger.Error("publisher retries exhausted", "err", err)
			p.setStatus(StatusError)
			return
		}

		p.logger.Warn("publisher push failed, scheduling retry", "attempt", attempt, "err", err)
		p.setStatus(StatusReconnecting)
		p.metrics.IncPublisherRetry()

		delay := backoffDelay(attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// backoffDelay implements §4.8: min(5s * 2^(n-1), 60s).
func backoffDelay(attempt int) time.Duration {
	delay := retryInitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}

// streamOnce opens one push connection and feeds it batched encoded chunks
// at ~1s intervals until failure or clean shutdown. Returns nil only on a
// clean shutdown (ctx canceled or programTap closed).
func (p *Publisher) streamOnce(ctx context.Context, programTap <-chan frame.PCMFrame) error {
	pr, pw := io.Pipe()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.config.URL, pr)
	if err != nil {
		pr.Close()
		return err
	}
	req.SetBasicAuth(p.config.Username, p.config.Password)
	req.Header.Set("Content-Type", p.config.ContentType)
	req.Header.Set("Ice-Name", p.config.StreamName)
	req.Header.Set("Ice-Description", p.config.Description)
	req.Header.Set("Ice-Public", boolHeaderValue(p.config.Public))

	respErr := make(chan error, 1)
	go func() {
		resp, err := p.client.Do(req)
		if err != nil {
			respErr <- err
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			respErr <- fmt.Errorf("sink rejected push: %s", resp.Status)
			return
		}
		respErr <- nil
	}()

	// Only treat the push as established — and reset retryCount — once it
	// has survived connectGraceDelay without an error; streamOnce is called
	// again on every retry, so resetting unconditionally here would hide a
	// run of immediate failures from run()'s backoff escalation.
	select {
	case err := <-respErr:
		pw.Close()
		return err
	case <-ctx.Done():
		pw.Close()
		<-respErr
		return nil
	case <-time.After(connectGraceDelay):
	}

	p.setStatus(StatusStreaming)
	p.mu.Lock()
	p.retryCount = 0
	p.mu.Unlock()
	p.metrics.IncPublisherReconnect()

	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()

	var pending []frame.EncodedFrame
	for {
		select {
		case <-ctx.Done():
			pw.Close()
			<-respErr
			return nil

		case err := <-respErr:
			pw.Close()
			return err

		case pcm, ok := <-programTap:
			if !ok {
				pw.Close()
				<-respErr
				return nil
			}
			encoded, err := p.encoder.Encode(pcm)
			if err != nil {
				pw.Close()
				<-respErr
				return err
			}
			pending = append(pending, encoded...)

		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			for _, chunk := range pending {
				if _, err := pw.Write(chunk); err != nil {
					<-respErr
					return err
				}
				p.metrics.IncPublisherChunkSent()
			}
			pending = pending[:0]
		}
	}
}

func boolHeaderValue(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
