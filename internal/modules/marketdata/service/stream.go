package service

import (
	"context"
	"time"

	"paper_bot/internal/models"
	"paper_bot/internal/modules/config"
	"paper_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// Streamer keeps the tick log warm between polling cycles: it subscribes to
// the vendor's price stream and writes each tick through the same store the
// sync path uses. Optional — without a stream URL it does nothing.
type Streamer struct {
	cfg      *config.Config
	store    Store
	wsDialer *websocket.Dialer

	codeToID map[string]int64
	onState  func(connected bool)
}

func NewStreamer(cfg *config.Config, store Store) *Streamer {
	return &Streamer{
		cfg:      cfg,
		store:    store,
		wsDialer: &websocket.Dialer{},
		codeToID: make(map[string]int64),
		onState:  func(bool) {},
	}
}

// OnStateChange installs a connectivity callback, invoked on every connect
// and disconnect. Must be set before Run starts.
func (s *Streamer) OnStateChange(fn func(connected bool)) {
	if fn != nil {
		s.onState = fn
	}
}

// SetInstruments installs the code -> id mapping before Run starts.
func (s *Streamer) SetInstruments(instruments []models.Instrument) {
	m := make(map[string]int64, len(instruments))
	for _, inst := range instruments {
		m[inst.Code] = inst.ID
	}
	s.codeToID = m
}

type streamFrame struct {
	Code  string  `json:"code"`
	Price float64 `json:"price"`
	TsMs  int64   `json:"tsMs"`
}

// Run blocks until ctx is done, reconnecting with a short backoff.
func (s *Streamer) Run(ctx context.Context) {
	url := s.cfg.Provider.StreamURL
	if url == "" || len(s.codeToID) == 0 {
		logger.Info("stream: disabled (no url or no instruments)")
		return
	}

	codes := make([]string, 0, len(s.codeToID))
	for code := range s.codeToID {
		codes = append(codes, code)
	}

	for {
		if ctx.Err() != nil {
			return
		}

		logger.Info("stream: connect %s, %d codes", url, len(codes))
		conn, _, err := s.wsDialer.DialContext(ctx, url, nil)
		if err != nil {
			logger.Error("stream: dial: %v", err)
			time.Sleep(time.Second)
			continue
		}

		sub := map[string]any{"op": "subscribe", "codes": codes}
		if err := conn.WriteJSON(sub); err != nil {
			logger.Error("stream: subscribe: %v", err)
			_ = conn.Close()
			continue
		}

		// keepalive ping, some vendors drop quiet connections
		stopPing := make(chan struct{})
		go func() {
			t := time.NewTicker(20 * time.Second)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-stopPing:
					return
				case <-t.C:
					_ = conn.WriteJSON(map[string]string{"op": "ping"})
				}
			}
		}()

		s.onState(true)
		s.readLoop(ctx, conn)
		s.onState(false)
		close(stopPing)
		_ = conn.Close()
	}
}

func (s *Streamer) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Error("stream: read: %v", err)
			return
		}

		var frame streamFrame
		if err := sonic.Unmarshal(msg, &frame); err != nil {
			continue
		}
		id, ok := s.codeToID[frame.Code]
		if !ok || frame.Price <= 0 {
			continue
		}

		pulledAt := time.UnixMilli(frame.TsMs).UTC()
		if frame.TsMs == 0 {
			pulledAt = time.Now().UTC()
		}
		q := models.Quote{
			InstrumentID: id,
			Price:        frame.Price,
			PulledAt:     pulledAt,
			Source:       "stream",
		}
		if err := s.store.SaveQuote(ctx, q); err != nil {
			logger.Error("stream: save %s: %v", frame.Code, err)
		}
	}
}
